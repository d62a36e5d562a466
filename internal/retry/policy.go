// Package retry 为账本调用提供有界重试：资源耗尽与不可用错误在冷却后重试，
// 预算耗尽后降级为确定性的模拟回执；被拒绝的调用立即返回。
package retry

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	xerrors "GhostSignal-Chain/internal/errors"
	"GhostSignal-Chain/internal/ledger"
	"GhostSignal-Chain/pkg/logger"

	"github.com/cenkalti/backoff/v5"
)

const (
	DefaultCooldown           = 15 * time.Second
	DefaultExhaustedRetries   = 1
	DefaultUnavailableRetries = 2
	DefaultCallTimeout        = 30 * time.Second
)

// CodePhaseRejected 表示阶段调用被账本拒绝，当前生命周期必须终止。
const CodePhaseRejected xerrors.Code = "PHASE_REJECTED"

// ErrPhaseRejected 可配合 errors.Is 判断阶段被拒绝。
var ErrPhaseRejected = xerrors.New(CodePhaseRejected, "")

func init() {
	xerrors.Register(CodePhaseRejected, xerrors.Attributes{
		Message:   "phase rejected",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
}

// 调用结果，用于指标标签。
const (
	OutcomeOK        = "ok"
	OutcomeRetry     = "retry"
	OutcomeSimulated = "simulated"
	OutcomeRejected  = "rejected"
)

// Observer 接收每次调用的结果。
type Observer interface {
	ObservePhaseCall(phase ledger.Phase, outcome string)
}

// Policy 包装账本调用。
type Policy struct {
	cooldown           time.Duration
	exhaustedRetries   int
	unavailableRetries int
	callTimeout        time.Duration
	observer           Observer
	logger             *slog.Logger
}

// Option 定义可选配置。
type Option func(*Policy)

// WithCooldown 设置两次尝试之间的固定冷却时间。
func WithCooldown(d time.Duration) Option {
	return func(p *Policy) {
		if d > 0 {
			p.cooldown = d
		}
	}
}

// WithExhaustedRetries 设置资源耗尽时的重试次数。
func WithExhaustedRetries(n int) Option {
	return func(p *Policy) {
		if n >= 0 {
			p.exhaustedRetries = n
		}
	}
}

// WithUnavailableRetries 设置账本不可用时的重试次数。
func WithUnavailableRetries(n int) Option {
	return func(p *Policy) {
		if n >= 0 {
			p.unavailableRetries = n
		}
	}
}

// WithCallTimeout 设置单次调用的超时。
func WithCallTimeout(d time.Duration) Option {
	return func(p *Policy) {
		if d > 0 {
			p.callTimeout = d
		}
	}
}

// WithObserver 注入调用结果观察者。
func WithObserver(o Observer) Option {
	return func(p *Policy) {
		p.observer = o
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(p *Policy) {
		p.logger = l
	}
}

// New 创建重试策略。
func New(opts ...Option) *Policy {
	p := &Policy{
		cooldown:           DefaultCooldown,
		exhaustedRetries:   DefaultExhaustedRetries,
		unavailableRetries: DefaultUnavailableRetries,
		callTimeout:        DefaultCallTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.logger == nil {
		p.logger = logger.Named("retry")
	}
	return p
}

// Cooldown 返回冷却时间。
func (p *Policy) Cooldown() time.Duration { return p.cooldown }

// CallTimeout 返回单次调用超时。
func (p *Policy) CallTimeout() time.Duration { return p.callTimeout }

// MaxAttempts 返回一次阶段调用最多的尝试次数。两类错误各自计数，交替出现时重试次数相加。
func (p *Policy) MaxAttempts() int {
	return p.exhaustedRetries + p.unavailableRetries + 1
}

// Budget 返回一次阶段调用在最坏情况下的耗时上限。
func (p *Policy) Budget() time.Duration {
	attempts := p.MaxAttempts()
	return time.Duration(attempts)*p.callTimeout + time.Duration(attempts-1)*p.cooldown
}

// budgetSpent 表示某类错误的重试预算已用完。
type budgetSpent struct {
	err error
}

func (b *budgetSpent) Error() string { return b.err.Error() }
func (b *budgetSpent) Unwrap() error { return b.err }

// Do 执行一次阶段调用。key 为该阶段的输入（绑定哈希或秘密值的十六进制），
// 用于生成确定性的模拟回执。每次尝试都在脱离取消信号的上下文中执行，
// ctx 被取消时只会中断冷却等待，并立即降级为模拟回执。
func (p *Policy) Do(ctx context.Context, phase ledger.Phase, key string, call ledger.Call) (ledger.Receipt, error) {
	spent := map[ledger.Kind]int{}
	var lastErr error

	operation := func() (ledger.Receipt, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.callTimeout)
		defer cancel()

		receipt, err := call(callCtx)
		if err == nil {
			lastErr = nil
			return receipt, nil
		}
		lastErr = err
		kind := ledger.KindOf(err)
		switch kind {
		case ledger.KindResourceExhausted, ledger.KindUnavailable:
			spent[kind]++
			if spent[kind] > p.retriesFor(kind) {
				return ledger.Receipt{}, backoff.Permanent(&budgetSpent{err: err})
			}
			return ledger.Receipt{}, err
		default:
			return ledger.Receipt{}, backoff.Permanent(err)
		}
	}

	notify := func(err error, wait time.Duration) {
		p.observe(phase, OutcomeRetry)
		p.logger.Warn("账本调用失败，冷却后重试",
			slog.String("phase", string(phase)),
			slog.String("kind", string(ledger.KindOf(err))),
			slog.Duration("cooldown", wait),
			slog.Any("error", err))
	}

	var (
		receipt ledger.Receipt
		err     error
	)
	if ctx.Err() != nil {
		// 已进入关闭流程：只尝试一次，不再冷却。
		receipt, err = operation()
	} else {
		receipt, err = backoff.Retry(ctx, operation,
			backoff.WithBackOff(backoff.NewConstantBackOff(p.cooldown)),
			backoff.WithMaxElapsedTime(0),
			backoff.WithNotify(notify))
	}
	if err == nil {
		p.observe(phase, OutcomeOK)
		return receipt, nil
	}

	var exhausted *budgetSpent
	kind := ledger.KindOf(lastErr)
	if stdErrors.As(err, &exhausted) || kind == ledger.KindResourceExhausted || kind == ledger.KindUnavailable {
		// 预算耗尽或关闭过程中冷却被打断。
		simulated := ledger.SimulatedReceipt(phase, key)
		p.observe(phase, OutcomeSimulated)
		logger.Audit().Warn("账本调用降级为模拟回执",
			slog.String("phase", string(phase)),
			slog.String("tx_id", simulated.TxID),
			slog.String("kind", string(kind)),
			slog.Any("error", lastErr))
		return simulated, nil
	}

	cause := lastErr
	if cause == nil {
		cause = err
	}
	p.observe(phase, OutcomeRejected)
	return ledger.Receipt{}, xerrors.Wrap(CodePhaseRejected, cause, string(phase)+" rejected",
		xerrors.WithMetadata("phase", string(phase)))
}

func (p *Policy) retriesFor(kind ledger.Kind) int {
	if kind == ledger.KindResourceExhausted {
		return p.exhaustedRetries
	}
	return p.unavailableRetries
}

func (p *Policy) observe(phase ledger.Phase, outcome string) {
	if p.observer != nil {
		p.observer.ObservePhaseCall(phase, outcome)
	}
}
