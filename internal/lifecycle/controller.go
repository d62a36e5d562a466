package lifecycle

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"GhostSignal-Chain/internal/activity"
	xerrors "GhostSignal-Chain/internal/errors"
	"GhostSignal-Chain/internal/ledger"
	"GhostSignal-Chain/internal/observability/alerting"
	"GhostSignal-Chain/internal/proofs"
	"GhostSignal-Chain/internal/retry"
	"GhostSignal-Chain/internal/scoring"
	"GhostSignal-Chain/internal/slot"
	"GhostSignal-Chain/pkg/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const emitTimeout = 10 * time.Second

// Deps 为控制器共享的协作组件。
type Deps struct {
	Ledger   ledger.Adapter
	Policy   *retry.Policy
	Arbiter  *slot.Arbiter
	Events   EventSink
	Outcome  OutcomeFunc
	Alerts   alerting.Dispatcher
	Observer Observer
	Timing   Timing
	Tracer   trace.Tracer
}

func (d *Deps) fill() {
	if d.Policy == nil {
		d.Policy = retry.New()
	}
	if d.Arbiter == nil {
		d.Arbiter = slot.New()
	}
	if d.Outcome == nil {
		d.Outcome = scoring.Fixed(scoring.OutcomeLoss).Outcome
	}
	if d.Tracer == nil {
		d.Tracer = otel.Tracer("GhostSignal-Chain/internal/lifecycle")
	}
	if d.Timing.AcquireTimeout <= 0 {
		d.Timing.AcquireTimeout = 10 * time.Minute
	}
}

// Controller 驱动单个智能体的状态机。同一时刻只运行一个周期。
type Controller struct {
	spec    AgentSpec
	deps    Deps
	logger  *slog.Logger
	running atomic.Bool

	mu    sync.RWMutex
	state RunState
}

// NewController 创建控制器。
func NewController(spec AgentSpec, deps Deps) (*Controller, error) {
	if spec.ID == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "agent id is required")
	}
	if spec.Source == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "signal source is required")
	}
	if deps.Ledger == nil || deps.Events == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "ledger and event sink are required")
	}
	deps.fill()
	return &Controller{
		spec:   spec,
		deps:   deps,
		logger: logger.ForAgent("lifecycle", spec.ID),
		state:  RunState{AgentID: spec.ID, State: StateIdle, UpdatedAt: time.Now().UTC()},
	}, nil
}

// ID 返回智能体 id。
func (c *Controller) ID() string { return c.spec.ID }

// Snapshot 返回当前运行状态。
func (c *Controller) Snapshot() RunState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Running 判断是否有周期在运行。
func (c *Controller) Running() bool { return c.running.Load() }

func (c *Controller) tryBegin() bool { return c.running.CompareAndSwap(false, true) }

// RunCycle 同步执行一个完整周期。ctx 被取消时跳过剩余等待，但已提交的承诺仍会完成揭示与验证。
func (c *Controller) RunCycle(ctx context.Context) (CycleResult, error) {
	if !c.tryBegin() {
		return CycleResult{AgentID: c.spec.ID}, ErrCycleInProgress
	}
	return c.run(ctx)
}

func (c *Controller) run(ctx context.Context) (CycleResult, error) {
	defer c.running.Store(false)
	started := time.Now()
	ctx, span := c.deps.Tracer.Start(ctx, "lifecycle.cycle",
		trace.WithAttributes(attribute.String("agent.id", c.spec.ID)))
	defer span.End()

	res, err := c.cycle(ctx)
	res.AgentID = c.spec.ID

	span.SetAttributes(attribute.String("cycle.result", string(res.Result)))
	if err != nil && res.Result == ResultFailed {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	c.finish(res, err)
	if c.deps.Observer != nil {
		c.deps.Observer.ObserveCycle(res.Result, time.Since(started))
	}
	return res, err
}

func (c *Controller) cycle(ctx context.Context) (CycleResult, error) {
	res := CycleResult{Receipts: make(map[ledger.Phase]ledger.Receipt)}

	c.transition(StateGenerating, "")
	signal, err := c.spec.Source.Next(ctx, c.spec.ID)
	if err == nil {
		signal, err = signal.Normalize()
	}
	if err != nil {
		res.Result = ResultFailed
		c.logger.Warn("生成信号失败", slog.Any("error", err))
		return res, err
	}
	res.SignalID = signal.ID
	if signal.Confidence < c.spec.MinConfidence {
		res.Result = ResultSkipped
		c.logger.Debug("信号置信度低于阈值，跳过本轮",
			slog.Float64("confidence", signal.Confidence),
			slog.Float64("min_confidence", c.spec.MinConfidence))
		return res, nil
	}
	c.emit(ctx, activity.Event{
		Type:    activity.TypeGenerate,
		AgentID: c.spec.ID,
		Payload: map[string]any{"signal_id": signal.ID, "strategy": signal.Strategy},
	})

	secret, err := proofs.NewSecret()
	if err != nil {
		res.Result = ResultFailed
		return res, err
	}
	commitment, err := proofs.NewCommitment(signal, secret)
	secret.Zero()
	if err != nil {
		res.Result = ResultFailed
		return res, err
	}
	defer commitment.Destroy()
	res.CommitmentID = commitment.ID

	c.transition(StateAwaitingSlot, commitment.ID)
	ticket, err := c.deps.Arbiter.Acquire(ctx, c.spec.ID, c.deps.Timing.AcquireTimeout)
	if err != nil {
		res.Result = ResultTimedOut
		c.logger.Info("等待槽位超时，跳过本轮", slog.Any("error", err))
		return res, err
	}
	defer func() {
		if err := c.deps.Arbiter.Release(ticket); err != nil && !stdErrors.Is(err, slot.ErrInvalidTicket) {
			c.logger.Warn("释放槽位失败", slog.Any("error", err))
		}
	}()

	// commit
	c.transition(StateCommitting, commitment.ID)
	receipt, err := c.phase(ctx, ticket, ledger.PhaseCommit, commitment.BindingHash, func(ctx context.Context) (ledger.Receipt, error) {
		return c.deps.Ledger.CommitPhase(ctx, commitment.BindingHash)
	})
	if err != nil {
		return c.fail(ctx, res, ledger.PhaseCommit, commitment, err)
	}
	if err := commitment.Advance(proofs.PhaseCommitted); err != nil {
		return c.fail(ctx, res, ledger.PhaseCommit, commitment, err)
	}
	res.Receipts[ledger.PhaseCommit] = receipt
	c.emit(ctx, activity.Event{
		Type:         activity.TypeCommit,
		AgentID:      c.spec.ID,
		CommitmentID: commitment.ID,
		Receipt:      &receipt,
		Amount:       c.spec.Stake,
		Payload:      map[string]any{"signal_id": signal.ID, "binding_hash": commitment.BindingHash},
	})

	// reveal
	c.transition(StateWaitingReveal, commitment.ID)
	sleep(ctx, c.deps.Timing.RevealDelay)
	c.transition(StateRevealing, commitment.ID)
	revealKey := commitment.Secret.Hex()
	receipt, err = c.phase(ctx, ticket, ledger.PhaseReveal, revealKey, func(ctx context.Context) (ledger.Receipt, error) {
		return c.deps.Ledger.RevealPhase(ctx, commitment.Secret)
	})
	if err != nil {
		return c.fail(ctx, res, ledger.PhaseReveal, commitment, err)
	}
	if err := commitment.Advance(proofs.PhaseRevealed); err != nil {
		return c.fail(ctx, res, ledger.PhaseReveal, commitment, err)
	}
	res.Receipts[ledger.PhaseReveal] = receipt
	c.emit(ctx, activity.Event{
		Type:         activity.TypeReveal,
		AgentID:      c.spec.ID,
		CommitmentID: commitment.ID,
		Receipt:      &receipt,
		Payload:      revealPayload(signal, commitment, revealKey),
	})

	// verify
	c.transition(StateWaitingVerify, commitment.ID)
	sleep(ctx, c.deps.Timing.VerifyDelay)
	c.transition(StateVerifying, commitment.ID)
	receipt, err = c.phase(ctx, ticket, ledger.PhaseVerify, revealKey, func(ctx context.Context) (ledger.Receipt, error) {
		return c.deps.Ledger.VerifyPhase(ctx, commitment.Secret)
	})
	if err != nil {
		return c.fail(ctx, res, ledger.PhaseVerify, commitment, err)
	}
	if err := commitment.Advance(proofs.PhaseVerified); err != nil {
		return c.fail(ctx, res, ledger.PhaseVerify, commitment, err)
	}
	res.Receipts[ledger.PhaseVerify] = receipt
	res.Outcome = c.deps.Outcome(context.WithoutCancel(ctx), signal)
	c.emit(ctx, activity.Event{
		Type:         activity.TypeVerify,
		AgentID:      c.spec.ID,
		CommitmentID: commitment.ID,
		Receipt:      &receipt,
		Outcome:      res.Outcome,
		Payload:      map[string]any{"signal_id": signal.ID},
	})

	res.Result = ResultCompleted
	return res, nil
}

// phase 在确认仍持有槽位后通过重试策略调用账本。
func (c *Controller) phase(ctx context.Context, ticket *slot.Ticket, phase ledger.Phase, key string, call ledger.Call) (ledger.Receipt, error) {
	if !c.deps.Arbiter.Valid(ticket) {
		return ledger.Receipt{}, xerrors.Wrap(CodeSlotRevoked, slot.ErrInvalidTicket,
			fmt.Sprintf("ticket revoked before %s", phase), xerrors.WithMetadata("phase", string(phase)))
	}
	ctx, span := c.deps.Tracer.Start(ctx, "lifecycle."+string(phase),
		trace.WithAttributes(attribute.String("agent.id", c.spec.ID)))
	defer span.End()

	receipt, err := c.deps.Policy.Do(ctx, phase, key, call)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return receipt, err
	}
	span.SetAttributes(
		attribute.String("ledger.tx_id", receipt.TxID),
		attribute.Int64("ledger.block_height", int64(receipt.BlockHeight)),
		attribute.Bool("ledger.simulated", receipt.Simulated))
	logger.Audit().Info("账本阶段调用完成",
		slog.String("agent_id", c.spec.ID),
		slog.String("phase", string(phase)),
		slog.String("tx_id", receipt.TxID),
		slog.Uint64("block_height", receipt.BlockHeight),
		slog.Bool("simulated", receipt.Simulated))
	return receipt, nil
}

// fail 记录一条致命事件并触发告警。槽位释放与秘密值清零由 cycle 的 defer 完成。
func (c *Controller) fail(ctx context.Context, res CycleResult, phase ledger.Phase, commitment *proofs.Commitment, err error) (CycleResult, error) {
	res.Result = ResultFailed
	res.FailedPhase = phase
	c.emit(ctx, activity.Event{
		Type:         eventType(phase),
		AgentID:      c.spec.ID,
		CommitmentID: commitment.ID,
		Fatal:        true,
		Error:        err.Error(),
	})
	logger.Audit().Error("生命周期失败",
		slog.String("agent_id", c.spec.ID),
		slog.String("commitment_id", commitment.ID),
		slog.String("phase", string(phase)),
		slog.Any("error", err))
	if c.deps.Alerts != nil {
		alert := alerting.FromError(err, c.spec.ID, commitment.ID, string(phase))
		if notifyErr := c.deps.Alerts.Notify(context.WithoutCancel(ctx), alert); notifyErr != nil {
			c.logger.Warn("发送告警失败", slog.Any("error", notifyErr))
		}
	}
	return res, err
}

func (c *Controller) emit(ctx context.Context, e activity.Event) {
	emitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), emitTimeout)
	defer cancel()
	if err := c.deps.Events.Emit(emitCtx, e); err != nil {
		c.logger.Error("提交活动事件失败", slog.String("type", string(e.Type)), slog.Any("error", err))
	}
}

func (c *Controller) transition(next State, commitmentID string) {
	c.mu.Lock()
	c.state.State = next
	c.state.CurrentCommitmentID = commitmentID
	c.state.UpdatedAt = time.Now().UTC()
	c.mu.Unlock()
}

func (c *Controller) finish(res CycleResult, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := &c.state.Stats
	st.Cycles++
	c.state.CurrentCommitmentID = ""
	c.state.UpdatedAt = time.Now().UTC()
	for _, r := range res.Receipts {
		if r.Simulated {
			st.Simulated++
		}
	}
	switch res.Result {
	case ResultCompleted:
		st.Completed++
		if res.Outcome.Win() {
			st.Wins++
		} else {
			st.Losses++
		}
		c.state.State = StateIdle
		c.state.LastError = ""
	case ResultSkipped:
		st.Skipped++
		c.state.State = StateIdle
	case ResultTimedOut:
		st.TimedOut++
		c.state.State = StateFailed
		c.state.LastError = errString(err)
	default:
		st.Failed++
		c.state.State = StateFailed
		c.state.LastError = errString(err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// sleep 等待 d，ctx 结束时立即返回。
func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 || ctx.Err() != nil {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func eventType(phase ledger.Phase) activity.Type {
	switch phase {
	case ledger.PhaseCommit:
		return activity.TypeCommit
	case ledger.PhaseReveal:
		return activity.TypeReveal
	default:
		return activity.TypeVerify
	}
}

func revealPayload(signal proofs.Signal, commitment *proofs.Commitment, secretHex string) map[string]any {
	return map[string]any{
		"signal_id":       signal.ID,
		"pair":            signal.Pair,
		"direction":       string(signal.Direction),
		"target_price":    signal.TargetPrice,
		"reference_price": signal.ReferencePrice,
		"confidence":      signal.Confidence,
		"strategy":        signal.Strategy,
		"created_at":      signal.CreatedAt,
		"binding_hash":    commitment.BindingHash,
		"secret":          secretHex,
	}
}
