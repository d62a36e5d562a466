package lifecycle

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"sync"
	"time"

	xerrors "GhostSignal-Chain/internal/errors"
	"GhostSignal-Chain/internal/ledger"
	"GhostSignal-Chain/pkg/logger"
)

// PurchaseRecorder 记录对已揭示信号的购买。
type PurchaseRecorder interface {
	Purchase(ctx context.Context, buyer, commitmentID string, amount int64) error
}

// Coordinator 管理所有智能体的控制器，负责注册、触发周期与定时调度。
type Coordinator struct {
	ctx    context.Context
	deps   Deps
	logger *slog.Logger

	interval  time.Duration
	purchases PurchaseRecorder

	mu     sync.RWMutex
	agents map[string]*Controller
	order  []string

	wg sync.WaitGroup
}

// CoordinatorOption 定义可选配置。
type CoordinatorOption func(*Coordinator)

// WithInterval 设置定时调度间隔。
func WithInterval(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithPurchases 配置购买记录。
func WithPurchases(p PurchaseRecorder) CoordinatorOption {
	return func(c *Coordinator) {
		c.purchases = p
	}
}

// WithLivenessWindow 覆盖推导出的槽位存活窗口。
func WithLivenessWindow(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.deps.Arbiter.SetLivenessWindow(d)
		}
	}
}

// NewCoordinator 创建协调器。ctx 为所有周期的父上下文，取消后进入关闭流程。
func NewCoordinator(ctx context.Context, deps Deps, opts ...CoordinatorOption) (*Coordinator, error) {
	if deps.Ledger == nil || deps.Events == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "ledger and event sink are required")
	}
	deps.fill()
	deps.Arbiter.SetLivenessWindow(DeriveLivenessWindow(deps.Timing, deps.Policy.Budget(), deps.Policy.CallTimeout()))
	c := &Coordinator{
		ctx:      ctx,
		deps:     deps,
		logger:   logger.Named("coordinator"),
		interval: 5 * time.Minute,
		agents:   make(map[string]*Controller),
	}
	if p, ok := deps.Events.(PurchaseRecorder); ok {
		c.purchases = p
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// DeriveLivenessWindow 计算槽位存活窗口：两段等待加上三次阶段调用的重试预算，再留出一次调用超时的余量。
func DeriveLivenessWindow(t Timing, phaseBudget, slack time.Duration) time.Duration {
	return t.RevealDelay + t.VerifyDelay + 3*phaseBudget + slack
}

// LivenessWindow 返回当前槽位存活窗口。
func (c *Coordinator) LivenessWindow() time.Duration {
	return c.deps.Arbiter.LivenessWindow()
}

// AddAgent 向账本注册智能体并创建控制器。注册被拒绝时不会加入。
func (c *Coordinator) AddAgent(ctx context.Context, spec AgentSpec) error {
	c.mu.RLock()
	_, exists := c.agents[spec.ID]
	c.mu.RUnlock()
	if exists {
		return xerrors.New(xerrors.CodeConflict, "agent "+spec.ID+" already added")
	}
	ctrl, err := NewController(spec, c.deps)
	if err != nil {
		return err
	}
	receipt, err := c.deps.Policy.Do(ctx, ledger.PhaseRegister, spec.ID, func(ctx context.Context) (ledger.Receipt, error) {
		return c.deps.Ledger.Register(ctx, spec.ID)
	})
	if err != nil {
		return err
	}
	logger.Audit().Info("智能体已注册",
		slog.String("agent_id", spec.ID),
		slog.String("tx_id", receipt.TxID),
		slog.Bool("simulated", receipt.Simulated))

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.agents[spec.ID]; ok {
		return xerrors.New(xerrors.CodeConflict, "agent "+spec.ID+" already added")
	}
	c.agents[spec.ID] = ctrl
	c.order = append(c.order, spec.ID)
	return nil
}

// StartCycle 为智能体启动一个周期并立即返回，完成情况通过活动事件观察。
func (c *Coordinator) StartCycle(agentID string) error {
	if c.ctx.Err() != nil {
		return ErrStopped
	}
	c.mu.RLock()
	ctrl, ok := c.agents[agentID]
	c.mu.RUnlock()
	if !ok {
		return xerrors.Wrap(CodeUnknownAgent, nil, "unknown agent "+agentID)
	}
	if !ctrl.tryBegin() {
		return ErrCycleInProgress
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		res, err := ctrl.run(c.ctx)
		if err != nil && res.Result == ResultFailed {
			c.logger.Warn("周期失败", slog.String("agent_id", agentID), slog.Any("error", err))
		}
	}()
	return nil
}

// Run 按固定间隔为每个智能体触发周期，启动时立即触发一次。ctx 结束后返回。
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		c.tick()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.ctx.Done():
			return c.ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Coordinator) tick() {
	c.mu.RLock()
	ids := append([]string(nil), c.order...)
	c.mu.RUnlock()
	for _, id := range ids {
		if err := c.StartCycle(id); err != nil {
			if stdErrors.Is(err, ErrCycleInProgress) {
				c.logger.Debug("上一个周期仍在运行", slog.String("agent_id", id))
				continue
			}
			if stdErrors.Is(err, ErrStopped) {
				return
			}
			c.logger.Warn("触发周期失败", slog.String("agent_id", id), slog.Any("error", err))
		}
	}
}

// RecordPurchase 记录一次购买，仅允许购买已揭示的承诺。
func (c *Coordinator) RecordPurchase(ctx context.Context, buyer, commitmentID string, amount int64) error {
	if c.purchases == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "purchases are not configured")
	}
	return c.purchases.Purchase(ctx, buyer, commitmentID, amount)
}

// Agent 返回单个智能体的运行状态。
func (c *Coordinator) Agent(agentID string) (RunState, bool) {
	c.mu.RLock()
	ctrl, ok := c.agents[agentID]
	c.mu.RUnlock()
	if !ok {
		return RunState{}, false
	}
	return ctrl.Snapshot(), true
}

// Agents 按注册顺序返回所有智能体的运行状态。
func (c *Coordinator) Agents() []RunState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]RunState, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.agents[id].Snapshot())
	}
	return out
}

// Wait 等待所有在途周期结束。
func (c *Coordinator) Wait() {
	c.wg.Wait()
}
