// Package app 按配置组装守护进程的全部组件并管理其生命周期。
package app

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"GhostSignal-Chain/internal/activity"
	"GhostSignal-Chain/internal/api"
	"GhostSignal-Chain/internal/config"
	"GhostSignal-Chain/internal/cycle"
	xerrors "GhostSignal-Chain/internal/errors"
	"GhostSignal-Chain/internal/ledger/provider"
	"GhostSignal-Chain/internal/lifecycle"
	"GhostSignal-Chain/internal/observability/alerting"
	"GhostSignal-Chain/internal/observability/metrics"
	"GhostSignal-Chain/internal/retry"
	"GhostSignal-Chain/internal/scoring"
	"GhostSignal-Chain/internal/slot"
	"GhostSignal-Chain/internal/storage/mysql"
	"GhostSignal-Chain/internal/strategy"
	"GhostSignal-Chain/pkg/logger"
)

// App 持有运行期组件。
type App struct {
	Config      *config.Config
	Metrics     *metrics.Metrics
	Alerts      *alerting.FanoutDispatcher
	Activity    *activity.Aggregator
	Coordinator *lifecycle.Coordinator
	Queue       cycle.Queue
	Processor   *cycle.Processor
	Server      *api.Server
	Feed        *strategy.SyntheticFeed

	logger  *slog.Logger
	ledger  *provider.Handle
	closers []func() error
	once    sync.Once
}

// New 按配置构造全部组件并注册智能体。ctx 为协调器的父上下文。
func New(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	a := &App{
		Config:  cfg,
		Metrics: metrics.New(),
		Alerts:  alerting.FromConfig(cfg.Alerting),
		logger:  logger.Named("app"),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	handle, err := provider.New(ctx, cfg.Ledger, cfg.Lifecycle.DefaultStake)
	if err != nil {
		return nil, err
	}
	a.ledger = handle

	if err := a.buildActivity(ctx); err != nil {
		return nil, err
	}

	arbiter := slot.New(
		slot.WithObserver(a.Metrics),
		slot.WithExpireHook(a.onSlotExpired),
	)
	policy := retry.New(
		retry.WithCooldown(cfg.Retry.Cooldown.Std()),
		retry.WithExhaustedRetries(cfg.Retry.ExhaustedRetries),
		retry.WithUnavailableRetries(cfg.Retry.UnavailableRetries),
		retry.WithCallTimeout(cfg.Ledger.CallTimeout.Std()),
		retry.WithObserver(a.Metrics),
	)

	feedOpts := []strategy.FeedOption{
		strategy.WithWindow(cfg.Market.Window),
		strategy.WithVolatility(cfg.Market.Volatility),
		strategy.WithBasePrices(cfg.Market.BasePrices),
	}
	if cfg.Market.Seed != 0 {
		feedOpts = append(feedOpts, strategy.WithSeed(cfg.Market.Seed))
	}
	a.Feed = strategy.NewSyntheticFeed(feedOpts...)
	scorer := scoring.NewPriceScorer(a.Feed, cfg.Market.HoldTolerance)

	a.Coordinator, err = lifecycle.NewCoordinator(ctx, lifecycle.Deps{
		Ledger:   handle.Adapter,
		Policy:   policy,
		Arbiter:  arbiter,
		Events:   a.Activity,
		Outcome:  scorer.Outcome,
		Alerts:   a.Alerts,
		Observer: a.Metrics,
		Timing: lifecycle.Timing{
			RevealDelay:    cfg.Lifecycle.RevealDelay.Std(),
			VerifyDelay:    cfg.Lifecycle.VerifyDelay.Std(),
			AcquireTimeout: cfg.Lifecycle.AcquireTimeout.Std(),
		},
	},
		lifecycle.WithInterval(cfg.Lifecycle.SignalInterval.Std()),
		lifecycle.WithLivenessWindow(cfg.Lifecycle.LivenessWindow.Std()),
	)
	if err != nil {
		return nil, err
	}
	if err := a.addAgents(ctx); err != nil {
		return nil, err
	}

	a.Queue, err = cycle.Open(ctx, cfg.CycleQueue)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Queue.Close)
	a.Processor = cycle.NewProcessor(a.Coordinator, a.Queue, cycle.WithWorkerCount(cfg.CycleQueue.Workers))

	serverOpts := []api.Option{
		api.WithAgents(a.Coordinator),
		api.WithTriggers(a.Queue),
		api.WithPurchases(a.Coordinator),
		api.WithObserver(a.Metrics),
		api.WithTimeouts(cfg.Server.ReadTimeout.Std(), cfg.Server.WriteTimeout.Std(), cfg.Server.ShutdownTimeout.Std()),
	}
	if cfg.Metrics.Enabled {
		serverOpts = append(serverOpts, api.WithMetricsHandler(cfg.Metrics.Path, a.Metrics.Handler()))
	}
	a.Server = api.NewServer(cfg.Server.Address, a.Activity, serverOpts...)
	return a, nil
}

func (a *App) buildActivity(ctx context.Context) error {
	cfg := a.Config.Activity
	key, err := activity.ParseRankingKey(cfg.RankingKey)
	if err != nil {
		return err
	}
	opts := []activity.Option{
		activity.WithBufferSize(cfg.BufferSize),
		activity.WithQueueDepth(cfg.IngestQueue),
		activity.WithRankingKey(key),
	}

	switch cfg.Store.Driver {
	case "file":
		if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
			return fmt.Errorf("创建活动存储目录失败: %w", err)
		}
		store, err := activity.NewFileStore(cfg.Store.Path)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, store.Close)
		opts = append(opts, activity.WithStore(store))
	case "mysql":
		store, err := mysql.NewSQLEventRepository(ctx, mysql.Config{DSN: cfg.Store.DSN})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, store.Close)
		opts = append(opts, activity.WithStore(store))
	}

	if cfg.Stream.Enabled {
		pub, err := activity.DialRedisPublisher(ctx, cfg.Stream.Redis.Addr, cfg.Stream.Redis.Password,
			cfg.Stream.Redis.DB, cfg.Stream.Key, cfg.Stream.MaxLen)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, pub.Close)
		opts = append(opts, activity.WithPublisher(pub))
	}

	a.Activity = activity.New(opts...)
	restored, err := a.Activity.Restore(ctx)
	if err != nil {
		return err
	}
	if restored > 0 {
		a.logger.Info("已恢复历史活动", slog.Int("events", restored))
	}
	return nil
}

func (a *App) addAgents(ctx context.Context) error {
	for _, ac := range a.Config.Agents {
		if ac.Disabled {
			continue
		}
		strat, err := strategy.New(ac.Strategy, nil)
		if err != nil {
			return err
		}
		err = a.Coordinator.AddAgent(ctx, lifecycle.AgentSpec{
			ID:            ac.ID,
			Stake:         ac.Stake,
			MinConfidence: ac.MinConfidence,
			Source:        strategy.NewGenerator(strat, a.Feed, ac.Pairs),
		})
		if err != nil {
			// 注册失败的智能体不参与调度，其余智能体照常运行。
			a.logger.Warn("注册智能体失败", slog.String("agent_id", ac.ID), slog.Any("error", err))
		}
	}
	return nil
}

func (a *App) onSlotExpired(t slot.Ticket) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := a.Alerts.Notify(ctx, alerting.Event{
		Code:       slot.CodeSlotInvalidTicket,
		Message:    "slot ticket force-expired after liveness window",
		Severity:   xerrors.SeverityCritical,
		AgentID:    t.AgentID,
		Phase:      "slot",
		Metadata:   map[string]string{"ticket_id": t.ID},
		OccurredAt: time.Now(),
	})
	if err != nil {
		a.logger.Warn("发送槽位告警失败", slog.Any("error", err))
	}
}

// Run 启动队列消费、定时调度与 HTTP 服务，ctx 取消后等待在途周期结束。
func (a *App) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := a.Processor.Start(ctx); err != nil && !stdErrors.Is(err, context.Canceled) {
			a.logger.Error("周期队列消费异常退出", slog.Any("error", err))
		}
	}()
	go func() {
		defer wg.Done()
		_ = a.Coordinator.Run(ctx)
	}()

	err := a.Server.Start(ctx)
	wg.Wait()
	a.Coordinator.Wait()
	if err != nil && !stdErrors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Close 按依赖逆序释放资源。可重复调用。
func (a *App) Close() {
	a.once.Do(func() {
		if a.Coordinator != nil {
			a.Coordinator.Wait()
		}
		if a.Activity != nil {
			a.Activity.Close()
		}
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				a.logger.Warn("释放资源失败", slog.Any("error", err))
			}
		}
		a.ledger.Close()
	})
}
