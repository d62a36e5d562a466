package cycle

import (
	"context"
	stdErrors "errors"
	"log/slog"

	xerrors "GhostSignal-Chain/internal/errors"
	"GhostSignal-Chain/internal/lifecycle"
	"GhostSignal-Chain/pkg/logger"
)

// Starter 为 Processor 所需的协调器能力。
type Starter interface {
	StartCycle(agentID string) error
}

// Processor 负责从队列消费周期触发请求并交给协调器。
type Processor struct {
	starter     Starter
	consumer    Consumer
	workerCount int
	logger      *slog.Logger
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = l
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(starter Starter, consumer Consumer, opts ...ProcessorOption) *Processor {
	p := &Processor{starter: starter, consumer: consumer, workerCount: 1}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.logger == nil {
		p.logger = logger.Named("cycle")
	}
	return p
}

// Start 启动消费循环，ctx 结束后返回。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil || p.starter == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置周期队列消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(_ context.Context, agentID string) error {
	err := p.starter.StartCycle(agentID)
	switch {
	case err == nil:
		p.logger.Info("周期已触发", slog.String("agent_id", agentID))
		return nil
	case stdErrors.Is(err, lifecycle.ErrCycleInProgress):
		p.logger.Debug("周期仍在运行，忽略触发", slog.String("agent_id", agentID))
		return nil
	case stdErrors.Is(err, lifecycle.ErrUnknownAgent):
		p.logger.Warn("未知智能体，丢弃触发请求", slog.String("agent_id", agentID))
		return nil
	default:
		p.logger.Error("触发周期失败", slog.String("agent_id", agentID), slog.Any("error", err))
		return err
	}
}
