// Package scoring 在验证阶段判定信号的胜负。
package scoring

import (
	"context"
	"log/slog"
	"math"

	"GhostSignal-Chain/internal/proofs"
	"GhostSignal-Chain/internal/strategy"
	"GhostSignal-Chain/pkg/logger"
)

// Outcome 表示信号的验证结果。
type Outcome string

const (
	OutcomeWin  Outcome = "win"
	OutcomeLoss Outcome = "loss"
)

// Win 判断是否为胜。
func (o Outcome) Win() bool { return o == OutcomeWin }

// Scorer 给出信号的验证结果。
type Scorer interface {
	Outcome(ctx context.Context, signal proofs.Signal) Outcome
}

// Func 把普通函数适配为 Scorer。
type Func func(ctx context.Context, signal proofs.Signal) Outcome

// Outcome 实现 Scorer。
func (f Func) Outcome(ctx context.Context, signal proofs.Signal) Outcome { return f(ctx, signal) }

// Fixed 总是返回同一个结果。
func Fixed(o Outcome) Scorer {
	return Func(func(context.Context, proofs.Signal) Outcome { return o })
}

// DefaultHoldTolerance 为 HOLD 信号允许的相对价格波动。
const DefaultHoldTolerance = 0.005

// PriceScorer 比较信号生成时的参考价与验证时的最新价格。
// 看涨方向要求价格上涨，看跌方向要求价格下跌，HOLD 要求波动不超过容忍度。
type PriceScorer struct {
	feed          strategy.Feed
	holdTolerance float64
}

// NewPriceScorer 创建基于行情源的评分器。
func NewPriceScorer(feed strategy.Feed, holdTolerance float64) *PriceScorer {
	if holdTolerance <= 0 {
		holdTolerance = DefaultHoldTolerance
	}
	return &PriceScorer{feed: feed, holdTolerance: holdTolerance}
}

// Outcome 实现 Scorer。行情不可用时判负。
func (p *PriceScorer) Outcome(ctx context.Context, signal proofs.Signal) Outcome {
	if signal.ReferencePrice <= 0 {
		return OutcomeLoss
	}
	current, err := p.feed.Price(ctx, signal.Pair)
	if err != nil {
		logger.Named("scoring").Warn("获取验证价格失败", slog.String("pair", signal.Pair), slog.Any("error", err))
		return OutcomeLoss
	}
	move := (current - signal.ReferencePrice) / signal.ReferencePrice
	switch {
	case signal.Direction.Bullish():
		return of(move > 0)
	case signal.Direction.Bearish():
		return of(move < 0)
	default:
		return of(math.Abs(move) <= p.holdTolerance)
	}
}

func of(win bool) Outcome {
	if win {
		return OutcomeWin
	}
	return OutcomeLoss
}
