// Package strategy 提供信号生成策略（动量、均值回归、随机）以及驱动策略的合成行情源。
package strategy

import (
	"math"
	"math/rand/v2"
	"strings"
	"sync"

	xerrors "GhostSignal-Chain/internal/errors"
	"GhostSignal-Chain/internal/proofs"
)

const (
	TypeMomentum      = "momentum"
	TypeMeanReversion = "mean_reversion"
	TypeRandom        = "random"
)

// Analysis 是策略对一段行情的判断。
type Analysis struct {
	Direction   proofs.Direction
	TargetPrice float64
	Confidence  float64
}

// Strategy 根据行情窗口给出交易方向。
type Strategy interface {
	Name() string
	Analyze(data MarketData) Analysis
}

// Types 返回内置策略名称。
func Types() []string {
	return []string{TypeMomentum, TypeMeanReversion, TypeRandom}
}

// New 按名称创建策略。rng 为空时使用随机种子。
func New(name string, rng *rand.Rand) (Strategy, error) {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	src := &lockedRand{r: rng}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case TypeMomentum, "":
		return &Momentum{Lookback: 14, rng: src}, nil
	case TypeMeanReversion:
		return &MeanReversion{Lookback: 20, Threshold: 2.0, rng: src}, nil
	case TypeRandom:
		return &Random{rng: src}, nil
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "unknown strategy "+name)
	}
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) float() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

// between 返回 [lo, hi] 内的整数。
func (l *lockedRand) between(lo, hi int) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return float64(lo + l.r.IntN(hi-lo+1))
}

func (l *lockedRand) coin() proofs.Direction {
	if l.float() > 0.5 {
		return proofs.DirectionBuy
	}
	return proofs.DirectionSell
}

// Momentum 比较短期与长期均线，短期在上则买入。
type Momentum struct {
	Lookback int
	rng      *lockedRand
}

func (m *Momentum) Name() string { return TypeMomentum }

func (m *Momentum) Analyze(data MarketData) Analysis {
	current := data.Last()
	if m.Lookback < 2 || len(data.Prices) < m.Lookback {
		dir := m.rng.coin()
		factor := 0.99
		if dir == proofs.DirectionBuy {
			factor = 1.01
		}
		return Analysis{Direction: dir, TargetPrice: round2(current * factor), Confidence: m.rng.between(30, 50)}
	}
	half := m.Lookback / 2
	shortMA := mean(data.Prices[len(data.Prices)-half:])
	longMA := mean(data.Prices[len(data.Prices)-m.Lookback:])
	if shortMA > longMA {
		spread := (shortMA - longMA) / longMA * 100
		return Analysis{Direction: proofs.DirectionBuy, TargetPrice: round2(current * 1.02), Confidence: capConfidence(50 + spread*10)}
	}
	spread := (longMA - shortMA) / longMA * 100
	return Analysis{Direction: proofs.DirectionSell, TargetPrice: round2(current * 0.98), Confidence: capConfidence(50 + spread*10)}
}

// MeanReversion 在价格偏离均值超过 Threshold 个标准差时押注回归。
type MeanReversion struct {
	Lookback  int
	Threshold float64
	rng       *lockedRand
}

func (m *MeanReversion) Name() string { return TypeMeanReversion }

func (m *MeanReversion) Analyze(data MarketData) Analysis {
	current := data.Last()
	if m.Lookback < 2 || len(data.Prices) < m.Lookback {
		return Analysis{Direction: m.rng.coin(), TargetPrice: round2(current), Confidence: m.rng.between(20, 40)}
	}
	window := data.Prices[len(data.Prices)-m.Lookback:]
	avg := mean(window)
	var variance float64
	for _, p := range window {
		variance += (p - avg) * (p - avg)
	}
	std := math.Sqrt(variance / float64(len(window)))
	z := 0.0
	if std > 0 {
		z = (current - avg) / std
	}
	switch {
	case z < -m.Threshold:
		return Analysis{Direction: proofs.DirectionBuy, TargetPrice: round2(avg), Confidence: capConfidence(50 + math.Abs(z)*15)}
	case z > m.Threshold:
		return Analysis{Direction: proofs.DirectionSell, TargetPrice: round2(avg), Confidence: capConfidence(50 + math.Abs(z)*15)}
	}
	dir := proofs.DirectionSell
	if z < 0 {
		dir = proofs.DirectionBuy
	}
	return Analysis{Direction: dir, TargetPrice: round2(avg), Confidence: m.rng.between(20, 45)}
}

// Random 随机给出方向，作为基线策略。
type Random struct {
	rng *lockedRand
}

func (r *Random) Name() string { return TypeRandom }

func (r *Random) Analyze(data MarketData) Analysis {
	dir := r.rng.coin()
	confidence := r.rng.between(40, 80)
	multiplier := 1 + (r.rng.float()*0.06 - 0.03)
	return Analysis{Direction: dir, TargetPrice: round2(data.Last() * multiplier), Confidence: confidence}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func capConfidence(v float64) float64 {
	return math.Min(95, math.Trunc(v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
