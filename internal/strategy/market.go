package strategy

import (
	"context"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	xerrors "GhostSignal-Chain/internal/errors"
)

// DefaultWindow 为行情窗口默认采样数。
const DefaultWindow = 30

// DefaultBasePrices 为合成行情的起始价格。
var DefaultBasePrices = map[string]float64{
	"BTC/USD": 65000,
	"ETH/USD": 3500,
	"SOL/USD": 150,
}

const fallbackBasePrice = 1000

// MarketData 是某个交易对最近一段时间的价格序列。
type MarketData struct {
	Pair      string    `json:"pair"`
	Prices    []float64 `json:"prices"`
	Timestamp time.Time `json:"timestamp"`
}

// Last 返回最新价格。
func (m MarketData) Last() float64 {
	if len(m.Prices) == 0 {
		return 0
	}
	return m.Prices[len(m.Prices)-1]
}

// Feed 提供行情窗口与最新价格。
type Feed interface {
	Snapshot(ctx context.Context, pair string) (MarketData, error)
	Price(ctx context.Context, pair string) (float64, error)
}

// SyntheticFeed 以随机游走生成行情，每次查询推进一步。
type SyntheticFeed struct {
	mu         sync.Mutex
	rng        *rand.Rand
	window     int
	volatility float64
	base       map[string]float64
	series     map[string][]float64
	now        func() time.Time
}

// FeedOption 定义合成行情的可选配置。
type FeedOption func(*SyntheticFeed)

// WithWindow 设置窗口采样数。
func WithWindow(n int) FeedOption {
	return func(f *SyntheticFeed) {
		if n > 1 {
			f.window = n
		}
	}
}

// WithVolatility 设置单步相对波动率。
func WithVolatility(v float64) FeedOption {
	return func(f *SyntheticFeed) {
		if v > 0 {
			f.volatility = v
		}
	}
}

// WithBasePrices 覆盖起始价格。
func WithBasePrices(prices map[string]float64) FeedOption {
	return func(f *SyntheticFeed) {
		for pair, price := range prices {
			if price > 0 {
				f.base[strings.ToUpper(pair)] = price
			}
		}
	}
}

// WithSeed 固定随机种子。
func WithSeed(seed uint64) FeedOption {
	return func(f *SyntheticFeed) {
		f.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// NewSyntheticFeed 创建合成行情源。
func NewSyntheticFeed(opts ...FeedOption) *SyntheticFeed {
	f := &SyntheticFeed{
		rng:        rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		window:     DefaultWindow,
		volatility: 0.02,
		base:       make(map[string]float64, len(DefaultBasePrices)),
		series:     make(map[string][]float64),
		now:        time.Now,
	}
	for pair, price := range DefaultBasePrices {
		f.base[pair] = price
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// Snapshot 返回推进一步后的行情窗口副本。
func (f *SyntheticFeed) Snapshot(ctx context.Context, pair string) (MarketData, error) {
	if err := ctx.Err(); err != nil {
		return MarketData{}, err
	}
	pair = strings.ToUpper(strings.TrimSpace(pair))
	if pair == "" {
		return MarketData{}, xerrors.New(xerrors.CodeInvalidArgument, "pair is required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	series := f.advanceLocked(pair)
	prices := make([]float64, len(series))
	copy(prices, series)
	return MarketData{Pair: pair, Prices: prices, Timestamp: f.now().UTC()}, nil
}

// Price 推进一步并返回最新价格。
func (f *SyntheticFeed) Price(ctx context.Context, pair string) (float64, error) {
	data, err := f.Snapshot(ctx, pair)
	if err != nil {
		return 0, err
	}
	return data.Last(), nil
}

func (f *SyntheticFeed) advanceLocked(pair string) []float64 {
	series, ok := f.series[pair]
	if !ok {
		base, found := f.base[pair]
		if !found {
			base = fallbackBasePrice
		}
		series = make([]float64, 0, f.window)
		for i := 0; i < f.window; i++ {
			series = append(series, f.jitter(base))
		}
		f.series[pair] = series
		return series
	}
	next := f.jitter(series[len(series)-1])
	series = append(series[1:], next)
	f.series[pair] = series
	return series
}

func (f *SyntheticFeed) jitter(price float64) float64 {
	step := price * (1 + f.rng.NormFloat64()*f.volatility)
	return math.Max(round2(step), 0.01)
}
