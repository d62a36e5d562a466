package strategy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"GhostSignal-Chain/internal/proofs"

	"github.com/google/uuid"
)

// Generator 轮流对配置的交易对运行策略并生成信号。
type Generator struct {
	strategy Strategy
	feed     Feed
	pairs    []string
	now      func() time.Time

	mu   sync.Mutex
	next int
}

// NewGenerator 创建信号生成器。pairs 为空时默认 BTC/USD。
func NewGenerator(strategy Strategy, feed Feed, pairs []string) *Generator {
	cleaned := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) == 0 {
		cleaned = []string{"BTC/USD"}
	}
	return &Generator{strategy: strategy, feed: feed, pairs: cleaned, now: time.Now}
}

// Next 为下一个交易对生成信号。
func (g *Generator) Next(ctx context.Context, agentID string) (proofs.Signal, error) {
	g.mu.Lock()
	pair := g.pairs[g.next%len(g.pairs)]
	g.next++
	g.mu.Unlock()

	data, err := g.feed.Snapshot(ctx, pair)
	if err != nil {
		return proofs.Signal{}, fmt.Errorf("获取行情失败: %w", err)
	}
	analysis := g.strategy.Analyze(data)
	signal := proofs.Signal{
		ID:             uuid.NewString(),
		AgentID:        agentID,
		Pair:           pair,
		Direction:      analysis.Direction,
		TargetPrice:    analysis.TargetPrice,
		ReferencePrice: data.Last(),
		Confidence:     analysis.Confidence,
		Strategy:       g.strategy.Name(),
		CreatedAt:      g.now().UTC(),
	}
	return signal.Normalize()
}
