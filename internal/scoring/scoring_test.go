package scoring

import (
	"context"
	"errors"
	"testing"

	"GhostSignal-Chain/internal/proofs"
	"GhostSignal-Chain/internal/strategy"
)

type stubFeed struct {
	price float64
	err   error
}

func (s stubFeed) Snapshot(context.Context, string) (strategy.MarketData, error) {
	return strategy.MarketData{Prices: []float64{s.price}}, s.err
}

func (s stubFeed) Price(context.Context, string) (float64, error) {
	return s.price, s.err
}

func TestPriceScorer(t *testing.T) {
	cases := []struct {
		name      string
		direction proofs.Direction
		now       float64
		want      Outcome
	}{
		{"long rises", proofs.DirectionLong, 105, OutcomeWin},
		{"buy falls", proofs.DirectionBuy, 95, OutcomeLoss},
		{"short falls", proofs.DirectionShort, 95, OutcomeWin},
		{"sell rises", proofs.DirectionSell, 105, OutcomeLoss},
		{"hold flat", proofs.DirectionHold, 100.2, OutcomeWin},
		{"hold moves", proofs.DirectionHold, 102, OutcomeLoss},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			scorer := NewPriceScorer(stubFeed{price: tc.now}, 0)
			got := scorer.Outcome(context.Background(), proofs.Signal{Pair: "BTC/USD", Direction: tc.direction, ReferencePrice: 100})
			if got != tc.want {
				t.Fatalf("got %s want %s", got, tc.want)
			}
		})
	}
}

func TestPriceScorerLosesWhenFeedFails(t *testing.T) {
	scorer := NewPriceScorer(stubFeed{err: errors.New("down")}, 0)
	if got := scorer.Outcome(context.Background(), proofs.Signal{Direction: proofs.DirectionLong, ReferencePrice: 1}); got != OutcomeLoss {
		t.Fatalf("expected loss, got %s", got)
	}
	if Fixed(OutcomeWin).Outcome(context.Background(), proofs.Signal{}) != OutcomeWin {
		t.Fatalf("fixed scorer mismatch")
	}
}
