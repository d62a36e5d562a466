package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"GhostSignal-Chain/internal/ledger"
	"GhostSignal-Chain/internal/lifecycle"
	"GhostSignal-Chain/internal/retry"
	"GhostSignal-Chain/internal/slot"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

var (
	_ retry.Observer     = (*Metrics)(nil)
	_ slot.Observer      = (*Metrics)(nil)
	_ lifecycle.Observer = (*Metrics)(nil)
)

func TestObserversUpdateCounters(t *testing.T) {
	m := New()
	m.ObservePhaseCall(ledger.PhaseCommit, retry.OutcomeOK)
	m.ObservePhaseCall(ledger.PhaseCommit, retry.OutcomeSimulated)
	m.ObservePhaseCall(ledger.PhaseReveal, retry.OutcomeSimulated)
	m.ObserveCycle(lifecycle.ResultCompleted, 3*time.Second)
	m.ObserveCycle(lifecycle.ResultSkipped, 0)
	m.ObserveForceExpired()
	m.ObserveSlotWait(20 * time.Millisecond)

	if got := testutil.ToFloat64(m.phaseCalls.WithLabelValues("commit", "simulated")); got != 1 {
		t.Fatalf("unexpected phase calls: %v", got)
	}
	if got := testutil.ToFloat64(m.simulatedReceipts.WithLabelValues("reveal")); got != 1 {
		t.Fatalf("unexpected simulated receipts: %v", got)
	}
	if got := testutil.ToFloat64(m.lifecycles.WithLabelValues("completed")); got != 1 {
		t.Fatalf("unexpected lifecycles: %v", got)
	}
	if got := testutil.ToFloat64(m.slotForceExpired); got != 1 {
		t.Fatalf("unexpected force expired: %v", got)
	}
	if got := testutil.CollectAndCount(m.slotWait); got != 1 {
		t.Fatalf("unexpected slot wait series: %d", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveHTTPRequest("stats", "GET", 200, 15*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `ghostsignal_http_requests_total{code="200",handler="stats",method="GET"} 1`) {
		t.Fatalf("metrics output missing request counter:\n%s", body)
	}
}
