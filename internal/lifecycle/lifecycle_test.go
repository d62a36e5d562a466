package lifecycle

import (
	"context"
	stdErrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"GhostSignal-Chain/internal/activity"
	xerrors "GhostSignal-Chain/internal/errors"
	"GhostSignal-Chain/internal/ledger"
	"GhostSignal-Chain/internal/observability/alerting"
	"GhostSignal-Chain/internal/proofs"
	"GhostSignal-Chain/internal/retry"
	"GhostSignal-Chain/internal/scoring"
	"GhostSignal-Chain/internal/slot"
)

type fixedSource struct {
	pair       string
	direction  proofs.Direction
	confidence float64
	seq        atomic.Int64
}

func (s *fixedSource) Next(_ context.Context, agentID string) (proofs.Signal, error) {
	n := s.seq.Add(1)
	return proofs.Signal{
		ID:             fmt.Sprintf("%s-sig-%d", agentID, n),
		AgentID:        agentID,
		Pair:           s.pair,
		Direction:      s.direction,
		TargetPrice:    67000,
		ReferencePrice: 65000,
		Confidence:     s.confidence,
		Strategy:       "momentum",
		CreatedAt:      time.Now(),
	}, nil
}

func longBTC() *fixedSource {
	return &fixedSource{pair: "BTC/USD", direction: proofs.DirectionLong, confidence: 80}
}

// hookLedger 在进程内账本外包一层可注入的故障。
type hookLedger struct {
	*ledger.MemoryLedger
	onCommit func(hash string) error
	onReveal func(secret proofs.Secret) error

	active    atomic.Int32
	maxActive atomic.Int32
}

func newHookLedger() *hookLedger {
	return &hookLedger{MemoryLedger: ledger.NewMemoryLedger()}
}

func (h *hookLedger) CommitPhase(ctx context.Context, hash string) (ledger.Receipt, error) {
	if h.onCommit != nil {
		if err := h.onCommit(hash); err != nil {
			return ledger.Receipt{}, err
		}
	}
	n := h.active.Add(1)
	for {
		cur := h.maxActive.Load()
		if n <= cur || h.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}
	return h.MemoryLedger.CommitPhase(ctx, hash)
}

func (h *hookLedger) RevealPhase(ctx context.Context, secret proofs.Secret) (ledger.Receipt, error) {
	if h.onReveal != nil {
		if err := h.onReveal(secret); err != nil {
			h.active.Add(-1)
			return ledger.Receipt{}, err
		}
	}
	return h.MemoryLedger.RevealPhase(ctx, secret)
}

func (h *hookLedger) VerifyPhase(ctx context.Context, secret proofs.Secret) (ledger.Receipt, error) {
	defer h.active.Add(-1)
	return h.MemoryLedger.VerifyPhase(ctx, secret)
}

type recordingAlerts struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *recordingAlerts) Notify(_ context.Context, e alerting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingAlerts) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type recordingObserver struct {
	mu      sync.Mutex
	results map[Result]int
}

func (r *recordingObserver) ObserveCycle(result Result, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.results == nil {
		r.results = make(map[Result]int)
	}
	r.results[result]++
}

func testDeps(t *testing.T, l ledger.Adapter, agg *activity.Aggregator) Deps {
	t.Helper()
	return Deps{
		Ledger:  l,
		Policy:  retry.New(retry.WithCooldown(time.Millisecond), retry.WithCallTimeout(time.Second)),
		Arbiter: slot.New(),
		Events:  agg,
		Outcome: scoring.Fixed(scoring.OutcomeWin).Outcome,
		Timing:  Timing{RevealDelay: 5 * time.Millisecond, VerifyDelay: 5 * time.Millisecond, AcquireTimeout: 5 * time.Second},
	}
}

func flushed(t *testing.T, agg *activity.Aggregator) []activity.Event {
	t.Helper()
	if err := agg.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	return agg.Recent(0, 0)
}

func fatalEvents(events []activity.Event) []activity.Event {
	var out []activity.Event
	for _, e := range events {
		if e.Fatal {
			out = append(out, e)
		}
	}
	return out
}

func TestSingleAgentCompletesLifecycle(t *testing.T) {
	agg := activity.New()
	defer agg.Close()
	observer := &recordingObserver{}
	deps := testDeps(t, ledger.NewMemoryLedger(), agg)
	deps.Observer = observer

	ctrl, err := NewController(AgentSpec{ID: "Alpha", Stake: 100, Source: longBTC()}, deps)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	res, err := ctrl.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if res.Result != ResultCompleted || res.Outcome != scoring.OutcomeWin {
		t.Fatalf("unexpected result: %+v", res)
	}
	for _, phase := range []ledger.Phase{ledger.PhaseCommit, ledger.PhaseReveal, ledger.PhaseVerify} {
		if r, ok := res.Receipts[phase]; !ok || r.Simulated || r.TxID == "" {
			t.Fatalf("expected authentic %s receipt, got %+v", phase, r)
		}
	}

	events := flushed(t, agg)
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	wantTypes := []activity.Type{activity.TypeVerify, activity.TypeReveal, activity.TypeCommit, activity.TypeGenerate}
	for i, e := range events {
		if e.Type != wantTypes[i] || e.AgentID != "Alpha" {
			t.Fatalf("event %d: unexpected %s/%s", i, e.Type, e.AgentID)
		}
	}
	if events[0].Outcome != scoring.OutcomeWin || events[2].Amount != 100 {
		t.Fatalf("unexpected verify/commit payloads: %+v / %+v", events[0], events[2])
	}
	if _, leaked := events[3].Payload["direction"]; leaked {
		t.Fatalf("generate event must not disclose the signal before reveal")
	}
	if events[1].Payload["direction"] != "LONG" || events[1].Payload["pair"] != "BTC/USD" {
		t.Fatalf("reveal event should disclose the signal: %+v", events[1].Payload)
	}

	stats := agg.Stats()
	if stats.TotalSignals != 1 || stats.RevealedSignals != 1 || stats.VerifiedSignals != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.ActiveCommitments != 0 || stats.Wins != 1 || stats.TotalVolume != 100 {
		t.Fatalf("unexpected derived stats: %+v", stats)
	}

	snap := ctrl.Snapshot()
	if snap.State != StateIdle || snap.Stats.Completed != 1 || snap.Stats.Wins != 1 || snap.CurrentCommitmentID != "" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if observer.results[ResultCompleted] != 1 {
		t.Fatalf("observer not notified: %+v", observer.results)
	}
	if _, held := deps.Arbiter.Holder(); held {
		t.Fatalf("slot should be released after verify")
	}
}

func TestRevealedSecretMatchesBindingHash(t *testing.T) {
	agg := activity.New()
	defer agg.Close()
	ctrl, err := NewController(AgentSpec{ID: "Alpha", Source: longBTC()}, testDeps(t, ledger.NewMemoryLedger(), agg))
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	if _, err := ctrl.RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	var reveal activity.Event
	for _, e := range flushed(t, agg) {
		if e.Type == activity.TypeReveal {
			reveal = e
		}
	}
	secret, err := proofs.ParseSecret(reveal.Payload["secret"].(string))
	if err != nil {
		t.Fatalf("parse secret: %v", err)
	}
	signal := proofs.Signal{
		ID:             reveal.Payload["signal_id"].(string),
		AgentID:        "Alpha",
		Pair:           reveal.Payload["pair"].(string),
		Direction:      proofs.Direction(reveal.Payload["direction"].(string)),
		TargetPrice:    reveal.Payload["target_price"].(float64),
		ReferencePrice: reveal.Payload["reference_price"].(float64),
		Confidence:     reveal.Payload["confidence"].(float64),
		Strategy:       reveal.Payload["strategy"].(string),
		CreatedAt:      reveal.Payload["created_at"].(time.Time),
	}
	ok, err := proofs.Verify(reveal.Payload["binding_hash"].(string), signal, secret)
	if err != nil || !ok {
		t.Fatalf("revealed material should open the commitment: ok=%v err=%v", ok, err)
	}
}

func TestExhaustedCommitDegradesToSimulatedReceipt(t *testing.T) {
	agg := activity.New()
	defer agg.Close()
	hl := newHookLedger()
	var (
		mu     sync.Mutex
		victim string
	)
	hl.onCommit = func(hash string) error {
		mu.Lock()
		defer mu.Unlock()
		if victim == "" {
			victim = hash
		}
		if hash == victim {
			return ledger.ResourceExhausted(nil, "txpool is full")
		}
		return nil
	}

	coord, err := NewCoordinator(context.Background(), testDeps(t, hl, agg))
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	for _, id := range []string{"Alpha", "Bravo"} {
		if err := coord.AddAgent(context.Background(), AgentSpec{ID: id, Stake: 10, Source: longBTC()}); err != nil {
			t.Fatalf("add agent %s: %v", id, err)
		}
	}
	for _, id := range []string{"Alpha", "Bravo"} {
		if err := coord.StartCycle(id); err != nil {
			t.Fatalf("start cycle %s: %v", id, err)
		}
	}
	coord.Wait()

	events := flushed(t, agg)
	simulatedBy := map[string][]activity.Type{}
	for _, e := range events {
		if e.Simulated() {
			simulatedBy[e.AgentID] = append(simulatedBy[e.AgentID], e.Type)
		}
	}
	if len(simulatedBy) != 1 {
		t.Fatalf("expected exactly one agent with simulated receipts, got %+v", simulatedBy)
	}
	for agent, types := range simulatedBy {
		if len(types) != 1 || types[0] != activity.TypeCommit {
			t.Fatalf("agent %s: only the commit should be simulated, got %v", agent, types)
		}
		summary, _ := agg.Agent(agent)
		if summary.Verified != 1 || summary.Simulated != 1 {
			t.Fatalf("degraded lifecycle should still complete: %+v", summary)
		}
	}
	stats := agg.Stats()
	if stats.VerifiedSignals != 2 || stats.SimulatedReceipts != 1 || stats.FailedLifecycles != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	for _, st := range coord.Agents() {
		if st.Stats.Completed != 1 {
			t.Fatalf("agent %s did not complete: %+v", st.AgentID, st)
		}
	}
}

func TestRejectedRevealFailsAndReleasesSlot(t *testing.T) {
	agg := activity.New()
	defer agg.Close()
	hl := newHookLedger()
	var rejectOnce atomic.Bool
	hl.onReveal = func(proofs.Secret) error {
		if rejectOnce.CompareAndSwap(false, true) {
			return ledger.Rejected(nil, "execution reverted")
		}
		return nil
	}
	alerts := &recordingAlerts{}
	deps := testDeps(t, hl, agg)
	deps.Alerts = alerts
	deps.Timing.RevealDelay = 30 * time.Millisecond

	alpha, err := NewController(AgentSpec{ID: "Alpha", Source: longBTC()}, deps)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	bravo, err := NewController(AgentSpec{ID: "Bravo", Source: longBTC()}, deps)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}

	alphaDone := make(chan error, 1)
	go func() {
		_, err := alpha.RunCycle(context.Background())
		alphaDone <- err
	}()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if holder, ok := deps.Arbiter.Holder(); ok && holder == "Alpha" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("alpha never acquired the slot")
		}
		time.Sleep(time.Millisecond)
	}

	bravoRes, bravoErr := bravo.RunCycle(context.Background())
	alphaErr := <-alphaDone

	if !stdErrors.Is(alphaErr, retry.ErrPhaseRejected) {
		t.Fatalf("expected alpha to fail with a rejected phase, got %v", alphaErr)
	}
	if bravoErr != nil || bravoRes.Result != ResultCompleted {
		t.Fatalf("bravo should acquire the released slot and complete: %+v %v", bravoRes, bravoErr)
	}

	events := flushed(t, agg)
	fatal := fatalEvents(events)
	if len(fatal) != 1 {
		t.Fatalf("expected exactly one fatal event, got %d", len(fatal))
	}
	if fatal[0].Type != activity.TypeReveal || fatal[0].AgentID != "Alpha" || fatal[0].Error == "" {
		t.Fatalf("unexpected fatal event: %+v", fatal[0])
	}
	snap := alpha.Snapshot()
	if snap.State != StateFailed || snap.Stats.Failed != 1 || snap.LastError == "" {
		t.Fatalf("unexpected alpha snapshot: %+v", snap)
	}
	if alerts.count() != 1 {
		t.Fatalf("expected one alert, got %d", alerts.count())
	}
	stats := agg.Stats()
	if stats.FailedLifecycles != 1 || stats.VerifiedSignals != 1 || stats.ActiveCommitments != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestLowConfidenceSignalIsSkipped(t *testing.T) {
	agg := activity.New()
	defer agg.Close()
	ctrl, err := NewController(AgentSpec{ID: "Alpha", MinConfidence: 90, Source: longBTC()}, testDeps(t, ledger.NewMemoryLedger(), agg))
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	res, err := ctrl.RunCycle(context.Background())
	if err != nil || res.Result != ResultSkipped {
		t.Fatalf("expected skip, got %+v %v", res, err)
	}
	if events := flushed(t, agg); len(events) != 0 {
		t.Fatalf("skipped cycle should not emit events, got %d", len(events))
	}
	if snap := ctrl.Snapshot(); snap.State != StateIdle || snap.Stats.Skipped != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestAcquireTimeoutIsNonFatal(t *testing.T) {
	agg := activity.New()
	defer agg.Close()
	deps := testDeps(t, ledger.NewMemoryLedger(), agg)
	deps.Timing.AcquireTimeout = 20 * time.Millisecond

	blocker, err := deps.Arbiter.Acquire(context.Background(), "Blocker", time.Second)
	if err != nil {
		t.Fatalf("pre-acquire: %v", err)
	}
	defer deps.Arbiter.Release(blocker)

	ctrl, err := NewController(AgentSpec{ID: "Alpha", Source: longBTC()}, deps)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	res, err := ctrl.RunCycle(context.Background())
	if !stdErrors.Is(err, slot.ErrTimedOut) || res.Result != ResultTimedOut {
		t.Fatalf("expected slot timeout, got %+v %v", res, err)
	}
	events := flushed(t, agg)
	if len(events) != 1 || events[0].Type != activity.TypeGenerate {
		t.Fatalf("only the generate event should exist, got %+v", events)
	}
	if len(fatalEvents(events)) != 0 {
		t.Fatalf("timeout must not record a fatal event")
	}
	if snap := ctrl.Snapshot(); snap.State != StateFailed || snap.Stats.TimedOut != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestShutdownSkipsDelaysButFinishesPhases(t *testing.T) {
	agg := activity.New()
	defer agg.Close()
	deps := testDeps(t, ledger.NewMemoryLedger(), agg)
	deps.Timing.RevealDelay = time.Hour
	deps.Timing.VerifyDelay = time.Hour

	ctrl, err := NewController(AgentSpec{ID: "Alpha", Source: longBTC()}, deps)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	type outcome struct {
		res CycleResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := ctrl.RunCycle(ctx)
		done <- outcome{res, err}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for ctrl.Snapshot().State != StateWaitingReveal {
		if time.Now().After(deadline) {
			t.Fatalf("controller never reached the reveal delay")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case got := <-done:
		if got.err != nil || got.res.Result != ResultCompleted {
			t.Fatalf("expected completed cycle after shutdown, got %+v %v", got.res, got.err)
		}
		if got.res.Receipts[ledger.PhaseVerify].Simulated {
			t.Fatalf("verify should reach the ledger on shutdown")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("cycle did not finish after cancellation")
	}
	flushed(t, agg)
	if stats := agg.Stats(); stats.VerifiedSignals != 1 || stats.RevealedSignals != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestForceExpiredTicketAbortsLifecycle(t *testing.T) {
	agg := activity.New()
	defer agg.Close()
	deps := testDeps(t, ledger.NewMemoryLedger(), agg)
	deps.Arbiter = slot.New(slot.WithLivenessWindow(20 * time.Millisecond))
	deps.Timing.RevealDelay = 200 * time.Millisecond

	ctrl, err := NewController(AgentSpec{ID: "Alpha", Source: longBTC()}, deps)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	res, err := ctrl.RunCycle(context.Background())
	if !xerrors.HasCode(err, CodeSlotRevoked) || res.FailedPhase != ledger.PhaseReveal {
		t.Fatalf("expected revoked slot before reveal, got %+v %v", res, err)
	}
	fatal := fatalEvents(flushed(t, agg))
	if len(fatal) != 1 || fatal[0].Type != activity.TypeReveal {
		t.Fatalf("expected one fatal reveal event, got %+v", fatal)
	}
}

func TestConcurrentAgentsNeverShareTheSlot(t *testing.T) {
	agg := activity.New()
	defer agg.Close()
	hl := newHookLedger()
	deps := testDeps(t, hl, agg)
	deps.Timing.RevealDelay = time.Millisecond
	deps.Timing.VerifyDelay = time.Millisecond

	coord, err := NewCoordinator(context.Background(), deps)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	const agents = 8
	for i := 0; i < agents; i++ {
		if err := coord.AddAgent(context.Background(), AgentSpec{ID: fmt.Sprintf("agent-%d", i), Source: longBTC()}); err != nil {
			t.Fatalf("add agent: %v", err)
		}
	}
	for round := 0; round < 3; round++ {
		for i := 0; i < agents; i++ {
			if err := coord.StartCycle(fmt.Sprintf("agent-%d", i)); err != nil {
				t.Fatalf("start cycle: %v", err)
			}
		}
		coord.Wait()
	}

	if got := hl.maxActive.Load(); got != 1 {
		t.Fatalf("expected at most one open commitment at a time, observed %d", got)
	}
	stats := agg.Stats()
	if stats.VerifiedSignals != agents*3 {
		t.Fatalf("expected %d verified signals, got %+v", agents*3, stats)
	}
}

func TestCoordinatorGuards(t *testing.T) {
	agg := activity.New()
	defer agg.Close()
	deps := testDeps(t, ledger.NewMemoryLedger(), agg)
	deps.Timing.RevealDelay = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	coord, err := NewCoordinator(ctx, deps)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	want := DeriveLivenessWindow(deps.Timing, deps.Policy.Budget(), deps.Policy.CallTimeout())
	if coord.LivenessWindow() != want || want <= deps.Timing.RevealDelay+deps.Timing.VerifyDelay+3*deps.Policy.Budget() {
		t.Fatalf("unexpected liveness window %s", coord.LivenessWindow())
	}

	if err := coord.StartCycle("ghost"); !stdErrors.Is(err, ErrUnknownAgent) {
		t.Fatalf("expected unknown agent, got %v", err)
	}
	if err := coord.AddAgent(context.Background(), AgentSpec{ID: "Alpha", Source: longBTC()}); err != nil {
		t.Fatalf("add agent: %v", err)
	}
	if err := coord.AddAgent(context.Background(), AgentSpec{ID: "Alpha", Source: longBTC()}); err == nil {
		t.Fatalf("expected duplicate agent to be refused")
	}
	if err := coord.StartCycle("Alpha"); err != nil {
		t.Fatalf("start cycle: %v", err)
	}
	if err := coord.StartCycle("Alpha"); !stdErrors.Is(err, ErrCycleInProgress) {
		t.Fatalf("expected cycle in progress, got %v", err)
	}
	coord.Wait()

	cancel()
	if err := coord.StartCycle("Alpha"); !stdErrors.Is(err, ErrStopped) {
		t.Fatalf("expected stopped coordinator, got %v", err)
	}
}

func TestRegisterRejectionKeepsAgentOut(t *testing.T) {
	agg := activity.New()
	defer agg.Close()
	ml := ledger.NewMemoryLedger()
	if _, err := ml.Register(context.Background(), "Alpha"); err != nil {
		t.Fatalf("pre-register: %v", err)
	}
	coord, err := NewCoordinator(context.Background(), testDeps(t, ml, agg))
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	if err := coord.AddAgent(context.Background(), AgentSpec{ID: "Alpha", Source: longBTC()}); !stdErrors.Is(err, retry.ErrPhaseRejected) {
		t.Fatalf("expected rejected registration, got %v", err)
	}
	if len(coord.Agents()) != 0 {
		t.Fatalf("rejected agent should not be added")
	}
}

func TestRecordPurchaseAfterReveal(t *testing.T) {
	agg := activity.New()
	defer agg.Close()
	coord, err := NewCoordinator(context.Background(), testDeps(t, ledger.NewMemoryLedger(), agg))
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	if err := coord.AddAgent(context.Background(), AgentSpec{ID: "Alpha", Stake: 50, Source: longBTC()}); err != nil {
		t.Fatalf("add agent: %v", err)
	}
	if err := coord.StartCycle("Alpha"); err != nil {
		t.Fatalf("start: %v", err)
	}
	coord.Wait()

	events := flushed(t, agg)
	commitmentID := events[0].CommitmentID
	if err := coord.RecordPurchase(context.Background(), "buyer-1", commitmentID, 20); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if err := coord.RecordPurchase(context.Background(), "buyer-1", "missing", 20); !stdErrors.Is(err, activity.ErrPurchaseInvalid) {
		t.Fatalf("expected invalid purchase, got %v", err)
	}
	flushed(t, agg)
	if stats := agg.Stats(); stats.Purchases != 1 || stats.TotalVolume != 70 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestRunTriggersCyclesUntilCancelled(t *testing.T) {
	agg := activity.New()
	defer agg.Close()
	deps := testDeps(t, ledger.NewMemoryLedger(), agg)
	deps.Timing = Timing{AcquireTimeout: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	coord, err := NewCoordinator(ctx, deps, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	if err := coord.AddAgent(context.Background(), AgentSpec{ID: "Alpha", Source: longBTC()}); err != nil {
		t.Fatalf("add agent: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- coord.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if st, _ := coord.Agent("Alpha"); st.Stats.Completed >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("scheduler did not run repeated cycles")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; !stdErrors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	coord.Wait()
}
