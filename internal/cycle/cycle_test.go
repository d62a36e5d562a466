package cycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"GhostSignal-Chain/internal/config"
	xerrors "GhostSignal-Chain/internal/errors"
	"GhostSignal-Chain/internal/lifecycle"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type stubStarter struct {
	mu     sync.Mutex
	calls  []string
	result map[string]error
	seen   chan string
}

func newStubStarter() *stubStarter {
	return &stubStarter{result: map[string]error{}, seen: make(chan string, 16)}
}

func (s *stubStarter) StartCycle(agentID string) error {
	s.mu.Lock()
	s.calls = append(s.calls, agentID)
	err := s.result[agentID]
	s.mu.Unlock()
	s.seen <- agentID
	return err
}

func waitFor(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("expected %s, got %s", want, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", want)
	}
}

func TestProcessorStartsCyclesFromMemoryQueue(t *testing.T) {
	queue := NewMemoryQueue(4)
	starter := newStubStarter()
	proc := NewProcessor(starter, queue, WithWorkerCount(1))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- proc.Start(ctx) }()

	for _, id := range []string{"alpha", "beta"} {
		if err := queue.Publish(ctx, id); err != nil {
			t.Fatalf("publish %s: %v", id, err)
		}
	}
	waitFor(t, starter.seen, "alpha")
	waitFor(t, starter.seen, "beta")

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestProcessorSwallowsBusyAndUnknownAgents(t *testing.T) {
	starter := newStubStarter()
	starter.result["busy"] = lifecycle.ErrCycleInProgress
	starter.result["ghost"] = xerrors.Wrap(lifecycle.CodeUnknownAgent, nil, "ghost")
	starter.result["broken"] = xerrors.New(xerrors.CodeUnknown, "boom")
	proc := NewProcessor(starter, NewMemoryQueue(1))

	ctx := context.Background()
	if err := proc.handle(ctx, "busy"); err != nil {
		t.Fatalf("busy agent should be skipped, got %v", err)
	}
	if err := proc.handle(ctx, "ghost"); err != nil {
		t.Fatalf("unknown agent should be dropped, got %v", err)
	}
	if err := proc.handle(ctx, "broken"); err == nil {
		t.Fatalf("unexpected errors should surface")
	}
}

func TestProcessorRequiresConsumer(t *testing.T) {
	proc := NewProcessor(newStubStarter(), nil)
	if err := proc.Start(context.Background()); !xerrors.HasCode(err, xerrors.CodeInitializationFailure) {
		t.Fatalf("expected initialization failure, got %v", err)
	}
}

func TestMemoryQueueRejectsAfterClose(t *testing.T) {
	queue := NewMemoryQueue(1)
	if err := queue.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := queue.Publish(context.Background(), "alpha"); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected publish after close to fail, got %v", err)
	}
}

func TestCloseReleasesBlockedPublisher(t *testing.T) {
	queue := NewMemoryQueue(1)
	if err := queue.Publish(context.Background(), "alpha"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- queue.Publish(context.Background(), "beta")
	}()
	time.Sleep(20 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		_ = queue.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatalf("close blocked behind a full queue")
	}
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrQueueClosed) {
			t.Fatalf("blocked publish should fail with closed queue, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("blocked publish was not released")
	}
}

func TestRedisQueueDeliversInOrder(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	queue := NewRedisQueueWithClient(client, "", 100*time.Millisecond)
	t.Cleanup(func() { _ = queue.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, id := range []string{"alpha", "beta", "gamma"} {
		if err := queue.Publish(ctx, id); err != nil {
			t.Fatalf("publish %s: %v", id, err)
		}
	}
	if n, err := client.LLen(ctx, "ghostsignal:cycles").Result(); err != nil || n != 3 {
		t.Fatalf("expected 3 pending triggers, got %d (%v)", n, err)
	}

	starter := newStubStarter()
	done := make(chan error, 1)
	go func() { done <- NewProcessor(starter, queue).Start(ctx) }()

	waitFor(t, starter.seen, "alpha")
	waitFor(t, starter.seen, "beta")
	waitFor(t, starter.seen, "gamma")

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("consumer did not stop")
	}
}

func TestOpenSelectsDriver(t *testing.T) {
	q, err := Open(context.Background(), config.CycleQueueConfig{Driver: config.QueueMemory, Buffer: 2})
	if err != nil {
		t.Fatalf("open memory queue: %v", err)
	}
	if _, ok := q.(*MemoryQueue); !ok {
		t.Fatalf("expected memory queue, got %T", q)
	}

	srv := miniredis.RunT(t)
	q, err = Open(context.Background(), config.CycleQueueConfig{
		Driver: config.QueueRedis,
		Key:    "custom:cycles",
		Redis:  config.RedisConfig{Addr: srv.Addr()},
	})
	if err != nil {
		t.Fatalf("open redis queue: %v", err)
	}
	defer q.Close()
	if err := q.Publish(context.Background(), "alpha"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !srv.Exists("custom:cycles") {
		t.Fatalf("expected custom key to be used")
	}

	if _, err := Open(context.Background(), config.CycleQueueConfig{Driver: "kafka"}); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}
