// Package activity 汇总所有生命周期产生的活动事件：单一写入协程按到达顺序分配序号，
// 增量维护统计与排行榜，环形缓冲区只约束 Recent 的可见范围。
package activity

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	xerrors "GhostSignal-Chain/internal/errors"
	"GhostSignal-Chain/internal/scoring"
	"GhostSignal-Chain/pkg/logger"

	"github.com/google/uuid"
)

// DefaultBufferSize 为 Recent 可见的事件数量。
const DefaultBufferSize = 1000

// Store 持久化活动事件。
type Store interface {
	Append(ctx context.Context, e Event) error
	Since(ctx context.Context, afterSeq uint64, limit int) ([]Event, error)
}

// Publisher 把事件转发给外部订阅者。
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type envelope struct {
	event Event
	flush chan struct{}
}

type revealed struct {
	agentID string
}

// Aggregator 为活动聚合器。
type Aggregator struct {
	in   chan envelope
	quit chan struct{}
	stop chan struct{}
	done chan struct{}
	once sync.Once

	// closeMu 读锁覆盖 Emit/Flush 的入队过程，Close 持写锁置位 closed 后才让写入协程排空退出。
	closeMu sync.RWMutex
	closed  bool

	store      Store
	publisher  Publisher
	ranking    RankingKey
	ioTimeout  time.Duration
	logger     *slog.Logger
	queueDepth int

	mu       sync.RWMutex
	seq      uint64
	ring     []Event
	head     int
	size     int
	stats    Stats
	agents   map[string]*AgentSummary
	open     map[string]struct{}
	revealed map[string]revealed
}

// Option 定义可选配置。
type Option func(*Aggregator)

// WithBufferSize 设置环形缓冲区大小。
func WithBufferSize(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.ring = make([]Event, n)
		}
	}
}

// WithQueueDepth 设置事件通道容量，通道满时 Emit 阻塞。
func WithQueueDepth(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.queueDepth = n
		}
	}
}

// WithStore 配置事件持久化。
func WithStore(s Store) Option {
	return func(a *Aggregator) {
		a.store = s
	}
}

// WithPublisher 配置事件转发。
func WithPublisher(p Publisher) Option {
	return func(a *Aggregator) {
		a.publisher = p
	}
}

// WithRankingKey 设置默认排行榜排序键。
func WithRankingKey(k RankingKey) Option {
	return func(a *Aggregator) {
		if k != "" {
			a.ranking = k
		}
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) {
		a.logger = l
	}
}

// New 创建聚合器并启动写入协程。
func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		quit:       make(chan struct{}),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		ranking:    RankVerifiedCorrect,
		ioTimeout:  5 * time.Second,
		queueDepth: 256,
		ring:       make([]Event, DefaultBufferSize),
		agents:     make(map[string]*AgentSummary),
		open:       make(map[string]struct{}),
		revealed:   make(map[string]revealed),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	if a.logger == nil {
		a.logger = logger.Named("activity")
	}
	a.in = make(chan envelope, a.queueDepth)
	go a.loop()
	return a
}

// Restore 从存储回放历史事件，必须在第一次 Emit 之前调用。
func (a *Aggregator) Restore(ctx context.Context) (int, error) {
	if a.store == nil {
		return 0, nil
	}
	const page = 500
	restored := 0
	var after uint64
	for {
		batch, err := a.store.Since(ctx, after, page)
		if err != nil {
			return restored, xerrors.Wrap(xerrors.CodeStorageFailure, err, "restore activity events")
		}
		a.mu.Lock()
		for _, e := range batch {
			if e.Seq > a.seq {
				a.seq = e.Seq
			}
			a.applyLocked(e)
			after = e.Seq
		}
		a.mu.Unlock()
		restored += len(batch)
		if len(batch) < page {
			a.abandonOpen(restored)
			return restored, nil
		}
	}
}

// abandonOpen 清理重启前未走完的承诺，这些生命周期不会再产生验证或失败事件。
func (a *Aggregator) abandonOpen(restored int) {
	a.mu.Lock()
	stale := len(a.open)
	clear(a.open)
	a.stats.ActiveCommitments = 0
	a.mu.Unlock()
	if stale > 0 {
		a.logger.Warn("丢弃重启前未完成的承诺",
			slog.Int("stale", stale),
			slog.Int("restored", restored))
	}
}

// Emit 把事件交给写入协程。通道满时阻塞，直到 ctx 结束。
func (a *Aggregator) Emit(ctx context.Context, e Event) error {
	if !e.Type.Valid() {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unknown event type %q", e.Type))
	}
	a.closeMu.RLock()
	defer a.closeMu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.in <- envelope{event: e}:
		return nil
	case <-a.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush 等待此前 Emit 的事件全部插入完成。
func (a *Aggregator) Flush(ctx context.Context) error {
	barrier := make(chan struct{})
	if err := a.enqueueBarrier(ctx, barrier); err != nil {
		return err
	}
	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Aggregator) enqueueBarrier(ctx context.Context, barrier chan struct{}) error {
	a.closeMu.RLock()
	defer a.closeMu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.in <- envelope{flush: barrier}:
		return nil
	case <-a.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 处理完已入队的事件后停止写入协程。关闭之后的 Emit 一律返回 ErrClosed。
func (a *Aggregator) Close() {
	a.once.Do(func() {
		close(a.quit)
		a.closeMu.Lock()
		a.closed = true
		a.closeMu.Unlock()
		close(a.stop)
		<-a.done
	})
}

func (a *Aggregator) loop() {
	defer close(a.done)
	for {
		select {
		case env := <-a.in:
			a.handle(env)
		case <-a.stop:
			for {
				select {
				case env := <-a.in:
					a.handle(env)
				default:
					return
				}
			}
		}
	}
}

func (a *Aggregator) handle(env envelope) {
	if env.flush != nil {
		close(env.flush)
		return
	}
	e := a.insert(env.event)
	a.forward(e)
}

func (a *Aggregator) insert(e Event) Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq++
	e.Seq = a.seq
	a.applyLocked(e)
	return e
}

// applyLocked 增量更新统计、智能体汇总与环形缓冲区。
func (a *Aggregator) applyLocked(e Event) {
	s := &a.stats
	s.Events++
	s.LastSeq = e.Seq

	agent := a.agents[e.AgentID]
	if agent == nil {
		agent = &AgentSummary{AgentID: e.AgentID}
		a.agents[e.AgentID] = agent
	}
	if e.Timestamp.After(agent.LastActive) {
		agent.LastActive = e.Timestamp
	}
	if e.Simulated() {
		s.SimulatedReceipts++
		agent.Simulated++
	}
	if e.Fatal {
		s.FailedLifecycles++
		agent.Failures++
		if e.CommitmentID != "" {
			delete(a.open, e.CommitmentID)
		}
	} else {
		switch e.Type {
		case TypeGenerate:
			s.TotalSignals++
			agent.Signals++
		case TypeCommit:
			agent.Committed++
			s.TotalVolume += e.Amount
			agent.Volume += e.Amount
			if e.CommitmentID != "" {
				a.open[e.CommitmentID] = struct{}{}
			}
		case TypeReveal:
			s.RevealedSignals++
			agent.Revealed++
			if e.CommitmentID != "" {
				a.revealed[e.CommitmentID] = revealed{agentID: e.AgentID}
			}
		case TypeVerify:
			s.VerifiedSignals++
			agent.Verified++
			if e.Outcome == scoring.OutcomeWin {
				s.Wins++
				agent.VerifiedCorrect++
			} else if e.Outcome == scoring.OutcomeLoss {
				s.Losses++
				agent.Losses++
			}
			delete(a.open, e.CommitmentID)
		case TypePurchase:
			s.Purchases++
			s.TotalVolume += e.Amount
			agent.Purchases++
			agent.Volume += e.Amount
		}
	}
	if agent.Verified > 0 {
		agent.WinRate = float64(agent.VerifiedCorrect) / float64(agent.Verified) * 100
	}
	s.ActiveCommitments = uint64(len(a.open))

	a.ring[a.head] = e
	a.head = (a.head + 1) % len(a.ring)
	if a.size < len(a.ring) {
		a.size++
	}
}

func (a *Aggregator) forward(e Event) {
	if a.store == nil && a.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.ioTimeout)
	defer cancel()
	if a.store != nil {
		if err := a.store.Append(ctx, e); err != nil {
			a.logger.Error("持久化活动事件失败", slog.Uint64("seq", e.Seq), slog.Any("error", err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Publish(ctx, e); err != nil {
			a.logger.Warn("转发活动事件失败", slog.Uint64("seq", e.Seq), slog.Any("error", err))
		}
	}
}

// Recent 按序号降序返回最近的事件，只包含 seq > since 的记录。limit 不大于 0 时返回缓冲区全部。
func (a *Aggregator) Recent(limit int, since uint64) []Event {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if limit <= 0 || limit > a.size {
		limit = a.size
	}
	out := make([]Event, 0, limit)
	for i := 0; i < a.size && len(out) < limit; i++ {
		idx := (a.head - 1 - i + len(a.ring)) % len(a.ring)
		e := a.ring[idx]
		if e.Seq <= since {
			break
		}
		out = append(out, e)
	}
	return out
}

// Stats 返回统计快照。
func (a *Aggregator) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.stats
}

// Agent 返回单个智能体的汇总。
func (a *Aggregator) Agent(agentID string) (AgentSummary, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.agents[agentID]
	if !ok {
		return AgentSummary{}, false
	}
	return *s, true
}

// Leaderboard 按默认排序键返回排行榜。
func (a *Aggregator) Leaderboard() []AgentSummary {
	return a.LeaderboardBy(a.ranking)
}

// LeaderboardBy 按指定排序键降序排列，同分按智能体 id 升序。
func (a *Aggregator) LeaderboardBy(key RankingKey) []AgentSummary {
	a.mu.RLock()
	out := make([]AgentSummary, 0, len(a.agents))
	for _, s := range a.agents {
		out = append(out, *s)
	}
	a.mu.RUnlock()

	value := func(s AgentSummary) float64 {
		switch key {
		case RankWinRate:
			return s.WinRate
		case RankVerified:
			return float64(s.Verified)
		case RankVolume:
			return float64(s.Volume)
		default:
			return float64(s.VerifiedCorrect)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		vi, vj := value(out[i]), value(out[j])
		if vi != vj {
			return vi > vj
		}
		return out[i].AgentID < out[j].AgentID
	})
	return out
}

// Purchase 记录一次对已揭示信号的购买，事件归属于信号的发布者。
func (a *Aggregator) Purchase(ctx context.Context, buyer, commitmentID string, amount int64) error {
	if amount <= 0 {
		return xerrors.New(CodePurchaseInvalid, "amount must be positive")
	}
	a.mu.RLock()
	owner, ok := a.revealed[commitmentID]
	a.mu.RUnlock()
	if !ok {
		return xerrors.New(CodePurchaseInvalid, "commitment "+commitmentID+" is not revealed")
	}
	return a.Emit(ctx, Event{
		Type:         TypePurchase,
		AgentID:      owner.agentID,
		CommitmentID: commitmentID,
		Amount:       amount,
		Payload:      map[string]any{"buyer": buyer},
	})
}
