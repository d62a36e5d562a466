// Package slot 把共享账本的单占用约束建模为一个互斥资源：任意时刻至多一张有效票据，
// 等待者严格按到达顺序获得授权。
package slot

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"

	xerrors "GhostSignal-Chain/internal/errors"
	"GhostSignal-Chain/pkg/logger"

	"github.com/google/uuid"
)

const (
	CodeSlotTimedOut      xerrors.Code = "SLOT_TIMED_OUT"
	CodeSlotInvalidTicket xerrors.Code = "SLOT_INVALID_TICKET"
)

var (
	// ErrTimedOut 表示排队超时或在等待期间收到关闭信号，调用方应跳过本轮。
	ErrTimedOut = xerrors.New(CodeSlotTimedOut, "")
	// ErrInvalidTicket 表示票据已释放、已过期或从未被授予。
	ErrInvalidTicket = xerrors.New(CodeSlotInvalidTicket, "")
)

func init() {
	xerrors.Register(CodeSlotTimedOut, xerrors.Attributes{
		Message:   "slot acquisition timed out",
		Severity:  xerrors.SeverityInfo,
		Retryable: true,
		Alert:     false,
		Class:     xerrors.ClassTimeout,
	})
	xerrors.Register(CodeSlotInvalidTicket, xerrors.Attributes{
		Message:   "invalid slot ticket",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
		Class:     xerrors.ClassConflict,
	})
}

// Ticket 代表对共享槽位的独占权。
type Ticket struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	GrantedAt time.Time `json:"granted_at"`
}

// Observer 接收槽位相关的度量。
type Observer interface {
	ObserveSlotWait(d time.Duration)
	ObserveForceExpired()
}

type waiter struct {
	agentID  string
	ch       chan *Ticket
	elem     *list.Element
	enqueued time.Time
}

// Arbiter 为槽位仲裁器。
type Arbiter struct {
	mu       sync.Mutex
	holder   *Ticket
	queue    *list.List
	liveness time.Duration
	watchdog *time.Timer

	observer Observer
	onExpire func(Ticket)
	logger   *slog.Logger
	now      func() time.Time
}

// Option 定义可选配置。
type Option func(*Arbiter)

// WithLivenessWindow 设置持有者的存活窗口，超过后票据被强制回收。0 表示不启用看门狗。
func WithLivenessWindow(d time.Duration) Option {
	return func(a *Arbiter) {
		if d > 0 {
			a.liveness = d
		}
	}
}

// WithObserver 注入度量观察者。
func WithObserver(o Observer) Option {
	return func(a *Arbiter) {
		a.observer = o
	}
}

// WithExpireHook 注册强制回收回调，在锁外执行。
func WithExpireHook(fn func(Ticket)) Option {
	return func(a *Arbiter) {
		a.onExpire = fn
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(a *Arbiter) {
		a.logger = l
	}
}

// New 创建仲裁器。
func New(opts ...Option) *Arbiter {
	a := &Arbiter{queue: list.New(), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	if a.logger == nil {
		a.logger = logger.Named("slot")
	}
	return a
}

// LivenessWindow 返回看门狗窗口。
func (a *Arbiter) LivenessWindow() time.Duration {
	return a.liveness
}

// SetLivenessWindow 调整看门狗窗口，只影响之后授予的票据。
func (a *Arbiter) SetLivenessWindow(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if d >= 0 {
		a.liveness = d
	}
}

// Acquire 排队等待槽位。timeout 不大于 0 时只受 ctx 约束。
// 超时或 ctx 被取消时返回 ErrTimedOut。
func (a *Arbiter) Acquire(ctx context.Context, agentID string, timeout time.Duration) (*Ticket, error) {
	w := &waiter{agentID: agentID, ch: make(chan *Ticket, 1), enqueued: a.now()}

	a.mu.Lock()
	w.elem = a.queue.PushBack(w)
	a.grantLocked()
	a.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case t := <-w.ch:
		return t, nil
	case <-expired:
	case <-ctx.Done():
	}

	a.mu.Lock()
	if w.elem != nil {
		a.queue.Remove(w.elem)
		w.elem = nil
		a.mu.Unlock()
		return nil, ErrTimedOut
	}
	a.mu.Unlock()

	// 授权与超时同时发生：归还票据，让队首继续。
	t := <-w.ch
	_ = a.Release(t)
	return nil, ErrTimedOut
}

// grantLocked 在槽位空闲时把票据授予队首等待者。
func (a *Arbiter) grantLocked() {
	if a.holder != nil || a.queue.Len() == 0 {
		return
	}
	front := a.queue.Front()
	w := a.queue.Remove(front).(*waiter)
	w.elem = nil

	t := &Ticket{ID: uuid.NewString(), AgentID: w.agentID, GrantedAt: a.now()}
	a.holder = t
	if a.observer != nil {
		a.observer.ObserveSlotWait(t.GrantedAt.Sub(w.enqueued))
	}
	if a.liveness > 0 {
		granted := *t
		a.watchdog = time.AfterFunc(a.liveness, func() {
			if err := a.ForceExpire(&granted); err == nil {
				a.logger.Warn("槽位持有超时，已强制回收",
					slog.String("agent_id", granted.AgentID),
					slog.String("ticket_id", granted.ID))
			}
		})
	}
	w.ch <- t
}

// Release 使票据失效并唤醒下一位等待者。
func (a *Arbiter) Release(t *Ticket) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.validLocked(t) {
		return ErrInvalidTicket
	}
	a.clearLocked()
	a.grantLocked()
	return nil
}

// ForceExpire 单方面回收票据，用于持有者失去响应的场景。
func (a *Arbiter) ForceExpire(t *Ticket) error {
	a.mu.Lock()
	if !a.validLocked(t) {
		a.mu.Unlock()
		return ErrInvalidTicket
	}
	expired := *a.holder
	a.clearLocked()
	a.grantLocked()
	a.mu.Unlock()

	if a.observer != nil {
		a.observer.ObserveForceExpired()
	}
	logger.Audit().Warn("槽位票据被强制回收",
		slog.String("agent_id", expired.AgentID),
		slog.String("ticket_id", expired.ID),
		slog.Time("granted_at", expired.GrantedAt))
	if a.onExpire != nil {
		a.onExpire(expired)
	}
	return nil
}

func (a *Arbiter) clearLocked() {
	a.holder = nil
	if a.watchdog != nil {
		a.watchdog.Stop()
		a.watchdog = nil
	}
}

func (a *Arbiter) validLocked(t *Ticket) bool {
	return t != nil && a.holder != nil && a.holder.ID == t.ID
}

// Valid 判断票据当前是否有效。
func (a *Arbiter) Valid(t *Ticket) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.validLocked(t)
}

// Holder 返回当前持有者。
func (a *Arbiter) Holder() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.holder == nil {
		return "", false
	}
	return a.holder.AgentID, true
}

// QueueLen 返回排队中的等待者数量。
func (a *Arbiter) QueueLen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.queue.Len()
}
