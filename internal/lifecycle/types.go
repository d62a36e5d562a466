// Package lifecycle 驱动每个智能体完成 generate → commit → reveal → verify 的完整周期，
// 并通过槽位仲裁保证同一时刻只有一个承诺处于未完成状态。
package lifecycle

import (
	"context"
	"time"

	"GhostSignal-Chain/internal/activity"
	xerrors "GhostSignal-Chain/internal/errors"
	"GhostSignal-Chain/internal/ledger"
	"GhostSignal-Chain/internal/proofs"
	"GhostSignal-Chain/internal/scoring"
)

// State 为生命周期状态。
type State string

const (
	StateIdle          State = "idle"
	StateGenerating    State = "generating"
	StateAwaitingSlot  State = "awaiting_slot"
	StateCommitting    State = "committing"
	StateWaitingReveal State = "waiting_reveal"
	StateRevealing     State = "revealing"
	StateWaitingVerify State = "waiting_verify"
	StateVerifying     State = "verifying"
	StateFailed        State = "failed"
)

// Result 为一次周期的结束方式。
type Result string

const (
	ResultCompleted Result = "completed"
	ResultSkipped   Result = "skipped"
	ResultTimedOut  Result = "timed_out"
	ResultFailed    Result = "failed"
)

const (
	CodeCycleInProgress xerrors.Code = "CYCLE_IN_PROGRESS"
	CodeUnknownAgent    xerrors.Code = "UNKNOWN_AGENT"
	CodeSlotRevoked     xerrors.Code = "SLOT_REVOKED"
	CodeStopped         xerrors.Code = "COORDINATOR_STOPPED"
)

var (
	// ErrCycleInProgress 表示该智能体已有周期在运行。
	ErrCycleInProgress = xerrors.New(CodeCycleInProgress, "")
	// ErrUnknownAgent 表示智能体未注册。
	ErrUnknownAgent = xerrors.New(CodeUnknownAgent, "")
	// ErrSlotRevoked 表示槽位票据在阶段调用前已被强制过期。
	ErrSlotRevoked = xerrors.New(CodeSlotRevoked, "")
	// ErrStopped 表示协调器已进入关闭流程，不再接受新周期。
	ErrStopped = xerrors.New(CodeStopped, "")
)

func init() {
	xerrors.Register(CodeCycleInProgress, xerrors.Attributes{
		Message:   "cycle already in progress",
		Severity:  xerrors.SeverityInfo,
		Retryable: true,
		Alert:     false,
		Class:     xerrors.ClassConflict,
	})
	xerrors.Register(CodeUnknownAgent, xerrors.Attributes{
		Message:   "unknown agent",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
		Class:     xerrors.ClassNotFound,
	})
	xerrors.Register(CodeSlotRevoked, xerrors.Attributes{
		Message:   "slot ticket revoked",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeStopped, xerrors.Attributes{
		Message:   "coordinator stopped",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
		Class:     xerrors.ClassUnavailable,
	})
}

// OutcomeFunc 在验证阶段给出信号的胜负结果。
type OutcomeFunc func(ctx context.Context, signal proofs.Signal) scoring.Outcome

// SignalSource 为智能体生成信号。
type SignalSource interface {
	Next(ctx context.Context, agentID string) (proofs.Signal, error)
}

// EventSink 接收生命周期事件。
type EventSink interface {
	Emit(ctx context.Context, e activity.Event) error
}

// Observer 接收周期结束时的度量。
type Observer interface {
	ObserveCycle(result Result, d time.Duration)
}

// AgentSpec 描述一个智能体。
type AgentSpec struct {
	ID            string
	Stake         int64
	MinConfidence float64
	Source        SignalSource
}

// Timing 为周期内的等待参数。
type Timing struct {
	RevealDelay    time.Duration
	VerifyDelay    time.Duration
	AcquireTimeout time.Duration
}

// AgentStats 为单个智能体的累计结果。
type AgentStats struct {
	Cycles    uint64 `json:"cycles"`
	Completed uint64 `json:"completed"`
	Skipped   uint64 `json:"skipped"`
	TimedOut  uint64 `json:"timed_out"`
	Failed    uint64 `json:"failed"`
	Simulated uint64 `json:"simulated"`
	Wins      uint64 `json:"wins"`
	Losses    uint64 `json:"losses"`
}

// RunState 为智能体运行状态快照。
type RunState struct {
	AgentID             string     `json:"agent_id"`
	State               State      `json:"state"`
	CurrentCommitmentID string     `json:"current_commitment_id,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
	Stats               AgentStats `json:"stats"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// CycleResult 汇总一次周期。
type CycleResult struct {
	AgentID      string                          `json:"agent_id"`
	Result       Result                          `json:"result"`
	SignalID     string                          `json:"signal_id,omitempty"`
	CommitmentID string                          `json:"commitment_id,omitempty"`
	Outcome      scoring.Outcome                 `json:"outcome,omitempty"`
	Receipts     map[ledger.Phase]ledger.Receipt `json:"receipts,omitempty"`
	FailedPhase  ledger.Phase                    `json:"failed_phase,omitempty"`
}
