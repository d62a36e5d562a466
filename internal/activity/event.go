package activity

import (
	"time"

	xerrors "GhostSignal-Chain/internal/errors"
	"GhostSignal-Chain/internal/ledger"
	"GhostSignal-Chain/internal/scoring"
)

// Type 为活动事件类型。
type Type string

const (
	TypeGenerate Type = "generate"
	TypeCommit   Type = "commit"
	TypeReveal   Type = "reveal"
	TypeVerify   Type = "verify"
	TypePurchase Type = "purchase"
)

// Valid 判断事件类型是否受支持。
func (t Type) Valid() bool {
	switch t {
	case TypeGenerate, TypeCommit, TypeReveal, TypeVerify, TypePurchase:
		return true
	default:
		return false
	}
}

// Event 是只追加、不可修改的活动记录。Seq 在聚合器插入时分配。
type Event struct {
	ID           string          `json:"id"`
	Seq          uint64          `json:"seq"`
	Type         Type            `json:"type"`
	AgentID      string          `json:"agent_id"`
	CommitmentID string          `json:"commitment_id,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	Payload      map[string]any  `json:"payload,omitempty"`
	Receipt      *ledger.Receipt `json:"receipt,omitempty"`
	Fatal        bool            `json:"fatal,omitempty"`
	Error        string          `json:"error,omitempty"`
	Outcome      scoring.Outcome `json:"outcome,omitempty"`
	Amount       int64           `json:"amount,omitempty"`
}

// Simulated 判断事件携带的回执是否为模拟回执。
func (e Event) Simulated() bool {
	return e.Receipt != nil && e.Receipt.Simulated
}

// Stats 为市场统计快照。
type Stats struct {
	TotalSignals      uint64 `json:"total_signals"`
	ActiveCommitments uint64 `json:"active_commitments"`
	RevealedSignals   uint64 `json:"revealed_signals"`
	VerifiedSignals   uint64 `json:"verified_signals"`
	TotalVolume       int64  `json:"total_volume"`
	SimulatedReceipts uint64 `json:"simulated_receipts"`
	FailedLifecycles  uint64 `json:"failed_lifecycles"`
	Purchases         uint64 `json:"purchases"`
	Wins              uint64 `json:"wins"`
	Losses            uint64 `json:"losses"`
	Events            uint64 `json:"events"`
	LastSeq           uint64 `json:"last_seq"`
}

// AgentSummary 为单个智能体的累计表现。
type AgentSummary struct {
	AgentID         string    `json:"agent_id"`
	Signals         uint64    `json:"signals"`
	Committed       uint64    `json:"committed"`
	Revealed        uint64    `json:"revealed"`
	Verified        uint64    `json:"verified"`
	VerifiedCorrect uint64    `json:"verified_correct"`
	Losses          uint64    `json:"losses"`
	Failures        uint64    `json:"failures"`
	Simulated       uint64    `json:"simulated"`
	Purchases       uint64    `json:"purchases"`
	Volume          int64     `json:"volume"`
	WinRate         float64   `json:"win_rate"`
	LastActive      time.Time `json:"last_active"`
}

// RankingKey 为排行榜排序键。
type RankingKey string

const (
	RankVerifiedCorrect RankingKey = "verified_correct"
	RankWinRate         RankingKey = "win_rate"
	RankVerified        RankingKey = "verified"
	RankVolume          RankingKey = "volume"
)

// ParseRankingKey 解析排序键，空串返回默认值。
func ParseRankingKey(raw string) (RankingKey, error) {
	switch k := RankingKey(raw); k {
	case "":
		return RankVerifiedCorrect, nil
	case RankVerifiedCorrect, RankWinRate, RankVerified, RankVolume:
		return k, nil
	default:
		return "", xerrors.New(xerrors.CodeInvalidArgument, "unknown ranking key "+raw)
	}
}

const (
	CodePurchaseInvalid xerrors.Code = "PURCHASE_INVALID"
	CodeAggregatorDown  xerrors.Code = "AGGREGATOR_CLOSED"
)

var (
	// ErrPurchaseInvalid 表示购买请求指向未揭示的承诺或金额非法。
	ErrPurchaseInvalid = xerrors.New(CodePurchaseInvalid, "")
	// ErrClosed 表示聚合器已关闭。
	ErrClosed = xerrors.New(CodeAggregatorDown, "")
)

func init() {
	xerrors.Register(CodePurchaseInvalid, xerrors.Attributes{
		Message:   "invalid purchase",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
		Class:     xerrors.ClassInvalid,
	})
	xerrors.Register(CodeAggregatorDown, xerrors.Attributes{
		Message:   "activity aggregator closed",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
		Class:     xerrors.ClassUnavailable,
	})
}
