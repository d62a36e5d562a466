// Package ledger 定义外部账本客户端的调用契约。适配器只负责单次调用与错误分类，
// 重试与降级由 internal/retry 负责。
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	xerrors "GhostSignal-Chain/internal/errors"
	"GhostSignal-Chain/internal/proofs"
)

// Phase 表示一次账本调用所属的协议阶段。
type Phase string

const (
	PhaseRegister Phase = "register"
	PhaseCommit   Phase = "commit"
	PhaseReveal   Phase = "reveal"
	PhaseVerify   Phase = "verify"
)

// Receipt 是账本返回的回执。Simulated 为 true 时表示本地降级生成，并非链上真实回执。
type Receipt struct {
	TxID        string `json:"tx_id"`
	BlockHeight uint64 `json:"block_height"`
	Simulated   bool   `json:"simulated"`
}

// Adapter 为账本客户端契约。
type Adapter interface {
	Register(ctx context.Context, agentID string) (Receipt, error)
	CommitPhase(ctx context.Context, bindingHash string) (Receipt, error)
	RevealPhase(ctx context.Context, secret proofs.Secret) (Receipt, error)
	VerifyPhase(ctx context.Context, secret proofs.Secret) (Receipt, error)
}

// Closer 由持有网络连接的适配器实现。
type Closer interface {
	Close()
}

// Call 为一次阶段调用的统一签名，便于重试策略包装。
type Call func(ctx context.Context) (Receipt, error)

// SimulatedReceipt 生成确定性的降级回执：TxID 取 sha256(phase|key) 的前 32 个十六进制字符。
func SimulatedReceipt(phase Phase, key string) Receipt {
	sum := sha256.Sum256([]byte(string(phase) + "|" + key))
	return Receipt{
		TxID:        "sim-" + hex.EncodeToString(sum[:])[:32],
		BlockHeight: 0,
		Simulated:   true,
	}
}

// Kind 为账本错误分类。
type Kind string

const (
	KindNone              Kind = ""
	KindResourceExhausted Kind = "resource_exhausted"
	KindUnavailable       Kind = "unavailable"
	KindRejected          Kind = "rejected"
	KindUnknown           Kind = "unknown"
)

const (
	CodeResourceExhausted xerrors.Code = "LEDGER_RESOURCE_EXHAUSTED"
	CodeUnavailable       xerrors.Code = "LEDGER_UNAVAILABLE"
	CodeRejected          xerrors.Code = "LEDGER_REJECTED"
)

func init() {
	xerrors.Register(CodeResourceExhausted, xerrors.Attributes{
		Message:   "ledger resource exhausted",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     false,
		Class:     xerrors.ClassUnavailable,
	})
	xerrors.Register(CodeUnavailable, xerrors.Attributes{
		Message:   "ledger unavailable",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     false,
		Class:     xerrors.ClassUnavailable,
	})
	xerrors.Register(CodeRejected, xerrors.Attributes{
		Message:   "ledger rejected the call",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
}

// ResourceExhausted 构造资源耗尽错误。
func ResourceExhausted(cause error, msg string) error {
	return xerrors.Wrap(CodeResourceExhausted, cause, msg)
}

// Unavailable 构造账本不可用错误。
func Unavailable(cause error, msg string) error {
	return xerrors.Wrap(CodeUnavailable, cause, msg)
}

// Rejected 构造账本拒绝错误。
func Rejected(cause error, msg string) error {
	return xerrors.Wrap(CodeRejected, cause, msg)
}

// KindOf 返回错误链上的账本错误分类。
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	switch {
	case xerrors.HasCode(err, CodeRejected):
		return KindRejected
	case xerrors.HasCode(err, CodeResourceExhausted):
		return KindResourceExhausted
	case xerrors.HasCode(err, CodeUnavailable):
		return KindUnavailable
	default:
		return KindUnknown
	}
}
