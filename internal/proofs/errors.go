package proofs

import (
	xerrors "GhostSignal-Chain/internal/errors"
)

const (
	// CodeMalformedSignal 表示信号缺少必填字段或字段取值非法。
	CodeMalformedSignal xerrors.Code = "MALFORMED_SIGNAL"
	// CodeInvalidTransition 表示承诺阶段的推进不合法。
	CodeInvalidTransition xerrors.Code = "COMMITMENT_INVALID_TRANSITION"
)

var (
	// ErrMalformedSignal 可配合 errors.Is 判断信号校验失败。
	ErrMalformedSignal = xerrors.New(CodeMalformedSignal, "")
	// ErrInvalidTransition 可配合 errors.Is 判断阶段推进失败。
	ErrInvalidTransition = xerrors.New(CodeInvalidTransition, "")
)

func init() {
	xerrors.Register(CodeMalformedSignal, xerrors.Attributes{
		Message:   "malformed signal",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
		Class:     xerrors.ClassInvalid,
	})
	xerrors.Register(CodeInvalidTransition, xerrors.Attributes{
		Message:   "invalid commitment phase transition",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
		Class:     xerrors.ClassConflict,
	})
}

func malformed(field, reason string) error {
	return xerrors.New(CodeMalformedSignal, field+": "+reason, xerrors.WithMetadata("field", field))
}
