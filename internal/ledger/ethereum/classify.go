package ethereum

import (
	"context"
	stdErrors "errors"
	"strings"

	"GhostSignal-Chain/internal/ledger"
)

var exhaustedMarkers = []string{
	"insufficient funds",
	"txpool is full",
	"transaction pool is full",
	"rate limit",
	"too many requests",
	"429",
	"replacement transaction underpriced",
}

var rejectedMarkers = []string{
	"nonce too low",
	"invalid sender",
	"intrinsic gas too low",
	"execution reverted",
	"exceeds block gas limit",
	"already known",
}

// classify 把节点返回的错误映射为账本错误分类。
func classify(err error, phase string) error {
	if err == nil {
		return nil
	}
	if stdErrors.Is(err, context.DeadlineExceeded) || stdErrors.Is(err, context.Canceled) {
		return ledger.Unavailable(err, phase+" timed out")
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range exhaustedMarkers {
		if strings.Contains(msg, marker) {
			return ledger.ResourceExhausted(err, phase)
		}
	}
	for _, marker := range rejectedMarkers {
		if strings.Contains(msg, marker) {
			return ledger.Rejected(err, phase)
		}
	}
	return ledger.Unavailable(err, phase)
}
