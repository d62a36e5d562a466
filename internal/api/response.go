package api

import (
	"context"
	"encoding/json"
	"net/http"

	xerrors "GhostSignal-Chain/internal/errors"
)

// ErrorResponse 为统一的错误响应体。
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	msg := err.Error()
	if e, ok := xerrors.From(err); ok {
		msg = e.Message()
	}
	writeJSON(w, statusOf(xerrors.ClassOf(err)), ErrorResponse{Code: string(code), Message: msg})
}

func statusOf(class xerrors.Class) int {
	switch class {
	case xerrors.ClassInvalid:
		return http.StatusBadRequest
	case xerrors.ClassNotFound:
		return http.StatusNotFound
	case xerrors.ClassConflict:
		return http.StatusConflict
	case xerrors.ClassUnavailable:
		return http.StatusServiceUnavailable
	case xerrors.ClassTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "服务已关闭"))
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
