// Package api 暴露活动查询、周期触发与购买记录的 JSON HTTP 接口。
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"GhostSignal-Chain/internal/activity"
	"GhostSignal-Chain/internal/cycle"
	xerrors "GhostSignal-Chain/internal/errors"
	"GhostSignal-Chain/internal/lifecycle"
	"GhostSignal-Chain/pkg/logger"
)

// ActivityReader 为接口层所需的聚合器查询能力。
type ActivityReader interface {
	Recent(limit int, since uint64) []activity.Event
	Stats() activity.Stats
	LeaderboardBy(key activity.RankingKey) []activity.AgentSummary
	Agent(agentID string) (activity.AgentSummary, bool)
}

// AgentDirectory 提供智能体运行状态。
type AgentDirectory interface {
	Agent(agentID string) (lifecycle.RunState, bool)
	Agents() []lifecycle.RunState
}

// PurchaseRecorder 记录对已揭示信号的购买。
type PurchaseRecorder interface {
	RecordPurchase(ctx context.Context, buyer, commitmentID string, amount int64) error
}

// HTTPObserver 记录请求指标。
type HTTPObserver interface {
	ObserveHTTPRequest(handler, method string, status int, duration time.Duration)
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr            string
	activity        ActivityReader
	agents          AgentDirectory
	triggers        cycle.Producer
	purchases       PurchaseRecorder
	observer        HTTPObserver
	metrics         http.Handler
	metricsPath     string
	readTimeout     time.Duration
	writeTimeout    time.Duration
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// Option 定义可选配置。
type Option func(*Server)

// WithAgents 配置智能体目录。
func WithAgents(d AgentDirectory) Option {
	return func(s *Server) { s.agents = d }
}

// WithTriggers 配置周期触发队列的生产者。
func WithTriggers(p cycle.Producer) Option {
	return func(s *Server) { s.triggers = p }
}

// WithPurchases 配置购买记录。
func WithPurchases(p PurchaseRecorder) Option {
	return func(s *Server) { s.purchases = p }
}

// WithObserver 配置请求指标。
func WithObserver(o HTTPObserver) Option {
	return func(s *Server) { s.observer = o }
}

// WithMetricsHandler 在同一端口挂载 Prometheus 指标。
func WithMetricsHandler(path string, h http.Handler) Option {
	return func(s *Server) {
		if path == "" {
			path = "/metrics"
		}
		s.metricsPath = path
		s.metrics = h
	}
}

// WithTimeouts 设置 HTTP 服务的读写与关闭超时。
func WithTimeouts(read, write, shutdown time.Duration) Option {
	return func(s *Server) {
		if read > 0 {
			s.readTimeout = read
		}
		if write > 0 {
			s.writeTimeout = write
		}
		if shutdown > 0 {
			s.shutdownTimeout = shutdown
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, reader ActivityReader, opts ...Option) *Server {
	s := &Server{
		addr:            addr,
		activity:        reader,
		readTimeout:     10 * time.Second,
		writeTimeout:    15 * time.Second,
		shutdownTimeout: 5 * time.Second,
		logger:          logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回路由。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "GET /healthz", "healthz", s.handleHealth)
	s.route(mux, "GET /api/v1/activity", "activity", s.handleActivity)
	s.route(mux, "GET /api/v1/stats", "stats", s.handleStats)
	s.route(mux, "GET /api/v1/leaderboard", "leaderboard", s.handleLeaderboard)
	s.route(mux, "GET /api/v1/agents", "agents", s.handleAgents)
	s.route(mux, "GET /api/v1/agents/{id}", "agent", s.handleAgent)
	s.route(mux, "POST /api/v1/agents/{id}/cycles", "cycles", s.handleTriggerCycle)
	s.route(mux, "POST /api/v1/purchases", "purchases", s.handlePurchase)
	if s.metrics != nil {
		mux.Handle("GET "+s.metricsPath, s.metrics)
	}
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.readTimeout,
		WriteTimeout:      s.writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("查询接口已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) route(mux *http.ServeMux, pattern, name string, fn http.HandlerFunc) {
	mux.Handle(pattern, s.instrument(name, fn))
}

func (s *Server) instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if s.observer != nil {
			s.observer.ObserveHTTPRequest(name, r.Method, rec.status, time.Since(start))
		}
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w) {
		return
	}
	query := r.URL.Query()
	limit := 50
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "limit 必须为正整数"))
			return
		}
		limit = parsed
	}
	var since uint64
	if raw := query.Get("since"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "since 必须为非负整数"))
			return
		}
		since = parsed
	}
	events := s.activity.Recent(limit, since)
	if events == nil {
		events = []activity.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	if !s.ready(w) {
		return
	}
	writeJSON(w, http.StatusOK, s.activity.Stats())
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w) {
		return
	}
	key, err := activity.ParseRankingKey(r.URL.Query().Get("key"))
	if err != nil {
		writeError(w, err)
		return
	}
	board := s.activity.LeaderboardBy(key)
	if board == nil {
		board = []activity.AgentSummary{}
	}
	writeJSON(w, http.StatusOK, board)
}

// AgentView 合并智能体运行状态与活动统计。
type AgentView struct {
	lifecycle.RunState
	Summary *activity.AgentSummary `json:"summary,omitempty"`
}

func (s *Server) handleAgents(w http.ResponseWriter, _ *http.Request) {
	if !s.ready(w) {
		return
	}
	if s.agents == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "智能体目录未配置"))
		return
	}
	states := s.agents.Agents()
	views := make([]AgentView, 0, len(states))
	for _, st := range states {
		views = append(views, s.view(st))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w) {
		return
	}
	if s.agents == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "智能体目录未配置"))
		return
	}
	id := r.PathValue("id")
	st, ok := s.agents.Agent(id)
	if !ok {
		writeError(w, xerrors.New(lifecycle.CodeUnknownAgent, "agent "+id+" not found"))
		return
	}
	writeJSON(w, http.StatusOK, s.view(st))
}

func (s *Server) view(st lifecycle.RunState) AgentView {
	v := AgentView{RunState: st}
	if sum, ok := s.activity.Agent(st.AgentID); ok {
		v.Summary = &sum
	}
	return v
}

func (s *Server) handleTriggerCycle(w http.ResponseWriter, r *http.Request) {
	if s.triggers == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "周期队列未配置"))
		return
	}
	id := r.PathValue("id")
	if s.agents != nil {
		if _, ok := s.agents.Agent(id); !ok {
			writeError(w, xerrors.New(lifecycle.CodeUnknownAgent, "agent "+id+" not found"))
			return
		}
	}
	if err := s.triggers.Publish(r.Context(), id); err != nil {
		s.logger.Error("投递周期请求失败", slog.String("agent_id", id), slog.Any("error", err))
		writeError(w, xerrors.Wrap(xerrors.CodeQueueFailure, err, "投递周期请求失败"))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"agent_id": id, "status": "queued"})
}

// PurchaseRequest 为购买接口的请求体。
type PurchaseRequest struct {
	AgentID      string `json:"agent_id"`
	CommitmentID string `json:"commitment_id"`
	Amount       int64  `json:"amount"`
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	if s.purchases == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "购买记录未配置"))
		return
	}
	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}
	if req.AgentID == "" || req.CommitmentID == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "agent_id 与 commitment_id 不能为空"))
		return
	}
	if err := s.purchases.RecordPurchase(r.Context(), req.AgentID, req.CommitmentID, req.Amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) ready(w http.ResponseWriter) bool {
	if s.activity == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "活动聚合器未初始化"))
		return false
	}
	return true
}
