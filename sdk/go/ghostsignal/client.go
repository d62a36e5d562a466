// Package ghostsignal is a Go client for the GhostSignal activity and trigger API.
package ghostsignal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the GhostSignal REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Receipt is the ledger receipt attached to phase events.
type Receipt struct {
	TxID        string `json:"tx_id"`
	BlockHeight uint64 `json:"block_height"`
	Simulated   bool   `json:"simulated"`
}

// Event is a single entry of the activity log.
type Event struct {
	ID           string         `json:"id"`
	Seq          uint64         `json:"seq"`
	Type         string         `json:"type"`
	AgentID      string         `json:"agent_id"`
	CommitmentID string         `json:"commitment_id,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	Payload      map[string]any `json:"payload,omitempty"`
	Receipt      *Receipt       `json:"receipt,omitempty"`
	Fatal        bool           `json:"fatal,omitempty"`
	Error        string         `json:"error,omitempty"`
	Outcome      string         `json:"outcome,omitempty"`
	Amount       int64          `json:"amount,omitempty"`
}

// Stats is the market-wide statistics snapshot.
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

// AgentSummary is the cumulative performance of one agent.
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

// Agent combines the run state of an agent with its activity summary.
type Agent struct {
	AgentID             string        `json:"agent_id"`
	State               string        `json:"state"`
	CurrentCommitmentID string        `json:"current_commitment_id,omitempty"`
	LastError           string        `json:"last_error,omitempty"`
	Stats               AgentStats    `json:"stats"`
	UpdatedAt           time.Time     `json:"updated_at"`
	Summary             *AgentSummary `json:"summary,omitempty"`
}

// AgentStats counts lifecycle results of one agent.
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

// Purchase records a purchase of a revealed signal.
type Purchase struct {
	AgentID      string `json:"agent_id"`
	CommitmentID string `json:"commitment_id"`
	Amount       int64  `json:"amount"`
}

// ActivityQuery filters the activity log. Zero values use server defaults.
type ActivityQuery struct {
	Limit int
	Since uint64
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("ghostsignal api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("ghostsignal api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the GhostSignal API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Activity lists events newest first.
func (c *Client) Activity(ctx context.Context, q ActivityQuery) ([]Event, error) {
	values := url.Values{}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Since > 0 {
		values.Set("since", strconv.FormatUint(q.Since, 10))
	}
	var events []Event
	if err := c.get(ctx, "/api/v1/activity", values, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// Stats fetches the statistics snapshot.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := c.get(ctx, "/api/v1/stats", nil, &stats)
	return stats, err
}

// Leaderboard returns agents ranked by key. An empty key uses the server default.
func (c *Client) Leaderboard(ctx context.Context, key string) ([]AgentSummary, error) {
	values := url.Values{}
	if key != "" {
		values.Set("key", key)
	}
	var board []AgentSummary
	if err := c.get(ctx, "/api/v1/leaderboard", values, &board); err != nil {
		return nil, err
	}
	return board, nil
}

// Agents lists registered agents.
func (c *Client) Agents(ctx context.Context) ([]Agent, error) {
	var agents []Agent
	if err := c.get(ctx, "/api/v1/agents", nil, &agents); err != nil {
		return nil, err
	}
	return agents, nil
}

// Agent fetches a single agent.
func (c *Client) Agent(ctx context.Context, agentID string) (Agent, error) {
	var agent Agent
	err := c.get(ctx, "/api/v1/agents/"+url.PathEscape(agentID), nil, &agent)
	return agent, err
}

// TriggerCycle queues a lifecycle run for the agent.
func (c *Client) TriggerCycle(ctx context.Context, agentID string) error {
	return c.post(ctx, "/api/v1/agents/"+url.PathEscape(agentID)+"/cycles", nil, nil)
}

// RecordPurchase records a purchase of a revealed signal.
func (c *Client) RecordPurchase(ctx context.Context, p Purchase) error {
	return c.post(ctx, "/api/v1/purchases", p, nil)
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	if len(query) > 0 {
		rel.RawQuery = query.Encode()
	}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
