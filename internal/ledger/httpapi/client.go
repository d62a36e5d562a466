// Package httpapi 通过市场网关的 JSON HTTP 接口实现账本适配器。
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"GhostSignal-Chain/internal/ledger"
	"GhostSignal-Chain/internal/proofs"
)

// DefaultTimeout 为未指定 http.Client 时的请求超时。
const DefaultTimeout = 30 * time.Second

const userAgent = "GhostSignal-Agent/1.0"

// Client 实现 ledger.Adapter。
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	stake      int64
}

var _ ledger.Adapter = (*Client)(nil)

// Option 定义可选配置。
type Option func(*Client)

// WithHTTPClient 指定底层 http.Client。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithStake 设置提交承诺时附带的质押数量。
func WithStake(amount int64) Option {
	return func(c *Client) {
		c.stake = amount
	}
}

// NewClient 创建网关客户端。
func NewClient(rawURL string, opts ...Option) (*Client, error) {
	rawURL = strings.TrimRight(strings.TrimSpace(rawURL), "/")
	if rawURL == "" {
		return nil, stdErrors.New("未配置网关地址")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("网关地址非法: %q", rawURL)
	}
	c := &Client{baseURL: parsed, httpClient: &http.Client{Timeout: DefaultTimeout}}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

type registerRequest struct {
	AgentID string `json:"agent_id"`
}

type commitRequest struct {
	CommitmentHash string `json:"commitment_hash"`
	StakeAmount    int64  `json:"stake_amount,omitempty"`
	Timestamp      string `json:"timestamp"`
}

type secretRequest struct {
	Secret    string `json:"secret"`
	Timestamp string `json:"timestamp"`
}

type receiptResponse struct {
	TxID        string `json:"tx_id"`
	BlockHeight uint64 `json:"block_height"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) Register(ctx context.Context, agentID string) (ledger.Receipt, error) {
	return c.post(ctx, ledger.PhaseRegister, "/api/register", registerRequest{AgentID: agentID})
}

func (c *Client) CommitPhase(ctx context.Context, bindingHash string) (ledger.Receipt, error) {
	return c.post(ctx, ledger.PhaseCommit, "/api/commit", commitRequest{
		CommitmentHash: bindingHash,
		StakeAmount:    c.stake,
		Timestamp:      timestamp(),
	})
}

func (c *Client) RevealPhase(ctx context.Context, secret proofs.Secret) (ledger.Receipt, error) {
	return c.post(ctx, ledger.PhaseReveal, "/api/reveal", secretRequest{Secret: secret.Hex(), Timestamp: timestamp()})
}

func (c *Client) VerifyPhase(ctx context.Context, secret proofs.Secret) (ledger.Receipt, error) {
	return c.post(ctx, ledger.PhaseVerify, "/api/verify", secretRequest{Secret: secret.Hex(), Timestamp: timestamp()})
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func (c *Client) post(ctx context.Context, phase ledger.Phase, endpoint string, payload any) (ledger.Receipt, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return ledger.Receipt{}, ledger.Rejected(err, "encode "+string(phase))
	}
	target := c.baseURL.JoinPath(endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return ledger.Receipt{}, ledger.Rejected(err, "build "+string(phase)+" request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ledger.Receipt{}, ledger.Unavailable(err, string(phase))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ledger.Receipt{}, ledger.Unavailable(err, "read "+string(phase)+" response")
	}
	if resp.StatusCode >= 300 {
		return ledger.Receipt{}, statusError(phase, resp.StatusCode, raw)
	}

	var out receiptResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return ledger.Receipt{}, ledger.Unavailable(err, "decode "+string(phase)+" response")
	}
	if out.TxID == "" {
		return ledger.Receipt{}, ledger.Unavailable(nil, string(phase)+" response without tx_id")
	}
	return ledger.Receipt{TxID: out.TxID, BlockHeight: out.BlockHeight}, nil
}

func statusError(phase ledger.Phase, status int, raw []byte) error {
	var body errorResponse
	_ = json.Unmarshal(raw, &body)
	msg := fmt.Sprintf("%s: http %d", phase, status)
	if body.Message != "" {
		msg += ": " + body.Message
	}
	cause := fmt.Errorf("gateway status %d %s", status, body.Code)
	switch {
	case status == http.StatusTooManyRequests:
		return ledger.ResourceExhausted(cause, msg)
	case status == http.StatusServiceUnavailable && strings.EqualFold(body.Code, "resource_exhausted"):
		return ledger.ResourceExhausted(cause, msg)
	case status >= 500:
		return ledger.Unavailable(cause, msg)
	case status == http.StatusRequestTimeout:
		return ledger.Unavailable(cause, msg)
	default:
		return ledger.Rejected(cause, msg)
	}
}
