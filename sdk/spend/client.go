package spendsdk

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"spendgate/native/spend"
)

// Client wraps the spendgated REST endpoints. Administrative calls require a
// bearer token; execution and queries do not.
type Client struct {
	baseURL     *url.URL
	bearerToken string
	httpClient  *http.Client
}

// Option mutates the client configuration during construction.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithBearerToken attaches the admin bearer token to privileged calls.
func WithBearerToken(token string) Option {
	return func(c *Client) {
		c.bearerToken = strings.TrimSpace(token)
	}
}

// New constructs a client pointed at the supplied base URL.
func New(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return nil, fmt.Errorf("baseURL required")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid baseURL: %w", err)
	}
	client := &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// ExecutionResult is the server's view of a completed spend.
type ExecutionResult struct {
	ID             string  `json:"id"`
	Principal      string  `json:"principal"`
	Kind           string  `json:"kind"`
	Amount         string  `json:"amount"`
	ForwardStatus  string  `json:"forwardStatus"`
	ReceivedAmount *string `json:"receivedAmount"`
	Day            int64   `json:"day"`
	Timestamp      int64   `json:"timestamp"`
}

// DailySpend reports the cumulative spend for a principal's current day.
type DailySpend struct {
	Principal string `json:"principal"`
	Day       int64  `json:"day"`
	Spent     string `json:"spent"`
}

// Status mirrors the admin status endpoint.
type Status struct {
	Paused   bool   `json:"paused"`
	Executor string `json:"executor"`
}

// RecoverResult reports the outcome of an emergency sweep.
type RecoverResult struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type apiError struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// Execute submits a delegated spend carrying the signed authorization grant.
func (c *Client) Execute(ctx context.Context, principal string, amount *big.Int, kind string, payload []byte, grant *spend.AuthorizationGrant) (*ExecutionResult, error) {
	if amount == nil {
		return nil, fmt.Errorf("amount required")
	}
	if grant == nil {
		return nil, fmt.Errorf("grant required")
	}
	body := map[string]interface{}{
		"principal": principal,
		"amount":    amount.String(),
		"kind":      kind,
		"payload":   hex.EncodeToString(payload),
		"grant":     grant,
	}
	var result ExecutionResult
	if err := c.do(ctx, http.MethodPost, "/v1/execute", body, &result, false); err != nil {
		return nil, err
	}
	return &result, nil
}

// DailySpent queries the principal's cumulative spend for the current day.
func (c *Client) DailySpent(ctx context.Context, principal string) (*DailySpend, error) {
	var result DailySpend
	if err := c.do(ctx, http.MethodGet, "/v1/spend/"+url.PathEscape(principal), nil, &result, false); err != nil {
		return nil, err
	}
	return &result, nil
}

// SetPolicy rewrites the principal's spend limits. Requires the bearer token.
func (c *Client) SetPolicy(ctx context.Context, principal string, dailyCap, likeCap, repostCap *big.Int) error {
	format := func(v *big.Int) string {
		if v == nil {
			return "0"
		}
		return v.String()
	}
	body := map[string]string{
		"principal": principal,
		"dailyCap":  format(dailyCap),
		"likeCap":   format(likeCap),
		"repostCap": format(repostCap),
	}
	return c.do(ctx, http.MethodPost, "/admin/policy", body, nil, true)
}

// Pause halts new executions.
func (c *Client) Pause(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/admin/pause", nil, nil, true)
}

// Resume re-admits executions.
func (c *Client) Resume(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/admin/resume", nil, nil, true)
}

// Recover sweeps the executor's balance to the destination address.
func (c *Client) Recover(ctx context.Context, to string) (*RecoverResult, error) {
	var result RecoverResult
	if err := c.do(ctx, http.MethodPost, "/admin/recover", map[string]string{"to": to}, &result, true); err != nil {
		return nil, err
	}
	return &result, nil
}

// Status reads the engine's pause state and executor identity.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var result Status
	if err := c.do(ctx, http.MethodGet, "/admin/status", nil, &result, true); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}, admin bool) error {
	if c == nil || c.httpClient == nil {
		return fmt.Errorf("client not initialised")
	}
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	target := c.baseURL.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin {
		if c.bearerToken == "" {
			return fmt.Errorf("admin call requires a bearer token")
		}
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		if json.Unmarshal(payload, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s (%s)", path, apiErr.Error, apiErr.Reason)
		}
		return fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
	}
	if out != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
