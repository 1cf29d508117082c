package spendgated

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPForwarder delivers opaque payloads to the trusted venue over HTTP. It
// reports pass/fail only; the response body is returned untouched for audit
// pipelines that want to archive it.
type HTTPForwarder struct {
	client *http.Client
	url    string
}

// NewHTTPForwarder constructs a forwarder posting to the venue URL.
func NewHTTPForwarder(url string, timeout time.Duration) *HTTPForwarder {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPForwarder{
		client: &http.Client{Timeout: timeout},
		url:    url,
	}
}

// Invoke implements the spend.Forwarder interface.
func (f *HTTPForwarder) Invoke(ctx context.Context, payload []byte) ([]byte, error) {
	if f == nil || f.client == nil {
		return nil, fmt.Errorf("spendgated: forwarder not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build forward request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("forward call: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read forward response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("forward venue returned status %d", resp.StatusCode)
	}
	return body, nil
}
