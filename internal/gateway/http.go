package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const gatewayHeader = "X-Gateway"

// HTTPLookupClient calls the lookup index over HTTP.
type HTTPLookupClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPLookupClient builds a lookup adapter with the per-call timeout baked
// into the HTTP client.
func NewHTTPLookupClient(baseURL string, timeout time.Duration) *HTTPLookupClient {
	return &HTTPLookupClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPLookupClient) LookupGateway(ctx context.Context, paymentID string) (string, error) {
	u := fmt.Sprintf("%s/payments/%s/gateway", c.baseURL, url.PathEscape(paymentID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("build lookup request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("lookup gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", ErrPaymentNotFound
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("lookup gateway: status %d", resp.StatusCode)
	}

	var body struct {
		GatewayName string `json:"gatewayName"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode lookup response: %w", err)
	}
	if body.GatewayName == "" {
		return "", fmt.Errorf("lookup gateway: empty gateway name for %s", paymentID)
	}
	return body.GatewayName, nil
}

// HTTPNotifierClient calls the notifier over HTTP.
type HTTPNotifierClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPNotifierClient(baseURL string, timeout time.Duration) *HTTPNotifierClient {
	return &HTTPNotifierClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPNotifierClient) Notify(ctx context.Context, gateway string, paymentIDs []string) error {
	payload, err := json.Marshal(map[string]any{
		"gatewayName": gateway,
		"paymentIds":  paymentIDs,
	})
	if err != nil {
		return fmt.Errorf("marshal notify payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/notifications", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build notify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	defer drain(resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("notify: status %d", resp.StatusCode)
	}
	return nil
}

// HTTPStatusCheckClient calls the status checker over HTTP.
type HTTPStatusCheckClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPStatusCheckClient(baseURL string, timeout time.Duration) *HTTPStatusCheckClient {
	return &HTTPStatusCheckClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPStatusCheckClient) CheckStatus(ctx context.Context, gateway, paymentID string) (string, error) {
	u := fmt.Sprintf("%s/payments/%s/status", c.baseURL, url.PathEscape(paymentID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("build status request: %w", err)
	}
	req.Header.Set(gatewayHeader, gateway)
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("check status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("check status: status %d", resp.StatusCode)
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode status response: %w", err)
	}
	return body.Status, nil
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
