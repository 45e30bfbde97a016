package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultRazorpayBaseURL = "https://api.razorpay.com/v1"

// RazorpayClient talks to the Razorpay REST API with key-id/key-secret basic
// auth. The client timeout bounds both calls so a hung gateway surfaces as a
// retryable ErrGatewayUnavailable rather than a stuck request.
type RazorpayClient struct {
	BaseURL    string
	HTTPClient *http.Client

	keyID     string
	keySecret string
}

// NewRazorpayClient returns a client with production defaults.
func NewRazorpayClient(keyID, keySecret string) *RazorpayClient {
	return &RazorpayClient{
		BaseURL:    defaultRazorpayBaseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		keyID:      keyID,
		keySecret:  keySecret,
	}
}

// CreateOrder registers an order with Razorpay and returns its reference.
func (c *RazorpayClient) CreateOrder(ctx context.Context, req GatewayOrderRequest) (*GatewayOrder, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal gateway order: %w", err)
	}
	var out GatewayOrder
	if err := c.do(ctx, http.MethodPost, "/orders", bytes.NewReader(body), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchPayment returns the gateway's authoritative record of a payment.
func (c *RazorpayClient) FetchPayment(ctx context.Context, paymentID string) (*GatewayPayment, error) {
	var out GatewayPayment
	if err := c.do(ctx, http.MethodGet, "/payments/"+paymentID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *RazorpayClient) do(ctx context.Context, method, path string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		// network failure or timeout: retryable
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: gateway returned %d", ErrGatewayUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gateway rejected %s %s: %d %s", method, path, resp.StatusCode, msg)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}
