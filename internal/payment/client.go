package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pvb1971/eezyspaza-backend/internal/metrics"
)

// ErrProviderUnavailable wraps network failures and provider 5xx responses
// after retries are exhausted. Handlers map it to 503 retry_recommended.
var ErrProviderUnavailable = errors.New("payment provider unavailable")

const (
	requestTimeout = 15 * time.Second
	maxAttempts    = 3
	baseBackoff    = 500 * time.Millisecond
)

// Client talks to the payment provider's checkout API. One instance is
// built at startup and shared; it holds no per-request state.
type Client struct {
	base      string
	secretKey string
	http      *http.Client
}

func NewClient(base, secretKey string) *Client {
	return &Client{
		base:      base,
		secretKey: secretKey,
		http:      &http.Client{Timeout: requestTimeout},
	}
}

// CheckoutRequest opens a hosted checkout session. Metadata values must be
// flat strings: the provider rejects nested objects, which is why line
// items arrive here already JSON-stringified (see httpx.itemsMetadata).
type CheckoutRequest struct {
	AmountCents int               `json:"amount"`
	Currency    string            `json:"currency"`
	SuccessURL  string            `json:"successUrl"`
	CancelURL   string            `json:"cancelUrl"`
	FailureURL  string            `json:"failureUrl"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type Checkout struct {
	ID          string `json:"id"`
	RedirectURL string `json:"redirectUrl"`
	Status      string `json:"status"`
	AmountCents int    `json:"amount"`
	Currency    string `json:"currency"`
}

func (c *Client) CreateCheckout(ctx context.Context, req CheckoutRequest) (Checkout, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Checkout{}, err
	}
	var out Checkout
	if err := c.do(ctx, http.MethodPost, "/checkouts", body, &out); err != nil {
		return Checkout{}, err
	}
	if out.ID == "" || out.RedirectURL == "" {
		return Checkout{}, fmt.Errorf("provider returned checkout without id or redirect url")
	}
	return out, nil
}

// LookupCheckout fetches current session state. Used only by the redirect
// pages for display; never as proof of payment.
func (c *Client) LookupCheckout(ctx context.Context, checkoutID string) (Checkout, error) {
	var out Checkout
	if err := c.do(ctx, http.MethodGet, "/checkouts/"+checkoutID, nil, &out); err != nil {
		return Checkout{}, err
	}
	return out, nil
}

// do runs one API call with bounded retries. 4xx responses are terminal:
// retrying a rejected request cannot help. Network errors and 5xx retry
// with exponential backoff until attempts run out.
func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := baseBackoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		start := time.Now()
		resp, err := c.send(ctx, method, path, body)
		metrics.ProviderRequestDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			lastErr = err
			continue
		}

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		switch {
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("provider %s %s: status %d", method, path, resp.StatusCode)
			continue
		case resp.StatusCode >= 400:
			return fmt.Errorf("provider %s %s: status %d: %s", method, path, resp.StatusCode, respBody)
		}

		if out != nil {
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("decode provider response: %w", err)
			}
		}
		return nil
	}
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, lastErr)
}

func (c *Client) send(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}
