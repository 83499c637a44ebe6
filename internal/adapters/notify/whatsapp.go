// Package notify delivers messages through the outbound WhatsApp channel.
//
// The gateway enforces its own rate limits; the client throttles locally
// with a token bucket so a burst of events from one cycle queues here
// instead of triggering upstream throttling or bans.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/avalem/pricewatch/pkg/metrics"
)

// Default channel configuration constants.
const (
	defaultSendRatePerMinute = 30
	defaultRequestTimeout    = 15 * time.Second
)

// Channel sends a message to a recipient phone identifier.
type Channel interface {
	Send(ctx context.Context, phone, message string) error
}

// WhatsAppClient talks to a local WhatsApp HTTP gateway.
//
// Expected endpoint:
//
//	POST {base}/api/send-message  {"phone": "...", "message": "..."}
type WhatsAppClient struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// Option applies a configuration option to the WhatsAppClient.
type Option func(*WhatsAppClient)

// WithSendRate caps outbound sends per minute.
func WithSendRate(perMinute int) Option {
	return func(c *WhatsAppClient) {
		if perMinute > 0 {
			c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *WhatsAppClient) {
		if client != nil {
			c.client = client
		}
	}
}

// NewWhatsAppClient creates a client for the gateway at baseURL.
func NewWhatsAppClient(baseURL string, opts ...Option) *WhatsAppClient {
	c := &WhatsAppClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultRequestTimeout},
		limiter: rate.NewLimiter(rate.Every(time.Minute/defaultSendRatePerMinute), defaultSendRatePerMinute),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

type sendRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// Send delivers one message, waiting for a rate limiter token first.
func (c *WhatsAppClient) Send(ctx context.Context, phone, message string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	start := time.Now()
	defer func() {
		metrics.RecordSendLatency(float64(time.Since(start).Milliseconds()))
	}()

	body, err := json.Marshal(sendRequest{Phone: phone, Message: message})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/send-message", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: http status %d", ErrRateLimited, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w: http status %d", ErrChannelUnavailable, resp.StatusCode)
	}
	return nil
}
