// Package botclient is the HTTP client for the bot controller: the
// telemetry snapshot feed and the configuration surface the executor
// writes through. Every config operation is idempotent on the
// controller side, so failed calls retry with backoff.
package botclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"botguard/internal/domain"
	"botguard/internal/executor"
	"botguard/internal/telemetry"
)

var (
	_ telemetry.Source       = (*Client)(nil)
	_ executor.ConfigSurface = (*Client)(nil)
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// Client talks to the bot controller's REST API.
type Client struct {
	baseURL     string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
}

// Option configures Client.
type Option func(*Client)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets the initial retry delay.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// New creates a bot controller client.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:     baseURL,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// tradeDTO is the wire form of one trade in the telemetry feed.
type tradeDTO struct {
	TradeID    string    `json:"trade_id"`
	Asset      string    `json:"asset"`
	Side       string    `json:"side"`
	EntryPrice float64   `json:"entry_price"`
	Movement   float64   `json:"movement"`
	Stake      float64   `json:"stake"`
	Settled    bool      `json:"settled"`
	Won        bool      `json:"won"`
	PnL        float64   `json:"pnl"`
	RecordedAt time.Time `json:"recorded_at"`
}

// snapshotDTO is the wire form of one telemetry snapshot.
type snapshotDTO struct {
	Bot         string     `json:"bot"`
	LastTradeAt time.Time  `json:"last_trade_at"`
	Trades      []tradeDTO `json:"trades"`
	CapturedAt  time.Time  `json:"captured_at"`
}

// Snapshot fetches the bot's telemetry since the controller's last
// checkpoint. Implements telemetry.Source.
func (c *Client) Snapshot(ctx context.Context, bot string) (*domain.TelemetrySnapshot, error) {
	var dto snapshotDTO
	path := fmt.Sprintf("/api/bots/%s/telemetry", url.PathEscape(bot))
	if err := c.do(ctx, http.MethodGet, path, nil, &dto); err != nil {
		return nil, fmt.Errorf("fetch telemetry for %s: %w", bot, err)
	}

	snap := &domain.TelemetrySnapshot{
		Bot:         bot,
		LastTradeAt: dto.LastTradeAt,
		CapturedAt:  dto.CapturedAt,
		Trades:      make([]domain.TradeObservation, 0, len(dto.Trades)),
	}
	for _, tr := range dto.Trades {
		snap.Trades = append(snap.Trades, domain.TradeObservation{
			TradeID:    tr.TradeID,
			Bot:        bot,
			Asset:      tr.Asset,
			Side:       tr.Side,
			EntryPrice: tr.EntryPrice,
			Movement:   tr.Movement,
			Stake:      tr.Stake,
			Settled:    tr.Settled,
			Won:        tr.Won,
			PnL:        tr.PnL,
			RecordedAt: tr.RecordedAt,
		})
	}
	return snap, nil
}

// SetParameter writes one parameter value.
func (c *Client) SetParameter(ctx context.Context, bot string, param domain.Parameter, value float64) error {
	body := map[string]any{"parameter": param, "value": value}
	path := fmt.Sprintf("/api/bots/%s/parameters", url.PathEscape(bot))
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("set %s %s=%g: %w", bot, param, value, err)
	}
	return nil
}

// LockParameter writes one parameter value and marks it non-editable
// on the controller.
func (c *Client) LockParameter(ctx context.Context, bot string, param domain.Parameter, value float64) error {
	body := map[string]any{"parameter": param, "value": value, "locked": true}
	path := fmt.Sprintf("/api/bots/%s/parameters", url.PathEscape(bot))
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("lock %s %s=%g: %w", bot, param, value, err)
	}
	return nil
}

// PauseBot stops the bot's trading loop.
func (c *Client) PauseBot(ctx context.Context, bot string) error {
	path := fmt.Sprintf("/api/bots/%s/pause", url.PathEscape(bot))
	if err := c.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("pause %s: %w", bot, err)
	}
	return nil
}

// ResumeBot restarts the bot's trading loop.
func (c *Client) ResumeBot(ctx context.Context, bot string) error {
	path := fmt.Sprintf("/api/bots/%s/resume", url.PathEscape(bot))
	if err := c.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("resume %s: %w", bot, err)
	}
	return nil
}

// SetFilterEnabled toggles an entry filter.
func (c *Client) SetFilterEnabled(ctx context.Context, bot string, param domain.Parameter, enabled bool) error {
	body := map[string]any{"parameter": param, "enabled": enabled}
	path := fmt.Sprintf("/api/bots/%s/filters", url.PathEscape(bot))
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("set filter %s %s=%t: %w", bot, param, enabled, err)
	}
	return nil
}

// do runs one request with retries and exponential backoff. 4xx
// responses fail immediately; network errors and 5xx retry.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		retryable, err := c.attempt(ctx, method, path, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			return err
		}
	}

	return fmt.Errorf("after %d attempts: %w", c.maxRetries+1, lastErr)
}

func (c *Client) attempt(ctx context.Context, method, path string, payload []byte, out any) (retryable bool, err error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return true, fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(msg))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return false, fmt.Errorf("decode response: %w", err)
		}
	}
	return false, nil
}
