// Package bridge is the HTTP client for the terminal bridge, the local
// process that fronts the broker terminal. It implements venue.Gateway with
// a circuit breaker and token-bucket pacing around every REST call, plus an
// optional websocket tick stream that keeps the hot path off REST.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/windrose-io/windrose/internal/venue"
)

// tickStaleness bounds how old a streamed tick may be before the client
// falls back to REST.
const tickStaleness = 2 * time.Second

// Options configures the bridge client.
type Options struct {
	BaseURL   string
	StreamURL string
	Timeout   time.Duration
	RPS       float64
	Burst     int
}

// Client talks to the terminal bridge. It is safe for concurrent use,
// though the control loop is its only production caller.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	log     zerolog.Logger

	streamURL string
	mu        sync.RWMutex
	lastTick  venue.Tick
	tickAt    time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// New builds a client and, when a stream URL is configured, starts the tick
// stream in the background.
func New(opts Options, log zerolog.Logger) *Client {
	settings := gobreaker.Settings{
		Name:        "bridge",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("bridge breaker state change")
		},
	}

	c := &Client{
		baseURL:   opts.BaseURL,
		http:      &http.Client{Timeout: opts.Timeout},
		breaker:   gobreaker.NewCircuitBreaker(settings),
		limiter:   rate.NewLimiter(rate.Limit(opts.RPS), opts.Burst),
		log:       log,
		streamURL: opts.StreamURL,
		done:      make(chan struct{}),
	}

	if c.streamURL != "" {
		ctx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		go c.runStream(ctx)
	} else {
		close(c.done)
	}
	return c
}

// Close stops the tick stream.
func (c *Client) Close() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
}

// apiError is the bridge's error envelope.
type apiError struct {
	Error string `json:"error"`
}

// do runs one REST call through the limiter and the breaker. An open breaker
// or a transport failure both surface as plain errors; callers treat them as
// transient venue trouble.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("bridge limiter: %w", err)
	}

	_, err := c.breaker.Execute(func() (any, error) {
		var reader io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("failed to encode bridge request: %w", err)
			}
			reader = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("bridge request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			var apiErr apiError
			if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
				return nil, fmt.Errorf("bridge returned %d: %s", resp.StatusCode, apiErr.Error)
			}
			return nil, fmt.Errorf("bridge returned status %d", resp.StatusCode)
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return nil, fmt.Errorf("failed to decode bridge response: %w", err)
			}
		}
		return nil, nil
	})
	return err
}

// AccountSnapshot implements venue.Gateway.
func (c *Client) AccountSnapshot(ctx context.Context) (venue.AccountSnapshot, error) {
	var snap venue.AccountSnapshot
	if err := c.do(ctx, http.MethodGet, "/account", nil, &snap); err != nil {
		return venue.AccountSnapshot{}, err
	}
	return snap, nil
}

// SymbolInfo implements venue.Gateway.
func (c *Client) SymbolInfo(ctx context.Context, symbol string) (venue.SymbolInfo, error) {
	var info venue.SymbolInfo
	if err := c.do(ctx, http.MethodGet, "/symbol/"+url.PathEscape(symbol), nil, &info); err != nil {
		return venue.SymbolInfo{}, err
	}
	return info, nil
}

// SelectSymbol implements venue.Gateway.
func (c *Client) SelectSymbol(ctx context.Context, symbol string) error {
	return c.do(ctx, http.MethodPost, "/symbol/"+url.PathEscape(symbol)+"/select", nil, nil)
}

// OpenPositions implements venue.Gateway. Only positions carrying the
// strategy tag come back; foreign positions on the same account are
// invisible to the governor.
func (c *Client) OpenPositions(ctx context.Context, symbol, strategyTag string) ([]venue.Position, error) {
	q := url.Values{"symbol": {symbol}, "tag": {strategyTag}}
	var positions []venue.Position
	if err := c.do(ctx, http.MethodGet, "/positions?"+q.Encode(), nil, &positions); err != nil {
		return nil, err
	}
	return positions, nil
}

// Tick implements venue.Gateway, preferring a fresh streamed tick over REST.
func (c *Client) Tick(ctx context.Context, symbol string) (venue.Tick, error) {
	c.mu.RLock()
	tick, at := c.lastTick, c.tickAt
	c.mu.RUnlock()
	if !at.IsZero() && time.Since(at) < tickStaleness {
		return tick, nil
	}

	var t venue.Tick
	if err := c.do(ctx, http.MethodGet, "/tick/"+url.PathEscape(symbol), nil, &t); err != nil {
		return venue.Tick{}, err
	}
	return t, nil
}

// Rates implements venue.Gateway.
func (c *Client) Rates(ctx context.Context, symbol string, count int) ([]venue.Candle, error) {
	path := fmt.Sprintf("/rates/%s?count=%d", url.PathEscape(symbol), count)
	var candles []venue.Candle
	if err := c.do(ctx, http.MethodGet, path, nil, &candles); err != nil {
		return nil, err
	}
	return candles, nil
}

// SubmitOrder implements venue.Gateway. The bridge answers 200 even for
// venue rejections; the outcome's retcode carries the verdict.
func (c *Client) SubmitOrder(ctx context.Context, req venue.OrderRequest) (venue.OrderOutcome, error) {
	var out venue.OrderOutcome
	if err := c.do(ctx, http.MethodPost, "/orders", req, &out); err != nil {
		return venue.OrderOutcome{}, err
	}
	return out, nil
}

// ClosePosition implements venue.Gateway.
func (c *Client) ClosePosition(ctx context.Context, req venue.CloseRequest) (venue.OrderOutcome, error) {
	var out venue.OrderOutcome
	if err := c.do(ctx, http.MethodPost, "/close", req, &out); err != nil {
		return venue.OrderOutcome{}, err
	}
	return out, nil
}

// Reconnect implements venue.Gateway.
func (c *Client) Reconnect(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/reconnect", nil, nil)
}

// runStream maintains the websocket tick subscription with a flat retry
// delay. Stream trouble never fails the client; Tick falls back to REST.
func (c *Client) runStream(ctx context.Context) {
	defer close(c.done)

	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.readStream(ctx); err != nil && ctx.Err() == nil {
			c.log.Warn().Err(err).Msg("tick stream dropped, reconnecting")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

func (c *Client) readStream(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.streamURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	c.log.Info().Str("url", c.streamURL).Msg("tick stream connected")
	for {
		var tick venue.Tick
		if err := conn.ReadJSON(&tick); err != nil {
			return err
		}
		c.mu.Lock()
		c.lastTick = tick
		c.tickAt = time.Now()
		c.mu.Unlock()
	}
}
