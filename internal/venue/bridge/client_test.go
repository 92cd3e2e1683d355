package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windrose-io/windrose/internal/venue"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(Options{
		BaseURL: srv.URL,
		Timeout: time.Second,
		RPS:     1000,
		Burst:   1000,
	}, zerolog.Nop())
	t.Cleanup(c.Close)
	return c
}

func TestAccountSnapshot(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/account", r.URL.Path)
		json.NewEncoder(w).Encode(venue.AccountSnapshot{Login: 12345, Balance: 1000, Equity: 1010})
	}))

	snap, err := c.AccountSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12345), snap.Login)
	assert.Equal(t, 1010.0, snap.Equity)
}

func TestOpenPositionsPassesTagFilter(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/positions", r.URL.Path)
		require.Equal(t, "BTCUSD", r.URL.Query().Get("symbol"))
		require.Equal(t, "windrose-v1", r.URL.Query().Get("tag"))
		json.NewEncoder(w).Encode([]venue.Position{{Ticket: 1, Profit: 0.5}})
	}))

	positions, err := c.OpenPositions(context.Background(), "BTCUSD", "windrose-v1")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(1), positions[0].Ticket)
}

func TestSubmitOrderReturnsVenueOutcome(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/orders", r.URL.Path)
		var req venue.OrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotEmpty(t, req.ClientID)
		json.NewEncoder(w).Encode(venue.Outcome(venue.RetBusy, 0, "terminal busy"))
	}))

	out, err := c.SubmitOrder(context.Background(), venue.OrderRequest{
		ClientID: "abc", Symbol: "BTCUSD", Side: venue.SideLong, Volume: 0.01,
	})
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, venue.RetBusy, out.RetCode)
	assert.Equal(t, venue.FailureTransient, out.Kind)
}

func TestBridgeErrorEnvelope(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(apiError{Error: "terminal not responding"})
	}))

	_, err := c.AccountSnapshot(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "terminal not responding")
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	for i := 0; i < 5; i++ {
		_, err := c.AccountSnapshot(context.Background())
		require.Error(t, err)
	}

	// Breaker now open: the failure is immediate, no request reaches the server.
	_, err := c.AccountSnapshot(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker is open")
}

func TestTickPrefersFreshStreamedTick(t *testing.T) {
	var restCalls int
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		restCalls++
		json.NewEncoder(w).Encode(venue.Tick{Bid: 1, Ask: 2})
	}))

	c.mu.Lock()
	c.lastTick = venue.Tick{Bid: 50000, Ask: 50000.0003}
	c.tickAt = time.Now()
	c.mu.Unlock()

	tick, err := c.Tick(context.Background(), "BTCUSD")
	require.NoError(t, err)
	assert.Equal(t, 50000.0, tick.Bid)
	assert.Equal(t, 0, restCalls)

	// A stale streamed tick falls back to REST.
	c.mu.Lock()
	c.tickAt = time.Now().Add(-10 * time.Second)
	c.mu.Unlock()

	tick, err = c.Tick(context.Background(), "BTCUSD")
	require.NoError(t, err)
	assert.Equal(t, 1.0, tick.Bid)
	assert.Equal(t, 1, restCalls)
}

func TestRatesCount(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rates/BTCUSD", r.URL.Path)
		require.Equal(t, "120", r.URL.Query().Get("count"))
		json.NewEncoder(w).Encode([]venue.Candle{{Close: 1}, {Close: 2}})
	}))

	candles, err := c.Rates(context.Background(), "BTCUSD", 120)
	require.NoError(t, err)
	assert.Len(t, candles, 2)
}
