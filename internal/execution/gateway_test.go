package execution

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windrose-io/windrose/internal/venue"
)

// mockVenue scripts outcomes per call.
type mockVenue struct {
	venue.Gateway

	submitReqs    []venue.OrderRequest
	submitOutcome venue.OrderOutcome

	closeOutcomes []venue.OrderOutcome
	closeCalls    int
	reconnects    int
}

func (m *mockVenue) SubmitOrder(_ context.Context, req venue.OrderRequest) (venue.OrderOutcome, error) {
	m.submitReqs = append(m.submitReqs, req)
	return m.submitOutcome, nil
}

func (m *mockVenue) ClosePosition(_ context.Context, _ venue.CloseRequest) (venue.OrderOutcome, error) {
	i := m.closeCalls
	m.closeCalls++
	if i >= len(m.closeOutcomes) {
		i = len(m.closeOutcomes) - 1
	}
	return m.closeOutcomes[i], nil
}

func (m *mockVenue) Reconnect(_ context.Context) error {
	m.reconnects++
	return nil
}

// recordingLog captures audit rows in memory.
type recordingLog struct {
	rows [][3]string
}

func (r *recordingLog) Append(action, status, details string) error {
	r.rows = append(r.rows, [3]string{action, status, details})
	return nil
}

func (r *recordingLog) DailyClosedProfit(time.Time) (float64, error) { return 0, nil }
func (r *recordingLog) Close() error                                 { return nil }

func (r *recordingLog) has(action, status string) bool {
	for _, row := range r.rows {
		if row[0] == action && row[1] == status {
			return true
		}
	}
	return false
}

func testParams() Params {
	return Params{
		Symbol:          "BTCUSD",
		LotSize:         0.01,
		CloseProfit:     0.5,
		MaxSpread:       0.0005,
		StrategyTag:     "windrose-v1",
		FillMode:        venue.FillIOC,
		DeviationPoints: 5,
		TPMultiplier:    100,
		Point:           0.01,
	}
}

func newTestGateway(v *mockVenue, audit *recordingLog) *Gateway {
	g := New(v, testParams(), audit, nil, zerolog.Nop())
	g.sleep = func(context.Context, time.Duration) {}
	return g
}

func TestPlaceSpreadGateRejectsWithoutSubmitting(t *testing.T) {
	v := &mockVenue{}
	audit := &recordingLog{}
	g := newTestGateway(v, audit)

	// Spread 0.0007 exceeds the 0.0005 gate.
	tick := venue.Tick{Bid: 50000.0000, Ask: 50000.0007}
	out, err := g.Place(context.Background(), venue.OrderIntent{Side: venue.SideLong, Volume: 0.01}, tick)
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Empty(t, v.submitReqs)
	assert.True(t, audit.has("SPREAD_GATE", "REJECTED"))
}

func TestPlaceBuildsOrderWithTakeProfit(t *testing.T) {
	v := &mockVenue{submitOutcome: venue.Outcome(venue.RetDone, 777, "done")}
	audit := &recordingLog{}
	g := newTestGateway(v, audit)

	tick := venue.Tick{Bid: 50000.0000, Ask: 50000.0003}
	out, err := g.Place(context.Background(), venue.OrderIntent{Side: venue.SideLong, Volume: 0.01}, tick)
	require.NoError(t, err)
	require.True(t, out.Success)
	require.Len(t, v.submitReqs, 1)

	req := v.submitReqs[0]
	assert.Equal(t, tick.Ask, req.Price)
	assert.NotEmpty(t, req.ClientID)
	assert.Equal(t, "windrose-v1", req.StrategyTag)
	// 0.5 profit / 0.01 lot * 100 multiplier = 5000 points of 0.01 each.
	assert.InDelta(t, tick.Ask+50, req.TakeProfit, 1e-6)
	assert.True(t, audit.has("OPEN", "SUCCESS"))
}

func TestPlaceShortUsesBidAndLowerTP(t *testing.T) {
	v := &mockVenue{submitOutcome: venue.Outcome(venue.RetDone, 778, "done")}
	g := newTestGateway(v, &recordingLog{})

	tick := venue.Tick{Bid: 50000.0000, Ask: 50000.0003}
	_, err := g.Place(context.Background(), venue.OrderIntent{Side: venue.SideShort, Volume: 0.01}, tick)
	require.NoError(t, err)

	req := v.submitReqs[0]
	assert.Equal(t, tick.Bid, req.Price)
	assert.InDelta(t, tick.Bid-50, req.TakeProfit, 1e-6)
}

func TestPlaceVenueRejectionIsNotRetried(t *testing.T) {
	v := &mockVenue{submitOutcome: venue.Outcome(10013, 0, "invalid request")}
	audit := &recordingLog{}
	g := newTestGateway(v, audit)

	tick := venue.Tick{Bid: 50000.0000, Ask: 50000.0003}
	out, err := g.Place(context.Background(), venue.OrderIntent{Side: venue.SideLong, Volume: 0.01}, tick)
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Len(t, v.submitReqs, 1)
	assert.True(t, audit.has("OPEN", "FAILED"))
}

func TestCloseAllRetriesTransientThenSucceeds(t *testing.T) {
	busy := venue.Outcome(venue.RetBusy, 0, "busy")
	done := venue.Outcome(venue.RetDone, 0, "done")
	v := &mockVenue{closeOutcomes: []venue.OrderOutcome{busy, busy, busy, done}}
	audit := &recordingLog{}
	g := newTestGateway(v, audit)

	pos := venue.Position{Ticket: 9, Symbol: "BTCUSD", Side: venue.SideLong, Volume: 0.01, Profit: 1.20}
	res := g.CloseAll(context.Background(), []venue.Position{pos})

	assert.Equal(t, 1, res.Closed)
	assert.Equal(t, 0, res.Remaining)
	assert.InDelta(t, 1.20, res.RealizedProfit, 1e-9)
	assert.Equal(t, 4, v.closeCalls)
	assert.Equal(t, 3, v.reconnects)
	assert.True(t, audit.has("CLOSE", "SUCCESS"))
	assert.False(t, audit.has("CLOSE", "FAILED"))
}

func TestCloseAllExhaustsBudget(t *testing.T) {
	busy := venue.Outcome(venue.RetBusy, 0, "busy")
	v := &mockVenue{closeOutcomes: []venue.OrderOutcome{busy}}
	audit := &recordingLog{}
	g := newTestGateway(v, audit)

	pos := venue.Position{Ticket: 9, Symbol: "BTCUSD", Side: venue.SideLong, Volume: 0.01}
	res := g.CloseAll(context.Background(), []venue.Position{pos})

	assert.Equal(t, 0, res.Closed)
	assert.Equal(t, 1, res.Remaining)
	assert.Equal(t, 5, v.closeCalls)
	assert.Equal(t, 4, v.reconnects)
	assert.True(t, audit.has("CLOSE", "FAILED"))
}

func TestCloseAllPermanentFailureStopsImmediately(t *testing.T) {
	rejected := venue.Outcome(10013, 0, "invalid ticket")
	v := &mockVenue{closeOutcomes: []venue.OrderOutcome{rejected}}
	audit := &recordingLog{}
	g := newTestGateway(v, audit)

	pos := venue.Position{Ticket: 9, Symbol: "BTCUSD", Side: venue.SideShort, Volume: 0.01}
	res := g.CloseAll(context.Background(), []venue.Position{pos})

	assert.Equal(t, 1, res.Remaining)
	assert.Equal(t, 1, v.closeCalls)
	assert.Equal(t, 0, v.reconnects)
	assert.True(t, audit.has("CLOSE", "FAILED"))
}

func TestCloseAllMixedPositions(t *testing.T) {
	done := venue.Outcome(venue.RetDone, 0, "done")
	v := &mockVenue{closeOutcomes: []venue.OrderOutcome{done}}
	g := newTestGateway(v, &recordingLog{})

	positions := []venue.Position{
		{Ticket: 1, Symbol: "BTCUSD", Side: venue.SideLong, Volume: 0.01, Profit: 0.30},
		{Ticket: 2, Symbol: "BTCUSD", Side: venue.SideShort, Volume: 0.01, Profit: -0.10},
	}
	res := g.CloseAll(context.Background(), positions)

	assert.Equal(t, 2, res.Closed)
	assert.InDelta(t, 0.20, res.RealizedProfit, 1e-9)
}
