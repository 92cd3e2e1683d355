// Package execution turns admitted intents into venue orders and owns the
// flatten path. Opens are submitted at most once; closes get a bounded
// retry budget with reconnect-on-transient, because an unclosed position is
// live risk while an unopened one is merely a missed trade.
package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/windrose-io/windrose/internal/telemetry"
	"github.com/windrose-io/windrose/internal/venue"
)

const (
	closeAttempts = 5
	closeBackoff  = 500 * time.Millisecond
)

// Params are the order-construction knobs, fixed per run.
type Params struct {
	Symbol          string
	LotSize         float64
	CloseProfit     float64
	MaxSpread       float64
	StrategyTag     string
	FillMode        venue.FillMode
	DeviationPoints int
	TPMultiplier    float64
	Point           float64
}

// Gateway is the execution layer over one venue connection.
type Gateway struct {
	venue   venue.Gateway
	params  Params
	audit   telemetry.TradeLog
	metrics *telemetry.Metrics
	log     zerolog.Logger
	sleep   func(context.Context, time.Duration)
}

// New wires the gateway. The metrics panel may be nil in tests.
func New(v venue.Gateway, params Params, audit telemetry.TradeLog, metrics *telemetry.Metrics, log zerolog.Logger) *Gateway {
	return &Gateway{
		venue:   v,
		params:  params,
		audit:   audit,
		metrics: metrics,
		log:     log,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// takeProfitPrice converts the cash profit target into a price offset from
// the entry. High-tick-value symbols carry a larger point multiplier.
func (g *Gateway) takeProfitPrice(side venue.Side, price float64) float64 {
	if g.params.CloseProfit <= 0 || g.params.LotSize <= 0 || g.params.Point <= 0 {
		return 0
	}
	points := g.params.CloseProfit / g.params.LotSize * g.params.TPMultiplier
	offset := points * g.params.Point
	if side == venue.SideShort {
		return price - offset
	}
	return price + offset
}

// Place submits one market order for the intent. The pre-trade spread gate
// runs first; a gated intent is audited and dropped without touching the
// venue. Open failures are never retried.
func (g *Gateway) Place(ctx context.Context, intent venue.OrderIntent, tick venue.Tick) (venue.OrderOutcome, error) {
	if spread := tick.Spread(); spread > g.params.MaxSpread {
		detail := fmt.Sprintf("spread=%.5f max=%.5f side=%s", spread, g.params.MaxSpread, intent.Side)
		if err := g.audit.Append(telemetry.ActionSpreadGate, telemetry.StatusRejected, detail); err != nil {
			g.log.Warn().Err(err).Msg("audit append failed")
		}
		if g.metrics != nil {
			g.metrics.OrdersRejected.WithLabelValues("spread").Inc()
		}
		g.log.Info().Float64("spread", spread).Float64("max", g.params.MaxSpread).Msg("intent rejected by spread gate")
		return venue.OrderOutcome{}, nil
	}

	price := tick.Ask
	if intent.Side == venue.SideShort {
		price = tick.Bid
	}

	req := venue.OrderRequest{
		ClientID:        uuid.NewString(),
		Symbol:          g.params.Symbol,
		Side:            intent.Side,
		Volume:          intent.Volume,
		Price:           price,
		TakeProfit:      g.takeProfitPrice(intent.Side, price),
		DeviationPoints: g.params.DeviationPoints,
		StrategyTag:     g.params.StrategyTag,
		FillMode:        g.params.FillMode,
	}

	outcome, err := g.venue.SubmitOrder(ctx, req)
	if err != nil {
		return venue.OrderOutcome{}, fmt.Errorf("order submit failed: %w", err)
	}

	if outcome.Success {
		detail := fmt.Sprintf("ticket=%d side=%s volume=%.2f price=%.5f client_id=%s",
			outcome.Ticket, intent.Side, intent.Volume, price, req.ClientID)
		if err := g.audit.Append(telemetry.ActionOpen, telemetry.StatusSuccess, detail); err != nil {
			g.log.Warn().Err(err).Msg("audit append failed")
		}
		g.log.Info().
			Int64("ticket", outcome.Ticket).
			Str("side", intent.Side.String()).
			Float64("volume", intent.Volume).
			Float64("price", price).
			Msg("order opened")
		return outcome, nil
	}

	detail := fmt.Sprintf("retcode=%d kind=%s side=%s %s", outcome.RetCode, outcome.Kind, intent.Side, outcome.Message)
	if err := g.audit.Append(telemetry.ActionOpen, telemetry.StatusFailed, detail); err != nil {
		g.log.Warn().Err(err).Msg("audit append failed")
	}
	if g.metrics != nil {
		g.metrics.OrdersFailed.Inc()
	}
	g.log.Warn().
		Int("retcode", outcome.RetCode).
		Str("kind", outcome.Kind.String()).
		Msg("order rejected by venue")
	return outcome, nil
}

// FlattenResult summarizes one CloseAll pass.
type FlattenResult struct {
	Closed         int
	Remaining      int
	RealizedProfit float64
}

// CloseAll closes every given position with a bounded per-position retry
// budget. Transient venue failures trigger a reconnect and a fixed backoff;
// permanent ones abandon the position immediately. A position still open
// after the budget is logged loudly for the operator and left for the next
// tick to pick up.
func (g *Gateway) CloseAll(ctx context.Context, positions []venue.Position) FlattenResult {
	var res FlattenResult
	for _, pos := range positions {
		if g.closeOne(ctx, pos) {
			res.Closed++
			res.RealizedProfit += pos.Profit
		} else {
			res.Remaining++
		}
	}
	return res
}

func (g *Gateway) closeOne(ctx context.Context, pos venue.Position) bool {
	req := venue.CloseRequest{
		Ticket:          pos.Ticket,
		Symbol:          pos.Symbol,
		Side:            pos.Side.Opposite(),
		Volume:          pos.Volume,
		DeviationPoints: g.params.DeviationPoints,
		StrategyTag:     g.params.StrategyTag,
		FillMode:        g.params.FillMode,
	}

	for attempt := 1; attempt <= closeAttempts; attempt++ {
		outcome, err := g.venue.ClosePosition(ctx, req)
		if err != nil {
			// Transport errors count against the budget like transient codes.
			outcome = venue.OrderOutcome{Kind: venue.FailureTransient, Message: err.Error()}
		}

		if outcome.Success {
			if err := g.audit.Append(telemetry.ActionClose, telemetry.StatusSuccess, telemetry.ProfitDetail(pos.Ticket, pos.Profit)); err != nil {
				g.log.Warn().Err(err).Msg("audit append failed")
			}
			g.log.Info().
				Int64("ticket", pos.Ticket).
				Float64("profit", pos.Profit).
				Int("attempt", attempt).
				Msg("position closed")
			return true
		}

		if outcome.Kind == venue.FailurePermanent {
			detail := fmt.Sprintf("ticket=%d retcode=%d %s", pos.Ticket, outcome.RetCode, outcome.Message)
			if err := g.audit.Append(telemetry.ActionClose, telemetry.StatusFailed, detail); err != nil {
				g.log.Warn().Err(err).Msg("audit append failed")
			}
			g.log.Error().
				Int64("ticket", pos.Ticket).
				Int("retcode", outcome.RetCode).
				Msg("close rejected permanently")
			return false
		}

		g.log.Warn().
			Int64("ticket", pos.Ticket).
			Int("retcode", outcome.RetCode).
			Int("attempt", attempt).
			Int("budget", closeAttempts).
			Msg("transient close failure, reconnecting")
		if g.metrics != nil {
			g.metrics.CloseRetries.Inc()
		}

		if attempt < closeAttempts {
			if err := g.venue.Reconnect(ctx); err != nil {
				g.log.Warn().Err(err).Msg("reconnect failed")
			}
			g.sleep(ctx, closeBackoff)
			if ctx.Err() != nil {
				break
			}
		}
	}

	detail := fmt.Sprintf("ticket=%d attempts=%d", pos.Ticket, closeAttempts)
	if err := g.audit.Append(telemetry.ActionClose, telemetry.StatusFailed, detail); err != nil {
		g.log.Warn().Err(err).Msg("audit append failed")
	}
	if g.metrics != nil {
		g.metrics.CloseExhausted.Inc()
	}
	g.log.Error().
		Int64("ticket", pos.Ticket).
		Int("attempts", closeAttempts).
		Msg("close retry budget exhausted, position still open, operator attention required")
	return false
}
