// Package engine runs the governor's control loop. Each tick follows a
// fixed order: halt bookkeeping, window advance, status publication, fresh
// venue reads, risk evaluation, flattening, and only then the decision and
// admission path for new orders. Risk always runs before admission so a
// firing limit suppresses same-tick entries.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/windrose-io/windrose/internal/config"
	"github.com/windrose-io/windrose/internal/decision"
	"github.com/windrose-io/windrose/internal/execution"
	"github.com/windrose-io/windrose/internal/risk"
	"github.com/windrose-io/windrose/internal/telemetry"
	"github.com/windrose-io/windrose/internal/venue"
	"github.com/windrose-io/windrose/internal/window"
)

// haltPollInterval is the loop cadence while a multi-day halt is in force.
const haltPollInterval = time.Minute

// reportInterval spaces the appended account snapshots in the trading report.
const reportInterval = time.Minute

// StatusSink receives the per-tick status record. The HTTP server and the
// file writer both implement it.
type StatusSink interface {
	Publish(rec telemetry.StatusRecord)
}

// Engine owns one account's control loop.
type Engine struct {
	cfg      *config.Config
	venue    venue.Gateway
	window   *window.Scheduler
	governor *risk.Governor
	exec     *execution.Gateway
	policy   decision.Policy

	audit   telemetry.TradeLog
	statusW *telemetry.StatusWriter
	report  *telemetry.ReportAppender
	metrics *telemetry.Metrics
	sinks   []StatusSink

	account    int64
	baseline   float64
	symbolInfo venue.SymbolInfo
	interval   time.Duration

	lastReport time.Time

	log zerolog.Logger
	now func() time.Time
}

// Deps carries the wired components for New.
type Deps struct {
	Config     *config.Config
	Venue      venue.Gateway
	Window     *window.Scheduler
	Governor   *risk.Governor
	Exec       *execution.Gateway
	Policy     decision.Policy
	Audit      telemetry.TradeLog
	StatusW    *telemetry.StatusWriter
	Report     *telemetry.ReportAppender
	Metrics    *telemetry.Metrics
	Sinks      []StatusSink
	Account    int64
	Baseline   float64
	SymbolInfo venue.SymbolInfo
	Log        zerolog.Logger
}

// New assembles the engine.
func New(d Deps) *Engine {
	return &Engine{
		cfg:        d.Config,
		venue:      d.Venue,
		window:     d.Window,
		governor:   d.Governor,
		exec:       d.Exec,
		policy:     d.Policy,
		audit:      d.Audit,
		statusW:    d.StatusW,
		report:     d.Report,
		metrics:    d.Metrics,
		sinks:      d.Sinks,
		account:    d.Account,
		baseline:   d.Baseline,
		symbolInfo: d.SymbolInfo,
		interval:   d.Config.TickInterval.Std(),
		log:        d.Log,
		now:        time.Now,
	}
}

// Run loops until ctx is done. The loop sleeps between ticks for whatever
// Tick asked; stop requests are honored only at tick boundaries so a tick's
// writes always complete.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info().
		Str("symbol", e.cfg.Symbol).
		Int64("account", e.account).
		Float64("baseline", e.baseline).
		Msg("control loop starting")

	for {
		sleep, err := e.Tick(ctx)
		if err != nil {
			e.log.Error().Err(err).Msg("tick failed")
		}

		select {
		case <-ctx.Done():
			e.log.Info().Msg("control loop stopping")
			return nil
		case <-time.After(sleep):
		}
	}
}

// Tick runs one control loop iteration and returns the sleep before the
// next one.
func (e *Engine) Tick(ctx context.Context) (time.Duration, error) {
	if e.metrics != nil {
		e.metrics.TicksTotal.Inc()
	}
	now := e.now()

	// Halt bookkeeping comes first. A freshly expired halt resets the
	// admission window so trading resumes with a clean active period.
	if e.governor.ClearExpiredHalt(now) {
		e.window.Reset()
	}
	if e.governor.HaltActive(now) {
		e.setHaltedMetrics(true)
		e.publishStatus(now, venue.AccountSnapshot{}, nil, 0, 0)
		return haltPollInterval, nil
	}
	e.setHaltedMetrics(false)

	mode := e.window.Tick()

	account, err := e.venue.AccountSnapshot(ctx)
	if err != nil {
		return e.interval, fmt.Errorf("account snapshot failed: %w", err)
	}
	positions, err := e.venue.OpenPositions(ctx, e.cfg.Symbol, e.cfg.StrategyTag)
	if err != nil {
		return e.interval, fmt.Errorf("positions fetch failed: %w", err)
	}

	floating := venue.FloatingProfit(positions)
	dailyProfit, err := e.audit.DailyClosedProfit(now)
	if err != nil {
		e.log.Warn().Err(err).Msg("daily profit computation failed")
	}

	snap := risk.Snapshot{
		Balance:           account.Balance,
		Equity:            account.Equity,
		FloatingProfit:    floating,
		DailyClosedProfit: dailyProfit,
		OpenPositions:     len(positions),
		InPause:           mode == window.ModePause,
		Now:               now,
	}
	e.governor.Observe(snap)
	d := e.governor.Evaluate(snap)
	e.governor.Apply(d, now)

	e.updateGauges(account, floating, len(positions), mode)
	e.publishStatus(now, account, positions, floating, dailyProfit)
	e.appendReport(now, account, positions, floating, dailyProfit)

	if d.Flatten {
		e.flatten(ctx, d, positions)
		// No same-tick entries after a limit fired.
		return e.interval, nil
	}

	// Entry gates, cheapest first.
	if h := now.Hour(); h < e.cfg.StartHour || h >= e.cfg.EndHour {
		return e.interval, nil
	}
	if mode != window.ModeActive {
		return e.interval, nil
	}
	if len(positions) >= e.cfg.MaxOpenTrades {
		return e.interval, nil
	}

	candles, err := e.venue.Rates(ctx, e.cfg.Symbol, e.cfg.HistoryBars)
	if err != nil {
		return e.interval, fmt.Errorf("rates fetch failed: %w", err)
	}
	if len(candles) < e.cfg.MinHistoryBars {
		e.log.Debug().Int("bars", len(candles)).Msg("insufficient history, skipping tick")
		return e.interval, nil
	}

	action, err := e.policy.Decide(ctx, candles)
	if err != nil {
		if errors.Is(err, decision.ErrInsufficientHistory) {
			return e.interval, nil
		}
		return e.interval, fmt.Errorf("policy decision failed: %w", err)
	}
	if action == decision.ActionNone {
		return e.interval, nil
	}

	if !e.window.Admit() {
		if e.metrics != nil {
			e.metrics.OrdersRejected.WithLabelValues("window").Inc()
		}
		e.log.Debug().Str("action", action.String()).Msg("intent not admitted by window")
		return e.interval, nil
	}
	if e.metrics != nil {
		e.metrics.OrdersAdmitted.Inc()
	}

	tick, err := e.venue.Tick(ctx, e.cfg.Symbol)
	if err != nil {
		return e.interval, fmt.Errorf("tick fetch failed: %w", err)
	}

	intent := venue.OrderIntent{Side: action.Side(), Volume: e.cfg.LotSize}
	if _, err := e.exec.Place(ctx, intent, tick); err != nil {
		return e.interval, err
	}

	suggested := risk.SuggestedLot(account.MarginFree, e.cfg.RiskPct, e.symbolInfo)
	if suggested != e.cfg.LotSize {
		e.log.Debug().
			Float64("configured", e.cfg.LotSize).
			Float64("suggested", suggested).
			Msg("margin-based lot suggestion differs from configured lot")
	}

	return e.interval, nil
}

// flatten closes everything and records the event in the audit trail and
// the trading report.
func (e *Engine) flatten(ctx context.Context, d risk.Decision, positions []venue.Position) {
	if e.metrics != nil {
		e.metrics.FlattensTotal.WithLabelValues(d.Rule.String()).Inc()
	}
	e.log.Warn().
		Str("rule", d.Rule.String()).
		Str("reason", d.Reason).
		Int("positions", len(positions)).
		Msg("risk limit fired, flattening")

	res := e.exec.CloseAll(ctx, positions)

	detail := fmt.Sprintf("rule=%s closed=%d remaining=%d realized=$%.2f reason=%q",
		d.Rule, res.Closed, res.Remaining, res.RealizedProfit, d.Reason)
	if err := e.audit.Append(telemetry.ActionFlatten, telemetry.StatusSuccess, detail); err != nil {
		e.log.Warn().Err(err).Msg("audit append failed")
	}

	if d.Halt {
		haltDetail := fmt.Sprintf("rule=%s until=%s", d.Rule, e.governor.State().HaltUntil.Format("2006-01-02 15:04"))
		if err := e.audit.Append(telemetry.ActionHalt, telemetry.StatusSuccess, haltDetail); err != nil {
			e.log.Warn().Err(err).Msg("audit append failed")
		}
	}
}

// appendReport adds an account snapshot to the trading report at most once
// per reportInterval.
func (e *Engine) appendReport(now time.Time, account venue.AccountSnapshot, positions []venue.Position, floating, dailyProfit float64) {
	if e.report == nil || (!e.lastReport.IsZero() && now.Sub(e.lastReport) < reportInterval) {
		return
	}
	row := telemetry.ReportRow{
		Time:           now,
		Balance:        account.Balance,
		Equity:         account.Equity,
		Margin:         account.Margin,
		OpenPositions:  len(positions),
		FloatingProfit: floating,
		DailyProfit:    dailyProfit,
	}
	if err := e.report.Append(row); err != nil {
		e.log.Warn().Err(err).Msg("report append failed")
		return
	}
	e.lastReport = now
}

func (e *Engine) publishStatus(now time.Time, account venue.AccountSnapshot, positions []venue.Position, floating, dailyProfit float64) {
	state := e.governor.State()
	rec := telemetry.StatusRecord{
		UpdatedAt:      now,
		Account:        e.account,
		Symbol:         e.cfg.Symbol,
		Window:         e.window.Status(),
		Balance:        account.Balance,
		Equity:         account.Equity,
		FloatingProfit: floating,
		OpenPositions:  len(positions),
		Baseline:       e.baseline,
		DailyProfit:    dailyProfit,
		MaxDDHits:      state.MaxDDHits,
		Halted:         e.governor.HaltActive(now),
		SuggestedLot:   risk.SuggestedLot(account.MarginFree, e.cfg.RiskPct, e.symbolInfo),
	}
	if !state.HaltUntil.IsZero() {
		until := state.HaltUntil
		rec.HaltUntil = &until
	}

	if e.statusW != nil {
		if err := e.statusW.Write(rec); err != nil {
			e.log.Warn().Err(err).Msg("status write failed")
		}
	}
	for _, sink := range e.sinks {
		sink.Publish(rec)
	}
}

func (e *Engine) updateGauges(account venue.AccountSnapshot, floating float64, open int, mode window.Mode) {
	if e.metrics == nil {
		return
	}
	e.metrics.Equity.Set(account.Equity)
	e.metrics.FloatingProfit.Set(floating)
	e.metrics.OpenPositions.Set(float64(open))
	e.metrics.WindowMode.Set(float64(mode))
	e.metrics.DrawdownHits.Set(float64(e.governor.State().MaxDDHits))
}

func (e *Engine) setHaltedMetrics(halted bool) {
	if e.metrics == nil {
		return
	}
	if halted {
		e.metrics.Halted.Set(1)
	} else {
		e.metrics.Halted.Set(0)
	}
}
