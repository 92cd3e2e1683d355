// Package risk owns the layered risk limits: intraday drawdown with
// multi-day escalation, floating-profit tiers, the daily-offset rule, the
// per-position profit target, and the two daily-target variants anchored to
// baseline equity. Evaluation is split so re-running it on the same venue
// data is side-effect free: Observe advances per-tick accumulators exactly
// once, Evaluate is pure, Apply commits the chosen decision.
package risk

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Rule identifies which risk limit fired.
type Rule int

const (
	RuleNone Rule = iota
	RuleHalted
	RuleMaxDrawdown
	RuleTierPause
	RuleTierActive
	RuleDailyOffset
	RuleCloseProfit
	RuleBaselineTarget
	RuleDailyTarget
)

func (r Rule) String() string {
	switch r {
	case RuleHalted:
		return "halted"
	case RuleMaxDrawdown:
		return "max_drawdown"
	case RuleTierPause:
		return "tier_pause"
	case RuleTierActive:
		return "tier_active"
	case RuleDailyOffset:
		return "daily_offset"
	case RuleCloseProfit:
		return "close_profit"
	case RuleBaselineTarget:
		return "baseline_target"
	case RuleDailyTarget:
		return "daily_target"
	default:
		return "none"
	}
}

// Decision is the outcome of one evaluation pass. Flatten means all tagged
// positions must be closed before anything else happens this tick; Halt
// means trading stops until HaltUntil.
type Decision struct {
	Rule    Rule
	Flatten bool
	Halt    bool
	Reason  string
}

// Snapshot carries the venue data one evaluation runs against. It is
// assembled fresh each tick and never cached.
type Snapshot struct {
	Balance           float64
	Equity            float64
	FloatingProfit    float64
	DailyClosedProfit float64
	OpenPositions     int
	InPause           bool
	Now               time.Time
}

// Limits are the configured thresholds, immutable per run.
type Limits struct {
	MaxDrawdownPct float64
	DailyTargetPct float64
	CloseProfit    float64
	TierPause      float64
	TierActive     float64
	OffsetMinLoss  float64
}

// State is the governor's mutable risk state. The daily fields reset at
// local midnight; baseline equity is durable and owned by the Store.
type State struct {
	DailyStartDate        time.Time
	AccumulatedTickProfit float64
	MaxDDHits             int
	HaltUntil             time.Time
}

// maxDDEscalation is how many drawdown hits in one day force a multi-day halt.
const maxDDEscalation = 3

// Governor evaluates the risk rules in fixed priority order.
type Governor struct {
	limits   Limits
	baseline float64
	state    State
	log      zerolog.Logger
}

// NewGovernor creates a governor with the given limits and the durable
// baseline equity loaded at startup.
func NewGovernor(limits Limits, baselineEquity float64, log zerolog.Logger) *Governor {
	return &Governor{
		limits:   limits,
		baseline: baselineEquity,
		log:      log,
	}
}

// State returns a copy of the current risk state for status reporting.
func (g *Governor) State() State {
	return g.state
}

// HaltActive reports whether a multi-day halt is in force at now.
func (g *Governor) HaltActive(now time.Time) bool {
	return !g.state.HaltUntil.IsZero() && now.Before(g.state.HaltUntil)
}

// HaltRemaining returns how long the current halt still runs.
func (g *Governor) HaltRemaining(now time.Time) time.Duration {
	if !g.HaltActive(now) {
		return 0
	}
	return g.state.HaltUntil.Sub(now)
}

// ClearExpiredHalt clears a halt whose resume time has passed. It returns
// true exactly once per halt so the caller can reinitialize the admission
// window. Clearing also resets the drawdown escalation counter and the
// daily accumulators, matching a fresh trading day.
func (g *Governor) ClearExpiredHalt(now time.Time) bool {
	if g.state.HaltUntil.IsZero() || now.Before(g.state.HaltUntil) {
		return false
	}
	g.state.HaltUntil = time.Time{}
	g.state.MaxDDHits = 0
	g.state.AccumulatedTickProfit = 0
	g.state.DailyStartDate = dateOf(now)
	g.log.Info().Time("resumed_at", now).Msg("multi-day halt cleared, trading resumes")
	return true
}

// Observe advances the per-tick accumulators. It must be called exactly once
// per tick, before Evaluate; calling Evaluate repeatedly afterwards yields
// the same decision.
func (g *Governor) Observe(snap Snapshot) {
	today := dateOf(snap.Now)
	if g.state.DailyStartDate.IsZero() {
		g.state.DailyStartDate = today
	} else if !today.Equal(g.state.DailyStartDate) {
		g.state.DailyStartDate = today
		g.state.AccumulatedTickProfit = 0
		g.state.MaxDDHits = 0
		g.log.Info().Time("date", today).Msg("new trading day, daily risk state reset")
	}

	g.state.AccumulatedTickProfit += snap.FloatingProfit
}

// Evaluate runs rules 1-7 in fixed priority order and returns the first that
// fires. It is pure: no state advances here.
func (g *Governor) Evaluate(snap Snapshot) Decision {
	// Rule 1: multi-day halt blocks everything else.
	if g.HaltActive(snap.Now) {
		return Decision{
			Rule:   RuleHalted,
			Reason: fmt.Sprintf("halted until %s", g.state.HaltUntil.Format("2006-01-02 15:04")),
		}
	}

	// Rule 2: intraday drawdown.
	dd := DrawdownPct(snap.Balance, snap.Equity)
	if dd >= g.limits.MaxDrawdownPct {
		return Decision{
			Rule:    RuleMaxDrawdown,
			Flatten: true,
			Reason:  fmt.Sprintf("drawdown %.2f%% >= %.2f%% (hit %d/%d)", dd, g.limits.MaxDrawdownPct, g.state.MaxDDHits+1, maxDDEscalation),
		}
	}

	// Rule 3: absolute floating-profit tiers. The small tier applies even
	// while the window is paused; the larger tier applies generally.
	if snap.FloatingProfit >= g.limits.TierPause {
		return Decision{
			Rule:    RuleTierPause,
			Flatten: true,
			Reason:  fmt.Sprintf("floating profit $%.2f >= tier $%.2f", snap.FloatingProfit, g.limits.TierPause),
		}
	}
	if !snap.InPause && snap.FloatingProfit >= g.limits.TierActive {
		return Decision{
			Rule:    RuleTierActive,
			Flatten: true,
			Reason:  fmt.Sprintf("floating profit $%.2f >= tier $%.2f", snap.FloatingProfit, g.limits.TierActive),
		}
	}

	// Rule 4: daily-profit offset. Locks in a net-positive day when realized
	// profit already covers the floating loss by the configured margin.
	if snap.FloatingProfit < 0 {
		loss := -snap.FloatingProfit
		if snap.DailyClosedProfit > loss && loss >= g.limits.OffsetMinLoss {
			return Decision{
				Rule:    RuleDailyOffset,
				Flatten: true,
				Reason:  fmt.Sprintf("daily profit $%.2f covers floating loss $%.2f", snap.DailyClosedProfit, loss),
			}
		}
	}

	// Rule 5: per-position profit target over the summed floating profit.
	if snap.FloatingProfit >= g.limits.CloseProfit {
		return Decision{
			Rule:    RuleCloseProfit,
			Flatten: true,
			Reason:  fmt.Sprintf("floating profit $%.2f >= target $%.2f", snap.FloatingProfit, g.limits.CloseProfit),
		}
	}

	// Rule 6: baseline-equity target. Anchored to account growth, not to a
	// midnight-resetting equity base.
	if g.baseline > 0 {
		target := g.baseline * (1 + g.limits.DailyTargetPct/100)
		if snap.Equity >= target {
			return Decision{
				Rule:    RuleBaselineTarget,
				Flatten: true,
				Halt:    true,
				Reason:  fmt.Sprintf("equity %.2f >= baseline target %.2f", snap.Equity, target),
			}
		}
	}

	// Rule 7: effective daily target after discounting the floating loss.
	if snap.Balance > 0 {
		accumPct := g.state.AccumulatedTickProfit / snap.Balance * 100
		var floatingLossPct float64
		if snap.FloatingProfit < 0 {
			floatingLossPct = -snap.FloatingProfit / snap.Balance * 100
		}
		effective := accumPct - floatingLossPct
		if effective >= g.limits.DailyTargetPct {
			return Decision{
				Rule:    RuleDailyTarget,
				Flatten: true,
				Halt:    true,
				Reason:  fmt.Sprintf("effective daily profit %.2f%% >= %.2f%%", effective, g.limits.DailyTargetPct),
			}
		}
	}

	return Decision{Rule: RuleNone}
}

// Apply commits a decision's state effects: drawdown hit counting with
// escalation to a multi-day halt, and halt scheduling for the daily-target
// rules. Flattening itself is the execution gateway's job.
func (g *Governor) Apply(d Decision, now time.Time) {
	switch d.Rule {
	case RuleMaxDrawdown:
		g.state.MaxDDHits++
		g.log.Warn().
			Int("hits", g.state.MaxDDHits).
			Str("reason", d.Reason).
			Msg("max drawdown hit")
		if g.state.MaxDDHits >= maxDDEscalation {
			g.state.HaltUntil = NextResume(now)
			g.log.Warn().
				Time("halt_until", g.state.HaltUntil).
				Msg("drawdown escalation, trading halted until next resume time")
		}
	case RuleBaselineTarget, RuleDailyTarget:
		g.state.HaltUntil = NextResume(now)
		g.log.Info().
			Str("rule", d.Rule.String()).
			Time("halt_until", g.state.HaltUntil).
			Str("reason", d.Reason).
			Msg("daily target reached, trading halted until next resume time")
	}
}

// DrawdownPct is the percentage shortfall of equity below balance. A
// non-positive balance yields 0 rather than a division fault.
func DrawdownPct(balance, equity float64) float64 {
	if balance <= 0 {
		return 0
	}
	return (balance - equity) / balance * 100
}

// resumeHour is the local hour trading resumes after a multi-day halt.
const resumeHour = 4

// NextResume returns the next local 04:00 strictly usable as a halt end:
// today's if now is before it, otherwise tomorrow's.
func NextResume(now time.Time) time.Time {
	resume := time.Date(now.Year(), now.Month(), now.Day(), resumeHour, 0, 0, 0, now.Location())
	if now.Hour() < resumeHour {
		return resume
	}
	return resume.AddDate(0, 0, 1)
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
