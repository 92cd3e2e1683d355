package decision

import (
	"context"
	"fmt"

	"github.com/windrose-io/windrose/internal/venue"
)

// SMAPolicy signals on a fast/slow moving-average crossover over closes. It
// fires only on the bar where the averages actually cross, so a persistent
// trend yields one intent, not one per tick.
type SMAPolicy struct {
	fast int
	slow int
}

// NewSMAPolicy builds a crossover policy. fast must be shorter than slow.
func NewSMAPolicy(fast, slow int) (*SMAPolicy, error) {
	if fast < 1 || slow <= fast {
		return nil, fmt.Errorf("invalid sma periods: fast=%d slow=%d", fast, slow)
	}
	return &SMAPolicy{fast: fast, slow: slow}, nil
}

func (p *SMAPolicy) Name() string {
	return fmt.Sprintf("sma-%d-%d", p.fast, p.slow)
}

// Decide compares the fast and slow averages on the latest bar against the
// previous bar. One extra bar beyond the slow period is needed to see the
// cross.
func (p *SMAPolicy) Decide(_ context.Context, candles []venue.Candle) (Action, error) {
	if len(candles) < p.slow+1 {
		return ActionNone, ErrInsufficientHistory
	}

	curFast := sma(candles, p.fast, 0)
	curSlow := sma(candles, p.slow, 0)
	prevFast := sma(candles, p.fast, 1)
	prevSlow := sma(candles, p.slow, 1)

	switch {
	case prevFast <= prevSlow && curFast > curSlow:
		return ActionLong, nil
	case prevFast >= prevSlow && curFast < curSlow:
		return ActionShort, nil
	default:
		return ActionNone, nil
	}
}

// sma averages the closes of period bars ending back bars before the latest.
func sma(candles []venue.Candle, period, back int) float64 {
	end := len(candles) - back
	var sum float64
	for _, c := range candles[end-period : end] {
		sum += c.Close
	}
	return sum / float64(period)
}
