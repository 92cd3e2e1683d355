// Package decision produces order intents from market history. Policies are
// deliberately dumb about risk and admission: they only say which direction
// looks attractive right now, and the control loop decides whether anything
// is allowed to happen with that.
package decision

import (
	"context"
	"errors"

	"github.com/windrose-io/windrose/internal/venue"
)

// Action is a policy's verdict for the current bar.
type Action int

const (
	ActionNone Action = iota
	ActionLong
	ActionShort
)

func (a Action) String() string {
	switch a {
	case ActionLong:
		return "long"
	case ActionShort:
		return "short"
	default:
		return "none"
	}
}

// Side maps an actionable verdict onto an order side. Calling Side on
// ActionNone is a programming error.
func (a Action) Side() venue.Side {
	if a == ActionShort {
		return venue.SideShort
	}
	return venue.SideLong
}

// ErrInsufficientHistory is returned when fewer bars arrive than the policy
// needs. The control loop skips the tick rather than treating it as a fault.
var ErrInsufficientHistory = errors.New("insufficient history for decision")

// Policy turns a window of candles into an action.
type Policy interface {
	Name() string
	Decide(ctx context.Context, candles []venue.Candle) (Action, error)
}

// Reversed flips every actionable verdict from the wrapped policy. Used to
// run a strategy inverted without touching the strategy itself.
type Reversed struct {
	Inner Policy
}

func (r Reversed) Name() string {
	return r.Inner.Name() + "-reversed"
}

func (r Reversed) Decide(ctx context.Context, candles []venue.Candle) (Action, error) {
	action, err := r.Inner.Decide(ctx, candles)
	if err != nil {
		return ActionNone, err
	}
	switch action {
	case ActionLong:
		return ActionShort, nil
	case ActionShort:
		return ActionLong, nil
	default:
		return ActionNone, nil
	}
}
