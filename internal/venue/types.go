// Package venue defines the brokerage gateway contract the governor trades
// through. The contract is synchronous: every call blocks, returns typed
// results, and classifies failures as transient or permanent so callers can
// decide whether a retry is worth anything.
package venue

import (
	"context"
	"time"
)

// Side is the direction of a position or order.
type Side int

const (
	SideLong Side = iota
	SideShort
)

// Opposite returns the side that closes a position opened on s.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

func (s Side) String() string {
	if s == SideLong {
		return "long"
	}
	return "short"
}

// FillMode selects how the venue fills market orders.
type FillMode int

const (
	FillFOK FillMode = iota + 1 // fill-or-kill
	FillIOC                     // immediate-or-cancel
	FillReturn                  // partial fill, remainder stays
)

// AccountSnapshot is the venue's view of the account at one instant.
type AccountSnapshot struct {
	Login      int64   `json:"login"`
	Name       string  `json:"name"`
	Balance    float64 `json:"balance"`
	Equity     float64 `json:"equity"`
	Margin     float64 `json:"margin"`
	MarginFree float64 `json:"margin_free"`
}

// SymbolInfo carries the per-symbol trading parameters needed for order math.
type SymbolInfo struct {
	Symbol        string  `json:"symbol"`
	Point         float64 `json:"point"`
	MarginInitial float64 `json:"margin_initial"`
	LotMin        float64 `json:"lot_min"`
	LotMax        float64 `json:"lot_max"`
	LotStep       float64 `json:"lot_step"`
}

// Tick is a single bid/ask observation.
type Tick struct {
	Bid  float64   `json:"bid"`
	Ask  float64   `json:"ask"`
	Time time.Time `json:"time"`
}

// Spread returns the ask-bid gap, the per-trade cost proxy.
func (t Tick) Spread() float64 {
	return t.Ask - t.Bid
}

// Candle is one OHLCV bar of market history.
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Position is a read-only snapshot of one open position. It is fetched fresh
// every tick and never cached across ticks.
type Position struct {
	Ticket    int64   `json:"ticket"`
	Symbol    string  `json:"symbol"`
	Side      Side    `json:"side"`
	Volume    float64 `json:"volume"`
	OpenPrice float64 `json:"open_price"`
	Profit    float64 `json:"profit"` // unrealized, account currency
}

// OrderIntent is what the decision source asks for: a direction and a size.
// It is consumed exactly once by the execution gateway.
type OrderIntent struct {
	Side   Side
	Volume float64
}

// OrderRequest is a fully specified market order ready for the venue.
type OrderRequest struct {
	ClientID        string   `json:"client_id"`
	Symbol          string   `json:"symbol"`
	Side            Side     `json:"side"`
	Volume          float64  `json:"volume"`
	Price           float64  `json:"price"`
	TakeProfit      float64  `json:"take_profit,omitempty"`
	DeviationPoints int      `json:"deviation_points"`
	StrategyTag     string   `json:"strategy_tag"`
	Comment         string   `json:"comment,omitempty"`
	FillMode        FillMode `json:"fill_mode"`
}

// CloseRequest asks the venue to close an existing position with an opposing
// market order.
type CloseRequest struct {
	Ticket          int64    `json:"ticket"`
	Symbol          string   `json:"symbol"`
	Side            Side     `json:"side"` // direction of the closing order
	Volume          float64  `json:"volume"`
	Price           float64  `json:"price"`
	DeviationPoints int      `json:"deviation_points"`
	StrategyTag     string   `json:"strategy_tag"`
	FillMode        FillMode `json:"fill_mode"`
}

// OrderOutcome is the terminal result of one submit or close attempt.
type OrderOutcome struct {
	Success bool        `json:"success"`
	RetCode int         `json:"retcode"`
	Kind    FailureKind `json:"kind"`
	Ticket  int64       `json:"ticket,omitempty"`
	Message string      `json:"message,omitempty"`
}

// Gateway is the synchronous venue facade. Implementations must classify
// every non-success outcome via Classify so callers can apply the retry
// policy without knowing venue return codes.
type Gateway interface {
	AccountSnapshot(ctx context.Context) (AccountSnapshot, error)
	SymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error)
	SelectSymbol(ctx context.Context, symbol string) error
	OpenPositions(ctx context.Context, symbol, strategyTag string) ([]Position, error)
	Tick(ctx context.Context, symbol string) (Tick, error)
	Rates(ctx context.Context, symbol string, count int) ([]Candle, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderOutcome, error)
	ClosePosition(ctx context.Context, req CloseRequest) (OrderOutcome, error)
	Reconnect(ctx context.Context) error
}
