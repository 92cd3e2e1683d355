package risk

import (
	"math"

	"github.com/windrose-io/windrose/internal/venue"
)

// SuggestedLot sizes a position at riskPct of free margin, snapped down to
// the symbol's lot step and clamped into [LotMin, LotMax]. Advisory only:
// the configured lot size still drives actual orders.
func SuggestedLot(marginFree, riskPct float64, info venue.SymbolInfo) float64 {
	if marginFree <= 0 || riskPct <= 0 || info.MarginInitial <= 0 {
		return info.LotMin
	}
	lot := marginFree * riskPct / 100 / info.MarginInitial
	if info.LotStep > 0 {
		lot = math.Floor(lot/info.LotStep) * info.LotStep
	}
	if lot < info.LotMin {
		return info.LotMin
	}
	if info.LotMax > 0 && lot > info.LotMax {
		return info.LotMax
	}
	return lot
}
