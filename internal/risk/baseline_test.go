package risk

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windrose-io/windrose/internal/fsatomic"
	"github.com/windrose-io/windrose/internal/venue"
)

func TestBaselineStoreAnchorsOnFirstRun(t *testing.T) {
	dir := t.TempDir()
	store := NewBaselineStore(dir, 12345, zerolog.Nop())

	baseline, err := store.LoadOrInit(12345, 1500.25)
	require.NoError(t, err)
	assert.Equal(t, 1500.25, baseline)
	assert.Equal(t, filepath.Join(dir, "baseline_equity_12345.json"), store.Path())

	// Second load returns the anchored value, not the fresh equity.
	again, err := store.LoadOrInit(12345, 9999)
	require.NoError(t, err)
	assert.Equal(t, 1500.25, again)
}

func TestBaselineStoreRecoversFromCorruptRecord(t *testing.T) {
	dir := t.TempDir()
	store := NewBaselineStore(dir, 7, zerolog.Nop())

	require.NoError(t, fsatomic.WriteJSON(store.Path(), baselineRecord{Account: 7, Baseline: 0}))

	baseline, err := store.LoadOrInit(7, 2000)
	require.NoError(t, err)
	assert.Equal(t, 2000.0, baseline)
}

func TestBaselineStoreReset(t *testing.T) {
	dir := t.TempDir()
	store := NewBaselineStore(dir, 42, zerolog.Nop())

	_, err := store.LoadOrInit(42, 1000)
	require.NoError(t, err)
	require.NoError(t, store.Reset())

	// Reset on a missing record is not an error.
	require.NoError(t, store.Reset())

	baseline, err := store.LoadOrInit(42, 1234)
	require.NoError(t, err)
	assert.Equal(t, 1234.0, baseline)
}

func TestSuggestedLot(t *testing.T) {
	info := venue.SymbolInfo{
		Symbol:        "BTCUSD",
		MarginInitial: 100,
		LotMin:        0.01,
		LotMax:        5,
		LotStep:       0.01,
	}

	// 1% of 10000 free margin buys 1 lot at 100 margin per lot.
	assert.InDelta(t, 1.0, SuggestedLot(10000, 1.0, info), 1e-9)

	// Snapped down to the lot step.
	assert.InDelta(t, 0.15, SuggestedLot(1550, 1.0, info), 1e-9)

	// Clamped into [min, max].
	assert.Equal(t, 0.01, SuggestedLot(10, 1.0, info))
	assert.Equal(t, 5.0, SuggestedLot(10_000_000, 1.0, info))

	// Degenerate inputs fall back to the minimum lot.
	assert.Equal(t, 0.01, SuggestedLot(0, 1.0, info))
	assert.Equal(t, 0.01, SuggestedLot(10000, 0, info))
}
