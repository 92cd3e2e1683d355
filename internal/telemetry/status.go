package telemetry

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/windrose-io/windrose/internal/fsatomic"
	"github.com/windrose-io/windrose/internal/window"
)

// StatusRecord is the per-tick snapshot published for external viewers. It
// is rewritten whole every tick; readers never see a partial record.
type StatusRecord struct {
	UpdatedAt      time.Time     `json:"updated_at"`
	Account        int64         `json:"account"`
	Symbol         string        `json:"symbol"`
	Window         window.Status `json:"window"`
	Balance        float64       `json:"balance"`
	Equity         float64       `json:"equity"`
	FloatingProfit float64       `json:"floating_profit"`
	OpenPositions  int           `json:"open_positions"`
	Baseline       float64       `json:"baseline_equity"`
	DailyProfit    float64       `json:"daily_closed_profit"`
	MaxDDHits      int           `json:"max_dd_hits"`
	Halted         bool          `json:"halted"`
	HaltUntil      *time.Time    `json:"halt_until,omitempty"`
	SuggestedLot   float64       `json:"suggested_lot"`
}

// StatusWriter publishes the status record atomically.
type StatusWriter struct {
	path string
}

// NewStatusWriter creates a writer for the per-account status file.
func NewStatusWriter(dir string, account int64) *StatusWriter {
	return &StatusWriter{path: filepath.Join(dir, fmt.Sprintf("window_status_%d.json", account))}
}

// Path returns the status file location.
func (w *StatusWriter) Path() string {
	return w.path
}

// Write replaces the status record.
func (w *StatusWriter) Write(rec StatusRecord) error {
	return fsatomic.WriteJSON(w.path, rec)
}

// ReadStatus loads a status record previously published by a Write. Used by
// the status command to show what a viewer sees.
func ReadStatus(dir string, account int64) (StatusRecord, error) {
	var rec StatusRecord
	path := filepath.Join(dir, fmt.Sprintf("window_status_%d.json", account))
	if err := fsatomic.ReadJSON(path, &rec); err != nil {
		return StatusRecord{}, fmt.Errorf("failed to read status record: %w", err)
	}
	return rec, nil
}
