package risk

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/windrose-io/windrose/internal/fsatomic"
)

// baselineRecord is the durable on-disk form of the baseline anchor.
type baselineRecord struct {
	Account    int64     `json:"account"`
	Baseline   float64   `json:"baseline_equity"`
	AnchoredAt time.Time `json:"anchored_at"`
}

// BaselineStore persists the per-account baseline equity anchor. The anchor
// survives restarts so the baseline-target rule measures real account growth
// instead of resetting every session.
type BaselineStore struct {
	path string
	log  zerolog.Logger
}

// NewBaselineStore creates a store rooted at dir for the given account.
func NewBaselineStore(dir string, account int64, log zerolog.Logger) *BaselineStore {
	return &BaselineStore{
		path: filepath.Join(dir, fmt.Sprintf("baseline_equity_%d.json", account)),
		log:  log,
	}
}

// Path returns the record's location, for status reporting.
func (s *BaselineStore) Path() string {
	return s.path
}

// LoadOrInit returns the stored baseline, or anchors currentEquity as the new
// baseline when no record exists yet.
func (s *BaselineStore) LoadOrInit(account int64, currentEquity float64) (float64, error) {
	var rec baselineRecord
	err := fsatomic.ReadJSON(s.path, &rec)
	switch {
	case err == nil:
		if rec.Baseline > 0 {
			s.log.Info().Float64("baseline", rec.Baseline).Msg("baseline equity loaded")
			return rec.Baseline, nil
		}
		// Corrupt or zeroed record, re-anchor.
		s.log.Warn().Str("path", s.path).Msg("baseline record invalid, re-anchoring")
	case os.IsNotExist(err):
		// First run for this account.
	default:
		return 0, fmt.Errorf("failed to read baseline record: %w", err)
	}

	if err := s.Save(account, currentEquity); err != nil {
		return 0, err
	}
	s.log.Info().Float64("baseline", currentEquity).Msg("baseline equity anchored")
	return currentEquity, nil
}

// Save atomically replaces the baseline anchor.
func (s *BaselineStore) Save(account int64, equity float64) error {
	rec := baselineRecord{
		Account:    account,
		Baseline:   equity,
		AnchoredAt: time.Now(),
	}
	if err := fsatomic.WriteJSON(s.path, rec); err != nil {
		return fmt.Errorf("failed to write baseline record: %w", err)
	}
	return nil
}

// Reset removes the stored anchor so the next run re-anchors at the then
// current equity. Used by the reset-baseline command.
func (s *BaselineStore) Reset() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove baseline record: %w", err)
	}
	return nil
}
