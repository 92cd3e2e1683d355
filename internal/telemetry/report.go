package telemetry

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// ReportRow is one account snapshot appended to the trading report so the
// equity curve and exposure are reconstructable offline.
type ReportRow struct {
	Time           time.Time
	Balance        float64
	Equity         float64
	Margin         float64
	OpenPositions  int
	FloatingProfit float64
	DailyProfit    float64
}

// ReportAppender maintains the append-only per-account trading report.
type ReportAppender struct {
	mu   sync.Mutex
	path string
}

// NewReportAppender creates an appender for the per-account report file.
func NewReportAppender(dir string, account int64) *ReportAppender {
	return &ReportAppender{path: filepath.Join(dir, fmt.Sprintf("trading_report_%d.csv", account))}
}

// Path returns the report file location.
func (r *ReportAppender) Path() string {
	return r.path
}

// Append writes one report row, creating the file with a header first if
// needed.
func (r *ReportAppender) Append(row ReportRow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return fmt.Errorf("failed to create report dir: %w", err)
	}

	info, statErr := os.Stat(r.path)
	fresh := os.IsNotExist(statErr) || (statErr == nil && info.Size() == 0)

	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open report: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if fresh {
		if err := w.Write([]string{"timestamp", "balance", "equity", "margin", "open_positions", "floating_profit", "daily_profit"}); err != nil {
			return err
		}
	}
	rec := []string{
		row.Time.Format(tradeLogTimeLayout),
		strconv.FormatFloat(row.Balance, 'f', 2, 64),
		strconv.FormatFloat(row.Equity, 'f', 2, 64),
		strconv.FormatFloat(row.Margin, 'f', 2, 64),
		strconv.Itoa(row.OpenPositions),
		strconv.FormatFloat(row.FloatingProfit, 'f', 2, 64),
		strconv.FormatFloat(row.DailyProfit, 'f', 2, 64),
	}
	if err := w.Write(rec); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}
