// Package telemetry owns the durable per-account records: the append-only
// trade log, the window status file, the trading report and the Prometheus
// metrics. File writes go through fsatomic where a viewer could otherwise
// observe a torn record; the append-only CSVs rely on O_APPEND instead.
package telemetry

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TradeLog records every order-affecting event as an audit row.
type TradeLog interface {
	Append(action, status, details string) error
	DailyClosedProfit(day time.Time) (float64, error)
	Close() error
}

// CSVTradeLog is the file-backed trade log. Rows are
// timestamp,action,status,details; the details of a successful close carry
// the realized profit, which DailyClosedProfit recovers.
type CSVTradeLog struct {
	mu   sync.Mutex
	path string
	file *os.File
	w    *csv.Writer
	log  zerolog.Logger
}

const tradeLogTimeLayout = "2006-01-02 15:04:05"

// OpenTradeLog opens or creates the per-account trade log under dir, writing
// the header row only when the file is new.
func OpenTradeLog(dir string, account int64, log zerolog.Logger) (*CSVTradeLog, error) {
	path := filepath.Join(dir, fmt.Sprintf("trade_log_%d.csv", account))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create telemetry dir: %w", err)
	}

	info, statErr := os.Stat(path)
	fresh := os.IsNotExist(statErr) || (statErr == nil && info.Size() == 0)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open trade log: %w", err)
	}

	t := &CSVTradeLog{path: path, file: f, w: csv.NewWriter(f), log: log}
	if fresh {
		if err := t.w.Write([]string{"timestamp", "action", "status", "details"}); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write trade log header: %w", err)
		}
		t.w.Flush()
		if err := t.w.Error(); err != nil {
			f.Close()
			return nil, err
		}
	}
	return t, nil
}

// Path returns the log's location.
func (t *CSVTradeLog) Path() string {
	return t.path
}

// Append writes one audit row and flushes it to the file.
func (t *CSVTradeLog) Append(action, status, details string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	row := []string{time.Now().Format(tradeLogTimeLayout), action, status, details}
	if err := t.w.Write(row); err != nil {
		return fmt.Errorf("failed to append trade log row: %w", err)
	}
	t.w.Flush()
	return t.w.Error()
}

// DailyClosedProfit sums the realized profit of successful closes logged on
// day. Close rows carry "profit=$<amount>" in their details.
func (t *CSVTradeLog) DailyClosedProfit(day time.Time) (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to open trade log: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return 0, fmt.Errorf("failed to read trade log: %w", err)
	}

	prefix := day.Format("2006-01-02")
	var total float64
	for _, row := range rows {
		if len(row) < 4 {
			continue
		}
		if !strings.HasPrefix(row[0], prefix) {
			continue
		}
		if row[1] != ActionClose || row[2] != StatusSuccess {
			continue
		}
		if p, ok := parseProfit(row[3]); ok {
			total += p
		}
	}
	return total, nil
}

// Close flushes and closes the underlying file.
func (t *CSVTradeLog) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.w.Flush()
	if err := t.w.Error(); err != nil {
		t.file.Close()
		return err
	}
	return t.file.Close()
}

// Audit row vocabulary. Kept small so the log stays grep-able.
const (
	ActionOpen       = "OPEN"
	ActionClose      = "CLOSE"
	ActionFlatten    = "FLATTEN"
	ActionHalt       = "HALT"
	ActionSpreadGate = "SPREAD_GATE"

	StatusSuccess  = "SUCCESS"
	StatusRejected = "REJECTED"
	StatusFailed   = "FAILED"
)

// ProfitDetail formats a close row's details so DailyClosedProfit can
// recover the realized amount.
func ProfitDetail(ticket int64, profit float64) string {
	return fmt.Sprintf("ticket=%d profit=$%.2f", ticket, profit)
}

func parseProfit(details string) (float64, bool) {
	idx := strings.Index(details, "profit=$")
	if idx < 0 {
		return 0, false
	}
	rest := details[idx+len("profit=$"):]
	if end := strings.IndexByte(rest, ' '); end >= 0 {
		rest = rest[:end]
	}
	var p float64
	if _, err := fmt.Sscanf(rest, "%f", &p); err != nil {
		return 0, false
	}
	return p, true
}
