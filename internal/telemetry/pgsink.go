package telemetry

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

// PGAuditSink mirrors trade log rows into Postgres so audits across several
// instances can be queried in one place. The file log stays authoritative;
// a sink failure is logged and swallowed, never surfaced to the trade path.
type PGAuditSink struct {
	db      *sqlx.DB
	account int64
	log     zerolog.Logger
}

const auditSchema = `
CREATE TABLE IF NOT EXISTS trade_audit (
	id       BIGSERIAL PRIMARY KEY,
	account  BIGINT NOT NULL,
	ts       TIMESTAMPTZ NOT NULL,
	action   TEXT NOT NULL,
	status   TEXT NOT NULL,
	details  TEXT NOT NULL
)`

// NewPGAuditSink connects to dsn and ensures the audit table exists.
func NewPGAuditSink(dsn string, account int64, log zerolog.Logger) (*PGAuditSink, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect audit sink: %w", err)
	}
	if _, err := db.Exec(auditSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure audit table: %w", err)
	}
	return &PGAuditSink{db: db, account: account, log: log}, nil
}

// Append inserts one audit row. Errors are absorbed after logging.
func (s *PGAuditSink) Append(action, status, details string) error {
	_, err := s.db.Exec(
		`INSERT INTO trade_audit (account, ts, action, status, details) VALUES ($1, $2, $3, $4, $5)`,
		s.account, time.Now(), action, status, details,
	)
	if err != nil {
		s.log.Warn().Err(err).Msg("audit sink insert failed")
	}
	return nil
}

// DailyClosedProfit is unsupported on the sink; the file log is the source
// of truth for the daily-offset rule.
func (s *PGAuditSink) DailyClosedProfit(time.Time) (float64, error) {
	return 0, fmt.Errorf("audit sink does not compute daily profit")
}

// Close releases the connection pool.
func (s *PGAuditSink) Close() error {
	return s.db.Close()
}

// MultiLog fans Append out to several trade logs. DailyClosedProfit comes
// from the first log only, which by construction is the file log.
type MultiLog struct {
	logs []TradeLog
}

// NewMultiLog combines primary with any extra sinks.
func NewMultiLog(logs ...TradeLog) *MultiLog {
	return &MultiLog{logs: logs}
}

func (m *MultiLog) Append(action, status, details string) error {
	var first error
	for _, l := range m.logs {
		if err := l.Append(action, status, details); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m *MultiLog) DailyClosedProfit(day time.Time) (float64, error) {
	if len(m.logs) == 0 {
		return 0, nil
	}
	return m.logs[0].DailyClosedProfit(day)
}

func (m *MultiLog) Close() error {
	var first error
	for _, l := range m.logs {
		if err := l.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
