package events

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/vadiminshakov/marti-governor/internal/domain"
)

// OutcomesTable layout of the reconciled outcome table written by the reconciliation pipeline.
const OutcomesTable = `
CREATE TABLE IF NOT EXISTS outcomes (
	agent            TEXT NOT NULL,
	strategy_class   TEXT,
	regime           TEXT,
	horizon_hours    INTEGER NOT NULL,
	realized_pnl_bps REAL,
	expected_pnl_bps REAL,
	abs_error_bps    REAL,
	ts               TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outcomes_horizon_ts ON outcomes(horizon_hours, ts);
`

const selectWindow = `
SELECT agent, strategy_class, regime, horizon_hours, realized_pnl_bps, expected_pnl_bps, abs_error_bps, ts
FROM outcomes
WHERE horizon_hours = ?
ORDER BY ts DESC, rowid DESC
LIMIT ?`

const countOtherHorizons = `SELECT COUNT(*) FROM outcomes WHERE horizon_hours != ?`

// SQLiteReader reads outcome records from a SQLite database it does not own.
type SQLiteReader struct {
	l    *zap.Logger
	db   *sql.DB
	path string
	opts Options
}

// NewSQLiteReader opens the database at dbPath for reading.
func NewSQLiteReader(l *zap.Logger, dbPath string, opts Options) (*SQLiteReader, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, domain.NewPersistenceError(dbPath, errors.Wrap(err, "open outcome db"))
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, domain.NewPersistenceError(dbPath, errors.Wrap(err, "pragma busy_timeout"))
	}
	if _, err := db.Exec("PRAGMA query_only=ON"); err != nil {
		_ = db.Close()
		return nil, domain.NewPersistenceError(dbPath, errors.Wrap(err, "pragma query_only"))
	}

	return &SQLiteReader{l: l, db: db, path: dbPath, opts: opts.withDefaults()}, nil
}

// Close closes the underlying database connection.
func (r *SQLiteReader) Close() error {
	return r.db.Close()
}

// ReadOutcomes returns the window in chronological order.
func (r *SQLiteReader) ReadOutcomes(ctx context.Context) ([]domain.OutcomeRecord, domain.ReadStats, error) {
	var stats domain.ReadStats

	if err := r.db.QueryRowContext(ctx, countOtherHorizons, r.opts.HorizonHours).Scan(&stats.Filtered); err != nil {
		return nil, stats, domain.NewPersistenceError(r.path, errors.Wrap(err, "count outcomes"))
	}

	rows, err := r.db.QueryContext(ctx, selectWindow, r.opts.HorizonHours, r.opts.Limit)
	if err != nil {
		return nil, stats, domain.NewPersistenceError(r.path, errors.Wrap(err, "query outcomes"))
	}
	defer rows.Close()

	var records []domain.OutcomeRecord
	for rows.Next() {
		var (
			agent                      string
			class, regime              sql.NullString
			horizon                    int
			realized, expected, absErr sql.NullFloat64
			ts                         string
		)
		if err := rows.Scan(&agent, &class, &regime, &horizon, &realized, &expected, &absErr, &ts); err != nil {
			return nil, stats, domain.NewPersistenceError(r.path, errors.Wrap(err, "scan outcome"))
		}

		rec, err := toRecord(agent, class, regime, horizon, realized, expected, absErr, ts)
		if err != nil {
			stats.Skipped++
			r.l.Warn("skip malformed outcome row", zap.String("agent", agent), zap.String("ts", ts), zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, stats, domain.NewPersistenceError(r.path, errors.Wrap(err, "iterate outcomes"))
	}

	// newest first from the query
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	records = Window(records, 0)
	stats.Read = len(records)

	return records, stats, nil
}

func toRecord(
	agent string,
	class, regime sql.NullString,
	horizon int,
	realized, expected, absErr sql.NullFloat64,
	ts string,
) (domain.OutcomeRecord, error) {
	if !realized.Valid {
		return domain.OutcomeRecord{}, errors.Wrap(domain.ErrMalformedRecord, "realized_pnl_bps is null")
	}
	if !absErr.Valid {
		return domain.OutcomeRecord{}, errors.Wrap(domain.ErrMalformedRecord, "abs_error_bps is null")
	}

	at, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return domain.OutcomeRecord{}, errors.Wrap(domain.ErrMalformedRecord, err.Error())
	}

	rec := domain.OutcomeRecord{
		Agent:          agent,
		StrategyClass:  class.String,
		Regime:         domain.Regime(regime.String),
		HorizonHours:   horizon,
		RealizedPnLBps: realized.Float64,
		ExpectedPnLBps: expected.Float64,
		AbsErrorBps:    absErr.Float64,
		Timestamp:      at,
	}.Normalize()

	if err := rec.Validate(); err != nil {
		return domain.OutcomeRecord{}, err
	}

	return rec, nil
}
