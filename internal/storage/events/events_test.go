package events

import (
	"bufio"
	"context"
	"database/sql"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/marti-governor/internal/domain"
)

func writeLines(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "outcomes.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func TestJSONLReader_SkipsMalformedAndFiltersHorizon(t *testing.T) {
	path := writeLines(t,
		`{"agent":"alpha","strategy_class":"momentum","regime":"trending","horizon_hours":24,"realized_pnl_bps":12.5,"expected_pnl_bps":10,"abs_error_bps":2.5,"ts":"2026-07-01T02:00:00Z"}`,
		`not json at all`,
		`{"agent":"","horizon_hours":24,"realized_pnl_bps":1,"abs_error_bps":1,"ts":"2026-07-01T00:00:00Z"}`,
		`{"agent":"beta","horizon_hours":24,"realized_pnl_bps":1,"abs_error_bps":-3,"ts":"2026-07-01T00:00:00Z"}`,
		`{"agent":"beta","horizon_hours":24,"realized_pnl_bps":1,"abs_error_bps":3,"ts":"yesterday"}`,
		``,
		`{"agent":"beta","horizon_hours":4,"realized_pnl_bps":1,"abs_error_bps":3,"ts":"2026-07-01T00:00:00Z"}`,
		`{"agent":"beta","horizon_hours":24,"realized_pnl_bps":-4,"abs_error_bps":3,"ts":"2026-07-01T01:00:00Z"}`,
	)

	reader, err := NewJSONLReader(zap.NewNop(), path, Options{})
	require.NoError(t, err)

	records, stats, err := reader.ReadOutcomes(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.ReadStats{Read: 2, Skipped: 4, Filtered: 1}, stats)
	require.Len(t, records, 2)

	assert.Equal(t, "beta", records[0].Agent)
	assert.Equal(t, domain.UnclassifiedStrategy, records[0].StrategyClass)
	assert.Equal(t, domain.RegimeUnknown, records[0].Regime)
	assert.Zero(t, records[0].ExpectedPnLBps)

	assert.Equal(t, "alpha", records[1].Agent)
	assert.Equal(t, domain.RegimeTrending, records[1].Regime)
	assert.Equal(t, 2.5, records[1].ForecastGapBps())
}

func TestJSONLReader_SkipsOversizedLine(t *testing.T) {
	good := `{"agent":"alpha","horizon_hours":24,"realized_pnl_bps":1,"abs_error_bps":1,"ts":"2026-07-01T00:00:00Z"}`
	junk := `{"agent":"` + strings.Repeat("x", 2<<20) + `"}`
	path := writeLines(t, good, junk, strings.Replace(good, "alpha", "beta", 1))

	reader, err := NewJSONLReader(zap.NewNop(), path, Options{})
	require.NoError(t, err)

	records, stats, err := reader.ReadOutcomes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ReadStats{Read: 2, Skipped: 1}, stats)
	require.Len(t, records, 2)
	assert.Equal(t, "alpha", records[0].Agent)
	assert.Equal(t, "beta", records[1].Agent)
}

func TestRunReader_SkipsOversizedTrailingLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.jsonl")
	payload := `{"agent":"alpha","latency_ms":5,"ts":"2026-07-01T00:00:00Z"}` + "\n" + strings.Repeat("y", maxLineSize+10)
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o644))

	reader, err := NewRunReader(zap.NewNop(), path, 0)
	require.NoError(t, err)

	runs, stats, err := reader.ReadRuns(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ReadStats{Read: 1, Skipped: 1}, stats)
	require.Len(t, runs, 1)
}

func TestReadLine_ExactLimitIsKept(t *testing.T) {
	line := strings.Repeat("z", maxLineSize)
	r := bufio.NewReaderSize(strings.NewReader(line+"\nnext"), 4096)

	buf, err := readLine(r, nil)
	require.NoError(t, err)
	assert.Len(t, buf, maxLineSize+1)

	buf, err = readLine(r, buf[:0])
	require.NoError(t, err)
	assert.Equal(t, "next", string(buf))

	_, err = readLine(r, buf[:0])
	assert.ErrorIs(t, err, io.EOF)
}

func TestJSONLReader_MissingFile(t *testing.T) {
	reader, err := NewJSONLReader(zap.NewNop(), filepath.Join(t.TempDir(), "absent.jsonl"), Options{})
	require.NoError(t, err)

	records, stats, err := reader.ReadOutcomes(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, domain.ReadStats{}, stats)
}

func TestJSONLReader_UnreadableSource(t *testing.T) {
	reader, err := NewJSONLReader(zap.NewNop(), t.TempDir(), Options{})
	require.NoError(t, err)

	_, _, err = reader.ReadOutcomes(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPersistence)
}

func TestJSONLReader_WindowLimit(t *testing.T) {
	path := writeLines(t,
		`{"agent":"a","horizon_hours":24,"realized_pnl_bps":3,"abs_error_bps":0,"ts":"2026-07-01T03:00:00Z"}`,
		`{"agent":"a","horizon_hours":24,"realized_pnl_bps":1,"abs_error_bps":0,"ts":"2026-07-01T01:00:00Z"}`,
		`{"agent":"a","horizon_hours":24,"realized_pnl_bps":4,"abs_error_bps":0,"ts":"2026-07-01T04:00:00Z"}`,
		`{"agent":"a","horizon_hours":24,"realized_pnl_bps":2,"abs_error_bps":0,"ts":"2026-07-01T02:00:00Z"}`,
	)

	reader, err := NewJSONLReader(zap.NewNop(), path, Options{Limit: 2})
	require.NoError(t, err)

	records, stats, err := reader.ReadOutcomes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Read)
	require.Len(t, records, 2)
	assert.Equal(t, 3.0, records[0].RealizedPnLBps)
	assert.Equal(t, 4.0, records[1].RealizedPnLBps)
}

func TestWindow_StableForEqualTimestamps(t *testing.T) {
	at := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	records := []domain.OutcomeRecord{
		{Agent: "first", Timestamp: at},
		{Agent: "second", Timestamp: at},
		{Agent: "early", Timestamp: at.Add(-time.Hour)},
	}

	got := Window(records, 0)
	require.Len(t, got, 3)
	assert.Equal(t, "early", got[0].Agent)
	assert.Equal(t, "first", got[1].Agent)
	assert.Equal(t, "second", got[2].Agent)
}

func TestRunReader(t *testing.T) {
	path := writeLines(t,
		`{"agent":"alpha","run_id":"r2","latency_ms":900,"errors":1,"cost_usd":0.02,"ts":"2026-07-01T02:00:00Z"}`,
		`{"agent":"alpha","latency_ms":-1,"ts":"2026-07-01T02:00:00Z"}`,
		`{"latency_ms":10,"ts":"2026-07-01T02:00:00Z"}`,
		`{"agent":"gamma","ts":"2026-07-01T01:00:00Z"}`,
	)

	reader, err := NewRunReader(zap.NewNop(), path, 0)
	require.NoError(t, err)

	runs, stats, err := reader.ReadRuns(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ReadStats{Read: 2, Skipped: 2}, stats)
	require.Len(t, runs, 2)
	assert.Equal(t, "gamma", runs[0].Agent)
	assert.Equal(t, "alpha", runs[1].Agent)
	assert.Equal(t, 1, runs[1].Errors)
	assert.Equal(t, 900.0, runs[1].LatencyMs)
}

func TestRunReader_NoPath(t *testing.T) {
	reader, err := NewRunReader(zap.NewNop(), "", 10)
	require.NoError(t, err)

	runs, stats, err := reader.ReadRuns(context.Background())
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.Zero(t, stats.Read)
}

func TestSQLiteReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outcomes.db")

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(OutcomesTable)
	require.NoError(t, err)

	rows := []struct {
		agent    string
		class    any
		regime   any
		horizon  int
		realized any
		expected any
		absErr   any
		ts       string
	}{
		{"alpha", "momentum", "ranging", 24, 10.0, 8.0, 2.0, "2026-07-01T01:00:00Z"},
		{"alpha", nil, nil, 24, -5.0, nil, 5.0, "2026-07-01T02:00:00Z"},
		{"alpha", "momentum", "ranging", 24, nil, 1.0, 1.0, "2026-07-01T03:00:00Z"},
		{"alpha", "momentum", "ranging", 24, 1.0, 1.0, 1.0, "garbage"},
		{"beta", "carry", "ranging", 4, 1.0, 1.0, 1.0, "2026-07-01T04:00:00Z"},
		{"beta", "carry", "ranging", 24, 7.0, 6.0, 1.0, "2026-07-01T00:30:00Z"},
	}
	for _, r := range rows {
		_, err := db.Exec(
			`INSERT INTO outcomes (agent, strategy_class, regime, horizon_hours, realized_pnl_bps, expected_pnl_bps, abs_error_bps, ts)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.agent, r.class, r.regime, r.horizon, r.realized, r.expected, r.absErr, r.ts,
		)
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	reader, err := NewSQLiteReader(zap.NewNop(), path, Options{})
	require.NoError(t, err)
	defer reader.Close()

	records, stats, err := reader.ReadOutcomes(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.ReadStats{Read: 3, Skipped: 2, Filtered: 1}, stats)
	require.Len(t, records, 3)
	assert.Equal(t, "beta", records[0].Agent)
	assert.Equal(t, domain.RegimeRanging, records[1].Regime)
	assert.Equal(t, domain.UnclassifiedStrategy, records[2].StrategyClass)
	assert.Equal(t, domain.RegimeUnknown, records[2].Regime)
	assert.Equal(t, -5.0, records[2].ForecastGapBps())
}
