package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/marti-governor/internal/domain"
	"github.com/vadiminshakov/marti-governor/pkg/retrier"
)

type fakeAllocations struct {
	records []domain.AllocationRecord
	err     error
}

func (f fakeAllocations) After(index uint64) ([]domain.AllocationRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.AllocationRecord
	for _, r := range f.records {
		if r.Index > index {
			out = append(out, r)
		}
	}
	return out, nil
}

// flakyAllocations fails the first failures calls.
type flakyAllocations struct {
	fakeAllocations
	failures int
	calls    *int
}

func (f flakyAllocations) After(index uint64) ([]domain.AllocationRecord, error) {
	*f.calls++
	if *f.calls <= f.failures {
		return nil, errors.New("wal segment rotating")
	}
	return f.fakeAllocations.After(index)
}

type fakeReports struct {
	report *domain.Report
	err    error
}

func (f fakeReports) Latest() (*domain.Report, error) {
	return f.report, f.err
}

type fakeKillList domain.KillList

func (f fakeKillList) Load() (domain.KillList, error) {
	return domain.KillList(f), nil
}

func allocationHistory() fakeAllocations {
	at := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	return fakeAllocations{records: []domain.AllocationRecord{
		{Index: 1, Snapshot: domain.AllocationSnapshot{CycleID: "c1", Timestamp: at, Weights: map[string]float64{"a": 1}}},
		{Index: 2, Snapshot: domain.AllocationSnapshot{CycleID: "c2", Timestamp: at.Add(time.Hour), Weights: map[string]float64{"a": 0.5, "b": 0.5}}},
	}}
}

func stream(t *testing.T, s *Server, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, target, nil).WithContext(ctx)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := NewServer(zap.NewNop(), ":0", nil, nil, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestLatestReport(t *testing.T) {
	tests := []struct {
		name    string
		reports reportReader
		code    int
	}{
		{"no store", nil, http.StatusServiceUnavailable},
		{"no cycle yet", fakeReports{}, http.StatusNotFound},
		{"store failure", fakeReports{err: errors.New("boom")}, http.StatusInternalServerError},
		{"committed", fakeReports{report: &domain.Report{CycleID: "c7"}}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(zap.NewNop(), ":0", nil, tt.reports, nil)
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/report/latest", nil))
			assert.Equal(t, tt.code, rec.Code)

			if tt.code == http.StatusOK {
				var got domain.Report
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
				assert.Equal(t, "c7", got.CycleID)
			}
		})
	}
}

func TestLatestReport_MethodNotAllowed(t *testing.T) {
	s := NewServer(zap.NewNop(), ":0", nil, fakeReports{}, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/report/latest", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestKillList(t *testing.T) {
	list := fakeKillList{"momentum": {Status: domain.StrategyDisabled, Reason: "hit rate 0.2 < 0.30"}}
	s := NewServer(zap.NewNop(), ":0", nil, nil, list)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/killlist", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got domain.KillList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Disabled("momentum"))
}

func TestAllocationStream(t *testing.T) {
	s := NewServer(zap.NewNop(), ":0", allocationHistory(), nil, nil)

	rec := stream(t, s, "/allocations/stream", nil)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Equal(t, 2, strings.Count(body, "event: allocation\n"))
	assert.Contains(t, body, "id: 1\n")
	assert.Contains(t, body, "id: 2\n")
	assert.Contains(t, body, `"cycle_id":"c2"`)
}

func TestAllocationStream_Resume(t *testing.T) {
	s := NewServer(zap.NewNop(), ":0", allocationHistory(), nil, nil)

	byQuery := stream(t, s, "/allocations/stream?after=1", nil).Body.String()
	assert.NotContains(t, byQuery, `"cycle_id":"c1"`)
	assert.Contains(t, byQuery, `"cycle_id":"c2"`)

	byHeader := stream(t, s, "/allocations/stream", http.Header{"Last-Event-Id": []string{"2"}}).Body.String()
	assert.NotContains(t, byHeader, "event: allocation")

	bad := stream(t, s, "/allocations/stream?after=last", nil)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestAllocationStream_Unavailable(t *testing.T) {
	s := NewServer(zap.NewNop(), ":0", nil, nil, nil)
	rec := stream(t, s, "/allocations/stream", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	failing := NewServer(zap.NewNop(), ":0", fakeAllocations{err: errors.New("wal closed")}, nil, nil)
	rec = stream(t, failing, "/allocations/stream", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAllocationStream_RetriesInitialLoad(t *testing.T) {
	calls := 0
	s := NewServer(zap.NewNop(), ":0", flakyAllocations{fakeAllocations: allocationHistory(), failures: 1, calls: &calls}, nil, nil)
	s.retry = retrier.New(retrier.WithInitialInterval(time.Millisecond), retrier.WithMaxRetries(2))
	s.pollInterval = time.Hour

	rec := stream(t, s, "/allocations/stream", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, strings.Count(rec.Body.String(), "event: allocation\n"))
	assert.Equal(t, 2, calls)
}
