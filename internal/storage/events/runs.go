package events

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/vadiminshakov/marti-governor/internal/domain"
)

// RunReader reads agent run telemetry from a JSON lines file.
type RunReader struct {
	l      *zap.Logger
	path   string
	limit  int
	schema *jsonschema.Schema
}

// NewRunReader creates a telemetry reader keeping the most recent limit events.
func NewRunReader(l *zap.Logger, path string, limit int) (*RunReader, error) {
	schema, err := compileSchema(runSchemaURL, runSchema)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultWindowLimit
	}

	return &RunReader{l: l, path: path, limit: limit, schema: schema}, nil
}

// ReadRuns returns run events in chronological order. Without a path there is no telemetry.
func (r *RunReader) ReadRuns(ctx context.Context) ([]domain.RunEvent, domain.ReadStats, error) {
	var (
		runs  []domain.RunEvent
		stats domain.ReadStats
	)
	if r.path == "" {
		return runs, stats, nil
	}

	err := scanLines(ctx, r.path, func(line int, raw []byte, err error) {
		var ev domain.RunEvent
		if err == nil {
			ev, err = r.decode(raw)
		}
		if err != nil {
			stats.Skipped++
			r.l.Warn("skip malformed run event", zap.String("path", r.path), zap.Int("line", line), zap.Error(err))
			return
		}
		runs = append(runs, ev)
	})
	if err != nil {
		return nil, stats, err
	}

	sort.SliceStable(runs, func(i, j int) bool { return runs[i].Timestamp.Before(runs[j].Timestamp) })
	if len(runs) > r.limit {
		runs = runs[len(runs)-r.limit:]
	}
	stats.Read = len(runs)

	return runs, stats, nil
}

func (r *RunReader) decode(raw []byte) (domain.RunEvent, error) {
	if err := validateAgainstSchema(r.schema, raw); err != nil {
		return domain.RunEvent{}, errors.Wrap(domain.ErrMalformedRecord, err.Error())
	}

	var ev domain.RunEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return domain.RunEvent{}, errors.Wrap(domain.ErrMalformedRecord, err.Error())
	}
	ev.Agent = strings.TrimSpace(ev.Agent)

	if err := ev.Validate(); err != nil {
		return domain.RunEvent{}, err
	}

	return ev, nil
}
