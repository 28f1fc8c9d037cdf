// Package events reads the reconciled outcome log and agent run telemetry.
// Malformed records are skipped one by one, and only an unreadable source is an error.
package events

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"sort"

	"github.com/pkg/errors"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/vadiminshakov/marti-governor/internal/domain"
)

const (
	// DefaultHorizonHours evaluation horizon used by the engine.
	DefaultHorizonHours = 24
	// DefaultWindowLimit number of most recent records read per cycle.
	DefaultWindowLimit = 8000

	maxLineSize = 1 << 20
)

// Options window selection shared by every reader.
type Options struct {
	HorizonHours int
	Limit        int
}

func (o Options) withDefaults() Options {
	if o.HorizonHours <= 0 {
		o.HorizonHours = DefaultHorizonHours
	}
	if o.Limit <= 0 {
		o.Limit = DefaultWindowLimit
	}
	return o
}

// JSONLReader reads outcome records from an append-only JSON lines file.
type JSONLReader struct {
	l      *zap.Logger
	path   string
	opts   Options
	schema *jsonschema.Schema
}

// NewJSONLReader creates a reader for path.
func NewJSONLReader(l *zap.Logger, path string, opts Options) (*JSONLReader, error) {
	schema, err := compileSchema(outcomeSchemaURL, outcomeSchema)
	if err != nil {
		return nil, err
	}

	return &JSONLReader{l: l, path: path, opts: opts.withDefaults(), schema: schema}, nil
}

// ReadOutcomes returns the window in chronological order. A missing file is an empty window.
func (r *JSONLReader) ReadOutcomes(ctx context.Context) ([]domain.OutcomeRecord, domain.ReadStats, error) {
	var (
		records []domain.OutcomeRecord
		stats   domain.ReadStats
	)

	err := scanLines(ctx, r.path, func(line int, raw []byte, err error) {
		var rec domain.OutcomeRecord
		if err == nil {
			rec, err = r.decode(raw)
		}
		if err != nil {
			stats.Skipped++
			r.l.Warn("skip malformed outcome record", zap.String("path", r.path), zap.Int("line", line), zap.Error(err))
			return
		}
		if rec.HorizonHours != r.opts.HorizonHours {
			stats.Filtered++
			return
		}
		records = append(records, rec)
	})
	if err != nil {
		return nil, stats, err
	}

	records = Window(records, r.opts.Limit)
	stats.Read = len(records)

	return records, stats, nil
}

func (r *JSONLReader) decode(raw []byte) (domain.OutcomeRecord, error) {
	if err := validateAgainstSchema(r.schema, raw); err != nil {
		return domain.OutcomeRecord{}, errors.Wrap(domain.ErrMalformedRecord, err.Error())
	}

	var rec domain.OutcomeRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.OutcomeRecord{}, errors.Wrap(domain.ErrMalformedRecord, err.Error())
	}

	rec = rec.Normalize()
	if err := rec.Validate(); err != nil {
		return domain.OutcomeRecord{}, err
	}

	return rec, nil
}

// Window sorts records by timestamp, keeping log order for equal timestamps,
// and keeps the most recent limit of them.
func Window(records []domain.OutcomeRecord, limit int) []domain.OutcomeRecord {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records
}

// errLineTooLong reports a line longer than maxLineSize. The line is consumed and reading goes on.
var errLineTooLong = errors.Wrapf(domain.ErrMalformedRecord, "line exceeds %d bytes", maxLineSize)

// scanLines calls fn for every non-blank line. Line numbers start at 1.
// An oversized line is passed to fn with errLineTooLong and no payload.
func scanLines(ctx context.Context, path string, fn func(line int, raw []byte, err error)) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return domain.NewPersistenceError(path, errors.Wrap(err, "open event log"))
	}
	defer f.Close()

	var (
		reader = bufio.NewReaderSize(f, 64*1024)
		buf    []byte
		line   int
	)
	for {
		buf, err = readLine(reader, buf[:0])
		if errors.Is(err, io.EOF) {
			return nil
		}

		line++
		if line%1024 == 0 {
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
		}

		switch {
		case errors.Is(err, errLineTooLong):
			fn(line, nil, err)
		case err != nil:
			return domain.NewPersistenceError(path, errors.Wrap(err, "read event log"))
		default:
			if raw := bytes.TrimSpace(buf); len(raw) > 0 {
				fn(line, raw, nil)
			}
		}
	}
}

// readLine appends the next line, newline included, to buf. Once the line
// grows past maxLineSize the rest of it is drained and errLineTooLong returned.
func readLine(r *bufio.Reader, buf []byte) ([]byte, error) {
	tooLong := false
	for {
		chunk, err := r.ReadSlice('\n')
		if !tooLong {
			if len(buf)+len(chunk) > maxLineSize+1 {
				tooLong, buf = true, buf[:0]
			} else {
				buf = append(buf, chunk...)
			}
		}

		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case err == nil:
		case errors.Is(err, io.EOF):
			if !tooLong && len(buf) == 0 {
				return buf, io.EOF
			}
		default:
			return buf, err
		}

		if tooLong {
			return buf, errLineTooLong
		}
		return buf, nil
	}
}
