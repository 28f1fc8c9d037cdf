// Package reports persists one governance report per cycle plus a copy of the latest one.
package reports

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/vadiminshakov/marti-governor/internal/domain"
	"github.com/vadiminshakov/marti-governor/internal/storage/atomicfile"
)

const (
	// Dir of the report snapshots inside the state dir.
	Dir        = "reports"
	latestName = "latest.json"
	cyclePref  = "report_"
)

// Store reads and stages report snapshots.
type Store struct {
	dir string
}

// NewStore creates a store under stateDir.
func NewStore(stateDir string) *Store {
	return &Store{dir: filepath.Join(stateDir, Dir)}
}

// Stage adds the cycle snapshot and the latest copy to the batch.
func (s *Store) Stage(b *atomicfile.Batch, report *domain.Report) error {
	if report == nil || report.CycleID == "" {
		return domain.NewPersistenceError(s.dir, errors.New("report without cycle id"))
	}

	payload, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return domain.NewPersistenceError(s.dir, errors.Wrap(err, "encode report"))
	}

	name := fmt.Sprintf("%s%s_%s.json", cyclePref, report.GeneratedAt.UTC().Format("20060102T150405Z"), report.CycleID)
	if err := b.Stage(filepath.Join(s.dir, name), payload); err != nil {
		return domain.NewPersistenceError(s.dir, err)
	}

	return domain.NewPersistenceError(s.dir, b.Stage(filepath.Join(s.dir, latestName), payload))
}

// Latest returns the most recent report, nil when no cycle has committed yet.
func (s *Store) Latest() (*domain.Report, error) {
	return s.read(filepath.Join(s.dir, latestName))
}

// List returns snapshot file names oldest first.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, domain.NewPersistenceError(s.dir, errors.Wrap(err, "list reports"))
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, cyclePref) || !strings.HasSuffix(name, ".json") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	return names, nil
}

// Load reads one snapshot returned by List.
func (s *Store) Load(name string) (*domain.Report, error) {
	return s.read(filepath.Join(s.dir, filepath.Base(name)))
}

func (s *Store) read(path string) (*domain.Report, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, domain.NewPersistenceError(path, errors.Wrap(err, "read report"))
	}

	var report domain.Report
	if err := json.Unmarshal(payload, &report); err != nil {
		return nil, domain.NewPersistenceError(path, errors.Wrap(err, "decode report"))
	}

	return &report, nil
}
