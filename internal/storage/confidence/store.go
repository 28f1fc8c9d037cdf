// Package confidence persists the per-agent confidence table as a JSON file.
package confidence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/vadiminshakov/marti-governor/internal/domain"
	"github.com/vadiminshakov/marti-governor/internal/storage/atomicfile"
)

// FileName of the table inside the state dir.
const FileName = "confidence_multipliers.json"

const stateVersion = 1

// Store reads and stages the confidence table.
type Store struct {
	path string
}

// NewStore creates a store under stateDir.
func NewStore(stateDir string) *Store {
	return &Store{path: filepath.Join(stateDir, FileName)}
}

// Path of the backing file.
func (s *Store) Path() string {
	return s.path
}

type state struct {
	Version     int                    `json:"version"`
	GeneratedAt time.Time              `json:"generated_at"`
	Multipliers domain.ConfidenceTable `json:"multipliers"`
}

// Load reads the table. A missing or empty file is an empty table.
func (s *Store) Load() (domain.ConfidenceTable, error) {
	payload, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.ConfidenceTable{}, nil
		}
		return nil, domain.NewPersistenceError(s.path, errors.Wrap(err, "read confidence state"))
	}

	if len(payload) == 0 {
		return domain.ConfidenceTable{}, nil
	}

	var st state
	if err := json.Unmarshal(payload, &st); err != nil {
		return nil, domain.NewPersistenceError(s.path, errors.Wrap(err, "decode confidence state"))
	}
	if st.Multipliers == nil {
		st.Multipliers = domain.ConfidenceTable{}
	}

	return st.Multipliers, nil
}

// Stage adds the encoded table to the batch.
func (s *Store) Stage(b *atomicfile.Batch, table domain.ConfidenceTable, now time.Time) error {
	payload, err := json.MarshalIndent(state{
		Version:     stateVersion,
		GeneratedAt: now,
		Multipliers: table,
	}, "", "  ")
	if err != nil {
		return domain.NewPersistenceError(s.path, errors.Wrap(err, "encode confidence state"))
	}

	return domain.NewPersistenceError(s.path, b.Stage(s.path, payload))
}
