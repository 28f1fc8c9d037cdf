// Package killlist persists the strategy class kill list as a YAML table keyed by class.
package killlist

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/marti-governor/internal/domain"
	"github.com/vadiminshakov/marti-governor/internal/storage/atomicfile"
)

// FileName of the table inside the state dir.
const FileName = "strategy_kill_list.yaml"

// Store reads and stages the kill list.
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

// Load reads the kill list. A missing file is an empty list.
func (s *Store) Load() (domain.KillList, error) {
	payload, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.KillList{}, nil
		}
		return nil, domain.NewPersistenceError(s.path, errors.Wrap(err, "read kill list"))
	}

	list := domain.KillList{}
	if err := yaml.Unmarshal(payload, &list); err != nil {
		return nil, domain.NewPersistenceError(s.path, errors.Wrap(err, "decode kill list"))
	}
	if list == nil {
		list = domain.KillList{}
	}

	for class, entry := range list {
		if entry.Status == "" {
			entry.Status = domain.StrategyActive
			list[class] = entry
		}
	}

	return list, nil
}

// Stage adds the encoded kill list to the batch.
func (s *Store) Stage(b *atomicfile.Batch, list domain.KillList) error {
	payload, err := yaml.Marshal(list)
	if err != nil {
		return domain.NewPersistenceError(s.path, errors.Wrap(err, "encode kill list"))
	}

	return domain.NewPersistenceError(s.path, b.Stage(s.path, payload))
}
