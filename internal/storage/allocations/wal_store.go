// Package allocations keeps the append-only allocation weight history in a WAL.
package allocations

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/vadiminshakov/marti-governor/internal/domain"
)

const (
	DefaultDir   = "./state/allocations"
	segmentLimit = 500
	maxSegments  = 100

	keyPrefix = "allocation_"
)

// WALStore persists allocation snapshots in a WAL, one entry per cycle.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewWALStore initializes a WAL-backed allocation history.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = DefaultDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "allocation_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, domain.NewPersistenceError(dir, errors.Wrap(err, "init allocation WAL"))
	}

	return &WALStore{wal: wal}, nil
}

// Append writes the snapshot as the next history entry and returns its index.
func (s *WALStore) Append(snapshot domain.AllocationSnapshot) (uint64, error) {
	if s == nil || s.wal == nil {
		return 0, errors.New("allocation store is not initialized")
	}
	if snapshot.Weights == nil {
		snapshot.Weights = map[string]float64{}
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return 0, domain.NewPersistenceError("allocation history", errors.Wrap(err, "marshal allocation snapshot"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	key := fmt.Sprintf("%s%d", keyPrefix, nextIndex)
	if err := s.wal.Write(nextIndex, key, payload); err != nil {
		return 0, domain.NewPersistenceError("allocation history", errors.Wrap(err, "write allocation snapshot"))
	}

	return nextIndex, nil
}

// After returns every snapshot written after the provided index, oldest first.
func (s *WALStore) After(index uint64) ([]domain.AllocationRecord, error) {
	all, err := s.records()
	if err != nil {
		return nil, err
	}

	out := make([]domain.AllocationRecord, 0, len(all))
	for _, r := range all {
		if r.Index > index {
			out = append(out, r)
		}
	}
	return out, nil
}

// History returns up to limit most recent snapshots, oldest first. limit <= 0 returns all retained ones.
func (s *WALStore) History(limit int) ([]domain.AllocationRecord, error) {
	all, err := s.records()
	if err != nil {
		return nil, err
	}

	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

// Latest returns the current weights, false when nothing was written yet.
func (s *WALStore) Latest() (domain.AllocationRecord, bool, error) {
	last, err := s.History(1)
	if err != nil || len(last) == 0 {
		return domain.AllocationRecord{}, false, err
	}
	return last[0], true, nil
}

// CurrentIndex returns the latest WAL index stored.
func (s *WALStore) CurrentIndex() uint64 {
	if s == nil || s.wal == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("allocation store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}

func (s *WALStore) records() ([]domain.AllocationRecord, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("allocation store is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.AllocationRecord
	for msg := range s.wal.Iterator() {
		if !strings.HasPrefix(msg.Key, keyPrefix) {
			continue
		}

		idx, err := strconv.ParseUint(strings.TrimPrefix(msg.Key, keyPrefix), 10, 64)
		if err != nil {
			return nil, domain.NewPersistenceError("allocation history", errors.Wrapf(err, "decode key %s", msg.Key))
		}

		var snap domain.AllocationSnapshot
		if err := json.Unmarshal(msg.Value, &snap); err != nil {
			return nil, domain.NewPersistenceError("allocation history", errors.Wrap(err, "decode allocation snapshot"))
		}

		out = append(out, domain.AllocationRecord{Index: idx, Snapshot: snap})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })

	return out, nil
}

// Snapshots strips history indexes.
func Snapshots(records []domain.AllocationRecord) []domain.AllocationSnapshot {
	out := make([]domain.AllocationSnapshot, len(records))
	for i, r := range records {
		out[i] = r.Snapshot
	}
	return out
}
