// Package atomicfile stages file replacements next to their targets and
// publishes them with rename, so readers see either the old or the new content.
// A published batch keeps backups of the replaced files until it is released,
// so the whole group can be rolled back.
package atomicfile

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const (
	tmpSuffix    = ".tmp"
	backupSuffix = ".bak"
)

type batchState int

const (
	stateStaging batchState = iota
	statePublished
	stateFinished
)

// Batch group of staged replacements published, rolled back or discarded together.
type Batch struct {
	staged []staged
	state  batchState
}

type staged struct {
	tmp       string
	path      string
	backup    string
	published bool
}

// NewBatch creates an empty batch.
func NewBatch() *Batch {
	return &Batch{}
}

// Stage writes payload to a temp file beside path. The target is untouched until Publish.
func (b *Batch) Stage(path string, payload []byte) error {
	if b.state != stateStaging {
		return errors.New("batch already finished")
	}

	tmp, err := writeTemp(path, tmpSuffix, payload)
	if err != nil {
		return err
	}

	b.staged = append(b.staged, staged{tmp: tmp, path: path})
	return nil
}

// Len number of staged files.
func (b *Batch) Len() int {
	return len(b.staged)
}

// Publish renames every staged file over its target in staging order. When one
// rename fails, the targets already replaced are restored and nothing is left published.
func (b *Batch) Publish() error {
	if b.state != stateStaging {
		return errors.New("batch already finished")
	}

	for i := range b.staged {
		s := &b.staged[i]
		if err := s.publish(); err != nil {
			b.state = stateFinished
			for _, rest := range b.staged[i:] {
				_ = os.Remove(rest.tmp)
			}
			if rerr := b.restore(); rerr != nil {
				return errors.Wrapf(err, "publish %s (restore failed: %v)", s.path, rerr)
			}
			return errors.Wrapf(err, "publish %s", s.path)
		}
	}

	b.state = statePublished
	return nil
}

// Rollback puts back the content every published target had before Publish.
func (b *Batch) Rollback() error {
	if b.state != statePublished {
		return errors.New("batch is not published")
	}
	b.state = stateFinished
	return b.restore()
}

// Release drops the backups of a published batch, making it final.
func (b *Batch) Release() {
	if b.state != statePublished {
		return
	}
	b.state = stateFinished

	for _, s := range b.staged {
		if s.backup != "" {
			_ = os.Remove(s.backup)
		}
	}
}

// Commit publishes and releases the batch.
func (b *Batch) Commit() error {
	if err := b.Publish(); err != nil {
		return err
	}
	b.Release()
	return nil
}

// Discard removes every staged temp file of a batch that was not published.
func (b *Batch) Discard() {
	if b.state != stateStaging {
		return
	}
	b.state = stateFinished

	for _, s := range b.staged {
		_ = os.Remove(s.tmp)
	}
}

func (s *staged) publish() error {
	current, err := os.ReadFile(s.path)
	switch {
	case err == nil:
		if s.backup, err = writeTemp(s.path, backupSuffix, current); err != nil {
			return err
		}
	case os.IsNotExist(err):
	default:
		return errors.Wrapf(err, "back up %s", s.path)
	}

	if err := os.Rename(s.tmp, s.path); err != nil {
		if s.backup != "" {
			_ = os.Remove(s.backup)
			s.backup = ""
		}
		return err
	}
	s.published = true
	return nil
}

// restore undoes published renames, newest first.
func (b *Batch) restore() error {
	var first error
	for i := len(b.staged) - 1; i >= 0; i-- {
		s := &b.staged[i]
		if !s.published {
			continue
		}

		var err error
		if s.backup != "" {
			err = os.Rename(s.backup, s.path)
		} else {
			err = os.Remove(s.path)
		}
		if err != nil && first == nil {
			first = errors.Wrapf(err, "restore %s", s.path)
		}
		s.published = false
	}
	return first
}

func writeTemp(path, suffix string, payload []byte) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errors.Wrapf(err, "create dir for %s", path)
	}

	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*"+suffix)
	if err != nil {
		return "", errors.Wrapf(err, "create temp file for %s", path)
	}
	tmp := f.Name()

	if _, err := f.Write(payload); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", errors.Wrapf(err, "write temp file for %s", path)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", errors.Wrapf(err, "sync temp file for %s", path)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", errors.Wrapf(err, "close temp file for %s", path)
	}

	return tmp, nil
}

// WriteFile stages and commits a single file.
func WriteFile(path string, payload []byte) error {
	b := NewBatch()
	if err := b.Stage(path, payload); err != nil {
		return err
	}
	return b.Commit()
}
