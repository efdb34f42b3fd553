package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
)

// FileStore keeps the registry as one JSON document. Locks are taken on a
// sidecar file so the document itself can be replaced by rename.
type FileStore struct {
	path string
	log  *logrus.Entry
}

func NewFileStore(path string, log *logrus.Entry) *FileStore {
	return &FileStore{path: path, log: log}
}

func (f *FileStore) Path() string { return f.path }

func (f *FileStore) lock() *flock.Flock {
	return flock.New(f.path + ".lock")
}

func (f *FileStore) ensureDir() error {
	return os.MkdirAll(filepath.Dir(f.path), 0o755)
}

func (f *FileStore) Load() (Sessions, error) {
	if err := f.ensureDir(); err != nil {
		return nil, err
	}
	l := f.lock()
	if err := l.RLock(); err != nil {
		return nil, fmt.Errorf("failed to lock registry: %w", err)
	}
	defer l.Unlock()

	return f.read(), nil
}

func (f *FileStore) Save(s Sessions) error {
	if err := f.ensureDir(); err != nil {
		return err
	}
	l := f.lock()
	if err := l.Lock(); err != nil {
		return fmt.Errorf("failed to lock registry: %w", err)
	}
	defer l.Unlock()

	return f.write(s)
}

func (f *FileStore) Update(fn func(Sessions) error) error {
	if err := f.ensureDir(); err != nil {
		return err
	}
	l := f.lock()
	if err := l.Lock(); err != nil {
		return fmt.Errorf("failed to lock registry: %w", err)
	}
	defer l.Unlock()

	sessions := f.read()
	if err := fn(sessions); err != nil {
		return err
	}
	return f.write(sessions)
}

// read returns an empty mapping for a missing or unparseable file.
func (f *FileStore) read() Sessions {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) && f.log != nil {
			f.log.WithError(err).Warn("Failed to read registry, treating as empty")
		}
		return Sessions{}
	}
	var sessions Sessions
	if err := json.Unmarshal(data, &sessions); err != nil {
		if f.log != nil {
			f.log.WithError(err).WithField("path", f.path).Warn("Corrupt registry, treating as empty")
		}
		return Sessions{}
	}
	if sessions == nil {
		sessions = Sessions{}
	}
	return sessions
}

func (f *FileStore) write(s Sessions) error {
	if s == nil {
		s = Sessions{}
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".sessions-*.json")
	if err != nil {
		return fmt.Errorf("failed to write registry: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write registry: %w", err)
	}
	return nil
}
