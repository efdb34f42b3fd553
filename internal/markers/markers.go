// Package markers keeps the per-session busy and pending-permission flags.
//
// Each flag is a single-line file named after the session. Markers are read
// and written without locking; a racing writer may lose its update.
package markers

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

type dir string

func (d dir) path(session string) string {
	return filepath.Join(string(d), session)
}

func (d dir) write(session, value string) error {
	if err := os.MkdirAll(string(d), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(string(d), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), d.path(session))
}

// read returns the trimmed marker value, or false if the marker is absent.
func (d dir) read(session string) (string, bool) {
	data, err := os.ReadFile(d.path(session))
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(data)), true
}

func (d dir) remove(session string) {
	os.Remove(d.path(session))
}

func (d dir) rename(oldName, newName string) error {
	err := os.Rename(d.path(oldName), d.path(newName))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (d dir) list() []string {
	entries, err := os.ReadDir(string(d))
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	return names
}
