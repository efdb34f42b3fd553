package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/agent-command/relayd/internal/callback"
)

var (
	ErrNotFound    = errors.New("session not found")
	ErrExists      = errors.New("session name already in use")
	ErrInvalidName = errors.New("invalid session name")
)

// Session is one logical agent session bound to a chat thread and a terminal.
type Session struct {
	SessionID string    `json:"session_id,omitempty"`
	Terminal  string    `json:"terminal,omitempty"`
	Backend   string    `json:"backend,omitempty"`
	Cwd       string    `json:"cwd,omitempty"`
	ThreadID  int64     `json:"thread_id,omitempty"`
	Active    bool      `json:"active"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

// Sessions maps logical session name to record.
type Sessions map[string]Session

// Names returns the session names in sorted order.
func (s Sessions) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FindByThread scans for the session bound to threadID.
func (s Sessions) FindByThread(threadID int64) (string, Session, bool) {
	if threadID == 0 {
		return "", Session{}, false
	}
	for _, name := range s.Names() {
		if s[name].ThreadID == threadID {
			return name, s[name], true
		}
	}
	return "", Session{}, false
}

// FindByTerminal scans for the session whose terminal handle matches. An
// empty backend matches any backend.
func (s Sessions) FindByTerminal(backend, handle string) (string, Session, bool) {
	if handle == "" {
		return "", Session{}, false
	}
	for _, name := range s.Names() {
		sess := s[name]
		if sess.Terminal != handle {
			continue
		}
		if backend != "" && sess.Backend != "" && sess.Backend != backend {
			continue
		}
		return name, sess, true
	}
	return "", Session{}, false
}

// FindBySessionID scans for the session carrying the agent runtime id.
func (s Sessions) FindBySessionID(id string) (string, Session, bool) {
	if id == "" {
		return "", Session{}, false
	}
	for _, name := range s.Names() {
		if s[name].SessionID == id {
			return name, s[name], true
		}
	}
	return "", Session{}, false
}

// put inserts sess under name and releases its thread from any other entry.
func (s Sessions) put(name string, sess Session) {
	if sess.ThreadID != 0 {
		for other, o := range s {
			if other != name && o.ThreadID == sess.ThreadID {
				o.ThreadID = 0
				s[other] = o
			}
		}
	}
	s[name] = sess
}

// Store is the backing for the registry. Load takes a snapshot under a shared
// lock, Save replaces the whole mapping under an exclusive lock, and Update
// holds the exclusive lock across its read-modify-write cycle.
type Store interface {
	Load() (Sessions, error)
	Save(Sessions) error
	Update(func(Sessions) error) error
}

// Registry is the session registry shared by the daemon and hook processes.
type Registry struct {
	store Store
}

func New(store Store) *Registry {
	return &Registry{store: store}
}

func (r *Registry) Load() (Sessions, error) {
	return r.store.Load()
}

func (r *Registry) Save(s Sessions) error {
	return r.store.Save(s)
}

// Update runs fn with the lock held. Callers must not make network calls
// from fn.
func (r *Registry) Update(fn func(Sessions) error) error {
	return r.store.Update(fn)
}

func (r *Registry) Get(name string) (Session, bool, error) {
	sessions, err := r.store.Load()
	if err != nil {
		return Session{}, false, err
	}
	sess, ok := sessions[name]
	return sess, ok, nil
}

func (r *Registry) FindByThread(threadID int64) (string, Session, bool, error) {
	sessions, err := r.store.Load()
	if err != nil {
		return "", Session{}, false, err
	}
	name, sess, ok := sessions.FindByThread(threadID)
	return name, sess, ok, nil
}

func (r *Registry) FindByTerminal(backend, handle string) (string, Session, bool, error) {
	sessions, err := r.store.Load()
	if err != nil {
		return "", Session{}, false, err
	}
	name, sess, ok := sessions.FindByTerminal(backend, handle)
	return name, sess, ok, nil
}

// Upsert writes sess under name. A thread held by another entry moves to name.
func (r *Registry) Upsert(name string, sess Session) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	return r.store.Update(func(s Sessions) error {
		s.put(name, sess)
		return nil
	})
}

// Rename moves the entry under oldName to newName, keeping every field,
// terminal handle and backend included.
func (r *Registry) Rename(oldName, newName string) error {
	if err := ValidateName(newName); err != nil {
		return err
	}
	if oldName == newName {
		return nil
	}
	return r.store.Update(func(s Sessions) error {
		sess, ok := s[oldName]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, oldName)
		}
		if _, taken := s[newName]; taken {
			return fmt.Errorf("%w: %s", ErrExists, newName)
		}
		delete(s, oldName)
		s[newName] = sess
		return nil
	})
}

// ValidateName rejects names that cannot be used as a registry key, a marker
// file name, or a callback payload field.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if strings.ContainsAny(name, "|/\\\n") || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if len(name) > callback.MaxSessionLen {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidName, callback.MaxSessionLen)
	}
	return nil
}
