package hooks

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/agent-command/relayd/internal/callback"
	"github.com/agent-command/relayd/internal/registry"
	"github.com/agent-command/relayd/internal/telegram"
	"github.com/agent-command/relayd/internal/terminal"
)

// Threads is the chat surface the registrar uses.
type Threads interface {
	SendMessage(ctx context.Context, threadID int64, text string, markup *telegram.InlineKeyboardMarkup) (int, error)
	CreateThread(ctx context.Context, name string) (int64, error)
	ReopenThread(ctx context.Context, threadID int64) error
	CloseThread(ctx context.Context, threadID int64) error
}

// DaemonStarter starts the bridge daemon if it is not already running.
type DaemonStarter interface {
	EnsureRunning() error
}

// Registrar binds agent sessions to chat threads on SessionStart and
// releases them on SessionEnd.
type Registrar struct {
	registry *registry.Registry
	threads  Threads
	detect   DetectFunc
	daemon   DaemonStarter
	now      func() time.Time
	log      *logrus.Entry
}

func NewRegistrar(reg *registry.Registry, threads Threads, detect DetectFunc, daemon DaemonStarter, log *logrus.Entry) *Registrar {
	return &Registrar{
		registry: reg,
		threads:  threads,
		detect:   detect,
		daemon:   daemon,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log,
	}
}

func (r *Registrar) Handle(ctx context.Context, in Input) error {
	switch in.HookEventName {
	case EventSessionStart:
		err := r.sessionStart(ctx, in)
		if r.daemon != nil {
			if derr := r.daemon.EnsureRunning(); derr != nil {
				r.log.WithError(derr).Warn("Failed to start daemon")
			}
		}
		return err
	case EventSessionEnd:
		return r.sessionEnd(ctx, in)
	}
	return nil
}

func (r *Registrar) sessionStart(ctx context.Context, in Input) error {
	sessions, err := r.registry.Load()
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}

	target, inTerminal := r.detectTerminal(ctx)
	if !inTerminal {
		return r.refresh(ctx, sessions, in)
	}

	name, existing, found := sessions.FindByTerminal(string(target.Backend), target.Handle)
	if !found {
		name = sessionName(target.Handle)
		existing = sessions[name]
	}
	if err := registry.ValidateName(name); err != nil {
		return err
	}

	thread := existing.ThreadID
	if thread != 0 {
		if err := r.threads.ReopenThread(ctx, thread); err != nil {
			r.log.WithError(err).WithField("thread", thread).Warn("Failed to reopen thread")
		}
	} else {
		thread, err = r.threads.CreateThread(ctx, name)
		if err != nil {
			r.log.WithError(err).WithField("session", name).Warn("Failed to create thread")
		}
	}

	err = r.registry.Upsert(name, registry.Session{
		SessionID: in.SessionID,
		Terminal:  target.Handle,
		Backend:   string(target.Backend),
		Cwd:       in.Cwd,
		ThreadID:  thread,
		Active:    true,
		StartedAt: r.now(),
	})
	if err != nil {
		return fmt.Errorf("failed to register %s: %w", name, err)
	}
	r.log.WithFields(logrus.Fields{"session": name, "terminal": target.String(), "thread": thread}).Info("Registered session")

	if thread != 0 {
		r.announce(ctx, thread, "✅ Session started\n<i>"+telegram.Escape(in.Cwd)+"</i>")
	}
	return nil
}

// refresh updates an existing entry for a session started outside any
// terminal. It never creates one.
func (r *Registrar) refresh(ctx context.Context, sessions registry.Sessions, in Input) error {
	name, sess, ok := findExisting(sessions, in)
	if !ok {
		r.log.WithField("session_id", in.SessionID).Debug("Session started outside a terminal, not registering")
		return nil
	}

	now := r.now()
	err := r.registry.Update(func(s registry.Sessions) error {
		cur, ok := s[name]
		if !ok {
			return fmt.Errorf("%w: %s", registry.ErrNotFound, name)
		}
		cur.SessionID = in.SessionID
		cur.Cwd = in.Cwd
		cur.StartedAt = now
		cur.Active = true
		s[name] = cur
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to refresh %s: %w", name, err)
	}

	if sess.ThreadID != 0 {
		if err := r.threads.ReopenThread(ctx, sess.ThreadID); err != nil {
			r.log.WithError(err).Warn("Failed to reopen thread")
		}
		r.announce(ctx, sess.ThreadID, "✅ Session started\n<i>"+telegram.Escape(in.Cwd)+"</i>")
	}
	return nil
}

func (r *Registrar) sessionEnd(ctx context.Context, in Input) error {
	sessions, err := r.registry.Load()
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}

	var name string
	var sess registry.Session
	var ok bool
	if target, inTerminal := r.detectTerminal(ctx); inTerminal {
		name, sess, ok = sessions.FindByTerminal(string(target.Backend), target.Handle)
	}
	if !ok {
		name, sess, ok = findExisting(sessions, in)
	}
	if !ok {
		return nil
	}

	err = r.registry.Update(func(s registry.Sessions) error {
		cur, ok := s[name]
		if !ok {
			return nil
		}
		cur.Active = false
		s[name] = cur
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to deactivate %s: %w", name, err)
	}
	r.log.WithField("session", name).Info("Session ended")

	if sess.ThreadID != 0 {
		r.announce(ctx, sess.ThreadID, "❌ Session ended")
		if err := r.threads.CloseThread(ctx, sess.ThreadID); err != nil {
			r.log.WithError(err).Warn("Failed to close thread")
		}
	}
	return nil
}

func (r *Registrar) detectTerminal(ctx context.Context) (target terminal.Target, ok bool) {
	if r.detect == nil {
		return target, false
	}
	return r.detect(ctx)
}

func (r *Registrar) announce(ctx context.Context, thread int64, text string) {
	if _, err := r.threads.SendMessage(ctx, thread, text, nil); err != nil {
		r.log.WithError(err).WithField("thread", thread).Warn("Failed to send message")
	}
}

// sessionName derives a registry name from a terminal handle, cut so that
// button payloads for it stay within the transport limit.
func sessionName(handle string) string {
	if len(handle) <= callback.MaxSessionLen {
		return handle
	}
	cut := callback.MaxSessionLen
	for cut > 0 && !utf8.RuneStart(handle[cut]) {
		cut--
	}
	return handle[:cut]
}

// findExisting matches by agent session id, then by an active entry in the
// same working directory.
func findExisting(sessions registry.Sessions, in Input) (string, registry.Session, bool) {
	if name, sess, ok := sessions.FindBySessionID(in.SessionID); ok {
		return name, sess, true
	}
	if in.Cwd == "" {
		return "", registry.Session{}, false
	}
	for _, name := range sessions.Names() {
		if sess := sessions[name]; sess.Active && sess.Cwd == in.Cwd {
			return name, sess, true
		}
	}
	return "", registry.Session{}, false
}
