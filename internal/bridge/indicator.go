package bridge

import (
	"context"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/agent-command/relayd/internal/markers"
	"github.com/agent-command/relayd/internal/registry"
)

// Indicator shows "typing" in the thread of every busy session. It wakes on
// a timer and whenever the busy directory changes. All its errors are
// swallowed.
type Indicator struct {
	transport Transport
	registry  *registry.Registry
	busy      *markers.Busy
	interval  time.Duration
	log       *logrus.Entry
}

func NewIndicator(t Transport, reg *registry.Registry, busy *markers.Busy, interval time.Duration, log *logrus.Entry) *Indicator {
	return &Indicator{transport: t, registry: reg, busy: busy, interval: interval, log: log}
}

func (i *Indicator) Run(ctx context.Context) error {
	ticker := time.NewTicker(i.interval)
	defer ticker.Stop()

	var events <-chan fsnotify.Event
	var errs <-chan error
	if w := i.watch(); w != nil {
		defer w.Close()
		events, errs = w.Events, w.Errors
	}

	i.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			i.Tick(ctx)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				i.Tick(ctx)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			i.log.WithError(err).Debug("Busy dir watch error")
		}
	}
}

func (i *Indicator) watch() *fsnotify.Watcher {
	if err := os.MkdirAll(i.busy.Dir(), 0o755); err != nil {
		i.log.WithError(err).Debug("Failed to create busy dir")
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		i.log.WithError(err).Debug("Failed to create watcher")
		return nil
	}
	if err := w.Add(i.busy.Dir()); err != nil {
		i.log.WithError(err).Debug("Failed to watch busy dir")
		w.Close()
		return nil
	}
	return w
}

// Tick sends one round of typing actions.
func (i *Indicator) Tick(ctx context.Context) {
	names := i.busy.Sessions()
	if len(names) == 0 {
		return
	}
	sessions, err := i.registry.Load()
	if err != nil {
		i.log.WithError(err).Debug("Failed to load registry")
		return
	}
	for _, name := range names {
		sess, ok := sessions[name]
		if !ok || sess.ThreadID == 0 {
			continue
		}
		if err := i.transport.SendChatAction(ctx, sess.ThreadID, "typing"); err != nil {
			i.log.WithError(err).WithField("session", name).Debug("Failed to send typing action")
		}
	}
}
