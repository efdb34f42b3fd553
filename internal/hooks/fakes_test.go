package hooks

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/agent-command/relayd/internal/markers"
	"github.com/agent-command/relayd/internal/registry"
	"github.com/agent-command/relayd/internal/telegram"
	"github.com/agent-command/relayd/internal/terminal"
)

var errBoom = errors.New("boom")

type sent struct {
	thread int64
	text   string
	markup *telegram.InlineKeyboardMarkup
}

type reaction struct {
	messageID int
	emoji     string
}

// fakeChat records every call. Thread ids handed out by CreateThread start
// at 900.
type fakeChat struct {
	mu        sync.Mutex
	sent      []sent
	reactions []reaction
	created   []string
	reopened  []int64
	closed    []int64
	sendErr   error
	createErr error
}

func (f *fakeChat) SendMessage(ctx context.Context, threadID int64, text string, markup *telegram.InlineKeyboardMarkup) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return 0, f.sendErr
	}
	f.sent = append(f.sent, sent{thread: threadID, text: text, markup: markup})
	return len(f.sent), nil
}

func (f *fakeChat) SetReaction(ctx context.Context, messageID int, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, reaction{messageID: messageID, emoji: emoji})
	return nil
}

func (f *fakeChat) CreateThread(ctx context.Context, name string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.created = append(f.created, name)
	return int64(899 + len(f.created)), nil
}

func (f *fakeChat) ReopenThread(ctx context.Context, threadID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reopened = append(f.reopened, threadID)
	return nil
}

func (f *fakeChat) CloseThread(ctx context.Context, threadID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, threadID)
	return nil
}

func (f *fakeChat) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.text)
	}
	return out
}

type fakeDaemon struct {
	calls int
	err   error
}

func (d *fakeDaemon) EnsureRunning() error {
	d.calls++
	return d.err
}

func inTerminal(backend terminal.Backend, handle string) DetectFunc {
	return func(context.Context) (terminal.Target, bool) {
		return terminal.Target{Backend: backend, Handle: handle}, true
	}
}

func outsideTerminal(context.Context) (terminal.Target, bool) {
	return terminal.Target{}, false
}

type fixture struct {
	registry *registry.Registry
	busy     *markers.Busy
	pending  *markers.Pending
	chat     *fakeChat
	hook     *test.Hook
	log      *logrus.Entry
}

func newFixture(t *testing.T, sessions registry.Sessions) *fixture {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	state := t.TempDir()
	return &fixture{
		registry: registry.New(registry.NewMemoryStore(sessions)),
		busy:     markers.NewBusy(state + "/busy"),
		pending:  markers.NewPending(state + "/pending"),
		chat:     &fakeChat{},
		hook:     hook,
		log:      logrus.NewEntry(logger),
	}
}

func (f *fixture) notifier(detect DetectFunc) *Notifier {
	return NewNotifier(f.registry, f.busy, f.pending, f.chat, detect, f.log)
}

func (f *fixture) registrar(detect DetectFunc, daemon DaemonStarter) *Registrar {
	return NewRegistrar(f.registry, f.chat, detect, daemon, f.log)
}

// warnings returns the messages logged at Warn level.
func (f *fixture) warnings() []string {
	var out []string
	for _, e := range f.hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			out = append(out, e.Message)
		}
	}
	return out
}

func projA() registry.Sessions {
	return registry.Sessions{
		"proj-a": {
			SessionID: "sess-1",
			Terminal:  "proj-a-tmux",
			Backend:   "tmux",
			Cwd:       "/src/proj-a",
			ThreadID:  42,
			Active:    true,
		},
	}
}
