package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/agent-command/relayd/internal/config"
	"github.com/agent-command/relayd/internal/markers"
	"github.com/agent-command/relayd/internal/proc"
	"github.com/agent-command/relayd/internal/registry"
	"github.com/agent-command/relayd/internal/telegram"
	"github.com/agent-command/relayd/internal/terminal"
	"github.com/agent-command/relayd/internal/transcript"
)

const (
	testUser  = int64(7)
	testGroup = int64(-100)
)

type sentMessage struct {
	thread int64
	text   string
	markup *telegram.InlineKeyboardMarkup
}

type fakeTransport struct {
	mu       sync.Mutex
	sent     []sentMessage
	answers  []string
	actions  []int64
	edits    []int
	renames  []string
	reopened []int64
}

func (f *fakeTransport) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeTransport) SendMessage(ctx context.Context, threadID int64, text string, markup *telegram.InlineKeyboardMarkup) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{thread: threadID, text: text, markup: markup})
	return 1000 + len(f.sent), nil
}

func (f *fakeTransport) EditMessageReplyMarkup(ctx context.Context, messageID int, markup *telegram.InlineKeyboardMarkup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, messageID)
	return nil
}

func (f *fakeTransport) AnswerCallback(ctx context.Context, callbackID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, text)
	return nil
}

func (f *fakeTransport) SendChatAction(ctx context.Context, threadID int64, action string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, threadID)
	return nil
}

func (f *fakeTransport) ReopenThread(ctx context.Context, threadID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reopened = append(f.reopened, threadID)
	return nil
}

func (f *fakeTransport) RenameThread(ctx context.Context, threadID int64, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renames = append(f.renames, name)
	return nil
}

func (f *fakeTransport) actionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.actions)
}

type injection struct {
	kind   string
	target terminal.Target
	value  string
	index  int
	num    int
}

type created struct {
	handle, dir, command string
}

type fakeMux struct {
	handles   []string
	created   []created
	destroyed []string
	createErr error
}

func (m *fakeMux) Exists(ctx context.Context, handle string) (bool, error) { return false, nil }
func (m *fakeMux) Send(ctx context.Context, handle string, key terminal.Key) error {
	return nil
}

func (m *fakeMux) Create(ctx context.Context, handle, dir, command string) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.created = append(m.created, created{handle: handle, dir: dir, command: command})
	return nil
}

func (m *fakeMux) Destroy(ctx context.Context, handle string) error {
	m.destroyed = append(m.destroyed, handle)
	return nil
}

func (m *fakeMux) List(ctx context.Context) ([]string, error) { return m.handles, nil }

// fakeTerminal records injections. Handles in alive are running.
type fakeTerminal struct {
	injections []injection
	alive      map[string]bool
	fail       bool
	panics     bool
	mux        *fakeMux
}

func (f *fakeTerminal) record(in injection) bool {
	if f.panics {
		panic("terminal exploded")
	}
	f.injections = append(f.injections, in)
	return !f.fail
}

func (f *fakeTerminal) Alive(ctx context.Context, t terminal.Target) bool { return f.alive[t.Handle] }

func (f *fakeTerminal) InjectText(ctx context.Context, t terminal.Target, text string) bool {
	return f.record(injection{kind: "text", target: t, value: text})
}

func (f *fakeTerminal) InjectSelection(ctx context.Context, t terminal.Target, index, numDefined int) bool {
	return f.record(injection{kind: "selection", target: t, index: index, num: numDefined})
}

func (f *fakeTerminal) InjectPermission(ctx context.Context, t terminal.Target, choice string) bool {
	return f.record(injection{kind: "permission", target: t, value: choice})
}

func (f *fakeTerminal) Mux(b terminal.Backend) (terminal.Multiplexer, error) {
	if b != terminal.BackendTmux {
		return nil, terminal.ErrUnknownBackend
	}
	return f.mux, nil
}

func (f *fakeTerminal) Backends() []terminal.Backend { return []terminal.Backend{terminal.BackendTmux} }

type harness struct {
	router      *Router
	transport   *fakeTransport
	term        *fakeTerminal
	registry    *registry.Registry
	busy        *markers.Busy
	pending     *markers.Pending
	transcripts *transcript.Store
	hook        *test.Hook
}

func testConfig() *config.Config {
	return &config.Config{
		Telegram: config.TelegramConfig{GroupChatID: testGroup, UserID: testUser},
		Agent: config.AgentConfig{
			Command:        "claude",
			RelayTag:       "[relay] ",
			SlashCommands:  config.DefaultSlashCommands,
			DefaultBackend: "tmux",
		},
		Injection: config.InjectionConfig{TimeoutMs: 5000, SettleMs: 50},
	}
}

// projA is the usual fixture: an active session bound to thread 42.
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

func newHarness(t *testing.T, sessions registry.Sessions) *harness {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	state := t.TempDir()
	h := &harness{
		transport:   &fakeTransport{},
		term:        &fakeTerminal{alive: map[string]bool{"proj-a-tmux": true}, mux: &fakeMux{}},
		registry:    registry.New(registry.NewMemoryStore(sessions)),
		busy:        markers.NewBusy(state + "/busy"),
		pending:     markers.NewPending(state + "/pending"),
		transcripts: transcript.NewStore(t.TempDir()),
		hook:        hook,
	}
	procRoot := t.TempDir()
	h.router = NewRouter(Deps{
		Config:      testConfig(),
		Transport:   h.transport,
		Terminal:    h.term,
		Registry:    h.registry,
		Busy:        h.busy,
		Pending:     h.pending,
		Transcripts: h.transcripts,
		Snapshot:    func() *proc.Snapshot { return proc.TakeSnapshotFrom(procRoot) },
		NewID:       func() string { return "33333333-dddd-4ddd-8ddd-000000000004" },
		Log:         logrus.NewEntry(logger),
	})
	return h
}

func message(thread int64, text string) telegram.Update {
	return telegram.Update{UpdateID: 1, Message: &telegram.Message{
		MessageID:       500,
		MessageThreadID: thread,
		Chat:            telegram.Chat{ID: testGroup},
		From:            &telegram.User{ID: testUser},
		Text:            text,
	}}
}

func tap(data string, buttons ...telegram.InlineKeyboardButton) telegram.Update {
	return telegram.Update{UpdateID: 2, CallbackQuery: &telegram.CallbackQuery{
		ID:   "cb-1",
		From: telegram.User{ID: testUser},
		Data: data,
		Message: &telegram.Message{
			MessageID:   600,
			Chat:        telegram.Chat{ID: testGroup},
			ReplyMarkup: telegram.Keyboard(buttons),
		},
	}}
}

func (h *harness) dispatch(t *testing.T, u telegram.Update) {
	t.Helper()
	require.NoError(t, h.router.Dispatch(context.Background(), u))
}

var errBoom = errors.New("boom")
