package bridge

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-command/relayd/internal/registry"
)

const (
	transcriptA = "11111111-aaaa-4aaa-8aaa-000000000001"
	freshID     = "33333333-dddd-4ddd-8ddd-000000000004"
)

func writeTranscript(t *testing.T, h *harness, cwd, id, prompt string) string {
	t.Helper()
	dir := h.transcripts.Dir(cwd)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, id+".jsonl")
	line := `{"type":"user","message":{"role":"user","content":"` + prompt + `"}}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(line), 0o644))
	return path
}

func TestRenameCommand(t *testing.T) {
	h := newHarness(t, projA())
	require.NoError(t, h.busy.Set("proj-a", 500))

	h.dispatch(t, message(42, "/tel_rename demo"))

	sessions, err := h.registry.Load()
	require.NoError(t, err)
	assert.NotContains(t, sessions, "proj-a")
	require.Contains(t, sessions, "demo")
	assert.Equal(t, "proj-a-tmux", sessions["demo"].Terminal)
	assert.Equal(t, int64(42), sessions["demo"].ThreadID)

	require.Len(t, h.transport.sent, 1)
	assert.Contains(t, h.transport.sent[0].text, "proj-a")
	assert.Contains(t, h.transport.sent[0].text, "demo")
	assert.Equal(t, []string{"demo"}, h.transport.renames)
	assert.Empty(t, h.term.injections)

	_, ok := h.busy.Take("demo")
	assert.True(t, ok)
}

func TestRenameCommandRejections(t *testing.T) {
	sessions := projA()
	sessions["other"] = registry.Session{Terminal: "other", ThreadID: 50, Active: true}

	testCases := []struct {
		name string
		text string
		want string
	}{
		{name: "missing name", text: "/tel_rename", want: "Usage"},
		{name: "taken name", text: "/tel_rename other", want: "already exists"},
		{name: "invalid name", text: "/tel_rename a|b", want: "not a valid session name"},
		{name: "name too long for buttons", text: "/tel_rename " + strings.Repeat("n", 43), want: "not a valid session name"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, sessions)
			h.dispatch(t, message(42, tc.text))

			require.Len(t, h.transport.sent, 1)
			assert.Contains(t, h.transport.sent[0].text, tc.want)
			assert.Empty(t, h.transport.renames)

			got, err := h.registry.Load()
			require.NoError(t, err)
			assert.Contains(t, got, "proj-a")
		})
	}

	h := newHarness(t, sessions)
	h.dispatch(t, message(77, "/tel_rename demo"))
	require.Len(t, h.transport.sent, 1)
	assert.Equal(t, msgNoSession, h.transport.sent[0].text)
}

func TestEndCommand(t *testing.T) {
	h := newHarness(t, projA())
	require.NoError(t, h.busy.Set("proj-a", 500))

	h.dispatch(t, message(42, "/tel_end"))

	assert.Equal(t, []string{"proj-a-tmux"}, h.term.mux.destroyed)
	sess, ok, err := h.registry.Get("proj-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, sess.Active)
	assert.Empty(t, h.busy.Sessions())
	require.Len(t, h.transport.sent, 1)
	assert.Contains(t, h.transport.sent[0].text, "ended")
}

func TestStartCommandAlreadyRunning(t *testing.T) {
	h := newHarness(t, projA())

	h.dispatch(t, message(42, "/tel_start"))

	require.Len(t, h.transport.sent, 1)
	assert.Contains(t, h.transport.sent[0].text, "already running")
	assert.Nil(t, h.transport.sent[0].markup)
}

func TestStartCommandKeyboard(t *testing.T) {
	h := newHarness(t, projA())
	h.term.alive = map[string]bool{}
	writeTranscript(t, h, "/src/proj-a", transcriptA, "refactor the parser")

	h.dispatch(t, message(42, "/tel_start"))

	require.Len(t, h.transport.sent, 1)
	kb := h.transport.sent[0].markup
	require.NotNil(t, kb)
	require.Len(t, kb.InlineKeyboard, 2)

	row := kb.InlineKeyboard[0]
	require.Len(t, row, 2)
	assert.Contains(t, row[0].Text, "refactor the parser")
	assert.Equal(t, "proj-a|start|resume|11111111", row[0].CallbackData)
	assert.Equal(t, "proj-a|start|delete|11111111", row[1].CallbackData)
	assert.Equal(t, "proj-a|start|fresh", kb.InlineKeyboard[1][0].CallbackData)
}

func TestStartCommandLongName(t *testing.T) {
	long := strings.Repeat("n", 43)
	h := newHarness(t, registry.Sessions{
		long: {Terminal: "proj-a-tmux", Backend: "tmux", Cwd: "/src/proj-a", ThreadID: 42},
	})
	h.term.alive = map[string]bool{}
	writeTranscript(t, h, "/src/proj-a", transcriptA, "refactor the parser")

	h.dispatch(t, message(42, "/tel_start"))

	require.Len(t, h.transport.sent, 1)
	assert.Contains(t, h.transport.sent[0].text, "too long for buttons")
	assert.Nil(t, h.transport.sent[0].markup)
}

func TestStartFresh(t *testing.T) {
	h := newHarness(t, projA())
	h.term.alive = map[string]bool{}
	before := time.Now().UTC()

	h.dispatch(t, tap("proj-a|start|fresh"))

	assert.Equal(t, []string{"Starting…"}, h.transport.answers)
	require.Len(t, h.term.mux.created, 1)
	assert.Equal(t, created{handle: "proj-a-tmux", dir: "/src/proj-a", command: "claude --session-id " + freshID}, h.term.mux.created[0])

	sess, _, err := h.registry.Get("proj-a")
	require.NoError(t, err)
	assert.Equal(t, freshID, sess.SessionID)
	assert.True(t, sess.Active)
	assert.False(t, sess.StartedAt.Before(before))

	assert.Equal(t, []int64{42}, h.transport.reopened)
	require.Len(t, h.transport.sent, 1)
	assert.Contains(t, h.transport.sent[0].text, "Started")
}

func TestStartResume(t *testing.T) {
	h := newHarness(t, projA())
	h.term.alive = map[string]bool{}
	writeTranscript(t, h, "/src/proj-a", transcriptA, "hi")

	h.dispatch(t, tap("proj-a|start|resume|11111111"))

	assert.Equal(t, []string{"Resuming…"}, h.transport.answers)
	require.Len(t, h.term.mux.created, 1)
	assert.Equal(t, "claude --resume "+transcriptA, h.term.mux.created[0].command)

	sess, _, err := h.registry.Get("proj-a")
	require.NoError(t, err)
	assert.Equal(t, transcriptA, sess.SessionID)
}

func TestStartResumeKeepsLiveTerminal(t *testing.T) {
	h := newHarness(t, projA())
	writeTranscript(t, h, "/src/proj-a", transcriptA, "hi")

	h.dispatch(t, tap("proj-a|start|resume|11111111"))

	assert.Empty(t, h.term.mux.created)
	sess, _, err := h.registry.Get("proj-a")
	require.NoError(t, err)
	assert.Equal(t, transcriptA, sess.SessionID)
}

func TestStartFailures(t *testing.T) {
	t.Run("missing transcript", func(t *testing.T) {
		h := newHarness(t, projA())
		h.term.alive = map[string]bool{}

		h.dispatch(t, tap("proj-a|start|resume|deadbeef"))

		assert.Equal(t, []string{"Resuming…"}, h.transport.answers)
		assert.Empty(t, h.term.mux.created)
		require.Len(t, h.transport.sent, 1)
		assert.Contains(t, h.transport.sent[0].text, "not found")
	})

	t.Run("multiplexer error", func(t *testing.T) {
		h := newHarness(t, projA())
		h.term.alive = map[string]bool{}
		h.term.mux.createErr = errBoom

		h.dispatch(t, tap("proj-a|start|fresh"))

		require.Len(t, h.transport.sent, 1)
		assert.Contains(t, h.transport.sent[0].text, "boom")
		sess, _, err := h.registry.Get("proj-a")
		require.NoError(t, err)
		assert.Equal(t, "sess-1", sess.SessionID)
	})

	t.Run("unknown start op", func(t *testing.T) {
		h := newHarness(t, projA())
		h.dispatch(t, tap("proj-a|start|explode"))
		assert.Equal(t, []string{"Unknown action"}, h.transport.answers)
	})
}

func TestStartDelete(t *testing.T) {
	h := newHarness(t, projA())
	path := writeTranscript(t, h, "/src/proj-a", transcriptA, "hi")

	h.dispatch(t, tap("proj-a|start|delete|11111111"))

	assert.Equal(t, []string{"Deleting…"}, h.transport.answers)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	require.Len(t, h.transport.sent, 1)
	assert.Contains(t, h.transport.sent[0].text, "11111111")
}

func TestSessionsCommand(t *testing.T) {
	sessions := projA()
	sessions["old"] = registry.Session{Terminal: "old", ThreadID: 51}
	h := newHarness(t, sessions)
	h.term.mux.handles = []string{"proj-a-tmux", "scratch"}

	h.dispatch(t, message(42, "/tel_sessions"))

	require.Len(t, h.transport.sent, 1)
	text := h.transport.sent[0].text
	assert.Contains(t, text, "🟢 <b>proj-a</b> ✅")
	assert.Contains(t, text, "⚪ <b>scratch</b> ➖")
	assert.Contains(t, text, "⚫ <b>old</b> <i>stopped</i>")
	assert.Contains(t, text, "/src/proj-a")
}

func TestSessionsCommandEmpty(t *testing.T) {
	h := newHarness(t, registry.Sessions{})

	h.dispatch(t, message(42, "/tel_sessions"))

	require.Len(t, h.transport.sent, 1)
	assert.Equal(t, "No terminal sessions found.", h.transport.sent[0].text)
}
