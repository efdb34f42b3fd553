package bridge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-command/relayd/internal/telegram"
	"github.com/agent-command/relayd/internal/terminal"
)

func TestOptionTapInjectsSelection(t *testing.T) {
	h := newHarness(t, projA())

	h.dispatch(t, tap("proj-a|opt|2|3",
		telegram.Button("Ship it", "proj-a|opt|0|3"),
		telegram.Button("Retry", "proj-a|opt|2|3"),
	))

	require.Len(t, h.term.injections, 1)
	assert.Equal(t, injection{
		kind:   "selection",
		target: terminal.Target{Backend: terminal.BackendTmux, Handle: "proj-a-tmux"},
		index:  2,
		num:    3,
	}, h.term.injections[0])

	assert.Equal(t, []string{"Selected: Retry"}, h.transport.answers)
	require.Len(t, h.transport.sent, 1)
	assert.Equal(t, int64(42), h.transport.sent[0].thread)
	assert.Equal(t, "✅ Selected: <code>Retry</code>", h.transport.sent[0].text)
	assert.Equal(t, []int{600}, h.transport.edits)

	msgID, ok := h.busy.Take("proj-a")
	assert.True(t, ok)
	assert.Equal(t, 600, msgID)
}

func TestOptionTapWithoutCountDefaults(t *testing.T) {
	h := newHarness(t, projA())

	h.dispatch(t, tap("proj-a|opt|4"))

	require.Len(t, h.term.injections, 1)
	assert.Equal(t, 4, h.term.injections[0].index)
	assert.Equal(t, 99, h.term.injections[0].num)
	assert.Equal(t, []string{"Selected: 4"}, h.transport.answers)
}

func TestPermissionTap(t *testing.T) {
	h := newHarness(t, projA())

	h.dispatch(t, tap("proj-a|perm|always", telegram.Button("🔓 Always allow", "proj-a|perm|always")))

	require.Len(t, h.term.injections, 1)
	assert.Equal(t, "permission", h.term.injections[0].kind)
	assert.Equal(t, "always", h.term.injections[0].value)
	assert.Equal(t, []string{"Selected: 🔓 Always allow"}, h.transport.answers)
}

func TestImplicitTextTap(t *testing.T) {
	h := newHarness(t, projA())

	h.dispatch(t, tap("proj-a|continue"))

	require.Len(t, h.term.injections, 1)
	assert.Equal(t, "text", h.term.injections[0].kind)
	assert.Equal(t, "continue", h.term.injections[0].value)
}

func TestCallbackAnsweredExactlyOnce(t *testing.T) {
	testCases := []struct {
		name       string
		data       string
		fail       bool
		wantAnswer string
		wantSent   []string
	}{
		{name: "malformed", data: "garbage", wantAnswer: "Invalid button data"},
		{name: "unknown session", data: "ghost|perm|yes", wantAnswer: "Session ghost not found"},
		{name: "bad index", data: "proj-a|opt|x|3", wantAnswer: "Invalid index"},
		{name: "unknown action", data: "proj-a|zap|1", wantAnswer: "Unknown action"},
		{name: "injection failure", data: "proj-a|perm|yes", fail: true, wantAnswer: "Failed to send", wantSent: []string{msgCallbackFailed}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, projA())
			h.term.fail = tc.fail

			h.dispatch(t, tap(tc.data))

			assert.Equal(t, []string{tc.wantAnswer}, h.transport.answers)
			var sent []string
			for _, m := range h.transport.sent {
				sent = append(sent, m.text)
			}
			assert.Equal(t, tc.wantSent, sent)
			assert.Empty(t, h.transport.edits)
			assert.Empty(t, h.busy.Sessions())
		})
	}
}

func TestCallbackAnsweredOnPanic(t *testing.T) {
	h := newHarness(t, projA())
	h.term.panics = true

	assert.Panics(t, func() {
		_ = h.router.Dispatch(context.Background(), tap("proj-a|perm|yes"))
	})
	assert.Equal(t, []string{""}, h.transport.answers)
}

func TestUnauthorizedCallbackNotAnswered(t *testing.T) {
	h := newHarness(t, projA())
	u := tap("proj-a|perm|yes")
	u.CallbackQuery.From.ID = 8

	h.dispatch(t, u)

	assert.Empty(t, h.transport.answers)
	assert.Empty(t, h.term.injections)

	u = tap("proj-a|perm|yes")
	u.CallbackQuery.Message.Chat.ID = -200
	h.dispatch(t, u)
	assert.Empty(t, h.transport.answers)
}
