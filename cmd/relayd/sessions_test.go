package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-command/relayd/internal/registry"
	"github.com/agent-command/relayd/internal/terminal"
)

type aliveSet map[terminal.Target]bool

func (a aliveSet) Alive(ctx context.Context, t terminal.Target) bool { return a[t] }

func TestCollectSessions(t *testing.T) {
	sessions := registry.Sessions{
		"proj-a": {Terminal: "proj-a", Backend: "tmux", ThreadID: 42, Active: true, SessionID: "s1"},
		"notes":  {Terminal: "notes", ThreadID: 43},
		"odd":    {Terminal: "odd", Backend: "screen", Active: true},
	}
	alive := aliveSet{
		{Backend: terminal.BackendTmux, Handle: "proj-a"}:   true,
		{Backend: terminal.BackendZellij, Handle: "notes"}: true,
	}

	rows := collectSessions(context.Background(), sessions, alive, nil, terminal.BackendZellij)
	require.Len(t, rows, 3)

	byName := map[string]sessionRow{}
	for _, r := range rows {
		byName[r.Name] = r
	}
	assert.Equal(t, []string{"notes", "odd", "proj-a"}, []string{rows[0].Name, rows[1].Name, rows[2].Name})
	assert.True(t, byName["proj-a"].Alive)
	assert.Equal(t, "zellij", byName["notes"].Backend)
	assert.True(t, byName["notes"].Alive)
	assert.False(t, byName["odd"].Alive)
	assert.Equal(t, "screen", byName["odd"].Backend)
}

func TestSessionState(t *testing.T) {
	testCases := []struct {
		alive, active bool
		want          string
	}{
		{alive: true, active: true, want: "running"},
		{alive: true, want: "idle"},
		{active: true, want: "gone"},
		{want: "stopped"},
	}
	for _, tc := range testCases {
		t.Run(tc.want, func(t *testing.T) {
			assert.Equal(t, tc.want, sessionState(sessionRow{Alive: tc.alive, Active: tc.active}))
		})
	}
}

func TestRenderSessions(t *testing.T) {
	out := renderSessions([]sessionRow{
		{Name: "proj-a", Backend: "tmux", Terminal: "proj-a", Alive: true, Active: true, ThreadID: 42, Cwd: "/src/proj-a", Branch: "main"},
	})
	for _, want := range []string{"NAME", "proj-a", "running", "tmux:proj-a", "42", "/src/proj-a", "main"} {
		assert.Contains(t, out, want)
	}
}

func TestPrintLastLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relayd.log")
	content := "one\ntwo\nthree\nfour\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	var out bytes.Buffer
	offset, err := printLastLines(&out, path, 2)
	require.NoError(t, err)
	assert.Equal(t, "three\nfour\n", out.String())
	assert.Equal(t, int64(len(content)), offset)

	out.Reset()
	_, err = printLastLines(&out, path, 0)
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(out.String()))

	_, err = printLastLines(&out, filepath.Join(t.TempDir(), "missing.log"), 5)
	assert.True(t, os.IsNotExist(err))
}
