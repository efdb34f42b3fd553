package proc

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeProc lays out /proc/<pid>/{stat,cmdline} with a full-length stat line.
func writeProc(t *testing.T, root string, pid, ppid int, comm string, argv ...string) {
	t.Helper()
	dir := filepath.Join(root, strconv.Itoa(pid))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	stat := fmt.Sprintf("%d (%s) S %d %d %d 0 -1 4194560 %s\n", pid, comm, ppid, pid, pid, strings.TrimSpace(strings.Repeat("0 ", 44)))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stat"), []byte(stat), 0o644))
	cmdline := ""
	if len(argv) > 0 {
		cmdline = strings.Join(argv, "\x00") + "\x00"
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cmdline"), []byte(cmdline), 0o644))
}

func TestFindAgent(t *testing.T) {
	root := t.TempDir()
	writeProc(t, root, 100, 1, "bash", "-bash")
	writeProc(t, root, 200, 100, "node", "node", "/usr/local/bin/Claude", "--resume", "abc")
	writeProc(t, root, 300, 1, "zsh")
	writeProc(t, root, 400, 300, "claude-helper", "claude-helper")
	writeProc(t, root, 500, 1, "claude")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "self"), 0o755))

	snap := TakeSnapshotFrom(root)

	testCases := []struct {
		name    string
		pid     int
		bins    []string
		wantPID int
	}{
		{name: "interpreted child", pid: 100, bins: []string{"claude"}, wantPID: 200},
		{name: "self", pid: 200, bins: []string{"claude"}, wantPID: 200},
		{name: "comm only", pid: 500, bins: []string{"claude"}, wantPID: 500},
		{name: "prefix is not a match", pid: 300, bins: []string{"claude"}},
		{name: "unknown pid", pid: 999, bins: []string{"claude"}},
		{name: "zero pid", pid: 0, bins: []string{"bash"}},
		{name: "empty name", pid: 100, bins: []string{""}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p, ok := snap.FindAgent(tc.pid, tc.bins...)
			assert.Equal(t, tc.wantPID != 0, ok)
			assert.Equal(t, tc.wantPID, p.PID)
		})
	}

	p, ok := snap.Get(200)
	require.True(t, ok)
	assert.Equal(t, 100, p.PPID)
	assert.Equal(t, "node", p.Comm)
	assert.Equal(t, []string{"node", "/usr/local/bin/Claude", "--resume", "abc"}, p.Cmdline)
}

func TestSnapshotMissingRoot(t *testing.T) {
	snap := TakeSnapshotFrom(filepath.Join(t.TempDir(), "absent"))
	_, ok := snap.FindAgent(1, "x")
	assert.False(t, ok)

	var nilSnap *Snapshot
	_, ok = nilSnap.FindAgent(1, "x")
	assert.False(t, ok)
	_, ok = nilSnap.Get(1)
	assert.False(t, ok)
}
