package transcript

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	idOld = "11111111-aaaa-4aaa-8aaa-000000000001"
	idNew = "22222222-bbbb-4bbb-8bbb-000000000002"
	idTwo = "22222222-cccc-4ccc-8ccc-000000000003"
)

func writeTranscript(t *testing.T, dir, id string, mtime time.Time, lines ...string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, id+".jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func TestDir(t *testing.T) {
	s := NewStore("/home/me/.claude/projects")
	assert.Equal(t, "/home/me/.claude/projects/-home-me-src-my-app-v1-2", s.Dir("/home/me/src/my_app/v1.2"))
}

func TestListFindDelete(t *testing.T) {
	s := NewStore(t.TempDir())
	dir := s.Dir("/src/proj")
	base := time.Now().Add(-time.Hour)

	writeTranscript(t, dir, idOld, base,
		`{"type":"user","message":{"role":"user","content":"<command-name>/clear</command-name>"}}`,
		`{"type":"user","message":{"role":"user","content":"fix the   flaky\ntest"}}`)
	writeTranscript(t, dir, idNew, base.Add(10*time.Minute),
		`{"type":"user","message":{"role":"user","content":[{"type":"text","text":"add a CLI"}]}}`)
	writeTranscript(t, dir, idTwo, base.Add(5*time.Minute))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.jsonl"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.txt"), []byte("{}"), 0o644))

	infos, err := s.List("/src/proj", 0)
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, idNew, infos[0].ID)
	assert.Equal(t, "add a CLI", infos[0].Preview)
	assert.Equal(t, idTwo, infos[1].ID)
	assert.Equal(t, "", infos[1].Preview)
	assert.Equal(t, "fix the flaky test", infos[2].Preview)

	limited, err := s.List("/src/proj", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	found, err := s.Find("/src/proj", "11111111")
	require.NoError(t, err)
	assert.Equal(t, idOld, found.ID)
	assert.Equal(t, "11111111", found.ShortID())

	_, err = s.Find("/src/proj", "22222222")
	assert.ErrorIs(t, err, ErrAmbiguous)
	_, err = s.Find("/src/proj", "99999999")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Find("/src/proj", "")
	assert.ErrorIs(t, err, ErrNotFound)

	deleted, err := s.Delete("/src/proj", "11111111")
	require.NoError(t, err)
	assert.Equal(t, idOld, deleted.ID)
	_, err = os.Stat(deleted.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestListMissingDir(t *testing.T) {
	infos, err := NewStore(t.TempDir()).List("/nowhere", 5)
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestLastAssistantMessage(t *testing.T) {
	dir := t.TempDir()
	path := writeTranscript(t, dir, idNew, time.Now(),
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"first answer"}]}}`,
		`{"type":"user","message":{"role":"user","content":"thanks"}}`,
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"part one"},{"type":"tool_use","name":"Bash"},{"type":"text","text":"part two"}]}}`,
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","name":"Read"}]}}`,
		`not json at all`)

	msg, err := LastAssistantMessage(path)
	require.NoError(t, err)
	assert.Equal(t, "part one\npart two", msg)
}

func TestLastAssistantMessageFromProgress(t *testing.T) {
	path := writeTranscript(t, t.TempDir(), idNew, time.Now(),
		`{"type":"progress","data":{"message":{"type":"assistant","message":{"content":[{"type":"text","text":"subagent says hi"}]}}}}`)

	msg, err := LastAssistantMessage(path)
	require.NoError(t, err)
	assert.Equal(t, "subagent says hi", msg)
}

func TestLastAssistantMessageReadsOnlyTail(t *testing.T) {
	early := `{"type":"assistant","message":{"content":[{"type":"text","text":"too early"}]}}`
	filler := `{"type":"user","message":{"content":"` + strings.Repeat("x", 1000) + `"}}`
	lines := []string{early}
	for i := 0; i < 150; i++ {
		lines = append(lines, filler)
	}
	path := writeTranscript(t, t.TempDir(), idNew, time.Now(), lines...)

	msg, err := LastAssistantMessage(path)
	require.NoError(t, err)
	assert.Empty(t, msg)
}

func TestLastAssistantMessageMissing(t *testing.T) {
	msg, err := LastAssistantMessage("")
	assert.NoError(t, err)
	assert.Empty(t, msg)

	_, err = LastAssistantMessage(filepath.Join(t.TempDir(), "absent.jsonl"))
	assert.Error(t, err)
}
