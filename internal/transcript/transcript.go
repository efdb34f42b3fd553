// Package transcript reads the agent's per-project JSONL conversation logs.
package transcript

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound  = errors.New("transcript not found")
	ErrAmbiguous = errors.New("transcript id prefix is ambiguous")
)

// tailBytes bounds how much of a transcript is scanned for the last reply.
const tailBytes = 100_000

// ShortIDLen is the id prefix length used in buttons and messages.
const ShortIDLen = 8

var projectDirChars = regexp.MustCompile(`[^a-zA-Z0-9]`)

type Info struct {
	ID      string
	Path    string
	ModTime time.Time
	Preview string
}

func (i Info) ShortID() string {
	return ShortID(i.ID)
}

func ShortID(id string) string {
	if len(id) > ShortIDLen {
		return id[:ShortIDLen]
	}
	return id
}

// Store locates transcripts under the agent's projects directory.
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: root}
}

// Dir is the project directory the agent uses for cwd.
func (s *Store) Dir(cwd string) string {
	return filepath.Join(s.root, projectDirChars.ReplaceAllString(cwd, "-"))
}

// List returns up to limit transcripts for cwd, newest first. A missing
// project directory yields no transcripts.
func (s *Store) List(cwd string, limit int) ([]Info, error) {
	entries, err := os.ReadDir(s.Dir(cwd))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var infos []Info
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		id := strings.TrimSuffix(name, ".jsonl")
		if _, err := uuid.Parse(id); err != nil {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		infos = append(infos, Info{
			ID:      id,
			Path:    filepath.Join(s.Dir(cwd), name),
			ModTime: fi.ModTime(),
		})
	}

	sort.Slice(infos, func(a, b int) bool { return infos[a].ModTime.After(infos[b].ModTime) })
	if limit > 0 && len(infos) > limit {
		infos = infos[:limit]
	}
	for i := range infos {
		infos[i].Preview = FirstPrompt(infos[i].Path)
	}
	return infos, nil
}

// Find resolves an id or id prefix to a single transcript.
func (s *Store) Find(cwd, prefix string) (Info, error) {
	if prefix == "" {
		return Info{}, ErrNotFound
	}
	all, err := s.List(cwd, 0)
	if err != nil {
		return Info{}, err
	}
	var matches []Info
	for _, info := range all {
		if strings.HasPrefix(info.ID, prefix) {
			matches = append(matches, info)
		}
	}
	switch len(matches) {
	case 0:
		return Info{}, fmt.Errorf("%w: %s", ErrNotFound, prefix)
	case 1:
		return matches[0], nil
	}
	return Info{}, fmt.Errorf("%w: %s", ErrAmbiguous, prefix)
}

// Delete removes the transcript matching prefix.
func (s *Store) Delete(cwd, prefix string) (Info, error) {
	info, err := s.Find(cwd, prefix)
	if err != nil {
		return Info{}, err
	}
	if err := os.Remove(info.Path); err != nil {
		return Info{}, fmt.Errorf("failed to delete transcript: %w", err)
	}
	return info, nil
}

type entry struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message"`
	Data    *struct {
		Message *struct {
			Type    string          `json:"type"`
			Message json.RawMessage `json:"message"`
		} `json:"message"`
	} `json:"data"`
}

type message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type block struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// texts returns the text blocks of a message body. String content counts as
// one block.
func texts(raw json.RawMessage) []string {
	var m message
	if len(raw) == 0 || json.Unmarshal(raw, &m) != nil {
		return nil
	}
	var s string
	if json.Unmarshal(m.Content, &s) == nil {
		if s == "" {
			return nil
		}
		return []string{s}
	}
	var blocks []block
	if json.Unmarshal(m.Content, &blocks) != nil {
		return nil
	}
	var out []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			out = append(out, b.Text)
		}
	}
	return out
}

// LastAssistantMessage returns the text of the newest assistant message in
// the tail of the transcript, or "" if there is none.
func LastAssistantMessage(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return "", err
	}
	offset := fi.Size() - tailBytes
	if offset < 0 {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return "", err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		var e entry
		if json.Unmarshal([]byte(lines[i]), &e) != nil {
			continue
		}
		var raw json.RawMessage
		switch {
		case e.Type == "assistant":
			raw = e.Message
		case e.Type == "progress" && e.Data != nil && e.Data.Message != nil && e.Data.Message.Type == "assistant":
			raw = e.Data.Message.Message
		default:
			continue
		}
		if parts := texts(raw); len(parts) > 0 {
			return strings.Join(parts, "\n"), nil
		}
	}
	return "", nil
}

// FirstPrompt returns the first real user prompt of a transcript, flattened
// to one line. Command wrappers and tool results are skipped.
func FirstPrompt(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for n := 0; scanner.Scan() && n < 200; n++ {
		var e entry
		if json.Unmarshal(scanner.Bytes(), &e) != nil || e.Type != "user" {
			continue
		}
		for _, t := range texts(e.Message) {
			t = strings.TrimSpace(t)
			if t == "" || strings.HasPrefix(t, "<") {
				continue
			}
			return strings.Join(strings.Fields(t), " ")
		}
	}
	return ""
}
