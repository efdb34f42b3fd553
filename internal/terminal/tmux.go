package terminal

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/agent-command/relayd/internal/config"
)

// Tmux drives tmux sessions through the tmux CLI.
type Tmux struct {
	cfg    *config.TmuxConfig
	runner Runner
}

func NewTmux(cfg *config.TmuxConfig, runner Runner) *Tmux {
	return &Tmux{cfg: cfg, runner: runner}
}

func (c *Tmux) run(ctx context.Context, args ...string) ([]byte, error) {
	if c.cfg.Socket != "" {
		args = append([]string{"-S", c.cfg.Socket}, args...)
	}
	return c.runner.Run(ctx, nil, c.cfg.Bin, args...)
}

// Exists checks for a session with exactly this name.
func (c *Tmux) Exists(ctx context.Context, handle string) (bool, error) {
	_, err := c.run(ctx, "has-session", "-t", "="+handle)
	if err == nil {
		return true, nil
	}
	if isExit(err) {
		return false, nil
	}
	return false, err
}

// Send delivers one keystroke call. Multi-line literals go through a paste
// buffer so embedded newlines do not submit the prompt early.
func (c *Tmux) Send(ctx context.Context, handle string, key Key) error {
	var args []string
	switch key.kind {
	case keyEnter:
		args = []string{"send-keys", "-t", handle, "Enter"}
	case keyDown:
		args = []string{"send-keys", "-t", handle, "Down"}
	default:
		if strings.Contains(key.text, "\n") {
			return c.paste(ctx, handle, key.text)
		}
		args = []string{"send-keys", "-t", handle, "-l", "--", key.text}
	}

	output, err := c.run(ctx, args...)
	if err != nil {
		return commandError("send keys", err, output)
	}
	return nil
}

func (c *Tmux) paste(ctx context.Context, handle, text string) error {
	bufferName := fmt.Sprintf("relay_%d", time.Now().UnixNano())
	output, err := c.run(ctx, "set-buffer", "-b", bufferName, "--", text)
	if err != nil {
		return commandError("load buffer", err, output)
	}
	output, err = c.run(ctx, "paste-buffer", "-p", "-d", "-b", bufferName, "-t", handle)
	if err != nil {
		return commandError("paste buffer", err, output)
	}
	return nil
}

// Create starts a detached session running command in dir.
func (c *Tmux) Create(ctx context.Context, handle, dir, command string) error {
	args := []string{"new-session", "-d", "-s", handle}
	if dir != "" {
		args = append(args, "-c", dir)
	}
	if command != "" {
		args = append(args, command)
	}
	output, err := c.run(ctx, args...)
	if err != nil {
		return commandError("create session", err, output)
	}
	return nil
}

func (c *Tmux) Destroy(ctx context.Context, handle string) error {
	output, err := c.run(ctx, "kill-session", "-t", "="+handle)
	if err != nil {
		return commandError("kill session", err, output)
	}
	return nil
}

// List returns all session names. No tmux server running is not an error.
func (c *Tmux) List(ctx context.Context) ([]string, error) {
	output, err := c.run(ctx, "list-sessions", "-F", "#{session_name}")
	if err != nil {
		if noServer(output, err) {
			return nil, nil
		}
		return nil, commandError("list sessions", err, output)
	}
	return splitLines(output), nil
}

// PanePID returns the pid of the active pane's process in a session.
func (c *Tmux) PanePID(ctx context.Context, handle string) (int, error) {
	output, err := c.run(ctx, "display-message", "-p", "-t", handle, "#{pane_pid}")
	if err != nil {
		return 0, commandError("get pane pid", err, output)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(output)))
	if err != nil {
		return 0, fmt.Errorf("failed to parse pane pid: %w", err)
	}
	return pid, nil
}

// Current returns the session name of the client this process runs under.
func (c *Tmux) Current(ctx context.Context) (string, error) {
	output, err := c.run(ctx, "display-message", "-p", "#S")
	if err != nil {
		return "", commandError("get current session", err, output)
	}
	return strings.TrimSpace(string(output)), nil
}

func noServer(output []byte, err error) bool {
	text := strings.ToLower(string(output) + " " + err.Error())
	return strings.Contains(text, "no server running") || strings.Contains(text, "error connecting to")
}
