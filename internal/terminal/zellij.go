package terminal

import (
	"context"
	"strings"

	"github.com/agent-command/relayd/internal/config"
)

// Zellij drives zellij sessions. Actions target a session through
// ZELLIJ_SESSION_NAME.
type Zellij struct {
	cfg    *config.ZellijConfig
	runner Runner
}

func NewZellij(cfg *config.ZellijConfig, runner Runner) *Zellij {
	return &Zellij{cfg: cfg, runner: runner}
}

func (z *Zellij) action(ctx context.Context, handle string, args ...string) ([]byte, error) {
	env := []string{"ZELLIJ_SESSION_NAME=" + handle}
	return z.runner.Run(ctx, env, z.cfg.Bin, append([]string{"action"}, args...)...)
}

func (z *Zellij) Exists(ctx context.Context, handle string) (bool, error) {
	names, err := z.List(ctx)
	if err != nil {
		return false, err
	}
	for _, name := range names {
		if name == handle {
			return true, nil
		}
	}
	return false, nil
}

// Send writes one keystroke call. Enter is a raw carriage return and Down is
// the ESC [ B sequence.
func (z *Zellij) Send(ctx context.Context, handle string, key Key) error {
	var args []string
	switch key.kind {
	case keyEnter:
		args = []string{"write", "13"}
	case keyDown:
		args = []string{"write", "27", "91", "66"}
	default:
		args = []string{"write-chars", key.text}
	}
	output, err := z.action(ctx, handle, args...)
	if err != nil {
		return commandError("write to session", err, output)
	}
	return nil
}

// Create starts a background session and types the launch command into it.
func (z *Zellij) Create(ctx context.Context, handle, dir, command string) error {
	output, err := z.runner.Run(ctx, nil, z.cfg.Bin, "attach", "--create-background", handle)
	if err != nil {
		return commandError("create session", err, output)
	}
	line := command
	if dir != "" {
		line = "cd " + shellQuote(dir) + " && " + command
	}
	if strings.TrimSpace(line) == "" {
		return nil
	}
	if err := z.Send(ctx, handle, Literal(line)); err != nil {
		return err
	}
	return z.Send(ctx, handle, Enter)
}

func (z *Zellij) Destroy(ctx context.Context, handle string) error {
	output, err := z.runner.Run(ctx, nil, z.cfg.Bin, "kill-session", handle)
	if err != nil {
		return commandError("kill session", err, output)
	}
	return nil
}

// List returns session names. zellij exits non-zero when there are none.
func (z *Zellij) List(ctx context.Context) ([]string, error) {
	output, err := z.runner.Run(ctx, nil, z.cfg.Bin, "list-sessions", "--short", "--no-formatting")
	if err != nil {
		if isExit(err) && strings.Contains(strings.ToLower(string(output)+err.Error()), "no active zellij sessions") {
			return nil, nil
		}
		return nil, commandError("list sessions", err, output)
	}
	return splitLines(output), nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
