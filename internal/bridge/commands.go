package bridge

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/agent-command/relayd/internal/callback"
	"github.com/agent-command/relayd/internal/proc"
	"github.com/agent-command/relayd/internal/registry"
	"github.com/agent-command/relayd/internal/telegram"
	"github.com/agent-command/relayd/internal/terminal"
)

// startChoices is how many recent transcripts /tel_start offers.
const startChoices = 5

// panePIDer is implemented by multiplexers that expose the pane process.
type panePIDer interface {
	PanePID(ctx context.Context, handle string) (int, error)
}

// cmdSessions lists live terminals on every backend, then registered
// sessions whose terminal is gone.
func (r *Router) cmdSessions(ctx context.Context, thread int64) error {
	sessions, err := r.registry.Load()
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}

	snap := r.snapshot()
	agentBin := filepath.Base(strings.Fields(r.cfg.Agent.Command + " x")[0])
	seen := make(map[string]bool)
	var lines []string

	for _, backend := range r.term.Backends() {
		mux, err := r.term.Mux(backend)
		if err != nil {
			continue
		}
		listCtx, cancel := r.muxContext(ctx)
		handles, err := mux.List(listCtx)
		cancel()
		if err != nil {
			r.log.WithError(err).WithField("backend", backend).Debug("Failed to list sessions")
			continue
		}
		for _, handle := range handles {
			name, sess, ok := sessions.FindByTerminal(string(backend), handle)
			if ok {
				seen[name] = true
			}
			lines = append(lines, r.liveLine(ctx, backend, mux, handle, name, sess, ok, snap, agentBin))
		}
	}

	var stopped []string
	for _, name := range sessions.Names() {
		if !seen[name] {
			stopped = append(stopped, "\n⚫ "+bold(name)+" <i>stopped</i>")
		}
	}

	if len(lines) == 0 && len(stopped) == 0 {
		r.send(ctx, thread, "No terminal sessions found.", nil)
		return nil
	}

	out := []string{"<b>Sessions:</b>"}
	out = append(out, lines...)
	out = append(out, stopped...)
	out = append(out, "\n🟢 = bridged, ⚪ = no bridge, ⚫ = stopped", "✅ = has thread, ➖ = no thread, 🤖 = agent running")
	r.send(ctx, thread, strings.Join(out, "\n"), nil)
	return nil
}

func (r *Router) liveLine(ctx context.Context, backend terminal.Backend, mux terminal.Multiplexer, handle, name string,
	sess registry.Session, bridged bool, snap *proc.Snapshot, agentBin string) string {
	status := "⚪"
	label := handle
	if bridged {
		label = name
		if sess.Active {
			status = "🟢"
		}
	}
	hasThread := "➖"
	if bridged && sess.ThreadID != 0 {
		hasThread = "✅"
	}

	line := fmt.Sprintf("\n%s %s %s", status, bold(label), hasThread)
	if p, ok := mux.(panePIDer); ok {
		if pid, err := p.PanePID(ctx, handle); err == nil && hasAgent(snap, pid, agentBin) {
			line += " 🤖"
		}
	}
	if label != handle {
		line += fmt.Sprintf(" <i>%s:%s</i>", backend, telegram.Escape(handle))
	} else if backend != terminal.BackendTmux {
		line += fmt.Sprintf(" <i>%s</i>", backend)
	}
	if bridged && sess.Cwd != "" {
		line += "\n  <i>" + telegram.Escape(telegram.Truncate(sess.Cwd, 60)) + "</i>"
		if info := r.git.Lookup(ctx, sess.Cwd); info != nil && info.Branch != "" {
			line += " " + code(info.Branch)
		}
	}
	return line
}

func (r *Router) cmdRename(ctx context.Context, thread int64, args string) error {
	newName := strings.TrimSpace(args)
	if newName == "" {
		r.send(ctx, thread, msgRenameUsage, nil)
		return nil
	}

	oldName, _, ok, err := r.registry.FindByThread(thread)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}
	if !ok {
		r.send(ctx, thread, msgNoSession, nil)
		return nil
	}

	if err := r.registry.Rename(oldName, newName); err != nil {
		switch {
		case errors.Is(err, registry.ErrExists):
			r.send(ctx, thread, fmt.Sprintf("⚠️ A session named %s already exists.", bold(newName)), nil)
		case errors.Is(err, registry.ErrInvalidName):
			r.send(ctx, thread, fmt.Sprintf("⚠️ %s is not a valid session name.", code(newName)), nil)
		case errors.Is(err, registry.ErrNotFound):
			r.send(ctx, thread, msgNoSession, nil)
		default:
			return fmt.Errorf("failed to rename %s: %w", oldName, err)
		}
		return nil
	}

	log := r.log.WithFields(logrus.Fields{"from": oldName, "to": newName})
	if err := r.busy.Rename(oldName, newName); err != nil {
		log.WithError(err).Warn("Failed to move busy marker")
	}
	if err := r.pending.Rename(oldName, newName); err != nil {
		log.WithError(err).Warn("Failed to move pending marker")
	}
	if err := r.transport.RenameThread(ctx, thread, newName); err != nil {
		log.WithError(err).Warn("Failed to rename thread")
	}

	r.send(ctx, thread, fmt.Sprintf("✅ Renamed: %s → %s", bold(oldName), bold(newName)), nil)
	log.Info("Renamed session")
	return nil
}

// cmdStart offers recent transcripts to resume, or a fresh start, for the
// thread's session when its terminal is not running.
func (r *Router) cmdStart(ctx context.Context, thread int64) error {
	name, sess, ok, err := r.registry.FindByThread(thread)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}
	if !ok {
		r.send(ctx, thread, msgNoSession, nil)
		return nil
	}
	if target, err := r.target(name, sess, true); err == nil && r.term.Alive(ctx, target) {
		r.send(ctx, thread, fmt.Sprintf("⚠️ Session %s is already running.", bold(name)), nil)
		return nil
	}

	if len(name) > callback.MaxSessionLen {
		r.send(ctx, thread, fmt.Sprintf("⚠️ Session name %s is too long for buttons. Use /tel_rename first.", bold(name)), nil)
		return nil
	}
	fresh, err := callback.Start(name, callback.StartFresh, "").Encode()
	if err != nil {
		return err
	}

	infos, err := r.transcripts.List(sess.Cwd, startChoices)
	if err != nil {
		r.log.WithError(err).WithField("cwd", sess.Cwd).Warn("Failed to list transcripts")
	}

	var rows [][]telegram.InlineKeyboardButton
	for _, info := range infos {
		label := "▶️ " + info.ModTime.Local().Format("Jan 2 15:04")
		if info.Preview != "" {
			label += " " + telegram.Truncate(info.Preview, 32)
		}
		resume, err := callback.Start(name, callback.StartResume, info.ShortID()).Encode()
		if err != nil {
			r.log.WithError(err).Warn("Skipping transcript button")
			continue
		}
		del, err := callback.Start(name, callback.StartDelete, info.ShortID()).Encode()
		if err != nil {
			r.log.WithError(err).Warn("Skipping transcript button")
			continue
		}
		rows = append(rows, []telegram.InlineKeyboardButton{
			telegram.Button(label, resume),
			telegram.Button("🗑", del),
		})
	}
	rows = append(rows, []telegram.InlineKeyboardButton{telegram.Button("🆕 Start fresh", fresh)})

	text := fmt.Sprintf("▶️ Start %s\n\nPick a conversation to resume, or start fresh.", bold(name))
	if sess.Cwd != "" {
		text += "\n<i>" + telegram.Escape(sess.Cwd) + "</i>"
	}
	r.send(ctx, thread, text, telegram.Keyboard(rows...))
	return nil
}

// cmdEnd stops the thread's terminal and marks the session inactive. The
// thread stays open so the session can be started again.
func (r *Router) cmdEnd(ctx context.Context, thread int64) error {
	name, sess, ok, err := r.registry.FindByThread(thread)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}
	if !ok {
		r.send(ctx, thread, msgNoSession, nil)
		return nil
	}

	if target, err := r.target(name, sess, false); err == nil && r.term.Alive(ctx, target) {
		mux, err := r.term.Mux(target.Backend)
		if err == nil {
			destroyCtx, cancel := r.muxContext(ctx)
			err = mux.Destroy(destroyCtx, target.Handle)
			cancel()
		}
		if err != nil {
			r.send(ctx, thread, errorText("Failed to stop "+name, err), nil)
			return nil
		}
	}

	err = r.registry.Update(func(s registry.Sessions) error {
		cur, ok := s[name]
		if !ok {
			return registry.ErrNotFound
		}
		cur.Active = false
		s[name] = cur
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to mark %s inactive: %w", name, err)
	}
	r.busy.Clear(name)

	r.send(ctx, thread, fmt.Sprintf("🛑 Session %s ended. Use /tel_start to start it again.", bold(name)), nil)
	r.log.WithField("session", name).Info("Ended session")
	return nil
}

func hasAgent(snap *proc.Snapshot, pid int, bin string) bool {
	_, ok := snap.FindAgent(pid, bin)
	return ok
}
