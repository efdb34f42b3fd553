package hooks

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/agent-command/relayd/internal/markers"
	"github.com/agent-command/relayd/internal/registry"
	"github.com/agent-command/relayd/internal/telegram"
	"github.com/agent-command/relayd/internal/terminal"
	"github.com/agent-command/relayd/internal/transcript"
)

// doneReaction acknowledges the message whose work the agent finished or
// paused on.
const doneReaction = "🏆"

// Sender is the chat surface the notifier uses.
type Sender interface {
	SendMessage(ctx context.Context, threadID int64, text string, markup *telegram.InlineKeyboardMarkup) (int, error)
	SetReaction(ctx context.Context, messageID int, emoji string) error
}

// DetectFunc reports the terminal the hook process runs in.
type DetectFunc func(ctx context.Context) (terminal.Target, bool)

// Notifier forwards agent hook events to the session's chat thread. It never
// fails the hook: every error is logged and dropped.
type Notifier struct {
	registry *registry.Registry
	busy     *markers.Busy
	pending  *markers.Pending
	sender   Sender
	detect   DetectFunc
	log      *logrus.Entry
}

func NewNotifier(reg *registry.Registry, busy *markers.Busy, pending *markers.Pending, sender Sender, detect DetectFunc, log *logrus.Entry) *Notifier {
	return &Notifier{
		registry: reg,
		busy:     busy,
		pending:  pending,
		sender:   sender,
		detect:   detect,
		log:      log,
	}
}

// Run reads one event from r, handles it, and writes the empty hook reply
// to w.
func (n *Notifier) Run(ctx context.Context, r io.Reader, w io.Writer) {
	in, err := ReadInput(r)
	if err != nil {
		n.swallow(err, "Bad hook input", nil)
	} else {
		n.Handle(ctx, in)
	}
	if _, err := io.WriteString(w, "{}\n"); err != nil {
		n.swallow(err, "Failed to write hook reply", nil)
	}
}

func (n *Notifier) Handle(ctx context.Context, in Input) {
	event := in.HookEventName
	name, sess, ok := n.resolve(ctx, in)
	if !ok {
		n.log.WithFields(logrus.Fields{"event": event, "session_id": in.SessionID}).Debug("No session for hook event")
		return
	}
	log := n.log.WithFields(logrus.Fields{"event": event, "session": name})

	switch event {
	case EventStop, EventPermissionRequest, EventNotification:
		msgID, had := n.busy.Take(name)
		if had && msgID > 0 {
			if err := n.sender.SetReaction(ctx, msgID, doneReaction); err != nil {
				n.swallow(err, "Failed to react to message", log.Data)
			}
		}
	}

	switch event {
	case EventPermissionRequest:
		if in.ToolName != toolAskUserQuestion {
			if err := n.pending.Mark(name); err != nil {
				n.swallow(err, "Failed to mark pending permission", log.Data)
			}
		}
	case EventPostToolUse, EventPostToolUseFailure:
		if !n.pending.Consume(name) {
			return
		}
	case EventStop:
		if in.LastAssistantMessage == "" && in.TranscriptPath != "" {
			last, err := transcript.LastAssistantMessage(in.TranscriptPath)
			if err != nil {
				n.swallow(err, "Failed to read transcript", log.Data)
			}
			in.LastAssistantMessage = last
		}
	}

	for _, msg := range Format(in, name) {
		if _, err := n.sender.SendMessage(ctx, sess.ThreadID, msg.Text, msg.Markup); err != nil {
			n.swallow(err, "Failed to send notification", log.Data)
			return
		}
	}
	log.Debug("Notified")
}

// resolve finds the session by the terminal the hook runs in, then by the
// agent's session id.
func (n *Notifier) resolve(ctx context.Context, in Input) (string, registry.Session, bool) {
	sessions, err := n.registry.Load()
	if err != nil {
		n.swallow(err, "Failed to load registry", nil)
		return "", registry.Session{}, false
	}
	if n.detect != nil {
		if t, ok := n.detect(ctx); ok {
			if name, sess, found := sessions.FindByTerminal(string(t.Backend), t.Handle); found {
				return name, sess, true
			}
		}
	}
	return sessions.FindBySessionID(in.SessionID)
}

// swallow is the notifier's only error log site.
func (n *Notifier) swallow(err error, msg string, fields logrus.Fields) {
	n.log.WithFields(fields).WithError(err).Warn(msg)
}
