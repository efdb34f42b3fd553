// Package bridge routes chat updates to agent terminals: it authorizes and
// classifies messages and button taps, runs the bridge commands, and owns
// the long-poll loop and the typing indicator.
package bridge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/agent-command/relayd/internal/config"
	"github.com/agent-command/relayd/internal/gitinfo"
	"github.com/agent-command/relayd/internal/markers"
	"github.com/agent-command/relayd/internal/metrics"
	"github.com/agent-command/relayd/internal/proc"
	"github.com/agent-command/relayd/internal/registry"
	"github.com/agent-command/relayd/internal/telegram"
	"github.com/agent-command/relayd/internal/terminal"
	"github.com/agent-command/relayd/internal/transcript"
)

// Transport is the chat API surface the bridge uses.
type Transport interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, error)
	SendMessage(ctx context.Context, threadID int64, text string, markup *telegram.InlineKeyboardMarkup) (int, error)
	EditMessageReplyMarkup(ctx context.Context, messageID int, markup *telegram.InlineKeyboardMarkup) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
	SendChatAction(ctx context.Context, threadID int64, action string) error
	ReopenThread(ctx context.Context, threadID int64) error
	RenameThread(ctx context.Context, threadID int64, name string) error
}

// Terminal injects keystrokes into agent terminals.
type Terminal interface {
	Alive(ctx context.Context, t terminal.Target) bool
	InjectText(ctx context.Context, t terminal.Target, text string) bool
	InjectSelection(ctx context.Context, t terminal.Target, index, numDefined int) bool
	InjectPermission(ctx context.Context, t terminal.Target, choice string) bool
	Mux(b terminal.Backend) (terminal.Multiplexer, error)
	Backends() []terminal.Backend
}

// Deps are the collaborators a Router needs. Git, Snapshot and NewID have
// defaults.
type Deps struct {
	Config      *config.Config
	Transport   Transport
	Terminal    Terminal
	Registry    *registry.Registry
	Busy        *markers.Busy
	Pending     *markers.Pending
	Transcripts *transcript.Store
	Git         *gitinfo.Cache
	Snapshot    func() *proc.Snapshot
	NewID       func() string
	Log         *logrus.Entry
	Metrics     *metrics.Metrics
}

type Router struct {
	cfg         *config.Config
	transport   Transport
	term        Terminal
	registry    *registry.Registry
	busy        *markers.Busy
	pending     *markers.Pending
	transcripts *transcript.Store
	git         *gitinfo.Cache
	snapshot    func() *proc.Snapshot
	newID       func() string
	slash       map[string]bool
	log         *logrus.Entry
	metrics     *metrics.Metrics
}

func NewRouter(d Deps) *Router {
	r := &Router{
		cfg:         d.Config,
		transport:   d.Transport,
		term:        d.Terminal,
		registry:    d.Registry,
		busy:        d.Busy,
		pending:     d.Pending,
		transcripts: d.Transcripts,
		git:         d.Git,
		snapshot:    d.Snapshot,
		newID:       d.NewID,
		slash:       make(map[string]bool),
		log:         d.Log,
		metrics:     d.Metrics,
	}
	if r.git == nil {
		r.git = gitinfo.NewCache(time.Minute)
	}
	if r.snapshot == nil {
		r.snapshot = proc.TakeSnapshot
	}
	if r.newID == nil {
		r.newID = func() string { return uuid.New().String() }
	}
	for _, c := range d.Config.Agent.SlashCommands {
		r.slash[strings.TrimPrefix(c, "/")] = true
	}
	return r
}

// Dispatch handles one update. Problems the user should see are reported in
// the chat; the returned error is for the operator log.
func (r *Router) Dispatch(ctx context.Context, u telegram.Update) error {
	switch {
	case u.CallbackQuery != nil:
		r.metrics.Update("callback")
		return r.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil:
		r.metrics.Update("message")
		return r.handleMessage(ctx, u.Message)
	}
	r.metrics.Update("other")
	return nil
}

func (r *Router) authorizedMessage(msg *telegram.Message) bool {
	return msg.From != nil &&
		msg.From.ID == r.cfg.Telegram.UserID &&
		msg.Chat.ID == r.cfg.Telegram.GroupChatID
}

func (r *Router) authorizedCallback(cq *telegram.CallbackQuery) bool {
	if cq.From.ID != r.cfg.Telegram.UserID {
		return false
	}
	return cq.Message == nil || cq.Message.Chat.ID == r.cfg.Telegram.GroupChatID
}

func (r *Router) handleMessage(ctx context.Context, msg *telegram.Message) error {
	if !r.authorizedMessage(msg) {
		r.metrics.Unauthorized()
		var from int64
		if msg.From != nil {
			from = msg.From.ID
		}
		r.log.WithFields(logrus.Fields{"chat": msg.Chat.ID, "user": from}).Warn("Ignoring unauthorized message")
		return nil
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil
	}
	thread := msg.MessageThreadID
	r.log.WithField("thread", thread).Debugf("Received %q", text)

	cmd, args := splitCommand(text)
	switch cmd {
	case "/tel_sessions":
		return r.cmdSessions(ctx, thread)
	case "/tel_rename":
		return r.cmdRename(ctx, thread, args)
	case "/tel_start":
		return r.cmdStart(ctx, thread)
	case "/tel_end":
		return r.cmdEnd(ctx, thread)
	case "/tel_help", "/start":
		r.send(ctx, thread, helpText(r.cfg.Agent.SlashCommands), nil)
		return nil
	}

	payload := r.cfg.Agent.RelayTag + text
	echo := text
	if cmd != "" && r.slash[strings.TrimPrefix(cmd, "/")] {
		payload = cmd
		if args != "" {
			payload += " " + args
		}
		echo = payload
	}
	return r.forward(ctx, msg, payload, echo)
}

// splitCommand returns the command word of a slash message without any
// @botname suffix, and the rest of the text. Plain text yields no command.
func splitCommand(text string) (cmd, args string) {
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	word, rest, _ := strings.Cut(text, " ")
	if i := strings.Index(word, "@"); i > 0 {
		word = word[:i]
	}
	return word, strings.TrimSpace(rest)
}

func (r *Router) forward(ctx context.Context, msg *telegram.Message, payload, echo string) error {
	thread := msg.MessageThreadID
	name, _, target, ok, err := r.resolveLive(ctx, thread)
	if err != nil || !ok {
		return err
	}

	if !r.term.InjectText(ctx, target, payload) {
		r.send(ctx, thread, msgSendFailed, nil)
		return nil
	}
	r.markBusy(name, msg.MessageID)
	r.typing(ctx, thread)
	r.send(ctx, thread, ackText(echo), nil)
	r.log.WithFields(logrus.Fields{"session": name, "terminal": target.String()}).Info("Forwarded message")
	return nil
}

// resolveLive finds the session bound to thread and checks that its
// terminal is running. Every failure is reported to the thread.
func (r *Router) resolveLive(ctx context.Context, thread int64) (string, registry.Session, terminal.Target, bool, error) {
	name, sess, ok, err := r.registry.FindByThread(thread)
	if err != nil {
		return "", registry.Session{}, terminal.Target{}, false, fmt.Errorf("failed to load registry: %w", err)
	}
	if !ok {
		r.send(ctx, thread, msgNoSession, nil)
		return "", sess, terminal.Target{}, false, nil
	}
	if !sess.Active {
		r.send(ctx, thread, inactiveText(name), nil)
		return name, sess, terminal.Target{}, false, nil
	}
	target, err := r.target(name, sess, false)
	if err != nil {
		r.send(ctx, thread, noTerminalText(name), nil)
		return name, sess, target, false, nil
	}
	if !r.term.Alive(ctx, target) {
		r.send(ctx, thread, deadTerminalText(name), nil)
		return name, sess, target, false, nil
	}
	return name, sess, target, true, nil
}

// target builds the terminal address of a session. With orName, a session
// without a handle is addressed by its logical name.
func (r *Router) target(name string, sess registry.Session, orName bool) (terminal.Target, error) {
	backend, err := terminal.ParseBackend(sess.Backend, terminal.Backend(r.cfg.Agent.DefaultBackend))
	if err != nil {
		return terminal.Target{}, err
	}
	handle := sess.Terminal
	if handle == "" && orName {
		handle = name
	}
	if handle == "" {
		return terminal.Target{}, fmt.Errorf("session %s has no terminal", name)
	}
	return terminal.Target{Backend: backend, Handle: handle}, nil
}

func (r *Router) markBusy(name string, messageID int) {
	if err := r.busy.Set(name, messageID); err != nil {
		r.log.WithError(err).WithField("session", name).Warn("Failed to set busy marker")
	}
}

func (r *Router) typing(ctx context.Context, thread int64) {
	if err := r.transport.SendChatAction(ctx, thread, "typing"); err != nil {
		r.log.WithError(err).Debug("Failed to send typing action")
	}
}

// send posts to a thread. Failures go to the log only.
func (r *Router) send(ctx context.Context, thread int64, text string, markup *telegram.InlineKeyboardMarkup) {
	if _, err := r.transport.SendMessage(ctx, thread, text, markup); err != nil {
		r.log.WithError(err).WithField("thread", thread).Warn("Failed to send message")
	}
}

// muxContext bounds a multiplexer lifecycle call.
func (r *Router) muxContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.cfg.Injection.Timeout())
}
