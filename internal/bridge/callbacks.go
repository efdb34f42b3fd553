package bridge

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/agent-command/relayd/internal/callback"
	"github.com/agent-command/relayd/internal/telegram"
)

// answerer answers a callback query at most once.
type answerer struct {
	ctx       context.Context
	transport Transport
	id        string
	log       *logrus.Entry
	done      bool
}

func (a *answerer) answer(text string) {
	if a.done {
		return
	}
	a.done = true
	if err := a.transport.AnswerCallback(a.ctx, a.id, text); err != nil {
		a.log.WithError(err).Debug("Failed to answer callback")
	}
}

// handleCallback runs a button tap. Every authorized callback is answered
// exactly once, including when handling panics.
func (r *Router) handleCallback(ctx context.Context, cq *telegram.CallbackQuery) error {
	if !r.authorizedCallback(cq) {
		r.metrics.Unauthorized()
		r.log.WithField("user", cq.From.ID).Warn("Ignoring unauthorized callback")
		return nil
	}

	a := &answerer{ctx: ctx, transport: r.transport, id: cq.ID, log: r.log}
	defer a.answer("")

	log := r.log.WithField("data", cq.Data)
	log.Debug("Callback")

	data, err := callback.Parse(cq.Data)
	if err != nil {
		a.answer("Invalid button data")
		return nil
	}

	sess, ok, err := r.registry.Get(data.Session)
	if err != nil {
		a.answer("Registry unavailable")
		return fmt.Errorf("failed to load registry: %w", err)
	}
	if !ok {
		a.answer(telegram.Truncate("Session "+data.Session+" not found", 60))
		return nil
	}

	if data.Action == callback.ActionStart {
		return r.startAction(ctx, a, data, sess)
	}

	target, err := r.target(data.Session, sess, false)
	if err != nil {
		a.answer("No terminal")
		return nil
	}

	var sent bool
	switch data.Action {
	case callback.ActionPerm:
		sent = r.term.InjectPermission(ctx, target, data.Value)
	case callback.ActionOpt:
		index, numDefined, err := data.OptionIndex()
		if err != nil {
			a.answer("Invalid index")
			return nil
		}
		sent = r.term.InjectSelection(ctx, target, index, numDefined)
	case callback.ActionText:
		sent = r.term.InjectText(ctx, target, data.Value)
	default:
		a.answer("Unknown action")
		return nil
	}

	thread := sess.ThreadID
	if !sent {
		a.answer("Failed to send")
		r.send(ctx, thread, msgCallbackFailed, nil)
		return nil
	}

	label := data.Value
	if l, ok := cq.Message.ButtonText(cq.Data); ok {
		label = l
	}
	if cq.Message != nil {
		r.markBusy(data.Session, cq.Message.MessageID)
	}
	r.typing(ctx, thread)
	a.answer("Selected: " + telegram.Truncate(label, 50))
	r.send(ctx, thread, selectedText(label), nil)

	if cq.Message != nil {
		if err := r.transport.EditMessageReplyMarkup(ctx, cq.Message.MessageID, nil); err != nil {
			log.WithError(err).Debug("Failed to remove keyboard")
		}
	}
	log.WithFields(logrus.Fields{"session": data.Session, "action": data.Action}).Info("Injected button choice")
	return nil
}
