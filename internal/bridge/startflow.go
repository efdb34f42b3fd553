package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agent-command/relayd/internal/callback"
	"github.com/agent-command/relayd/internal/registry"
	"github.com/agent-command/relayd/internal/transcript"
)

// startAction handles the buttons of the /tel_start keyboard. Each choice is
// acknowledged first, then acted on, then reported in the thread.
func (r *Router) startAction(ctx context.Context, a *answerer, data callback.Data, sess registry.Session) error {
	name := data.Session
	thread := sess.ThreadID

	switch data.Value {
	case callback.StartResume:
		a.answer("Resuming…")
		info, err := r.transcripts.Find(sess.Cwd, data.Extra)
		if err != nil {
			r.send(ctx, thread, transcriptWarning(data.Extra, err), nil)
			return nil
		}
		return r.launch(ctx, name, sess, "--resume "+info.ID, info.ID)

	case callback.StartFresh:
		a.answer("Starting…")
		id := r.newID()
		return r.launch(ctx, name, sess, "--session-id "+id, id)

	case callback.StartDelete:
		a.answer("Deleting…")
		info, err := r.transcripts.Delete(sess.Cwd, data.Extra)
		if err != nil {
			r.send(ctx, thread, transcriptWarning(data.Extra, err), nil)
			return nil
		}
		r.send(ctx, thread, "🗑 Deleted conversation "+code(info.ShortID())+".", nil)
		r.log.WithField("session", name).WithField("transcript", info.ID).Info("Deleted transcript")
		return nil
	}

	a.answer("Unknown action")
	return nil
}

// launch starts the agent in the session's terminal unless it is already
// running, then records the start in the registry.
func (r *Router) launch(ctx context.Context, name string, sess registry.Session, args, sessionID string) error {
	thread := sess.ThreadID
	target, err := r.target(name, sess, true)
	if err != nil {
		r.send(ctx, thread, errorText("Cannot start "+name, err), nil)
		return nil
	}

	if !r.term.Alive(ctx, target) {
		mux, err := r.term.Mux(target.Backend)
		if err == nil {
			createCtx, cancel := r.muxContext(ctx)
			err = mux.Create(createCtx, target.Handle, sess.Cwd, r.cfg.Agent.Command+" "+args)
			cancel()
		}
		if err != nil {
			r.send(ctx, thread, errorText("Failed to start "+name, err), nil)
			return nil
		}
	}

	now := time.Now().UTC()
	err = r.registry.Update(func(s registry.Sessions) error {
		cur, ok := s[name]
		if !ok {
			return fmt.Errorf("%w: %s", registry.ErrNotFound, name)
		}
		cur.Terminal = target.Handle
		cur.Backend = string(target.Backend)
		cur.SessionID = sessionID
		cur.Active = true
		cur.StartedAt = now
		s[name] = cur
		return nil
	})
	if err != nil {
		r.send(ctx, thread, errorText("Started, but failed to update the registry", err), nil)
		return fmt.Errorf("failed to record start of %s: %w", name, err)
	}

	if thread != 0 {
		if err := r.transport.ReopenThread(ctx, thread); err != nil {
			r.log.WithError(err).WithField("thread", thread).Debug("Failed to reopen thread")
		}
	}
	r.send(ctx, thread, fmt.Sprintf("🚀 Started %s (%s)", bold(name), code(transcript.ShortID(sessionID))), nil)
	r.log.WithField("session", name).WithField("terminal", target.String()).Info("Started agent")
	return nil
}

func transcriptWarning(prefix string, err error) string {
	switch {
	case errors.Is(err, transcript.ErrNotFound):
		return "⚠️ Conversation " + code(prefix) + " not found."
	case errors.Is(err, transcript.ErrAmbiguous):
		return "⚠️ Conversation " + code(prefix) + " matches more than one transcript."
	}
	return errorText("Transcript error", err)
}
