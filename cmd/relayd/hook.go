package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/agent-command/relayd/internal/config"
	"github.com/agent-command/relayd/internal/hooks"
	"github.com/agent-command/relayd/internal/logging"
	"github.com/agent-command/relayd/internal/proc"
	"github.com/agent-command/relayd/internal/telegram"
	"github.com/agent-command/relayd/internal/terminal"
)

// hookTimeout bounds a hook process so it never holds up the agent.
const hookTimeout = 15 * time.Second

// hookReply is the empty JSON object every hook prints.
const hookReply = "{}\n"

func newHookCmd(configPath func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hook",
		Short: "Handle agent hook events (reads JSON on stdin)",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "notify",
		Short: "Forward a hook event to the session's chat thread",
		Run: func(cmd *cobra.Command, args []string) {
			runNotify(cmd.Context(), configPath(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "register",
		Short: "Bind or release a session on SessionStart and SessionEnd",
		Run: func(cmd *cobra.Command, args []string) {
			runRegister(cmd.Context(), configPath(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	})
	return cmd
}

// hookEnv loads what a hook process needs. A nil stack means the bridge is
// not configured and the hook should only reply.
func hookEnv(configPath string) (*stack, *telegram.Client) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil
	}
	logger, err := logging.New(cfg.Logging, logging.Options{})
	if err != nil {
		logger = logging.Discard().Logger
	}
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Debug("Bridge not configured, hook is a no-op")
		return nil, nil
	}
	st := newStack(cfg, logger, nil)
	return st, telegram.NewClient(&cfg.Telegram, logging.Component(logger, "telegram"))
}

func (s *stack) detect(ctx context.Context) (terminal.Target, bool) {
	return terminal.Detect(ctx, os.Getenv, s.tmux)
}

func runNotify(parent context.Context, configPath string, in io.Reader, out io.Writer) {
	st, client := hookEnv(configPath)
	if st == nil {
		_, _ = io.Copy(io.Discard, in)
		fmt.Fprint(out, hookReply)
		return
	}
	ctx, cancel := context.WithTimeout(contextOrBackground(parent), hookTimeout)
	defer cancel()

	n := hooks.NewNotifier(st.registry, st.busy, st.pending, client, st.detect, logging.Component(st.log, "notify"))
	n.Run(ctx, in, out)
}

func runRegister(parent context.Context, configPath string, in io.Reader, out io.Writer) {
	defer fmt.Fprint(out, hookReply)

	st, client := hookEnv(configPath)
	if st == nil {
		_, _ = io.Copy(io.Discard, in)
		return
	}
	log := logging.Component(st.log, "register")

	input, err := hooks.ReadInput(in)
	if err != nil {
		log.WithError(err).Warn("Bad hook input")
		return
	}
	ctx, cancel := context.WithTimeout(contextOrBackground(parent), hookTimeout)
	defer cancel()

	starter := &daemonStarter{configPath: configPath, pid: proc.NewPIDFile(st.cfg.PIDPath())}
	r := hooks.NewRegistrar(st.registry, client, st.detect, starter, log)
	if err := r.Handle(ctx, input); err != nil {
		log.WithError(err).WithFields(logrus.Fields{
			"event":      input.HookEventName,
			"session_id": input.SessionID,
		}).Warn("Failed to handle session event")
	}
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
