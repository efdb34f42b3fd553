package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/agent-command/relayd/internal/config"
	"github.com/agent-command/relayd/internal/logging"
	"github.com/agent-command/relayd/internal/markers"
	"github.com/agent-command/relayd/internal/metrics"
	"github.com/agent-command/relayd/internal/registry"
	"github.com/agent-command/relayd/internal/terminal"
)

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "relayd",
		Short:        "Telegram forum bridge for agent terminals",
		Long:         "relayd relays messages between a Telegram forum group and agent sessions running in tmux or zellij.",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "path to config file")

	cfgPath := func() string { return configPath }
	cmd.AddCommand(newRunCmd(cfgPath))
	cmd.AddCommand(newStartCmd(cfgPath))
	cmd.AddCommand(newStopCmd(cfgPath))
	cmd.AddCommand(newStatusCmd(cfgPath))
	cmd.AddCommand(newHookCmd(cfgPath))
	cmd.AddCommand(newSessionsCmd(cfgPath))
	cmd.AddCommand(newLogsCmd(cfgPath))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "relayd version %s\n", Version)
		},
	}
}

// stack is the state shared by every process: daemon, hooks and CLI.
type stack struct {
	cfg      *config.Config
	log      *logrus.Logger
	registry *registry.Registry
	busy     *markers.Busy
	pending  *markers.Pending
	tmux     *terminal.Tmux
	injector *terminal.Injector
}

func newStack(cfg *config.Config, log *logrus.Logger, m *metrics.Metrics) *stack {
	runner := terminal.ExecRunner{}
	tmux := terminal.NewTmux(&cfg.Tmux, runner)
	muxes := map[terminal.Backend]terminal.Multiplexer{
		terminal.BackendTmux:   tmux,
		terminal.BackendZellij: terminal.NewZellij(&cfg.Zellij, runner),
	}
	return &stack{
		cfg:      cfg,
		log:      log,
		registry: registry.New(registry.NewFileStore(cfg.RegistryPath(), logging.Component(log, "registry"))),
		busy:     markers.NewBusy(cfg.BusyDir()),
		pending:  markers.NewPending(cfg.PendingDir()),
		tmux:     tmux,
		injector: terminal.NewInjector(muxes, cfg.Injection, logging.Component(log, "injector"), m),
	}
}
