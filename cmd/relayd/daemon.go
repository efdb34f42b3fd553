package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agent-command/relayd/internal/bridge"
	"github.com/agent-command/relayd/internal/config"
	"github.com/agent-command/relayd/internal/gitinfo"
	"github.com/agent-command/relayd/internal/logging"
	"github.com/agent-command/relayd/internal/metrics"
	"github.com/agent-command/relayd/internal/proc"
	"github.com/agent-command/relayd/internal/telegram"
	"github.com/agent-command/relayd/internal/transcript"
)

const stopWait = 5 * time.Second

func newRunCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath())
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging, logging.Options{Stderr: true})
			if err != nil {
				return fmt.Errorf("failed to set up logging: %w", err)
			}

			pid := proc.NewPIDFile(cfg.PIDPath())
			if other, ok := pid.Running(); ok && other != os.Getpid() {
				return fmt.Errorf("relayd is already running (pid %d)", other)
			}
			if err := pid.Write(os.Getpid()); err != nil {
				return err
			}
			defer func() {
				if err := pid.Remove(); err != nil {
					logger.WithError(err).Error("Failed to remove pid file")
				}
			}()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			m := metrics.New()
			st := newStack(cfg, logger, m)
			client := telegram.NewClient(&cfg.Telegram, logging.Component(logger, "telegram"))

			router := bridge.NewRouter(bridge.Deps{
				Config:      cfg,
				Transport:   client,
				Terminal:    st.injector,
				Registry:    st.registry,
				Busy:        st.busy,
				Pending:     st.pending,
				Transcripts: transcript.NewStore(cfg.Agent.TranscriptsDir),
				Git:         gitinfo.NewCache(time.Minute),
				Log:         logging.Component(logger, "router"),
				Metrics:     m,
			})
			daemon := &bridge.Daemon{
				Poller: bridge.NewPoller(client, router, cfg.Telegram.PollTimeout(), cfg.Telegram.RetryDelay(),
					logging.Component(logger, "poller"), m),
				Indicator: bridge.NewIndicator(client, st.registry, st.busy, cfg.Telegram.TypingInterval(),
					logging.Component(logger, "indicator")),
				Metrics:     m,
				MetricsAddr: cfg.Metrics.Listen,
				Log:         logging.Component(logger, "daemon"),
			}

			logger.WithField("pid", os.Getpid()).Info("Starting daemon")
			err = daemon.Run(ctx)
			logger.Info("Daemon stopped")
			return err
		},
	}
}

func newStartCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath())
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			s := &daemonStarter{configPath: configPath(), pid: proc.NewPIDFile(cfg.PIDPath())}
			if pid, ok := s.pid.Running(); ok {
				fmt.Fprintf(cmd.OutOrStdout(), "relayd is already running (pid %d)\n", pid)
				return nil
			}
			pid, err := s.spawn()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "relayd started (pid %d)\n", pid)
			return nil
		},
	}
}

func newStopCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath())
			if err != nil {
				return err
			}
			pidFile := proc.NewPIDFile(cfg.PIDPath())
			pid, ok := pidFile.Running()
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "relayd is not running")
				return pidFile.Remove()
			}
			if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
				return fmt.Errorf("failed to signal pid %d: %w", pid, err)
			}

			deadline := time.Now().Add(stopWait)
			for proc.IsAlive(pid) {
				if time.Now().After(deadline) {
					return fmt.Errorf("relayd (pid %d) did not exit within %s", pid, stopWait)
				}
				time.Sleep(100 * time.Millisecond)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "relayd stopped (pid %d)\n", pid)
			return nil
		},
	}
}

func newStatusCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the daemon is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath())
			if err != nil {
				return err
			}
			if pid, ok := proc.NewPIDFile(cfg.PIDPath()).Running(); ok {
				fmt.Fprintf(cmd.OutOrStdout(), "relayd is running (pid %d)\n", pid)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "relayd is not running")
			os.Exit(1)
			return nil
		},
	}
}

// daemonStarter launches `relayd run` detached from the calling process.
type daemonStarter struct {
	configPath string
	pid        *proc.PIDFile
}

// EnsureRunning starts the daemon unless the pid file names a live process.
func (s *daemonStarter) EnsureRunning() error {
	if _, ok := s.pid.Running(); ok {
		return nil
	}
	_, err := s.spawn()
	return err
}

func (s *daemonStarter) spawn() (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("failed to locate relayd binary: %w", err)
	}
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return 0, err
	}
	defer devNull.Close()

	c := exec.Command(exe, "run", "--config", s.configPath)
	c.Stdin = devNull
	c.Stdout = devNull
	c.Stderr = devNull
	c.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := c.Start(); err != nil {
		return 0, fmt.Errorf("failed to start daemon: %w", err)
	}
	pid := c.Process.Pid
	if err := c.Process.Release(); err != nil {
		return pid, errors.Join(errors.New("daemon started but could not be released"), err)
	}
	return pid, nil
}
