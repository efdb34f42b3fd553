package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	ltable "github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/agent-command/relayd/internal/config"
	"github.com/agent-command/relayd/internal/gitinfo"
	"github.com/agent-command/relayd/internal/logging"
	"github.com/agent-command/relayd/internal/registry"
	"github.com/agent-command/relayd/internal/telegram"
	"github.com/agent-command/relayd/internal/terminal"
)

type sessionRow struct {
	Name      string    `json:"name"`
	Backend   string    `json:"backend"`
	Terminal  string    `json:"terminal"`
	Alive     bool      `json:"alive"`
	Active    bool      `json:"active"`
	ThreadID  int64     `json:"thread_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Cwd       string    `json:"cwd,omitempty"`
	Branch    string    `json:"git_branch,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

func newSessionsCmd(configPath func() string) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List registered sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath())
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging, logging.Options{NoFile: true})
			if err != nil {
				return err
			}
			st := newStack(cfg, logger, nil)
			sessions, err := st.registry.Load()
			if err != nil {
				return err
			}

			rows := collectSessions(cmd.Context(), sessions, st.injector, gitinfo.NewCache(time.Minute), terminal.Backend(cfg.Agent.DefaultBackend))
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), rows)
			}
			if len(rows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sessions registered.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderSessions(rows))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	return cmd
}

type aliveChecker interface {
	Alive(ctx context.Context, t terminal.Target) bool
}

func collectSessions(ctx context.Context, sessions registry.Sessions, term aliveChecker, git *gitinfo.Cache, fallback terminal.Backend) []sessionRow {
	if ctx == nil {
		ctx = context.Background()
	}
	rows := make([]sessionRow, 0, len(sessions))
	for _, name := range sessions.Names() {
		sess := sessions[name]
		row := sessionRow{
			Name:      name,
			Backend:   sess.Backend,
			Terminal:  sess.Terminal,
			Active:    sess.Active,
			ThreadID:  sess.ThreadID,
			SessionID: sess.SessionID,
			Cwd:       sess.Cwd,
			StartedAt: sess.StartedAt,
		}
		if backend, err := terminal.ParseBackend(sess.Backend, fallback); err == nil {
			row.Backend = string(backend)
			row.Alive = sess.Terminal != "" && term.Alive(ctx, terminal.Target{Backend: backend, Handle: sess.Terminal})
		}
		if sess.Cwd != "" && git != nil {
			if info := git.Lookup(ctx, sess.Cwd); info != nil {
				row.Branch = info.Branch
			}
		}
		rows = append(rows, row)
	}
	return rows
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	liveStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Padding(0, 1)
	deadStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Padding(0, 1)
)

// colState is the STATE column, colored by terminal liveness.
const colState = 1

func renderSessions(rows []sessionRow) string {
	t := ltable.New().
		Border(lipgloss.RoundedBorder()).
		Headers("NAME", "STATE", "TERMINAL", "THREAD", "CWD", "BRANCH", "STARTED")

	for _, r := range rows {
		thread := "-"
		if r.ThreadID != 0 {
			thread = strconv.FormatInt(r.ThreadID, 10)
		}
		started := "-"
		if !r.StartedAt.IsZero() {
			started = r.StartedAt.Local().Format("2006-01-02 15:04")
		}
		t.Row(
			r.Name,
			sessionState(r),
			r.Backend+":"+r.Terminal,
			thread,
			telegram.Truncate(r.Cwd, 40),
			r.Branch,
			started,
		)
	}

	t.StyleFunc(func(row, col int) lipgloss.Style {
		if row == ltable.HeaderRow {
			return headerStyle
		}
		if col == colState && row >= 0 && row < len(rows) {
			if rows[row].Alive {
				return liveStyle
			}
			return deadStyle
		}
		return cellStyle
	})
	return t.String()
}

func sessionState(r sessionRow) string {
	switch {
	case r.Alive && r.Active:
		return "running"
	case r.Alive:
		return "idle"
	case r.Active:
		return "gone"
	}
	return "stopped"
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
