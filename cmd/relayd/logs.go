package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"os"

	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"

	"github.com/agent-command/relayd/internal/config"
)

func newLogsCmd(configPath func() string) *cobra.Command {
	var (
		follow bool
		lines  int
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the daemon log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath())
			if err != nil {
				return err
			}
			path := cfg.Logging.File
			out := cmd.OutOrStdout()

			offset, err := printLastLines(out, path, lines)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) && !follow {
					fmt.Fprintf(out, "No log file at %s\n", path)
					return nil
				}
				if !errors.Is(err, os.ErrNotExist) {
					return err
				}
			}
			if !follow {
				return nil
			}

			t, err := tail.TailFile(path, tail.Config{
				Follow:    true,
				ReOpen:    true,
				MustExist: false,
				Location:  &tail.SeekInfo{Offset: offset, Whence: io.SeekStart},
				Logger:    stdlog.New(io.Discard, "", 0),
			})
			if err != nil {
				return fmt.Errorf("failed to follow %s: %w", path, err)
			}
			defer t.Cleanup()

			ctx := cmd.Context()
			for {
				select {
				case <-ctx.Done():
					return t.Stop()
				case line, ok := <-t.Lines:
					if !ok {
						return t.Err()
					}
					if line.Err != nil {
						continue
					}
					fmt.Fprintln(out, line.Text)
				}
			}
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "follow log output")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of lines to show from the end of the log")
	return cmd
}

// printLastLines writes the last n lines of path and returns the file size
// at the time of reading, where following picks up.
func printLastLines(w io.Writer, path string, n int) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var ring []string
	var size int64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		size += int64(len(scanner.Bytes())) + 1
		if n <= 0 {
			continue
		}
		ring = append(ring, scanner.Text())
		if len(ring) > n {
			ring = ring[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	for _, line := range ring {
		fmt.Fprintln(w, line)
	}
	return size, nil
}
