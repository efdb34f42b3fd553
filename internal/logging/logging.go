package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/agent-command/relayd/internal/config"
)

// Options controls where log output goes in addition to the rotating file.
type Options struct {
	// Stderr mirrors output to stderr. Foreground daemon runs set this.
	Stderr bool
	// NoFile disables the file sink. CLI commands that only print set it.
	NoFile bool
}

// New builds the process logger from config. RELAYD_LOG_LEVEL overrides the
// configured level.
func New(cfg config.LoggingConfig, opts Options) (*logrus.Logger, error) {
	logger := logrus.New()

	levelStr := cfg.Level
	if env := os.Getenv("RELAYD_LOG_LEVEL"); env != "" {
		levelStr = env
	}
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	interactive := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	logger.SetFormatter(formatter(cfg.Format, opts.Stderr && interactive))

	var writers []io.Writer
	if !opts.NoFile && cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, err
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		})
	}
	if opts.Stderr {
		writers = append(writers, os.Stderr)
	}

	switch len(writers) {
	case 0:
		logger.SetOutput(io.Discard)
	case 1:
		logger.SetOutput(writers[0])
	default:
		logger.SetOutput(io.MultiWriter(writers...))
	}
	return logger, nil
}

func formatter(format string, colors bool) logrus.Formatter {
	if format == "json" {
		return &logrus.JSONFormatter{}
	}
	return &logrus.TextFormatter{
		FullTimestamp: true,
		ForceColors:   colors,
		DisableColors: !colors,
	}
}

// Component tags every entry with the emitting component.
func Component(logger logrus.FieldLogger, name string) *logrus.Entry {
	return logger.WithField("component", name)
}

// Discard returns an entry that drops everything. Hooks fall back to it
// when the log file cannot be opened.
func Discard() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}
