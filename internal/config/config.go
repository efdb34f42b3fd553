package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Tmux      TmuxConfig      `yaml:"tmux"`
	Zellij    ZellijConfig    `yaml:"zellij"`
	Agent     AgentConfig     `yaml:"agent"`
	Injection InjectionConfig `yaml:"injection"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type TelegramConfig struct {
	BotToken         string `yaml:"bot_token"`
	GroupChatID      int64  `yaml:"group_chat_id"`
	UserID           int64  `yaml:"user_id"`
	APIURL           string `yaml:"api_url"`
	PollTimeoutS     int    `yaml:"poll_timeout_s"`
	RetryDelayMs     int    `yaml:"retry_delay_ms"`
	TypingIntervalMs int    `yaml:"typing_interval_ms"`
}

type TmuxConfig struct {
	Bin    string `yaml:"bin"`
	Socket string `yaml:"socket"`
}

type ZellijConfig struct {
	Bin string `yaml:"bin"`
}

type AgentConfig struct {
	Command        string   `yaml:"command"`
	RelayTag       string   `yaml:"relay_tag"`
	SlashCommands  []string `yaml:"slash_commands"`
	TranscriptsDir string   `yaml:"transcripts_dir"`
	DefaultBackend string   `yaml:"default_backend"`
}

type InjectionConfig struct {
	TimeoutMs int `yaml:"timeout_ms"`
	SettleMs  int `yaml:"settle_ms"`
}

type StorageConfig struct {
	StateDir string `yaml:"state_dir"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// DefaultSlashCommands are the agent commands forwarded untagged.
var DefaultSlashCommands = []string{
	"clear", "compact", "config", "context", "cost", "debug", "doctor", "exit",
	"export", "init", "mcp", "memory", "model", "permissions", "plan", "rename",
	"resume", "rewind", "stats", "status", "statusline", "copy", "tasks", "theme",
	"todos", "usage", "vim",
}

// DefaultPath returns $RELAYD_CONFIG or ~/.config/relayd/config.yaml.
func DefaultPath() string {
	if p := os.Getenv("RELAYD_CONFIG"); p != "" {
		return p
	}
	return expandPath("~/.config/relayd/config.yaml")
}

// LoadConfig reads path, applies defaults and environment overrides.
// A missing file is not an error: hook processes run with env-only setups.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Telegram.APIURL == "" {
		c.Telegram.APIURL = "https://api.telegram.org"
	}
	if c.Telegram.PollTimeoutS == 0 {
		c.Telegram.PollTimeoutS = 30
	}
	if c.Telegram.RetryDelayMs == 0 {
		c.Telegram.RetryDelayMs = 5000
	}
	if c.Telegram.TypingIntervalMs == 0 {
		c.Telegram.TypingIntervalMs = 4000
	}
	if c.Tmux.Bin == "" {
		c.Tmux.Bin = "tmux"
	}
	if c.Zellij.Bin == "" {
		c.Zellij.Bin = "zellij"
	}
	if c.Agent.Command == "" {
		c.Agent.Command = "claude"
	}
	if c.Agent.RelayTag == "" {
		c.Agent.RelayTag = "[relay] "
	}
	if len(c.Agent.SlashCommands) == 0 {
		c.Agent.SlashCommands = append([]string(nil), DefaultSlashCommands...)
	}
	if c.Agent.TranscriptsDir == "" {
		c.Agent.TranscriptsDir = "~/.claude/projects"
	}
	c.Agent.TranscriptsDir = expandPath(c.Agent.TranscriptsDir)
	if c.Agent.DefaultBackend == "" {
		c.Agent.DefaultBackend = "tmux"
	}
	if c.Injection.TimeoutMs == 0 {
		c.Injection.TimeoutMs = 5000
	}
	if c.Injection.SettleMs == 0 {
		c.Injection.SettleMs = 50
	}
	if c.Storage.StateDir == "" {
		c.Storage.StateDir = "~/.relayd"
	}
	c.Storage.StateDir = expandPath(c.Storage.StateDir)
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.File == "" {
		c.Logging.File = filepath.Join(c.Storage.StateDir, "relayd.log")
	}
	c.Logging.File = expandPath(c.Logging.File)
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 10
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 3
	}
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("RELAYD_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("RELAYD_GROUP_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid RELAYD_GROUP_CHAT_ID: %w", err)
		}
		c.Telegram.GroupChatID = id
	}
	if v := os.Getenv("RELAYD_USER_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid RELAYD_USER_ID: %w", err)
		}
		c.Telegram.UserID = id
	}
	if v := os.Getenv("RELAYD_STATE_DIR"); v != "" {
		c.Storage.StateDir = v
	}
	return nil
}

// Validate reports the settings the daemon cannot run without.
func (c *Config) Validate() error {
	var missing []string
	if c.Telegram.BotToken == "" {
		missing = append(missing, "telegram.bot_token")
	}
	if c.Telegram.GroupChatID == 0 {
		missing = append(missing, "telegram.group_chat_id")
	}
	if c.Telegram.UserID == 0 {
		missing = append(missing, "telegram.user_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}
	switch c.Agent.DefaultBackend {
	case "tmux", "zellij":
	default:
		return fmt.Errorf("unknown agent.default_backend %q", c.Agent.DefaultBackend)
	}
	return nil
}

func (c *Config) RegistryPath() string { return filepath.Join(c.Storage.StateDir, "sessions.json") }
func (c *Config) BusyDir() string      { return filepath.Join(c.Storage.StateDir, "busy") }
func (c *Config) PendingDir() string   { return filepath.Join(c.Storage.StateDir, "pending") }
func (c *Config) PIDPath() string      { return filepath.Join(c.Storage.StateDir, "relayd.pid") }

func (c *TelegramConfig) PollTimeout() time.Duration {
	return time.Duration(c.PollTimeoutS) * time.Second
}

func (c *TelegramConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

func (c *TelegramConfig) TypingInterval() time.Duration {
	return time.Duration(c.TypingIntervalMs) * time.Millisecond
}

func (c *InjectionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

func (c *InjectionConfig) Settle() time.Duration {
	return time.Duration(c.SettleMs) * time.Millisecond
}

// expandPath expands a leading tilde.
func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
