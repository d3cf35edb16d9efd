package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	toml "github.com/pelletier/go-toml/v2"
)

// DeleteMode describes how funnels are removed.
type DeleteMode string

// DeleteMode values.
const (
	DeleteModeArchive DeleteMode = "archive"
	DeleteModeHard    DeleteMode = "hard"
)

// DefaultHistoryMaxSize bounds the undo stack when the config does not.
const DefaultHistoryMaxSize = 50

// Config is the full runtime configuration.
type Config struct {
	Database DatabaseConfig `toml:"database"`
	Delete   DeleteConfig   `toml:"delete"`
	History  HistoryConfig  `toml:"history"`
	Keys     KeyConfig      `toml:"keys"`
	Logging  LoggingConfig  `toml:"logging"`
	Server   ServerConfig   `toml:"server"`
}

// DatabaseConfig holds storage settings.
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// DeleteConfig holds delete behavior settings.
type DeleteConfig struct {
	DefaultMode DeleteMode `toml:"default_mode"`
}

// HistoryConfig holds undo history settings for editing sessions.
type HistoryConfig struct {
	MaxSize           int  `toml:"max_size"`
	CollapseAIBatches bool `toml:"collapse_ai_batches"`
}

// KeyConfig holds history chord overrides for the editor.
type KeyConfig struct {
	Undo         string `toml:"undo"`
	Redo         string `toml:"redo"`
	RedoAlt      string `toml:"redo_alt"`
	HistoryPanel string `toml:"history_panel"`
	Save         string `toml:"save"`
}

// LoggingConfig holds runtime logger settings.
type LoggingConfig struct {
	Level   string           `toml:"level"`
	DevFile DevFileLogConfig `toml:"dev_file"`
}

// DevFileLogConfig controls the dev-mode log file sink.
type DevFileLogConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

// ServerConfig holds serve-mode transport settings.
type ServerConfig struct {
	HTTPBind    string `toml:"http_bind"`
	APIEndpoint string `toml:"api_endpoint"`
	MCPEndpoint string `toml:"mcp_endpoint"`
}

// Default returns the built-in configuration for dbPath.
func Default(dbPath string) Config {
	return Config{
		Database: DatabaseConfig{
			Path: dbPath,
		},
		Delete: DeleteConfig{
			DefaultMode: DeleteModeArchive,
		},
		History: HistoryConfig{
			MaxSize: DefaultHistoryMaxSize,
		},
		Keys: KeyConfig{
			Undo:         "ctrl+z",
			Redo:         "ctrl+shift+z",
			RedoAlt:      "ctrl+y",
			HistoryPanel: "ctrl+h",
			Save:         "ctrl+s",
		},
		Logging: LoggingConfig{
			Level: "info",
			DevFile: DevFileLogConfig{
				Enabled: true,
				Dir:     ".funnel/log",
			},
		},
		Server: ServerConfig{
			HTTPBind:    "127.0.0.1:8765",
			APIEndpoint: "/api/v1",
			MCPEndpoint: "/mcp",
		},
	}
}

// Load reads a TOML config over defaults. A missing or empty file yields defaults.
func Load(path string, defaults Config) (Config, error) {
	cfg := defaults
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(content) == 0 {
		return cfg, nil
	}

	if err := toml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode toml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the config for values the runtime cannot use.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return errors.New("database path is required")
	}

	switch c.Delete.DefaultMode {
	case DeleteModeArchive, DeleteModeHard:
	default:
		return fmt.Errorf("invalid delete.default_mode: %q", c.Delete.DefaultMode)
	}

	if c.History.MaxSize < 0 {
		return fmt.Errorf("history.max_size must be >= 0, got %d", c.History.MaxSize)
	}

	if level := strings.TrimSpace(c.Logging.Level); level != "" {
		if _, err := log.ParseLevel(strings.ToLower(level)); err != nil {
			return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
		}
	}
	if c.Logging.DevFile.Enabled && strings.TrimSpace(c.Logging.DevFile.Dir) == "" {
		return errors.New("logging.dev_file.dir is required when dev_file is enabled")
	}

	if strings.TrimSpace(c.Server.HTTPBind) == "" {
		return errors.New("server.http_bind is required")
	}
	for name, endpoint := range map[string]string{
		"server.api_endpoint": c.Server.APIEndpoint,
		"server.mcp_endpoint": c.Server.MCPEndpoint,
	} {
		if !strings.HasPrefix(strings.TrimSpace(endpoint), "/") {
			return fmt.Errorf("%s must start with /: %q", name, endpoint)
		}
	}

	return nil
}

// EnsureConfigDir creates the parent directory of path.
func EnsureConfigDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
