package log

import (
	"errors"
	"fmt"
	"path/filepath"
)

// LogCfg configures a GameLogger. It is the [log] table of the application config.
type LogCfg struct {
	// LogLevel is the minimum level written.
	LogLevel Level `toml:"level" mapstructure:"level"`

	// ConsoleAppender writes to stdout.
	ConsoleAppender bool `toml:"consoleAppender" mapstructure:"consoleAppender"`

	// FileAppender writes to LogPath, rotating by size.
	FileAppender bool   `toml:"fileAppender" mapstructure:"fileAppender"`
	LogPath      string `toml:"path" mapstructure:"path"` // File name, created with its directory
	// FileSplitMB rotates the file once it grows past this size.
	FileSplitMB int `toml:"splitMB" mapstructure:"splitMB"`
	// MaxBackups keeps at most this many rotated files; 0 keeps all.
	MaxBackups int `toml:"maxBackups" mapstructure:"maxBackups"`

	// EnabledCallerInfo adds the file:line of the log call to each line.
	EnabledCallerInfo bool `toml:"enabledCallerInfo" mapstructure:"enabledCallerInfo"`
	// CallerSkip adds frames to skip when the logger is wrapped.
	CallerSkip int `toml:"callerSkip" mapstructure:"callerSkip"`
}

// Validate checks the configuration and cleans the log path.
func (cfg *LogCfg) Validate() error {
	if cfg.LogLevel < TraceLevel || cfg.LogLevel > FatalLevel {
		return fmt.Errorf("invalid log level %d", cfg.LogLevel)
	}
	if cfg.CallerSkip < 0 {
		return fmt.Errorf("caller skip must be non-negative, got %d", cfg.CallerSkip)
	}
	if !cfg.FileAppender && !cfg.ConsoleAppender {
		return errors.New("at least one appender (file or console) must be enabled")
	}
	if cfg.FileAppender {
		if cfg.LogPath == "" {
			return errors.New("log path cannot be empty when file appender is enabled")
		}
		if cfg.FileSplitMB < 1 || cfg.FileSplitMB > 1024 {
			return fmt.Errorf("file split size must be between 1MB and 1024MB, got %dMB", cfg.FileSplitMB)
		}
		if cfg.MaxBackups < 0 {
			return fmt.Errorf("max backups must be non-negative, got %d", cfg.MaxBackups)
		}
		cfg.LogPath = filepath.Clean(cfg.LogPath)
	}
	return nil
}

// DefaultCfg returns the configuration used before Initialize is called.
func DefaultCfg() *LogCfg {
	return &LogCfg{
		LogLevel:          InfoLevel,
		ConsoleAppender:   true,
		LogPath:           "./slingshot.log",
		FileSplitMB:       50,
		MaxBackups:        5,
		EnabledCallerInfo: true,
	}
}
