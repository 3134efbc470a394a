package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/justin-molloy/fwatcher/logdata"
)

// ErrConfiguration marks problems found before the watch loop starts.
var ErrConfiguration = errors.New("invalid configuration")

const (
	DefaultDirectory = "."
	DefaultPattern   = "*"
	DefaultInterval  = 1
	DefaultSignal    = "SIGKILL"
)

type WatchConfig struct {
	Directories     []string `yaml:"directories"`
	Patterns        []string `yaml:"patterns"`
	ExcludePatterns []string `yaml:"exclude_patterns"`
	Interval        *int     `yaml:"interval"`
	Restart         bool     `yaml:"restart"`
	Command         []string `yaml:"command"`
	KillSignal      string   `yaml:"signal"`
	Reconnect       bool     `yaml:"reconnect"`
	LogLevel        string   `yaml:"loglevel"`
	LogDir          string   `yaml:"logdir"`
}

func (c *WatchConfig) SetDefaults() {
	if len(c.Directories) == 0 {
		slog.Debug("No directory set, watching " + DefaultDirectory)
		c.Directories = []string{DefaultDirectory}
	}
	if len(c.Patterns) == 0 {
		slog.Debug("No pattern set. Default is " + DefaultPattern)
		c.Patterns = []string{DefaultPattern}
	}
	if c.Interval == nil {
		interval := DefaultInterval
		slog.Debug("Interval not set", "default", interval)
		c.Interval = &interval
	}
	if strings.TrimSpace(c.KillSignal) == "" {
		slog.Debug("Kill signal not set. Default is " + DefaultSignal)
		c.KillSignal = DefaultSignal
	}
}

// IntervalDuration returns the cooldown between restarts.
func (c *WatchConfig) IntervalDuration() time.Duration {
	if c.Interval == nil {
		return DefaultInterval * time.Second
	}
	return time.Duration(*c.Interval) * time.Second
}

func LoadConfig(configFile string) (WatchConfig, error) {

	yamlConfig, err := os.ReadFile(configFile)
	if err != nil {
		return WatchConfig{}, fmt.Errorf("%w: can't read configuration file: %w", ErrConfiguration, err)
	}

	var cfg WatchConfig
	if err := yaml.Unmarshal(yamlConfig, &cfg); err != nil {
		return WatchConfig{}, fmt.Errorf("%w: failed to parse YAML config: %w", ErrConfiguration, err)
	}

	cfg.SetDefaults()

	return cfg, nil
}

// PrintConfig writes the effective configuration as YAML.
func PrintConfig(w io.Writer, cfg WatchConfig) error {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	_, err = w.Write(out)
	return err
}

// SetupLogger installs the default slog logger. With an empty logDir output
// goes to stderr, since stdout belongs to the command being run. Otherwise a
// new dated file is created in logDir and returned for the caller to close.
func SetupLogger(level string, logDir string) (*os.File, error) {
	var output io.Writer = os.Stderr
	var logFile *os.File

	if strings.TrimSpace(logDir) != "" {
		path, f, err := logdata.OpenLogFile(logDir)
		if err != nil {
			return nil, err
		}
		output = f
		logFile = f
		defer slog.Info("Logging to file", "path", path)
	}

	handler := slog.NewTextHandler(output, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	slog.SetDefault(slog.New(handler))

	return logFile, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
