package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/justin-molloy/fwatcher/filter"
	"github.com/justin-molloy/fwatcher/supervisor"
)

// ValidateConfig checks the merged config and returns a single error describing all issues.
func ValidateConfig(cfg *WatchConfig) error {
	var errs multiErr

	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrConfiguration)
	}
	if !isValidLogLevel(cfg.LogLevel) {
		errs.addf("invalid loglevel %q (allowed: debug, info, warn, error)", cfg.LogLevel)
	}

	if len(cfg.Command) == 0 || strings.TrimSpace(cfg.Command[0]) == "" {
		errs.addf("no command given")
	}

	for i, dir := range cfg.Directories {
		if strings.TrimSpace(dir) == "" {
			errs.addf("directory[%d] is empty", i)
		}
	}

	for _, p := range cfg.Patterns {
		if _, err := filter.Compile(p); err != nil {
			errs.addf("pattern: %v", err)
		}
	}
	for _, p := range cfg.ExcludePatterns {
		if _, err := filter.Compile(p); err != nil {
			errs.addf("exclude pattern: %v", err)
		}
	}

	if cfg.Interval != nil && *cfg.Interval < 0 {
		errs.addf("interval %d must not be negative", *cfg.Interval)
	}

	if _, err := supervisor.ParseSignal(cfg.KillSignal); err != nil {
		errs.addf("signal: %v", err)
	}

	if strings.TrimSpace(cfg.LogDir) != "" && !isDirOrCreatable(cfg.LogDir) {
		errs.addf("logdir %q does not exist and cannot be created", cfg.LogDir)
	}

	if errs.len() > 0 {
		return errs.err()
	}
	return nil
}

// ---- helpers ----

type multiErr struct {
	list []string
}

func (m *multiErr) addf(format string, a ...any) {
	m.list = append(m.list, fmt.Sprintf(format, a...))
}
func (m *multiErr) len() int { return len(m.list) }
func (m *multiErr) err() error {
	return fmt.Errorf("%w: %w", ErrConfiguration, errors.New(strings.Join(m.list, "; ")))
}

func isValidLogLevel(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "info", "warn", "warning", "error", "":
		return true
	default:
		return false
	}
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

// isDirOrCreatable returns true if the path exists as a dir,
// or its parent exists and we can create it (we don't actually create it here).
func isDirOrCreatable(p string) bool {
	if isDir(p) {
		return true
	}
	parent := filepath.Dir(p)
	if !isDir(parent) {
		return false
	}
	f, err := os.CreateTemp(parent, ".permcheck-*")
	if err != nil {
		return false
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
	return true
}
