// Package config holds lockprof's settings.
//
// Settings come from three layers, later ones winning:
//
//  1. Default()
//  2. an optional YAML file (Load)
//  3. the agent argument string (ApplyAgentArgs), e.g.
//     "outputFile=/tmp/events.jsonl,interval=5s,delay=500ms"
//
// Example lockprof.yaml:
//
//	output_file: /tmp/lockprof.jsonl
//	flush_interval: 10s
//	flush_delay: 1s
//	duplicates: collapse
//	capture_stacks: true
//	log_level: info
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kolkov/lockprof/internal/lockprof/report"
)

// ErrInvalid is wrapped by every validation and argument error.
var ErrInvalid = errors.New("config: invalid")

// Config is the full lockprof configuration.
type Config struct {
	// OutputFile is the event log path. Empty disables the agent.
	OutputFile string `yaml:"output_file"`

	// FlushInterval is the period between flushes.
	FlushInterval time.Duration `yaml:"flush_interval"`

	// FlushDelay is the wait before the first flush.
	FlushDelay time.Duration `yaml:"flush_delay"`

	// Duplicates is "collapse" or "keep".
	Duplicates string `yaml:"duplicates"`

	// CaptureStacks records an acquisition stack per critical section.
	CaptureStacks bool `yaml:"capture_stacks"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		FlushInterval: 10 * time.Second,
		FlushDelay:    time.Second,
		Duplicates:    report.CollapseDuplicates.String(),
		CaptureStacks: true,
		LogLevel:      "info",
	}
}

// Load reads a YAML file on top of Default. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg as YAML to path.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// Validate checks ranges and enumerations.
func (c Config) Validate() error {
	if c.FlushInterval <= 0 {
		return fmt.Errorf("%w: flush_interval must be positive, got %s", ErrInvalid, c.FlushInterval)
	}
	if c.FlushDelay < 0 {
		return fmt.Errorf("%w: flush_delay must not be negative, got %s", ErrInvalid, c.FlushDelay)
	}
	if _, ok := report.ParseDuplicatePolicy(c.Duplicates); !ok {
		return fmt.Errorf("%w: duplicates must be collapse or keep, got %q", ErrInvalid, c.Duplicates)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// DuplicatePolicy returns the parsed duplicate policy, defaulting to
// collapse.
func (c Config) DuplicatePolicy() report.DuplicatePolicy {
	p, ok := report.ParseDuplicatePolicy(c.Duplicates)
	if !ok {
		return report.CollapseDuplicates
	}
	return p
}

// Level returns the parsed log level, defaulting to info.
func (c Config) Level() slog.Level {
	l, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return l
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return l, fmt.Errorf("%w: log_level %q", ErrInvalid, s)
	}
	return l, nil
}

// ApplyAgentArgs overlays a comma-separated key=value argument string.
//
// Recognized keys: outputFile, interval, delay, duplicates, stacks.
// Empty segments are ignored; unknown keys are an error.
func (c Config) ApplyAgentArgs(args string) (Config, error) {
	for _, part := range strings.Split(args, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return c, fmt.Errorf("%w: agent argument %q is not key=value", ErrInvalid, part)
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)

		switch key {
		case "outputFile":
			c.OutputFile = value
		case "interval":
			d, err := time.ParseDuration(value)
			if err != nil {
				return c, fmt.Errorf("%w: interval: %v", ErrInvalid, err)
			}
			c.FlushInterval = d
		case "delay":
			d, err := time.ParseDuration(value)
			if err != nil {
				return c, fmt.Errorf("%w: delay: %v", ErrInvalid, err)
			}
			c.FlushDelay = d
		case "duplicates":
			c.Duplicates = value
		case "stacks":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return c, fmt.Errorf("%w: stacks: %v", ErrInvalid, err)
			}
			c.CaptureStacks = b
		default:
			return c, fmt.Errorf("%w: unknown agent argument %q", ErrInvalid, key)
		}
	}
	return c, c.Validate()
}
