// Package config loads the system-configuration document: cycle timing,
// backend endpoints, buffer capacity, and logging options for the emitted
// Beacon, plus the optional inline validSensors list.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rgehrsitz/pulsar/beacon"
	"github.com/rgehrsitz/pulsar/internal/diag"
)

const (
	// DefaultCycleTimeMS is the production cycle period.
	DefaultCycleTimeMS = 100
	// TestModeCycleTimeMS is the slower default used under test harnesses.
	TestModeCycleTimeMS = 250
	// DefaultBufferCapacity bounds temporal and history buffers.
	DefaultBufferCapacity = 100
)

// System is the decoded system-configuration document.
type System struct {
	Version        int      `yaml:"version"`
	CycleTimeMS    int      `yaml:"cycleTime"`
	Redis          Redis    `yaml:"redis"`
	BufferCapacity int      `yaml:"bufferCapacity"`
	LogLevel       string   `yaml:"logLevel"`
	LogFile        string   `yaml:"logFile"`
	ValidSensors   []string `yaml:"validSensors"`
}

// Redis configures the key-value/pub-sub backend of the emitted engine.
type Redis struct {
	Endpoints  []string `yaml:"endpoints"`
	PoolSize   int      `yaml:"poolSize"`
	RetryCount int      `yaml:"retryCount"`
}

// Default returns the configuration used when no document is supplied.
func Default() *System {
	return &System{
		Version:        1,
		CycleTimeMS:    DefaultCycleTimeMS,
		Redis:          Redis{Endpoints: []string{"localhost:6379"}, PoolSize: 8, RetryCount: 3},
		BufferCapacity: DefaultBufferCapacity,
		LogLevel:       "info",
	}
}

// Load reads and validates a system configuration. An empty path yields
// the defaults.
func Load(path string) (*System, *diag.List) {
	diags := &diag.List{}
	if path == "" {
		return Default(), diags
	}

	data, err := os.ReadFile(path)
	if err != nil {
		diags.Add(diag.Errorf(diag.KindConfiguration, "reading config: %v", err).At(path, 0))
		return nil, diags
	}

	cfg := Default()
	cfg.ValidSensors = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		diags.Add(diag.Errorf(diag.KindConfiguration, "malformed config: %v", err).At(path, 0))
		return nil, diags
	}

	diags.Merge(cfg.validate(path))
	if diags.HasErrors() {
		return nil, diags
	}
	return cfg, diags
}

func (s *System) validate(path string) *diag.List {
	diags := &diag.List{}
	if s.CycleTimeMS <= 0 {
		diags.Add(diag.Errorf(diag.KindConfiguration, "cycleTime must be a positive number of milliseconds, got %d", s.CycleTimeMS).At(path, 0))
	}
	if s.BufferCapacity <= 0 {
		diags.Add(diag.Errorf(diag.KindConfiguration, "bufferCapacity must be positive, got %d", s.BufferCapacity).At(path, 0))
	}
	for _, ep := range s.Redis.Endpoints {
		if !strings.Contains(ep, ":") {
			diags.Add(diag.Errorf(diag.KindConfiguration, "redis endpoint %q is not host:port", ep).At(path, 0))
		}
	}
	switch s.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		diags.Add(diag.Errorf(diag.KindConfiguration, "unknown logLevel %q", s.LogLevel).At(path, 0))
	}
	return diags
}

// CycleTime returns the cycle period as a duration.
func (s *System) CycleTime() time.Duration {
	return time.Duration(s.CycleTimeMS) * time.Millisecond
}

// Runtime converts the system configuration into the kernel's runtime form
// for embedding into the emitted program.
func (s *System) Runtime() beacon.RuntimeConfig {
	return beacon.RuntimeConfig{
		CycleTime:      s.CycleTime(),
		Endpoints:      s.Redis.Endpoints,
		PoolSize:       s.Redis.PoolSize,
		RetryCount:     s.Redis.RetryCount,
		BufferCapacity: s.BufferCapacity,
		LogLevel:       s.LogLevel,
	}
}

// ValidationLevel is the strictness of catalog/sensor checking.
type ValidationLevel string

const (
	LevelStrict  ValidationLevel = "strict"
	LevelNormal  ValidationLevel = "normal"
	LevelRelaxed ValidationLevel = "relaxed"
)

// ParseValidationLevel resolves the --validation-level flag.
func ParseValidationLevel(s string) (ValidationLevel, error) {
	switch s {
	case "", "normal":
		return LevelNormal, nil
	case "strict":
		return LevelStrict, nil
	case "relaxed":
		return LevelRelaxed, nil
	default:
		return "", fmt.Errorf("invalid validation level %q (want strict, normal, or relaxed)", s)
	}
}
