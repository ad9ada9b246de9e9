// Package config loads experiment configuration.
//
// Configuration is written in CUE and unified with an embedded schema that
// supplies defaults and constraints. Environment variables override the
// result:
//
//	PHASETRACE_LOG_LEVEL  log_level
//	PHASETRACE_WORKERS    workers
//	PHASETRACE_DB         database
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaCUE string

// Environment variable names.
const (
	EnvLogLevel = "PHASETRACE_LOG_LEVEL"
	EnvWorkers  = "PHASETRACE_WORKERS"
	EnvDatabase = "PHASETRACE_DB"
)

// Config is the decoded experiment configuration.
type Config struct {
	Year           int    `json:"year"`
	Timezone       string `json:"timezone"`
	MinDataPktSize int    `json:"min_data_pkt_size"`
	Datasets       string `json:"datasets"`
	Output         string `json:"output"`
	AppLog         string `json:"app_log"`
	Capture        string `json:"capture"`
	Workers        int    `json:"workers"`
	LogLevel       string `json:"log_level"`
	Database       string `json:"database"`
}

// Problem is one constraint violation.
type Problem struct {
	// Path is the dotted field path, empty for file-level problems.
	Path    string `json:"path,omitempty"`
	Line    int    `json:"line,omitempty"`
	Message string `json:"message"`
}

// ValidationError reports every problem found in a configuration source.
type ValidationError struct {
	Source   string
	Problems []Problem
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "invalid config %s", e.Source)
	for _, p := range e.Problems {
		b.WriteString("\n  ")
		if p.Line > 0 {
			fmt.Fprintf(&b, "line %d: ", p.Line)
		}
		if p.Path != "" {
			b.WriteString(p.Path + ": ")
		}
		b.WriteString(p.Message)
	}
	return b.String()
}

// IsValidationError returns true if err is a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Default returns the schema defaults without environment overrides.
func Default() *Config {
	cfg, err := decode(cuecontext.New(), nil, "defaults")
	if err != nil {
		panic(fmt.Sprintf("config: embedded schema: %v", err))
	}
	return cfg
}

// Load reads the CUE file at path, applies schema defaults, then
// environment overrides. An empty path yields the defaults; a named file
// that does not exist is an error matching os.ErrNotExist.
func Load(path string) (*Config, error) {
	var src []byte
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		src = data
	}
	return LoadBytes(src, path)
}

// LoadBytes is Load for in-memory CUE source. name labels errors.
func LoadBytes(src []byte, name string) (*Config, error) {
	if name == "" {
		name = "<config>"
	}
	cfg, err := decode(cuecontext.New(), src, name)
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode unifies src with the schema and decodes the concrete result.
func decode(ctx *cue.Context, src []byte, name string) (*Config, error) {
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	v := schema.LookupPath(cue.ParsePath("#Config"))

	if len(src) > 0 {
		user := ctx.CompileBytes(src, cue.Filename(name))
		if err := user.Err(); err != nil {
			return nil, newValidationError(name, err)
		}
		v = v.Unify(user)
	}

	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, newValidationError(name, err)
	}

	var cfg Config
	if err := v.Decode(&cfg); err != nil {
		return nil, newValidationError(name, err)
	}
	return &cfg, nil
}

func newValidationError(source string, err error) *ValidationError {
	ve := &ValidationError{Source: source}
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		ve.Problems = append(ve.Problems, Problem{
			Path:    strings.Join(e.Path(), "."),
			Line:    e.Position().Line(),
			Message: fmt.Sprintf(format, args...),
		})
	}
	if len(ve.Problems) == 0 {
		ve.Problems = []Problem{{Message: err.Error()}}
	}
	return ve
}

// applyEnv overrides fields from the environment. Values are checked
// against the same bounds as the schema.
func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv(EnvLogLevel); v != "" {
		if _, err := ParseLevel(v); err != nil {
			return fmt.Errorf("%s: %w", EnvLogLevel, err)
		}
		c.LogLevel = strings.ToLower(v)
	}
	if v := getenv(EnvWorkers); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 256 {
			return fmt.Errorf("%s: want an integer in [1, 256], got %q", EnvWorkers, v)
		}
		c.Workers = n
	}
	if v := getenv(EnvDatabase); v != "" {
		c.Database = v
	}
	return nil
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	switch c.Timezone {
	case "", "Local":
		return time.Local, nil
	default:
		loc, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
		}
		return loc, nil
	}
}

// Level returns the slog level for LogLevel.
func (c *Config) Level() slog.Level {
	lvl, err := ParseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// ParseLevel converts debug, info, warn or error into a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}
