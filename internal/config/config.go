package config

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dshills/cmdsource/internal/config/loader"
	"github.com/dshills/cmdsource/internal/logging"
	"github.com/dshills/cmdsource/internal/process"
)

// Setting paths.
const (
	KeyCommand      = "command"
	KeyRepository   = "repository"
	KeyDeserialize  = "deserialize"
	KeySendOutput   = "send_output"
	KeyShell        = "shell"
	KeyWorkdir      = "workdir"
	KeyQueueSize    = "queue_size"
	KeyMaxLineSize  = "max_line_size"
	KeyDrainTimeout = "drain_timeout"
	KeyRules        = "rules"
	KeyRulesReload  = "rules_reload"
	KeyLogLevel     = "log.level"
	KeyLogFormat    = "log.format"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "CMDSOURCE_"

// Config is the complete cmdsource configuration.
type Config struct {
	// Command is the shell command that produces events.
	Command string
	// Repository is cloned into Workdir before the command runs.
	Repository string
	// Deserialize parses each stdout line as JSON.
	Deserialize bool
	// SendOutput forwards stdout lines as events; otherwise stdout is discarded.
	SendOutput bool
	// Shell interprets Command.
	Shell string
	// Workdir is where the repository is cloned and the command runs.
	Workdir string
	// QueueSize is the capacity of the delivery queue.
	QueueSize int
	// MaxLineSize is the longest accepted stdout line in bytes.
	MaxLineSize int
	// DrainTimeout bounds the drain after cancellation.
	DrainTimeout time.Duration
	// Rules is an optional Lua rule script evaluated against each event.
	Rules string
	// RulesReload reloads Rules when the file changes.
	RulesReload bool
	// Log configures logging.
	Log LogConfig
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string
	Format string
}

// Defaults returns the built-in configuration layer.
func Defaults() map[string]any {
	return map[string]any{
		KeyDeserialize:  true,
		KeySendOutput:   false,
		KeyShell:        process.DefaultShell,
		KeyWorkdir:      ".",
		KeyQueueSize:    int64(1024),
		KeyMaxLineSize:  int64(1 << 20),
		KeyDrainTimeout: 5 * time.Second,
		KeyRules:        "",
		KeyRulesReload:  false,
		"log": map[string]any{
			"level":  "info",
			"format": logging.FormatText,
		},
	}
}

// EnvBindings maps CMDSOURCE_* variables to setting paths.
func EnvBindings() map[string]loader.Binding {
	return map[string]loader.Binding{
		EnvPrefix + "COMMAND":       {Path: KeyCommand, Kind: loader.KindString},
		EnvPrefix + "REPOSITORY":    {Path: KeyRepository, Kind: loader.KindString},
		EnvPrefix + "DESERIALIZE":   {Path: KeyDeserialize, Kind: loader.KindBool},
		EnvPrefix + "SEND_OUTPUT":   {Path: KeySendOutput, Kind: loader.KindBool},
		EnvPrefix + "SHELL":         {Path: KeyShell, Kind: loader.KindString},
		EnvPrefix + "WORKDIR":       {Path: KeyWorkdir, Kind: loader.KindString},
		EnvPrefix + "QUEUE_SIZE":    {Path: KeyQueueSize, Kind: loader.KindInt},
		EnvPrefix + "MAX_LINE_SIZE": {Path: KeyMaxLineSize, Kind: loader.KindInt},
		EnvPrefix + "DRAIN_TIMEOUT": {Path: KeyDrainTimeout, Kind: loader.KindDuration},
		EnvPrefix + "RULES":         {Path: KeyRules, Kind: loader.KindString},
		EnvPrefix + "RULES_RELOAD":  {Path: KeyRulesReload, Kind: loader.KindBool},
		EnvPrefix + "LOG_LEVEL":     {Path: KeyLogLevel, Kind: loader.KindString},
		EnvPrefix + "LOG_FORMAT":    {Path: KeyLogFormat, Kind: loader.KindString},
	}
}

// LoadOptions selects the layers Load reads.
type LoadOptions struct {
	// Path is the TOML file. Empty skips the file layer; a missing file
	// is not an error.
	Path string

	// FS reads Path. Defaults to the OS file system.
	FS loader.FileSystem

	// SkipEnv ignores CMDSOURCE_* variables.
	SkipEnv bool

	// Overrides is the highest layer: explicit CLI flags, or a
	// host-supplied argument record such as
	// {"command": ..., "repository": ..., "send_output": true}.
	// Keys may be dotted paths such as "log.level". Booleans accept
	// bool, numbers (non-zero is true) and the usual string spellings.
	Overrides map[string]any
}

// Load assembles defaults, file, environment and overrides, then
// decodes and validates the result.
func Load(opts LoadOptions) (*Config, error) {
	merged := Defaults()

	if opts.Path != "" {
		fsys := opts.FS
		if fsys == nil {
			fsys = loader.DefaultFS()
		}
		data, err := loader.NewTOMLLoaderWithFS(fsys, opts.Path).Load()
		if err != nil {
			return nil, err
		}
		merged = loader.DeepMerge(merged, data)
	}

	if !opts.SkipEnv {
		data, err := loader.NewEnvLoader(EnvBindings()).Load()
		if err != nil {
			return nil, fmt.Errorf("loading environment: %w", err)
		}
		merged = loader.DeepMerge(merged, data)
	}

	merged = loader.DeepMerge(merged, nest(opts.Overrides))

	cfg, err := decode(merged)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that required settings are present and values are in range.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Command) == "" {
		errs = append(errs, invalid(KeyCommand, "required"))
	}
	if strings.TrimSpace(c.Repository) == "" {
		errs = append(errs, invalid(KeyRepository, "required"))
	}
	if c.Shell == "" {
		errs = append(errs, invalid(KeyShell, "must not be empty"))
	}
	if c.QueueSize <= 0 {
		errs = append(errs, invalid(KeyQueueSize, "must be positive, got %d", c.QueueSize))
	}
	if c.MaxLineSize <= 0 {
		errs = append(errs, invalid(KeyMaxLineSize, "must be positive, got %d", c.MaxLineSize))
	}
	if c.DrainTimeout <= 0 {
		errs = append(errs, invalid(KeyDrainTimeout, "must be positive, got %v", c.DrainTimeout))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, invalid(KeyLogLevel, "%v", err))
	}
	switch c.Log.Format {
	case logging.FormatText, logging.FormatJSON:
	default:
		errs = append(errs, invalid(KeyLogFormat, "unknown format %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// Descriptor returns the process description for the configured command.
func (c *Config) Descriptor() process.Descriptor {
	return process.Descriptor{
		Command:       c.Command,
		CaptureOutput: c.SendOutput,
		Deserialize:   c.Deserialize,
		Shell:         c.Shell,
		Dir:           c.Workdir,
	}
}

// nest expands dotted keys into nested maps so flat records merge with
// file and environment layers.
func nest(flat map[string]any) map[string]any {
	if flat == nil {
		return nil
	}
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		if m, ok := v.(map[string]any); ok {
			v = nest(m)
		}
		entry := make(map[string]any, 1)
		loader.SetByPath(entry, k, v)
		out = loader.DeepMerge(out, entry)
	}
	return out
}

// decode converts a merged layer map into a Config.
func decode(m map[string]any) (*Config, error) {
	d := &mapDecoder{data: m}

	cfg := &Config{
		Command:      d.str(KeyCommand),
		Repository:   d.str(KeyRepository),
		Deserialize:  d.boolean(KeyDeserialize),
		SendOutput:   d.boolean(KeySendOutput),
		Shell:        d.str(KeyShell),
		Workdir:      d.str(KeyWorkdir),
		QueueSize:    d.integer(KeyQueueSize),
		MaxLineSize:  d.integer(KeyMaxLineSize),
		DrainTimeout: d.duration(KeyDrainTimeout),
		Rules:        d.str(KeyRules),
		RulesReload:  d.boolean(KeyRulesReload),
		Log: LogConfig{
			Level:  strings.ToLower(d.str(KeyLogLevel)),
			Format: strings.ToLower(d.str(KeyLogFormat)),
		},
	}

	if len(d.errs) > 0 {
		return nil, errors.Join(d.errs...)
	}
	return cfg, nil
}

// mapDecoder reads typed values from a layer map, collecting errors.
type mapDecoder struct {
	data map[string]any
	errs []error
}

func (d *mapDecoder) fail(path, expected string, v any) {
	d.errs = append(d.errs, &TypeError{Path: path, Expected: expected, Actual: fmt.Sprintf("%v (%s)", v, typeName(v))})
}

func (d *mapDecoder) str(path string) string {
	v, ok := loader.GetByPath(d.data, path)
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case bool, int, int64, float64:
		return fmt.Sprint(val)
	default:
		d.fail(path, "string", v)
		return ""
	}
}

func (d *mapDecoder) boolean(path string) bool {
	v, ok := loader.GetByPath(d.data, path)
	if !ok || v == nil {
		return false
	}
	switch val := v.(type) {
	case bool:
		return val
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	case string:
		if b, ok := loader.ParseBool(val); ok {
			return b
		}
	}
	d.fail(path, "bool", v)
	return false
}

func (d *mapDecoder) integer(path string) int {
	v, ok := loader.GetByPath(d.data, path)
	if !ok || v == nil {
		return 0
	}
	switch val := v.(type) {
	case int:
		return val
	case int64:
		return int(val)
	case float64:
		if val == math.Trunc(val) {
			return int(val)
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return i
		}
	}
	d.fail(path, "int", v)
	return 0
}

// duration accepts Go duration text or a number of seconds.
func (d *mapDecoder) duration(path string) time.Duration {
	v, ok := loader.GetByPath(d.data, path)
	if !ok || v == nil {
		return 0
	}
	switch val := v.(type) {
	case time.Duration:
		return val
	case int:
		return time.Duration(val) * time.Second
	case int64:
		return time.Duration(val) * time.Second
	case float64:
		return time.Duration(val * float64(time.Second))
	case string:
		if dur, err := time.ParseDuration(strings.TrimSpace(val)); err == nil {
			return dur
		}
	}
	d.fail(path, "duration", v)
	return 0
}

// typeName returns the type name for error messages.
func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "nil"
	case string:
		return "string"
	case int, int64:
		return "int"
	case float64:
		return "float64"
	case bool:
		return "bool"
	case time.Duration:
		return "duration"
	case []any:
		return "[]any"
	case map[string]any:
		return "map"
	default:
		return fmt.Sprintf("%T", v)
	}
}
