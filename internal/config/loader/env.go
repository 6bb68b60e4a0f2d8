package loader

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Kind tells the environment loader how to parse a variable.
type Kind int

const (
	// KindAuto guesses the type from the text.
	KindAuto Kind = iota
	// KindString keeps the text verbatim.
	KindString
	// KindBool parses true/false, yes/no, on/off, 1/0.
	KindBool
	// KindInt parses a base-10 integer.
	KindInt
	// KindDuration parses a Go duration such as "5s".
	KindDuration
)

// Binding maps one environment variable to a configuration path.
type Binding struct {
	Path string
	Kind Kind
}

// EnvLoader loads configuration from environment variables.
type EnvLoader struct {
	mapping map[string]Binding // Env var -> config path
}

var _ Loader = (*EnvLoader)(nil)

// NewEnvLoader creates a loader for the given variable mappings.
func NewEnvLoader(mapping map[string]Binding) *EnvLoader {
	return &EnvLoader{mapping: mapping}
}

// Load reads the mapped environment variables and returns a
// configuration map. Empty values are treated as set, not unset.
//
// A value that does not parse as its Kind is kept as a string so the
// decoder can report it against the right key.
func (l *EnvLoader) Load() (map[string]any, error) {
	config := make(map[string]any)

	for env, binding := range l.mapping {
		if val, ok := os.LookupEnv(env); ok {
			SetByPath(config, binding.Path, parseValue(val, binding.Kind))
		}
	}

	return config, nil
}

// AddMapping adds an environment variable mapping.
func (l *EnvLoader) AddMapping(envVar string, binding Binding) {
	if l.mapping == nil {
		l.mapping = make(map[string]Binding)
	}
	l.mapping[envVar] = binding
}

// parseValue converts s according to kind.
func parseValue(s string, kind Kind) any {
	switch kind {
	case KindString:
		return s
	case KindBool:
		if b, ok := ParseBool(s); ok {
			return b
		}
		return s
	case KindInt:
		if i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return i
		}
		return s
	case KindDuration:
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d
		}
		return s
	}

	if s == "" {
		return s
	}
	if b, ok := ParseBool(s); ok {
		return b
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	// Only with a decimal point, so ints are not misread.
	if strings.Contains(s, ".") {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return s
}

// ParseBool recognizes the boolean spellings accepted in configuration.
// ok is false when s is not one of them.
func ParseBool(s string) (value, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "on", "1":
		return true, true
	case "false", "no", "off", "0", "":
		return false, true
	}
	return false, false
}

// SetByPath sets a value in a nested map using a dot-separated path,
// creating intermediate maps as needed.
func SetByPath(data map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	current := data

	for i := 0; i < len(parts)-1; i++ {
		part := parts[i]
		if next, ok := current[part].(map[string]any); ok {
			current = next
		} else {
			next := make(map[string]any)
			current[part] = next
			current = next
		}
	}

	current[parts[len(parts)-1]] = value
}

// GetByPath returns the value at a dot-separated path.
func GetByPath(data map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	current := data

	for i, part := range parts {
		val, ok := current[part]
		if !ok {
			return nil, false
		}
		if i == len(parts)-1 {
			return val, true
		}
		next, ok := val.(map[string]any)
		if !ok {
			return nil, false
		}
		current = next
	}
	return nil, false
}
