package config

import (
	"errors"
	"io/fs"
	"strings"
	"testing"
	"time"
)

// memFS is an in-memory loader.FileSystem.
type memFS map[string]string

func (m memFS) ReadFile(path string) ([]byte, error) {
	data, ok := m[path]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return []byte(data), nil
}

func (m memFS) Stat(path string) (fs.FileInfo, error) {
	return nil, fs.ErrNotExist
}

func minimalArgs() map[string]any {
	return map[string]any{
		"command":    "cd ansible-eda-go && ./closed-loop",
		"repository": "https://github.com/nleiva/ansible-eda-go",
	}
}

// loadArgs loads an argument record on top of the defaults alone.
func loadArgs(args map[string]any) (*Config, error) {
	return Load(LoadOptions{SkipEnv: true, Overrides: args})
}

func TestLoadArgs_Defaults(t *testing.T) {
	cfg, err := loadArgs(minimalArgs())
	if err != nil {
		t.Fatalf("loadArgs: %v", err)
	}

	if !cfg.Deserialize {
		t.Error("deserialize should default to true")
	}
	if cfg.SendOutput {
		t.Error("send_output should default to false")
	}
	if cfg.Shell != "/bin/sh" {
		t.Errorf("shell = %q", cfg.Shell)
	}
	if cfg.Workdir != "." {
		t.Errorf("workdir = %q", cfg.Workdir)
	}
	if cfg.QueueSize != 1024 || cfg.MaxLineSize != 1<<20 {
		t.Errorf("sizes = %d/%d", cfg.QueueSize, cfg.MaxLineSize)
	}
	if cfg.DrainTimeout != 5*time.Second {
		t.Errorf("drain_timeout = %v", cfg.DrainTimeout)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("log = %+v", cfg.Log)
	}
}

func TestLoadArgs_BooleanCoercion(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  bool
	}{
		{"bool true", true, true},
		{"bool false", false, false},
		{"int one", 1, true},
		{"int zero", 0, false},
		{"float zero", 0.0, false},
		{"string yes", "yes", true},
		{"string false", "false", false},
		{"string zero", "0", false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := minimalArgs()
			args["send_output"] = tt.value

			cfg, err := loadArgs(args)
			if err != nil {
				t.Fatalf("loadArgs: %v", err)
			}
			if cfg.SendOutput != tt.want {
				t.Errorf("SendOutput = %v, want %v", cfg.SendOutput, tt.want)
			}
		})
	}
}

func TestLoadArgs_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(map[string]any)
		wantErr error
		field   string
	}{
		{"missing command", func(a map[string]any) { delete(a, "command") }, ErrInvalidConfiguration, "command"},
		{"missing repository", func(a map[string]any) { delete(a, "repository") }, ErrInvalidConfiguration, "repository"},
		{"bad bool", func(a map[string]any) { a["deserialize"] = "sometimes" }, ErrTypeMismatch, "deserialize"},
		{"bad int", func(a map[string]any) { a["queue_size"] = "many" }, ErrTypeMismatch, "queue_size"},
		{"zero queue", func(a map[string]any) { a["queue_size"] = 0 }, ErrInvalidConfiguration, "queue_size"},
		{"bad duration", func(a map[string]any) { a["drain_timeout"] = "soon" }, ErrTypeMismatch, "drain_timeout"},
		{"bad level", func(a map[string]any) { a["log.level"] = "loud" }, ErrInvalidConfiguration, "log.level"},
		{"bad format", func(a map[string]any) { a["log"] = map[string]any{"format": "xml"} }, ErrInvalidConfiguration, "log.format"},
		{"bad string", func(a map[string]any) { a["shell"] = []any{"sh"} }, ErrTypeMismatch, "shell"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := minimalArgs()
			tt.mutate(args)

			_, err := loadArgs(args)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error should name %s: %v", tt.field, err)
			}
		})
	}
}

func TestLoadArgs_StringCoercion(t *testing.T) {
	args := minimalArgs()
	args["command"] = 42

	cfg, err := loadArgs(args)
	if err != nil {
		t.Fatalf("loadArgs: %v", err)
	}
	if cfg.Command != "42" {
		t.Errorf("command = %q, want \"42\"", cfg.Command)
	}
}

func TestLoadArgs_DurationForms(t *testing.T) {
	tests := []struct {
		value any
		want  time.Duration
	}{
		{"250ms", 250 * time.Millisecond},
		{3, 3 * time.Second},
		{int64(2), 2 * time.Second},
		{1.5, 1500 * time.Millisecond},
		{time.Minute, time.Minute},
	}

	for _, tt := range tests {
		args := minimalArgs()
		args["drain_timeout"] = tt.value

		cfg, err := loadArgs(args)
		if err != nil {
			t.Fatalf("loadArgs(%v): %v", tt.value, err)
		}
		if cfg.DrainTimeout != tt.want {
			t.Errorf("drain_timeout(%v) = %v, want %v", tt.value, cfg.DrainTimeout, tt.want)
		}
	}
}

func TestLoad_Layers(t *testing.T) {
	fsys := memFS{"/etc/cmdsource.toml": `
command = "./from-file"
repository = "https://example.com/repo.git"
send_output = true
queue_size = 16
drain_timeout = "2s"

[log]
level = "debug"
format = "json"
`}

	t.Setenv("CMDSOURCE_QUEUE_SIZE", "32")
	t.Setenv("CMDSOURCE_COMMAND", "./from-env")

	cfg, err := Load(LoadOptions{
		Path:      "/etc/cmdsource.toml",
		FS:        fsys,
		Overrides: map[string]any{"log.level": "warn"},
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Command != "./from-env" {
		t.Errorf("environment should override file, command = %q", cfg.Command)
	}
	if cfg.QueueSize != 32 {
		t.Errorf("queue_size = %d, want 32", cfg.QueueSize)
	}
	if !cfg.SendOutput {
		t.Error("send_output from file lost")
	}
	if cfg.DrainTimeout != 2*time.Second {
		t.Errorf("drain_timeout = %v", cfg.DrainTimeout)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("override should win, log.level = %q", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("sibling key from file lost, log.format = %q", cfg.Log.Format)
	}
	if !cfg.Deserialize {
		t.Error("default deserialize lost")
	}
}

func TestLoad_SkipEnvAndMissingFile(t *testing.T) {
	t.Setenv("CMDSOURCE_COMMAND", "./ignored")

	cfg, err := Load(LoadOptions{
		Path:    "/missing.toml",
		FS:      memFS{},
		SkipEnv: true,
		Overrides: map[string]any{
			"command":    "./flag",
			"repository": "repo",
		},
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Command != "./flag" {
		t.Errorf("command = %q", cfg.Command)
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	_, err := Load(LoadOptions{
		Path:    "/bad.toml",
		FS:      memFS{"/bad.toml": "command = "},
		SkipEnv: true,
	})
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestConfig_Descriptor(t *testing.T) {
	args := minimalArgs()
	args["send_output"] = true
	args["deserialize"] = false
	args["shell"] = "/bin/bash"
	args["workdir"] = "/srv"

	cfg, err := loadArgs(args)
	if err != nil {
		t.Fatalf("loadArgs: %v", err)
	}

	desc := cfg.Descriptor()
	if desc.Command != cfg.Command || !desc.CaptureOutput || desc.Deserialize {
		t.Errorf("unexpected descriptor %+v", desc)
	}
	if desc.Shell != "/bin/bash" || desc.Dir != "/srv" {
		t.Errorf("unexpected shell/dir %q %q", desc.Shell, desc.Dir)
	}
}

func TestLoad_RulesReloadFromEnv(t *testing.T) {
	t.Setenv("CMDSOURCE_COMMAND", "true")
	t.Setenv("CMDSOURCE_REPOSITORY", "https://example.com/r.git")
	t.Setenv("CMDSOURCE_RULES", "alerts.lua")
	t.Setenv("CMDSOURCE_RULES_RELOAD", "yes")

	cfg, err := Load(LoadOptions{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Rules != "alerts.lua" || !cfg.RulesReload {
		t.Errorf("rules = %q, reload = %v", cfg.Rules, cfg.RulesReload)
	}
}
