package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dshills/cmdsource/internal/config"
)

func testConfig(t *testing.T, args map[string]any) *config.Config {
	t.Helper()

	base := map[string]any{
		"repository": filepath.Join(t.TempDir(), "missing.git"),
		"workdir":    t.TempDir(),
		"log.level":  "debug",
	}
	for k, v := range args {
		base[k] = v
	}

	cfg, err := config.Load(config.LoadOptions{SkipEnv: true, Overrides: base})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

func TestExecute(t *testing.T) {
	tests := []struct {
		name       string
		args       map[string]any
		wantCode   int
		wantStdout string
		wantLog    string
	}{
		{
			name: "forwards structured output",
			args: map[string]any{
				"command":     `printf '{"a":1}\nbad\n{"b":2}\n'`,
				"send_output": true,
			},
			wantCode:   exitOK,
			wantStdout: `{"cmd":{"a":1},"meta":{"command":"printf`,
			wantLog:    "failed to decode line",
		},
		{
			name: "raw output",
			args: map[string]any{
				"command":     "echo hello",
				"send_output": true,
				"deserialize": false,
			},
			wantCode:   exitOK,
			wantStdout: `{"cmd":"hello","meta":{"command":"echo hello"}}`,
		},
		{
			name: "discarded output",
			args: map[string]any{
				"command": "echo hidden",
			},
			wantCode: exitOK,
			wantLog:  "process finished",
		},
		{
			name: "process failure",
			args: map[string]any{
				"command": "echo boom >&2; exit 3",
			},
			wantCode: exitProcessFailed,
			wantLog:  "command failed",
		},
		{
			name: "reaped by the supervisor",
			args: map[string]any{
				"command": "exit 4",
			},
			wantCode: exitProcessFailed,
			wantLog:  "process reaped",
		},
		{
			name: "spawn failure",
			args: map[string]any{
				"command": "true",
				"shell":   "/nonexistent/shell",
			},
			wantCode: exitError,
			wantLog:  "failed to start process",
		},
		{
			name: "missing rules",
			args: map[string]any{
				"command": "true",
				"rules":   "/nonexistent/rules.lua",
			},
			wantCode: exitError,
			wantLog:  "failed to load rules",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, tt.args)

			var stdout, stderr bytes.Buffer
			code := execute(context.Background(), cfg, runOptions{stdout: &stdout, stderr: &stderr})

			if code != tt.wantCode {
				t.Errorf("exit code = %d, want %d (log: %s)", code, tt.wantCode, stderr.String())
			}
			if tt.wantStdout != "" && !strings.Contains(stdout.String(), tt.wantStdout) {
				t.Errorf("stdout %q does not contain %q", stdout.String(), tt.wantStdout)
			}
			if tt.wantLog != "" && !strings.Contains(stderr.String(), tt.wantLog) {
				t.Errorf("log does not contain %q: %s", tt.wantLog, stderr.String())
			}
		})
	}
}

func TestExecute_Rules(t *testing.T) {
	for _, reload := range []bool{false, true} {
		t.Run(fmt.Sprintf("reload=%v", reload), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "big.lua")
			script := `function condition(e) return type(e.cmd) == "table" and e.cmd.n > 1 end`
			if err := os.WriteFile(path, []byte(script), 0o644); err != nil {
				t.Fatal(err)
			}

			cfg := testConfig(t, map[string]any{
				"command":      `printf '{"n":1}\n{"n":2}\n{"n":3}\n'`,
				"send_output":  true,
				"rules":        path,
				"rules_reload": reload,
			})

			var stdout, stderr bytes.Buffer
			if code := execute(context.Background(), cfg, runOptions{stdout: &stdout, stderr: &stderr}); code != exitOK {
				t.Fatalf("exit code = %d: %s", code, stderr.String())
			}

			if n := strings.Count(stderr.String(), "rule matched"); n != 2 {
				t.Errorf("expected 2 matches, got %d: %s", n, stderr.String())
			}
			if n := strings.Count(stdout.String(), "\n"); n != 3 {
				t.Errorf("expected 3 printed events, got %d", n)
			}
		})
	}
}

func TestExecute_Canceled(t *testing.T) {
	cfg := testConfig(t, map[string]any{"command": "sleep 10"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var stdout, stderr bytes.Buffer
	if code := execute(ctx, cfg, runOptions{stdout: &stdout, stderr: &stderr}); code != exitOK {
		t.Errorf("exit code = %d, want %d", code, exitOK)
	}
}

func TestRootCommand(t *testing.T) {
	// Clear the environment layer; t.Setenv restores it afterwards.
	for env := range config.EnvBindings() {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}

	t.Run("flags", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		code := -1
		root := newRootCommand(&code, &stdout, &stderr)
		root.SetArgs([]string{
			"--command", "echo '{\"ok\":true}'",
			"--repository", filepath.Join(t.TempDir(), "missing.git"),
			"--workdir", t.TempDir(),
			"--send-output",
		})

		if err := root.ExecuteContext(context.Background()); err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if code != exitOK {
			t.Errorf("exit code = %d: %s", code, stderr.String())
		}
		if !strings.Contains(stdout.String(), `"cmd":{"ok":true}`) {
			t.Errorf("unexpected stdout %q", stdout.String())
		}
	})

	t.Run("missing command", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		code := -1
		root := newRootCommand(&code, &stdout, &stderr)
		root.SetArgs([]string{"--repository", "https://example.com/r.git"})

		if err := root.ExecuteContext(context.Background()); err == nil {
			t.Error("expected configuration error")
		}
		if code != -1 {
			t.Errorf("command should not have run, code = %d", code)
		}
	})

	t.Run("config file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cmdsource.toml")
		data := "command = \"echo from-file\"\nrepository = \"" + filepath.Join(t.TempDir(), "missing.git") + "\"\nsend_output = true\ndeserialize = false\nworkdir = \"" + t.TempDir() + "\"\n"
		if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}

		var stdout, stderr bytes.Buffer
		code := -1
		root := newRootCommand(&code, &stdout, &stderr)
		root.SetArgs([]string{"--config", path, "--command", "echo from-flag"})

		if err := root.ExecuteContext(context.Background()); err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if !strings.Contains(stdout.String(), `"cmd":"from-flag"`) {
			t.Errorf("flag should override file, got %q", stdout.String())
		}
	})
}
