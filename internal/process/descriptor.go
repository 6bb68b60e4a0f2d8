package process

import (
	"os"
	"sort"
	"strings"
)

// DefaultShell interprets commands when a descriptor names no shell.
const DefaultShell = "/bin/sh"

// Descriptor describes the command to run.
type Descriptor struct {
	// Command is the command text, interpreted by Shell.
	Command string

	// CaptureOutput pipes stdout to the caller. When false, stdout goes
	// to the null device.
	CaptureOutput bool

	// Deserialize records whether stdout lines are JSON documents.
	// The supervisor does not read stdout; decoders consult this flag.
	Deserialize bool

	// Shell is the interpreter. Defaults to DefaultShell.
	Shell string

	// ShellArgs precede the command text. Defaults to ["-c"].
	ShellArgs []string

	// Dir is the working directory. Empty means the caller's.
	Dir string

	// Env is added to the inherited environment, overriding duplicates.
	Env map[string]string
}

// argv returns the program and arguments that run the command.
func (d Descriptor) argv() (string, []string) {
	shell := d.Shell
	if shell == "" {
		shell = DefaultShell
	}

	args := d.ShellArgs
	if len(args) == 0 {
		args = []string{"-c"}
	}

	out := make([]string, 0, len(args)+1)
	out = append(out, args...)
	out = append(out, d.Command)
	return shell, out
}

// environment merges Env over os.Environ with deterministic ordering.
func (d Descriptor) environment() []string {
	if len(d.Env) == 0 {
		return nil
	}

	envMap := make(map[string]string)
	for _, kv := range os.Environ() {
		if idx := strings.Index(kv, "="); idx > 0 {
			envMap[kv[:idx]] = kv[idx+1:]
		}
	}
	for k, v := range d.Env {
		envMap[k] = v
	}

	keys := make([]string, 0, len(envMap))
	for k := range envMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(envMap))
	for _, k := range keys {
		env = append(env, k+"="+envMap[k])
	}
	return env
}
