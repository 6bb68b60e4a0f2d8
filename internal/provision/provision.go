// Package provision prepares the working directory before the event
// command runs, by cloning the repository the command lives in.
//
// Provisioning is best effort: callers log a failure and go on to run
// the command, which may still succeed against an existing checkout.
package provision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Sentinel errors for provisioning.
var (
	// ErrNoRepository is returned when no repository is given.
	ErrNoRepository = errors.New("no repository")

	// ErrAlreadyCloned is returned when the clone target is already a repository.
	ErrAlreadyCloned = errors.New("repository already cloned")
)

// Error reports a failed clone.
type Error struct {
	Repository string
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provision %s: %v", e.Repository, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Provisioner clones repositories with the git command line.
type Provisioner struct {
	// Git is the git executable. Defaults to "git" on PATH.
	Git string
}

// Clone clones repository into dir, under the directory name git would
// pick, and returns the checkout path. Clone output is discarded; git's
// diagnostics are carried in the returned error.
//
// If the target already holds a repository, Clone returns its path and
// an error wrapping ErrAlreadyCloned.
func (p *Provisioner) Clone(ctx context.Context, repository, dir string) (string, error) {
	if strings.TrimSpace(repository) == "" {
		return "", ErrNoRepository
	}

	target := filepath.Join(dir, TargetName(repository))
	if _, err := os.Stat(filepath.Join(target, ".git")); err == nil {
		return target, fmt.Errorf("%s: %w", target, ErrAlreadyCloned)
	}

	args := []string{"clone", "--quiet", "--", repository, target}

	git := p.Git
	if git == "" {
		git = "git"
	}
	cmd := exec.CommandContext(ctx, git, args...)
	cmd.Dir = dir
	cmd.Stdout = io.Discard

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return target, &Error{
			Repository: repository,
			Err:        fmt.Errorf("git %s: %s", strings.Join(args, " "), msg),
		}
	}

	return target, nil
}

// TargetName returns the directory name git clone derives from a
// repository URL: the last path component without a ".git" suffix.
func TargetName(repository string) string {
	name := strings.TrimRight(strings.TrimSpace(repository), "/")
	name = strings.TrimSuffix(name, "/.git")
	name = strings.TrimSuffix(name, ".git")
	name = strings.TrimRight(name, "/")

	if i := strings.LastIndexAny(name, "/:"); i >= 0 {
		name = name[i+1:]
	}
	if name == "" || name == "." || name == ".." {
		return "repository"
	}
	return name
}
