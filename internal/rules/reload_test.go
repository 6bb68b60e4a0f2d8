package rules

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dshills/cmdsource/internal/event"
	"github.com/dshills/cmdsource/internal/logging"
)

// replaceFile writes data next to path and renames it into place.
func replaceFile(t *testing.T, path, data string) {
	t.Helper()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.lua")
	if err := os.WriteFile(path, []byte(`function condition(e) return false end`), 0o644); err != nil {
		t.Fatal(err)
	}

	log := logging.NewRecorder()
	r, err := Watch(path, log)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer r.Close()

	env := event.NewText("x", "emit")
	if ok, err := r.Evaluate(context.Background(), env); err != nil || ok {
		t.Fatalf("Evaluate before reload = %v, %v", ok, err)
	}
	if r.Name() != "alerts" {
		t.Errorf("Name() = %q, want alerts", r.Name())
	}

	replaceFile(t, path, `name = "always"; function condition(e) return true end`)

	select {
	case <-r.Reloads():
	case <-time.After(5 * time.Second):
		t.Fatal("rule was not reloaded after the file changed")
	}

	if ok, err := r.Evaluate(context.Background(), env); err != nil || !ok {
		t.Errorf("Evaluate after reload = %v, %v", ok, err)
	}
	if r.Name() != "always" {
		t.Errorf("Name() = %q, want always", r.Name())
	}
	if _, ok := log.Find("rules reloaded"); !ok {
		t.Error("expected a reload log entry")
	}
}

func TestReloader_KeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keep.lua")
	if err := os.WriteFile(path, []byte(`function condition(e) return true end`), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := Watch(path, nil)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer r.Close()

	replaceFile(t, path, `function condition(`)
	if err := r.Reload(); err == nil {
		t.Fatal("expected reload error for a broken script")
	}

	if ok, err := r.Evaluate(context.Background(), event.NewText("x", "emit")); err != nil || !ok {
		t.Errorf("previous rule should stay active, got %v, %v", ok, err)
	}
}

func TestWatch_Errors(t *testing.T) {
	if _, err := Watch(filepath.Join(t.TempDir(), "missing.lua"), nil); err == nil {
		t.Error("expected error for a missing rule file")
	}

	path := filepath.Join(t.TempDir(), "nocond.lua")
	if err := os.WriteFile(path, []byte(`x = 1`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Watch(path, nil); err == nil {
		t.Error("expected error for a script without condition")
	}
}

func TestReloader_Close(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.lua")
	if err := os.WriteFile(path, []byte(`function condition(e) return true end`), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := Watch(path, nil)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
