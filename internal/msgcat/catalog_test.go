package msgcat

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEmbeddedErrorMessages(t *testing.T) {
	c := MustDefault()
	for _, code := range []string{"not_your_turn", "duplicate_shot", "match_not_found", "internal_error"} {
		if !c.Has("errors." + code) {
			t.Fatalf("missing message for %s", code)
		}
	}
	got := c.ErrorMessage("out_of_bounds", map[string]any{"Size": 10})
	if got != "That coordinate is outside the 10x10 board." {
		t.Fatalf("unexpected render: %q", got)
	}
}

func TestErrorMessageFallback(t *testing.T) {
	c := MustDefault()
	want := c.ErrorMessage("internal_error", nil)
	if got := c.ErrorMessage("no_such_code", nil); got != want {
		t.Fatalf("fallback = %q, want %q", got, want)
	}
	// a template with a missing field also falls back
	if got := c.ErrorMessage("invalid_request", map[string]any{}); got != want {
		t.Fatalf("missing data fallback = %q", got)
	}
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("errors:\n  not_your_turn: \"Wait for {{.Opponent}}.\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := c.Render("errors.not_your_turn", map[string]string{"Opponent": "bob"})
	if err != nil || got != "Wait for bob." {
		t.Fatalf("Render = %q, %v", got, err)
	}
	if !c.Has("errors.match_ended") {
		t.Fatalf("override dropped embedded keys")
	}
}

func TestDuplicateOverrideKeys(t *testing.T) {
	dir := t.TempDir()
	body := []byte("errors:\n  match_ended: \"x\"\n")
	for _, n := range []string{"a.yaml", "b.yml"} {
		if err := os.WriteFile(filepath.Join(dir, n), body, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if _, err := New(dir); err == nil {
		t.Fatalf("expected duplicate key error")
	}
}
