package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadEditWindowDefaults(t *testing.T) {
	t.Setenv("EDIT_WINDOW_HOURS", "")
	t.Setenv("MIN_EDIT_REASON_LEN", "")

	cfg := Load()
	if cfg.EditWindowHours != 24 {
		t.Fatalf("expected default edit window 24h, got %d", cfg.EditWindowHours)
	}
	if cfg.MinEditReasonLen != 10 {
		t.Fatalf("expected default reason length 10, got %d", cfg.MinEditReasonLen)
	}
}

func TestLoadAllowsDisablingEdits(t *testing.T) {
	t.Setenv("EDIT_WINDOW_HOURS", "0")

	cfg := Load()
	if cfg.EditWindowHours != 0 {
		t.Fatalf("expected edit window 0 when explicitly disabled, got %d", cfg.EditWindowHours)
	}
}

func TestLoadRejectsNegativeEditWindow(t *testing.T) {
	t.Setenv("EDIT_WINDOW_HOURS", "-5")

	cfg := Load()
	if cfg.EditWindowHours != 24 {
		t.Fatalf("expected negative edit window to fall back to 24, got %d", cfg.EditWindowHours)
	}
}
