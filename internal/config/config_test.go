package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.Storage != StorageSQLite {
		t.Fatalf("expected sqlite default, got %q", cfg.Storage)
	}
	if cfg.RunTimeout != 5*time.Minute {
		t.Fatalf("expected 5m run timeout, got %s", cfg.RunTimeout)
	}
	if !cfg.StoreInput {
		t.Fatal("expected StoreInput default true")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ORIKATA_PORT", "9999")
	t.Setenv("ORIKATA_RUN_TIMEOUT", "90s")
	t.Setenv("ORIKATA_DEBUG_SNAPSHOTS", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 9999 {
		t.Fatalf("expected 9999, got %d", cfg.Port)
	}
	if cfg.RunTimeout != 90*time.Second {
		t.Fatalf("expected 90s, got %s", cfg.RunTimeout)
	}
	if !cfg.DebugSnapshots {
		t.Fatal("expected debug snapshots on")
	}
}

func TestLoadRejectsInvalidInt(t *testing.T) {
	t.Setenv("ORIKATA_MAX_STEPS", "lots")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for non-integer value")
	}
}

func TestValidatePostgresRequiresDSN(t *testing.T) {
	t.Setenv("ORIKATA_STORAGE", "postgres")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
}

func TestValidateUnknownStorage(t *testing.T) {
	t.Setenv("ORIKATA_STORAGE", "tape")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown storage backend")
	}
}
