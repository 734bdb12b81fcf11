package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Prefix != "!" {
		t.Errorf("default prefix = %q, want !", cfg.Prefix)
	}
	if cfg.AnnounceFailLimit != 2 {
		t.Errorf("default fail limit = %d, want 2", cfg.AnnounceFailLimit)
	}
	if cfg.RecoveryDelay != 5*time.Second {
		t.Errorf("default recovery delay = %v, want 5s", cfg.RecoveryDelay)
	}
	if cfg.AccountID != "default" {
		t.Errorf("default account id = %q", cfg.AccountID)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CHAT_PREFIX", "?")
	t.Setenv("ANNOUNCE_FAIL_LIMIT", "5")
	t.Setenv("CHAT_RECOVERY_DELAY", "250ms")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Prefix != "?" {
		t.Errorf("prefix = %q, want ?", cfg.Prefix)
	}
	if cfg.AnnounceFailLimit != 5 {
		t.Errorf("fail limit = %d, want 5", cfg.AnnounceFailLimit)
	}
	if cfg.RecoveryDelay != 250*time.Millisecond {
		t.Errorf("recovery delay = %v", cfg.RecoveryDelay)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("ANNOUNCE_FAIL_LIMIT", "zero")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for non-numeric ANNOUNCE_FAIL_LIMIT")
	}
}

func TestValidateYouTubeReady(t *testing.T) {
	cfg := &Config{}
	if err := cfg.ValidateYouTubeReady(); err == nil {
		t.Fatal("expected error with no youtube creds")
	}
	cfg.YTClientID = "id"
	cfg.YTClientSecret = "secret"
	if err := cfg.ValidateYouTubeReady(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
