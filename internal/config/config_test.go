package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.ActiveModel != "auto" {
		t.Fatalf("ActiveModel = %q, want %q", cfg.ActiveModel, "auto")
	}
	if cfg.MemoryMode != "session" {
		t.Fatalf("MemoryMode = %q, want %q", cfg.MemoryMode, "session")
	}
	if cfg.MemoryMaxHistory != 10 {
		t.Fatalf("MemoryMaxHistory = %d, want 10", cfg.MemoryMaxHistory)
	}
	if cfg.MemoryTopK != 5 {
		t.Fatalf("MemoryTopK = %d, want 5", cfg.MemoryTopK)
	}
	if cfg.ProviderTimeout != 120*time.Second {
		t.Fatalf("ProviderTimeout = %v, want 120s", cfg.ProviderTimeout)
	}
}

func TestLoadRejectsInvalidActiveModel(t *testing.T) {
	t.Setenv("ACTIVE_MODEL", "bard")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() with invalid ACTIVE_MODEL: expected error")
	}
}

func TestLoadRejectsInvalidMemoryMode(t *testing.T) {
	t.Setenv("MEMORY_MODE", "graph")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() with invalid MEMORY_MODE: expected error")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ACTIVE_MODEL", "mock")
	t.Setenv("MEMORY_MODE", "vector")
	t.Setenv("MEMORY_MAX_HISTORY", "4")
	t.Setenv("MEMORY_TOP_K", "2")
	t.Setenv("GEN_TEMPERATURE", "0.2")
	t.Setenv("PROVIDER_TIMEOUT", "30s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ActiveModel != "mock" {
		t.Fatalf("ActiveModel = %q, want mock", cfg.ActiveModel)
	}
	if cfg.MemoryMode != "vector" {
		t.Fatalf("MemoryMode = %q, want vector", cfg.MemoryMode)
	}
	if cfg.MemoryMaxHistory != 4 || cfg.MemoryTopK != 2 {
		t.Fatalf("history/topk = %d/%d, want 4/2", cfg.MemoryMaxHistory, cfg.MemoryTopK)
	}
	if cfg.Temperature != 0.2 {
		t.Fatalf("Temperature = %v, want 0.2", cfg.Temperature)
	}
	if cfg.ProviderTimeout != 30*time.Second {
		t.Fatalf("ProviderTimeout = %v, want 30s", cfg.ProviderTimeout)
	}
}

func TestBoolFromEnvParse(t *testing.T) {
	cases := []struct {
		raw  string
		want bool
	}{
		{"1", true},
		{"on", true},
		{"yes", true},
		{"0", false},
		{"off", false},
	}
	for _, tc := range cases {
		t.Setenv("MEMORY_ENABLED", tc.raw)
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() with MEMORY_ENABLED=%q error = %v", tc.raw, err)
		}
		if cfg.MemoryEnabled != tc.want {
			t.Fatalf("MemoryEnabled with %q = %v, want %v", tc.raw, cfg.MemoryEnabled, tc.want)
		}
	}
}
