package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"STORE_BACKEND", "DATABASE_URL", "DATABASE_MAX_OPEN_CONNS",
		"BADGER_DIR", "EMBEDDING_MODEL", "EMBEDDING_DIM",
		"ANN_INDEX_PATH", "MATCH_THRESHOLD", "RESCORE_TOP_K",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg := Load()

	if cfg.Storage.Backend != "badger" {
		t.Errorf("expected default backend 'badger', got '%s'", cfg.Storage.Backend)
	}
	if cfg.Database.MaxOpenConns != 25 {
		t.Errorf("expected default 25 open conns, got %d", cfg.Database.MaxOpenConns)
	}
	if cfg.Embedding.Model != "mobilefacenet" {
		t.Errorf("expected default model 'mobilefacenet', got '%s'", cfg.Embedding.Model)
	}
	if cfg.Match.RescoreTopK {
		t.Error("expected rescore disabled by default")
	}
}

func TestEmbeddedProfiles(t *testing.T) {
	cfg := Load()

	mobile, ok := cfg.Profiles.Models["mobilefacenet"]
	if !ok {
		t.Fatal("expected mobilefacenet profile")
	}
	if mobile.Dim != 128 {
		t.Errorf("expected dim 128, got %d", mobile.Dim)
	}
	if mobile.Threshold != 0.6 {
		t.Errorf("expected threshold 0.6, got %v", mobile.Threshold)
	}

	buffalo, ok := cfg.Profiles.Models["buffalo_l"]
	if !ok {
		t.Fatal("expected buffalo_l profile")
	}
	if buffalo.Dim != 512 {
		t.Errorf("expected dim 512, got %d", buffalo.Dim)
	}
}

func TestProfileOverrides(t *testing.T) {
	t.Setenv("EMBEDDING_MODEL", "mobilefacenet")
	t.Setenv("EMBEDDING_DIM", "256")
	t.Setenv("MATCH_THRESHOLD", "0.75")

	p := Load().Profile()

	if p.Dim != 256 {
		t.Errorf("expected dim override 256, got %d", p.Dim)
	}
	if p.Threshold != 0.75 {
		t.Errorf("expected threshold override 0.75, got %v", p.Threshold)
	}
	if p.MaxNeighbors != 16 {
		t.Errorf("expected profile max_neighbors 16, got %d", p.MaxNeighbors)
	}
}

func TestProfileUnknownModel(t *testing.T) {
	t.Setenv("EMBEDDING_MODEL", "does-not-exist")
	t.Setenv("EMBEDDING_DIM", "")
	os.Unsetenv("EMBEDDING_DIM")
	t.Setenv("MATCH_THRESHOLD", "")
	os.Unsetenv("MATCH_THRESHOLD")

	p := Load().Profile()

	if p.Dim != 128 {
		t.Errorf("expected fallback dim 128, got %d", p.Dim)
	}
	if p.Threshold != 0.6 {
		t.Errorf("expected fallback threshold 0.6, got %v", p.Threshold)
	}
}

func TestEnvInt(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected int
	}{
		{"unset", "", 42},
		{"valid", "7", 7},
		{"invalid", "abc", 42},
		{"negative", "-3", 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value == "" {
				os.Unsetenv("TEST_ENV_INT")
			} else {
				t.Setenv("TEST_ENV_INT", tt.value)
			}
			if got := envInt("TEST_ENV_INT", 42); got != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestEnvBool(t *testing.T) {
	tests := []struct {
		value    string
		expected bool
	}{
		{"1", true},
		{"true", true},
		{"YES", true},
		{"0", false},
		{"false", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Setenv("TEST_ENV_BOOL", tt.value)
		if got := envBool("TEST_ENV_BOOL"); got != tt.expected {
			t.Errorf("value %q: expected %v, got %v", tt.value, tt.expected, got)
		}
	}
}
