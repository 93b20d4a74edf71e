package config

import (
	_ "embed"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed profiles.yaml
var profilesYAML []byte

type Config struct {
	Storage   StorageConfig
	Database  DatabaseConfig
	Badger    BadgerConfig
	Embedding EmbeddingConfig
	Match     MatchConfig
	Profiles  ProfilesConfig
}

type StorageConfig struct {
	Backend string // "postgres" or "badger"
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type BadgerConfig struct {
	Dir string // data directory for the embedded backend (default ./data/badger)
}

type EmbeddingConfig struct {
	Model string // embedding model profile name (default mobilefacenet)
	Dim   int    // embedding dimension override; 0 means use the profile's
}

type MatchConfig struct {
	IndexPath   string  // path to persist the approximate index (empty: rebuilt on startup)
	Threshold   float64 // similarity threshold override; 0 means use the profile's
	RescoreTopK bool    // re-score candidate lists against the store
}

// ProfilesConfig holds per-model tuning shipped with the binary.
type ProfilesConfig struct {
	Models map[string]ModelProfile `yaml:"models"`
}

type ModelProfile struct {
	Dim          int     `yaml:"dim"`
	MaxNeighbors int     `yaml:"max_neighbors"`
	EfSearch     int     `yaml:"ef_search"`
	Threshold    float64 `yaml:"threshold"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a float in (0, 1].
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 && f <= 1 {
		return f
	}
	return defaultVal
}

// envBool treats "1", "true", "yes" (any case) as true.
func envBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func Load() *Config {
	var profiles ProfilesConfig
	if err := yaml.Unmarshal(profilesYAML, &profiles); err != nil {
		// This is an embedded file so this error should never happen in practice.
		panic("failed to unmarshal embedded profiles.yaml: " + err.Error())
	}

	return &Config{
		Storage: StorageConfig{
			Backend: envString("STORE_BACKEND", "badger"),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Badger: BadgerConfig{
			Dir: envString("BADGER_DIR", "./data/badger"),
		},
		Embedding: EmbeddingConfig{
			Model: envString("EMBEDDING_MODEL", "mobilefacenet"),
			Dim:   envInt("EMBEDDING_DIM", 0),
		},
		Match: MatchConfig{
			IndexPath:   os.Getenv("ANN_INDEX_PATH"),
			Threshold:   envFloat("MATCH_THRESHOLD", 0),
			RescoreTopK: envBool("RESCORE_TOP_K"),
		},
		Profiles: profiles,
	}
}

// Profile returns the tuning profile for the configured embedding model,
// falling back to conservative defaults for unknown models.
func (c *Config) Profile() ModelProfile {
	p, ok := c.Profiles.Models[c.Embedding.Model]
	if !ok {
		p = ModelProfile{Dim: 128, MaxNeighbors: 16, EfSearch: 64, Threshold: 0.6}
	}
	if c.Embedding.Dim > 0 {
		p.Dim = c.Embedding.Dim
	}
	if c.Match.Threshold > 0 {
		p.Threshold = c.Match.Threshold
	}
	return p
}
