// Package config loads GraphRouter configuration from a YAML file and the
// environment. Environment variables (GRAPHROUTER_*) override file values,
// so deployments can ship a base file and tune per instance.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend names accepted by Config.Backend.
const (
	BackendLocal  = "local"
	BackendBadger = "badger"
	BackendNeo4j  = "neo4j"
)

// Config selects a backend and tunes the contract layer.
type Config struct {
	// Backend is one of "local", "badger", "neo4j".
	Backend string `yaml:"backend"`

	Local struct {
		// Path of the JSON snapshot file. Empty keeps the graph in memory.
		Path string `yaml:"path"`
	} `yaml:"local"`

	Badger struct {
		// Dir of the Badger keyspace. Empty selects in-memory mode.
		Dir string `yaml:"dir"`
	} `yaml:"badger"`

	Neo4j struct {
		URI      string `yaml:"uri"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		Database string `yaml:"database"`
	} `yaml:"neo4j"`

	Cache struct {
		// TTL of cached reads. Zero selects the default (300s).
		TTL time.Duration `yaml:"ttl"`
	} `yaml:"cache"`

	Metrics struct {
		// Retention of monitor samples. Zero selects the default (1h).
		Retention time.Duration `yaml:"retention"`
	} `yaml:"metrics"`
}

// Default returns the configuration used when nothing else is specified:
// the embedded engine persisting to ./graphrouter.json.
func Default() *Config {
	cfg := &Config{Backend: BackendLocal}
	cfg.Local.Path = "./graphrouter.json"
	return cfg
}

// LoadFile parses a YAML config file and applies environment overrides.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv builds a configuration from defaults plus environment
// overrides only.
func LoadFromEnv() (*Config, error) {
	cfg := Default()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Backend = getEnv("GRAPHROUTER_BACKEND", c.Backend)
	c.Local.Path = getEnv("GRAPHROUTER_LOCAL_PATH", c.Local.Path)
	c.Badger.Dir = getEnv("GRAPHROUTER_BADGER_DIR", c.Badger.Dir)
	c.Neo4j.URI = getEnv("GRAPHROUTER_NEO4J_URI", c.Neo4j.URI)
	c.Neo4j.Username = getEnv("GRAPHROUTER_NEO4J_USERNAME", c.Neo4j.Username)
	c.Neo4j.Password = getEnv("GRAPHROUTER_NEO4J_PASSWORD", c.Neo4j.Password)
	c.Neo4j.Database = getEnv("GRAPHROUTER_NEO4J_DATABASE", c.Neo4j.Database)
	c.Cache.TTL = getEnvDuration("GRAPHROUTER_CACHE_TTL", c.Cache.TTL)
	c.Metrics.Retention = getEnvDuration("GRAPHROUTER_METRICS_RETENTION", c.Metrics.Retention)
}

// Validate rejects unknown backends and per-backend settings that cannot
// work.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendLocal, BackendBadger:
	case BackendNeo4j:
		if c.Neo4j.URI == "" {
			return fmt.Errorf("neo4j backend requires a uri")
		}
	default:
		return fmt.Errorf("unknown backend %q (want %s, %s, or %s)",
			c.Backend, BackendLocal, BackendBadger, BackendNeo4j)
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache ttl must not be negative")
	}
	if c.Metrics.Retention < 0 {
		return fmt.Errorf("metrics retention must not be negative")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}
