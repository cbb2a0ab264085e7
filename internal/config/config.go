package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all recall configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Embedder EmbedderConfig `yaml:"embedder"`
	Network  NetworkConfig  `yaml:"network"`
	Registry RegistryConfig `yaml:"registry"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Driver     string `yaml:"driver"` // "sqlite" or "postgres"
	Path       string `yaml:"path"`   // sqlite file; empty resolves to ~/.recall/recall.db
	DSN        string `yaml:"dsn"`    // postgres connection string
	Dimensions int    `yaml:"dimensions"` // 0 follows embedder.dimensions
}

type EmbedderConfig struct {
	Provider   string        `yaml:"provider"` // "tei", "ollama", "hash"
	URL        string        `yaml:"url"`
	Model      string        `yaml:"model"`
	Dimensions int           `yaml:"dimensions"`
	Timeout    time.Duration `yaml:"timeout"`
	CacheSize  int64         `yaml:"cache_size"` // cached vectors; 0 disables
	Breaker    BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the circuit breaker in front of remote providers.
type BreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	MaxRequests      uint32        `yaml:"max_requests"`
	Interval         time.Duration `yaml:"interval"`
	Timeout          time.Duration `yaml:"timeout"`
	MinRequests      uint32        `yaml:"min_requests"`
	FailureThreshold float64       `yaml:"failure_threshold"`
}

// NetworkConfig holds the activation network's tunables.
type NetworkConfig struct {
	MatchLimit     int     `yaml:"match_limit"`
	MergeDistance  float64 `yaml:"merge_distance"`
	CoActive       float64 `yaml:"co_active"`
	SpreadFloor    float64 `yaml:"spread_floor"`
	MaxDepth       int     `yaml:"max_depth"`
	Decay          float64 `yaml:"decay"`
	PruneBelow     float64 `yaml:"prune_below"`
	RetrievalFloor float64 `yaml:"retrieval_floor"`
	DefaultTopK    int     `yaml:"default_top_k"`
}

type RegistryConfig struct {
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37778,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
		},
		Embedder: EmbedderConfig{
			Provider:   "tei",
			URL:        "http://localhost:8080/embed",
			Dimensions: 768,
			Timeout:    30 * time.Second,
			CacheSize:  4096,
			Breaker: BreakerConfig{
				Enabled:          true,
				MaxRequests:      5,
				Interval:         30 * time.Second,
				Timeout:          60 * time.Second,
				MinRequests:      5,
				FailureThreshold: 0.8,
			},
		},
		Network: NetworkConfig{
			MatchLimit:     4,
			MergeDistance:  0.2,
			CoActive:       0.4,
			SpreadFloor:    0.1,
			MaxDepth:       2,
			Decay:          0.5,
			PruneBelow:     0.1,
			RetrievalFloor: 0.2,
			DefaultTopK:    30,
		},
		Registry: RegistryConfig{
			IdleTimeout: 2 * time.Hour,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads path over the defaults, then applies env overrides and
// validates. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	if cfg.Database.Dimensions == 0 {
		cfg.Database.Dimensions = cfg.Embedder.Dimensions
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("RECALL_DB"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("RECALL_DB_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("RECALL_DB_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("RECALL_EMBED_PROVIDER"); v != "" {
		c.Embedder.Provider = v
	}
	if v := os.Getenv("RECALL_EMBED_URL"); v != "" {
		c.Embedder.URL = v
	}
	if v := os.Getenv("RECALL_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate rejects configurations the network cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
		if c.Database.Dimensions <= 0 {
			return fmt.Errorf("database.dimensions must be positive for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	switch c.Embedder.Provider {
	case "tei", "ollama":
		if c.Embedder.URL == "" {
			return fmt.Errorf("embedder.url is required for provider %q", c.Embedder.Provider)
		}
	case "hash":
		if c.Embedder.Dimensions <= 0 {
			return fmt.Errorf("embedder.dimensions must be positive for the hash provider")
		}
	default:
		return fmt.Errorf("unknown embedder provider %q", c.Embedder.Provider)
	}

	if d, e := c.Database.Dimensions, c.Embedder.Dimensions; d > 0 && e > 0 && d != e {
		return fmt.Errorf("database.dimensions (%d) does not match embedder.dimensions (%d)", d, e)
	}

	n := c.Network
	if n.MatchLimit <= 0 {
		return fmt.Errorf("network.match_limit must be positive")
	}
	if n.MaxDepth < 1 {
		return fmt.Errorf("network.max_depth must be at least 1")
	}
	if n.Decay <= 0 || n.Decay >= 1 {
		return fmt.Errorf("network.decay must be in (0, 1), got %v", n.Decay)
	}
	return nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
