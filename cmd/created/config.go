package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// config describes the created YAML configuration.
type config struct {
	Server struct {
		ListenAddr        string        `yaml:"listen_addr"`
		TrustForwardedFor bool          `yaml:"trust_forwarded_for"`
		RequireAuth       bool          `yaml:"require_auth"`
		ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Admission struct {
		Backend string        `yaml:"backend"`
		IdleTTL time.Duration `yaml:"idle_ttl"`
		Exempt  []string      `yaml:"exempt"`
		Zones   []zoneConfig  `yaml:"zones"`
		Redis   struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
	} `yaml:"admission"`

	Pricing struct {
		Tiers           map[string]float64 `yaml:"tiers"`
		DefaultTier     string             `yaml:"default_tier"`
		SurgeFactor     float64            `yaml:"surge_factor"`
		CPUWatermark    float64            `yaml:"cpu_watermark"`
		MemoryWatermark float64            `yaml:"memory_watermark"`
		UserWatermark   int                `yaml:"user_watermark"`
		Consecutive     int                `yaml:"consecutive_samples"`
		Interval        time.Duration      `yaml:"sample_interval"`
	} `yaml:"pricing"`

	Orchestrator struct {
		Workers       int           `yaml:"workers"`
		QueueSize     int           `yaml:"queue_size"`
		SubmitWait    time.Duration `yaml:"submit_wait"`
		MaxProcessing time.Duration `yaml:"max_processing"`
		SweepEvery    time.Duration `yaml:"sweep_every"`
		ShareBaseURL  string        `yaml:"share_base_url"`
	} `yaml:"orchestrator"`

	Store struct {
		Backend   string        `yaml:"backend"`
		Path      string        `yaml:"path"`
		Retention time.Duration `yaml:"retention"`
	} `yaml:"store"`

	Payments struct {
		Backend     string `yaml:"backend"`
		TigerBeetle struct {
			ClusterID uint32   `yaml:"cluster_id"`
			Addresses []string `yaml:"addresses"`
			Sessions  int      `yaml:"sessions"`
		} `yaml:"tigerbeetle"`
	} `yaml:"payments"`

	Inference struct {
		Backend string        `yaml:"backend"`
		BaseURL string        `yaml:"base_url"`
		APIKey  string        `yaml:"api_key"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"inference"`

	Storage struct {
		Backend string `yaml:"backend"`
		Dir     string `yaml:"dir"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"storage"`

	Logging struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"logging"`
}

type zoneConfig struct {
	Name   string  `yaml:"name"`
	Prefix string  `yaml:"prefix"`
	Rate   float64 `yaml:"rate"`
	Burst  int     `yaml:"burst"`
}

// loadConfig reads and validates the configuration file.
func loadConfig(path string) (config, error) {
	var cfg config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Admission.Backend == "" {
		cfg.Admission.Backend = "memory"
	}
	if len(cfg.Admission.Zones) == 0 {
		return cfg, fmt.Errorf("admission.zones is required")
	}
	for _, z := range cfg.Admission.Zones {
		if z.Name == "" || z.Prefix == "" {
			return cfg, fmt.Errorf("admission zone needs name and prefix")
		}
	}
	if cfg.Admission.Backend == "redis" && cfg.Admission.Redis.Addr == "" {
		return cfg, fmt.Errorf("admission.redis.addr is required for the redis backend")
	}
	if len(cfg.Admission.Exempt) == 0 {
		cfg.Admission.Exempt = []string{"/health", "/metrics"}
	}
	if len(cfg.Pricing.Tiers) == 0 {
		cfg.Pricing.Tiers = map[string]float64{
			"free": 0.99, "basic": 0.99, "pro": 0.99, "business": 0.99,
		}
	}
	if cfg.Pricing.DefaultTier == "" {
		cfg.Pricing.DefaultTier = "free"
	}
	if _, ok := cfg.Pricing.Tiers[cfg.Pricing.DefaultTier]; !ok {
		return cfg, fmt.Errorf("pricing.default_tier %q is not a configured tier", cfg.Pricing.DefaultTier)
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "memory"
	}
	if cfg.Store.Backend == "duckdb" && cfg.Store.Path == "" {
		return cfg, fmt.Errorf("store.path is required for the duckdb backend")
	}
	if cfg.Payments.Backend == "" {
		cfg.Payments.Backend = "memory"
	}
	if cfg.Payments.Backend == "tigerbeetle" && len(cfg.Payments.TigerBeetle.Addresses) == 0 {
		return cfg, fmt.Errorf("payments.tigerbeetle.addresses is required")
	}
	if cfg.Inference.Backend == "" {
		cfg.Inference.Backend = "fake"
	}
	if cfg.Inference.Backend == "http" && cfg.Inference.BaseURL == "" {
		return cfg, fmt.Errorf("inference.base_url is required for the http backend")
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "memory"
	}
	if cfg.Storage.Backend == "fs" && cfg.Storage.Dir == "" {
		return cfg, fmt.Errorf("storage.dir is required for the fs backend")
	}
	if cfg.Storage.BaseURL == "" {
		cfg.Storage.BaseURL = "https://create.ai/artifacts"
	}
	if cfg.Orchestrator.ShareBaseURL == "" {
		cfg.Orchestrator.ShareBaseURL = "https://create.ai"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	return cfg, nil
}
