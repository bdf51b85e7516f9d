package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalConfig = `
admission:
  zones:
    - name: create
      prefix: /api/creations/create
      rate: 0.1667
      burst: 5
`

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Fatalf("listen addr default: %q", cfg.Server.ListenAddr)
	}
	if cfg.Admission.Backend != "memory" || cfg.Store.Backend != "memory" {
		t.Fatalf("backend defaults: %q, %q", cfg.Admission.Backend, cfg.Store.Backend)
	}
	if cfg.Pricing.DefaultTier != "free" {
		t.Fatalf("default tier: %q", cfg.Pricing.DefaultTier)
	}
	if len(cfg.Pricing.Tiers) != 4 {
		t.Fatalf("want 4 default tiers, got %d", len(cfg.Pricing.Tiers))
	}
	if cfg.Pricing.Tiers["free"] != 0.99 {
		t.Fatalf("free tier price: %v", cfg.Pricing.Tiers["free"])
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Fatalf("shutdown timeout default: %v", cfg.Server.ShutdownTimeout)
	}
	if len(cfg.Admission.Exempt) != 2 {
		t.Fatalf("exempt defaults: %v", cfg.Admission.Exempt)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"no zones", "server:\n  listen_addr: ':8080'\n"},
		{"zone missing name", "admission:\n  zones:\n    - prefix: /api\n      rate: 1\n      burst: 1\n"},
		{"redis without addr", minimalConfig + "  backend: redis\n"},
		{"duckdb without path", minimalConfig + "store:\n  backend: duckdb\n"},
		{"unknown default tier", minimalConfig + "pricing:\n  default_tier: platinum\n"},
		{"http inference without url", minimalConfig + "inference:\n  backend: http\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := loadConfig(writeConfig(t, tc.content)); err == nil {
				t.Fatal("invalid config accepted")
			}
		})
	}
}

func TestLoadConfigFull(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, `
server:
  listen_addr: ":9090"
  trust_forwarded_for: true
  require_auth: true
admission:
  backend: redis
  idle_ttl: 10m
  redis:
    addr: localhost:6379
  zones:
    - name: api
      prefix: /api
      rate: 1.0
      burst: 30
    - name: create
      prefix: /api/creations/create
      rate: 0.1667
      burst: 5
pricing:
  tiers:
    free: 0.99
    pro: 1.99
  default_tier: pro
  surge_factor: 1.5
store:
  backend: duckdb
  path: /tmp/jobs.duckdb
  retention: 48h
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.ListenAddr != ":9090" || !cfg.Server.TrustForwardedFor || !cfg.Server.RequireAuth {
		t.Fatalf("server block: %+v", cfg.Server)
	}
	if len(cfg.Admission.Zones) != 2 || cfg.Admission.Zones[1].Burst != 5 {
		t.Fatalf("zones: %+v", cfg.Admission.Zones)
	}
	if cfg.Admission.IdleTTL != 10*time.Minute {
		t.Fatalf("idle ttl: %v", cfg.Admission.IdleTTL)
	}
	if cfg.Pricing.DefaultTier != "pro" || cfg.Pricing.SurgeFactor != 1.5 {
		t.Fatalf("pricing: %+v", cfg.Pricing)
	}
	if cfg.Store.Retention != 48*time.Hour {
		t.Fatalf("retention: %v", cfg.Store.Retention)
	}
}
