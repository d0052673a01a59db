package config

import (
	"testing"
	"time"
)

func TestLoadRateLimitConfigDefaults(t *testing.T) {
	for _, k := range []string{
		"RATE_LIMIT_ENABLED", "RATE_LIMIT_CAPACITY", "RATE_LIMIT_REFILL_TOKENS",
		"RATE_LIMIT_REFILL_INTERVAL", "RATE_LIMIT_REFILL_EVERY", "RATE_LIMIT_TTL",
		"RATE_LIMIT_KEY_STRATEGY", "RATE_LIMIT_PREFIX", "RATE_LIMIT_DEBUG",
	} {
		t.Setenv(k, "")
	}
	cfg := LoadRateLimitConfig()
	if !cfg.Enabled || cfg.Capacity != 30 || cfg.Prefix != "hs-rl" {
		t.Fatalf("defaults: %+v", cfg)
	}
	if cfg.KeyStrategy != "ip_user_route" {
		t.Fatalf("key strategy = %q", cfg.KeyStrategy)
	}
}

// Unusable knob values must come out of the loader as a working
// bucket, and the key TTL must never undercut the refill window.
func TestLoadRateLimitConfigNormalisesValues(t *testing.T) {
	t.Setenv("RATE_LIMIT_CAPACITY", "0")
	t.Setenv("RATE_LIMIT_REFILL_TOKENS", "-3")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "30s")
	t.Setenv("RATE_LIMIT_TTL", "1s")
	cfg := LoadRateLimitConfig()
	if cfg.Capacity != 1 || cfg.RefillTokens != 1 {
		t.Fatalf("bucket not normalised: %+v", cfg)
	}
	if cfg.TTL != 150*time.Second {
		t.Fatalf("TTL = %v, want %v", cfg.TTL, 150*time.Second)
	}
}

func TestLoadRateLimitConfigRefillEveryOverrides(t *testing.T) {
	t.Setenv("RATE_LIMIT_REFILL_TOKENS", "5")
	t.Setenv("RATE_LIMIT_REFILL_EVERY", "2s")
	cfg := LoadRateLimitConfig()
	if cfg.RefillTokens != 1 || cfg.RefillInterval != 2*time.Second {
		t.Fatalf("refill override: %+v", cfg)
	}
}
