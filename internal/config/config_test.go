package config

import (
	"testing"
	"time"
)

func TestLoadConfigRequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error without JWT_SECRET")
	}
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("APP_ENV", "dev")
	t.Setenv("CACHE_TTL", "not-a-duration")
	t.Setenv("WS_EVENT_BURST", "40")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.AppEnv != "development" || !cfg.IsDevelopment() {
		t.Fatalf("expected development env, got %q", cfg.AppEnv)
	}
	if cfg.CacheTTL != 5*time.Minute {
		t.Fatalf("expected fallback ttl, got %s", cfg.CacheTTL)
	}
	if cfg.WSEventBurst != 40 || cfg.WSEventsPerSecond != 10 {
		t.Fatalf("unexpected rate settings: %v/%d", cfg.WSEventsPerSecond, cfg.WSEventBurst)
	}
	if !cfg.MetricsEnabled {
		t.Fatal("expected metrics enabled by default")
	}
}

func TestEmptyCronDisablesReconciliation(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STATS_RECONCILE_CRON", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.StatsReconcileCron != "" {
		t.Fatalf("expected empty cron, got %q", cfg.StatsReconcileCron)
	}
}

func TestUploadsEnabledNeedsEverySetting(t *testing.T) {
	cfg := &Config{SupabaseURL: "https://x.supabase.co", SupabaseBucket: "chat"}
	if cfg.UploadsEnabled() {
		t.Fatal("expected uploads disabled without service key")
	}
	cfg.SupabaseServiceKey = "key"
	if !cfg.UploadsEnabled() {
		t.Fatal("expected uploads enabled")
	}
}
