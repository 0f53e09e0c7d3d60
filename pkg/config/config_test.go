package config

import (
	"testing"
	"time"
)

func TestLoadAPIConfigDefaults(t *testing.T) {
	t.Setenv("METRICS_LIVE_LOOKBACK_MINUTES", "")
	cfg := LoadAPIConfig()
	if cfg.LiveLookback != 3*time.Hour {
		t.Fatalf("expected 3h lookback, got %s", cfg.LiveLookback)
	}
	if cfg.LivePushInterval != 5*time.Second {
		t.Fatalf("expected 5s push interval, got %s", cfg.LivePushInterval)
	}
}

func TestLoadAPIConfigOverrides(t *testing.T) {
	t.Setenv("METRICS_LIVE_LOOKBACK_MINUTES", "90")
	t.Setenv("STREAM_ACTION_BASE_DELAY_MS", " 50 ")
	t.Setenv("RATE_LIMIT_REDIS_DB", "2")
	t.Setenv("METRICS_NAMESPACE", "Custom/IVS")
	cfg := LoadAPIConfig()
	if cfg.LiveLookback != 90*time.Minute {
		t.Fatalf("unexpected lookback %s", cfg.LiveLookback)
	}
	if cfg.StreamActionBaseDelay != 50*time.Millisecond {
		t.Fatalf("unexpected base delay %s", cfg.StreamActionBaseDelay)
	}
	if cfg.RateLimitRedisDB != 2 || cfg.MetricsNamespace != "Custom/IVS" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestGetDurationRejectsInvalidValues(t *testing.T) {
	t.Setenv("SOME_DURATION", "-4")
	if got := GetDuration("SOME_DURATION", time.Second, time.Minute); got != time.Minute {
		t.Fatalf("expected fallback for negative value, got %s", got)
	}
	t.Setenv("SOME_DURATION", "soon")
	if got := GetDuration("SOME_DURATION", time.Second, time.Minute); got != time.Minute {
		t.Fatalf("expected fallback for malformed value, got %s", got)
	}
}
