package config

import (
	"errors"
	"testing"
	"time"

	"github.com/lemonslut/that-news-thing-again/pkg/common"
	"github.com/lemonslut/that-news-thing-again/pkg/trend"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/news")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}
	if cfg.Story.Threshold != 0.5 {
		t.Fatalf("expected threshold 0.5, got %v", cfg.Story.Threshold)
	}
	if len(cfg.Story.SearchWindows) != 2 || cfg.Story.SearchWindows[1] != 7*24*time.Hour {
		t.Fatalf("expected default search windows, got %v", cfg.Story.SearchWindows)
	}
	if cfg.Trend.TopN != 30 {
		t.Fatalf("expected top 30, got %d", cfg.Trend.TopN)
	}
	if cfg.Lock.Backend != LockPostgres || cfg.Lock.TTL != 4*time.Hour {
		t.Fatalf("expected postgres lock with 4h ttl, got %s %v", cfg.Lock.Backend, cfg.Lock.TTL)
	}
	if cfg.S3.Enabled() {
		t.Fatal("expected archiving disabled without a bucket")
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/news")
	t.Setenv("CLUSTER_THRESHOLD", "0.6")
	t.Setenv("CLUSTER_SEARCH_WINDOWS", "12h, 3d")
	t.Setenv("CLUSTER_EXCLUDED_KINDS", "loc,wiki")
	t.Setenv("TREND_KINDS", "story,subject")
	t.Setenv("TREND_TIMEZONE", "Europe/Berlin")
	t.Setenv("TREND_RETENTION", "30d")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}
	if cfg.Story.Threshold != 0.6 {
		t.Fatalf("expected threshold 0.6, got %v", cfg.Story.Threshold)
	}
	if cfg.Story.SearchWindows[0] != 12*time.Hour || cfg.Story.SearchWindows[1] != 72*time.Hour {
		t.Fatalf("unexpected windows %v", cfg.Story.SearchWindows)
	}
	if len(cfg.Story.ExcludedKinds) != 2 {
		t.Fatalf("expected 2 excluded kinds, got %v", cfg.Story.ExcludedKinds)
	}
	if len(cfg.Trend.Kinds) != 2 || cfg.Trend.Kinds[1] != trend.KindSubject {
		t.Fatalf("unexpected kinds %v", cfg.Trend.Kinds)
	}
	if cfg.Trend.Location.String() != "Europe/Berlin" {
		t.Fatalf("expected Europe/Berlin, got %s", cfg.Trend.Location)
	}
	if cfg.Trend.Retention != 30*24*time.Hour {
		t.Fatalf("expected 30 days, got %v", cfg.Trend.Retention)
	}
}

func TestFromEnvRejectsInvalidValues(t *testing.T) {
	cases := map[string][2]string{
		"CLUSTER_THRESHOLD":      {"CLUSTER_THRESHOLD", "1.5"},
		"CLUSTER_WINDOW":         {"CLUSTER_WINDOW", "soon"},
		"CLUSTER_SEARCH_WINDOWS": {"CLUSTER_SEARCH_WINDOWS", "24h,-1h"},
		"TREND_KINDS":            {"TREND_KINDS", "article"},
		"TREND_TOP_N":            {"TREND_TOP_N", "0"},
		"TREND_TIMEZONE":         {"TREND_TIMEZONE", "Mars/Olympus"},
		"LOCK_BACKEND":           {"LOCK_BACKEND", "etcd"},
		"REDIS_URL":              {"LOCK_BACKEND", "redis"},
	}
	for field, kv := range cases {
		t.Run(field, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "postgres://localhost/news")
			t.Setenv(kv[0], kv[1])

			_, err := FromEnv()
			var ce *common.ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if ce.Field != field {
				t.Fatalf("expected field %s, got %s", field, ce.Field)
			}
		})
	}
}

func TestFromEnvRequiresDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if _, err := FromEnv(); !common.IsConfigError(err) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestRabbitMQURL(t *testing.T) {
	r := RabbitMQ{User: "news", Password: "p@ss", Host: "mq", Port: "5672"}
	if got := r.URL(); got != "amqp://news:p%40ss@mq:5672/" {
		t.Fatalf("unexpected url %s", got)
	}
}
