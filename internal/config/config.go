// Package config assembles process configuration from the environment.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/lemonslut/that-news-thing-again/internal/util"
	"github.com/lemonslut/that-news-thing-again/pkg/common"
	"github.com/lemonslut/that-news-thing-again/pkg/story"
	"github.com/lemonslut/that-news-thing-again/pkg/subject"
	"github.com/lemonslut/that-news-thing-again/pkg/trend"
)

const (
	LockPostgres = "postgres"
	LockRedis    = "redis"
)

type Config struct {
	DatabaseURL    string
	MigrationsPath string
	Port           string

	// AdminAPIKey guards the job routes of the API.
	AdminAPIKey string

	Story story.Config
	Trend trend.Config

	Lock     Lock
	RabbitMQ RabbitMQ
	S3       S3
	Schedule Schedule
	Log      Log
}

type Lock struct {
	Backend  string
	TTL      time.Duration
	RedisURL string
}

type RabbitMQ struct {
	User     string
	Password string
	Host     string
	Port     string
}

// URL is the amqp:// connection string.
func (r RabbitMQ) URL() string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(r.User, r.Password),
		Host:   r.Host + ":" + r.Port,
		Path:   "/",
	}
	return u.String()
}

type S3 struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	// Bucket receives snapshot archives. Empty disables archiving.
	Bucket string
}

// Enabled reports whether expiring snapshots are archived.
func (s S3) Enabled() bool { return s.Bucket != "" }

// Schedule holds six-field cron specs (with seconds).
type Schedule struct {
	Enabled bool
	Sweep   string
	Hourly  string
	Daily   string
	Cleanup string
}

type Log struct {
	Debug  bool
	Format string
}

// FromEnv reads the environment (after util.LoadEnv) and validates the result.
func FromEnv() (Config, error) {
	cfg := Config{
		DatabaseURL:    util.GetEnv("DATABASE_URL"),
		MigrationsPath: util.GetEnvString("MIGRATIONS_PATH", "file://migrations"),
		Port:           util.GetEnvString("PORT", "8080"),
		AdminAPIKey:    util.GetEnv("ADMIN_API_KEY"),
		Story:          story.DefaultConfig(),
		Trend:          trend.DefaultConfig(),
		Lock: Lock{
			Backend:  strings.ToLower(util.GetEnvString("LOCK_BACKEND", LockPostgres)),
			RedisURL: util.GetEnv("REDIS_URL"),
		},
		RabbitMQ: RabbitMQ{
			User:     util.GetEnvString("RABBITMQ_USER", "guest"),
			Password: util.GetEnvString("RABBITMQ_PASSWORD", "guest"),
			Host:     util.GetEnvString("RABBITMQ_HOST", "localhost"),
			Port:     util.GetEnvString("RABBITMQ_PORT", "5672"),
		},
		S3: S3{
			Region:    util.GetEnv("AWS_REGION"),
			Endpoint:  util.GetEnv("AWS_ENDPOINT"),
			AccessKey: util.GetEnv("AWS_ACCESS_KEY"),
			SecretKey: util.GetEnv("AWS_SECRET_KEY"),
			Bucket:    util.GetEnv("ARCHIVE_BUCKET"),
		},
		Schedule: Schedule{
			Enabled: util.GetEnvBool("SCHEDULE_ENABLED", true),
			Sweep:   util.GetEnvString("SCHEDULE_SWEEP", "0 */15 * * * *"),
			Hourly:  util.GetEnvString("SCHEDULE_HOURLY", "0 5 * * * *"),
			Daily:   util.GetEnvString("SCHEDULE_DAILY", "0 15 0 * * *"),
			Cleanup: util.GetEnvString("SCHEDULE_CLEANUP", "0 0 3 * * *"),
		},
		Log: Log{
			Debug:  util.GetEnvBool("DEBUG", false),
			Format: util.GetEnvString("LOG_FORMAT", "text"),
		},
	}

	var err error
	if cfg.Story.Threshold, err = util.GetEnvFloat("CLUSTER_THRESHOLD", cfg.Story.Threshold); err != nil {
		return cfg, invalid("CLUSTER_THRESHOLD", err)
	}
	if cfg.Story.ClusterWindow, err = util.GetEnvDuration("CLUSTER_WINDOW", cfg.Story.ClusterWindow); err != nil {
		return cfg, invalid("CLUSTER_WINDOW", err)
	}
	if cfg.Story.SearchWindows, err = util.GetEnvDurations("CLUSTER_SEARCH_WINDOWS", cfg.Story.SearchWindows); err != nil {
		return cfg, invalid("CLUSTER_SEARCH_WINDOWS", err)
	}
	if cfg.Story.SweepWindow, err = util.GetEnvDuration("CLUSTER_SWEEP_WINDOW", cfg.Story.SweepWindow); err != nil {
		return cfg, invalid("CLUSTER_SWEEP_WINDOW", err)
	}
	if kinds := util.GetEnvList("CLUSTER_EXCLUDED_KINDS", nil); kinds != nil {
		cfg.Story.ExcludedKinds = cfg.Story.ExcludedKinds[:0]
		for _, k := range kinds {
			cfg.Story.ExcludedKinds = append(cfg.Story.ExcludedKinds, subject.Kind(k))
		}
	}

	if cfg.Trend.TopN, err = util.GetEnvInt("TREND_TOP_N", cfg.Trend.TopN); err != nil {
		return cfg, invalid("TREND_TOP_N", err)
	}
	if cfg.Trend.Retention, err = util.GetEnvDuration("TREND_RETENTION", cfg.Trend.Retention); err != nil {
		return cfg, invalid("TREND_RETENTION", err)
	}
	if tz := util.GetEnv("TREND_TIMEZONE"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return cfg, invalid("TREND_TIMEZONE", err)
		}
		cfg.Trend.Location = loc
	}
	if kinds := util.GetEnvList("TREND_KINDS", nil); kinds != nil {
		cfg.Trend.Kinds = nil
		for _, s := range kinds {
			k, err := trend.ParseKind(s)
			if err != nil {
				return cfg, invalid("TREND_KINDS", err)
			}
			cfg.Trend.Kinds = append(cfg.Trend.Kinds, k)
		}
	}

	if cfg.Lock.TTL, err = util.GetEnvDuration("LOCK_TTL", 4*time.Hour); err != nil {
		return cfg, invalid("LOCK_TTL", err)
	}

	return cfg, cfg.Validate()
}

// Validate checks every section. Only DATABASE_URL is required outright;
// commands that need other services check them when dialing.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return &common.ConfigError{Field: "DATABASE_URL", Reason: "is required"}
	}
	if err := c.Story.Validate(); err != nil {
		return err
	}
	if err := c.Trend.Validate(); err != nil {
		return err
	}
	switch c.Lock.Backend {
	case LockPostgres:
	case LockRedis:
		if c.Lock.RedisURL == "" {
			return &common.ConfigError{Field: "REDIS_URL", Reason: "is required for the redis lock backend"}
		}
	default:
		return &common.ConfigError{Field: "LOCK_BACKEND", Reason: fmt.Sprintf("unknown backend %q", c.Lock.Backend)}
	}
	if c.Lock.TTL <= 0 {
		return &common.ConfigError{Field: "LOCK_TTL", Reason: "must be positive"}
	}
	return nil
}

func invalid(field string, err error) error {
	return &common.ConfigError{Field: field, Reason: err.Error()}
}
