// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/JakeFAU/realtime-progress/internal/storage/local"
	"github.com/JakeFAU/realtime-progress/internal/storage/minio"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Tracker      TrackerConfig      `mapstructure:"tracker"`
	Stream       StreamConfig       `mapstructure:"stream"`
	Hub          HubConfig          `mapstructure:"hub"`
	EventLog     EventLogConfig     `mapstructure:"event_log"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Export       ExportConfig       `mapstructure:"export"`
	Notify       NotifyConfig       `mapstructure:"notify"`
	Housekeeping HousekeepingConfig `mapstructure:"housekeeping"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key" validate:"required_if=Enabled true"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
}

// TrackerConfig tunes speed estimation and update throttling.
type TrackerConfig struct {
	SpeedWindow   int     `mapstructure:"speed_window" validate:"min=1"`
	SlowThreshold float64 `mapstructure:"slow_threshold" validate:"gt=0"`
	// UpdateRPS caps progress reports per task; zero disables the cap.
	UpdateRPS   float64 `mapstructure:"update_rps" validate:"gte=0"`
	UpdateBurst int     `mapstructure:"update_burst" validate:"gte=0"`
}

// StreamConfig controls server-sent event subscriptions.
type StreamConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	// IdleTimeout of zero keeps streams open until the task finishes.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"gte=0"`
	Heartbeat   time.Duration `mapstructure:"heartbeat" validate:"gte=0"`
	RetryHint   time.Duration `mapstructure:"retry_hint" validate:"gte=0"`
}

// HubConfig controls lifecycle event batching.
type HubConfig struct {
	BufferSize     int           `mapstructure:"buffer_size" validate:"min=1"`
	MaxBatchEvents int           `mapstructure:"max_batch_events" validate:"min=1"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait" validate:"gt=0"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout" validate:"gt=0"`
	LogEvents      bool          `mapstructure:"log_events"`
}

// EventLogConfig selects the durable event log backend.
type EventLogConfig struct {
	Backend   string        `mapstructure:"backend" validate:"oneof=memory postgres redis"`
	Retention time.Duration `mapstructure:"retention" validate:"gt=0"`
}

// DatabaseConfig controls access to Postgres.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns" validate:"gte=0"`
	MinConns        int32         `mapstructure:"min_conns" validate:"gte=0"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// RedisConfig controls access to Redis.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
	Prefix   string `mapstructure:"prefix"`
}

// ExportConfig controls scheduled metrics exports.
type ExportConfig struct {
	Backend  string       `mapstructure:"backend" validate:"oneof=memory local gcs minio"`
	Schedule string       `mapstructure:"schedule"`
	Prefix   string       `mapstructure:"prefix"`
	Format   string       `mapstructure:"format" validate:"oneof=json text"`
	Local    local.Config `mapstructure:"local"`
	GCS      GCSConfig    `mapstructure:"gcs"`
	MinIO    minio.Config `mapstructure:"minio"`
}

// GCSConfig names the export bucket.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// NotifyConfig selects where terminal outcomes are published.
type NotifyConfig struct {
	Backend string       `mapstructure:"backend" validate:"oneof=none memory pubsub nats"`
	PubSub  PubSubConfig `mapstructure:"pubsub"`
	NATS    NATSConfig   `mapstructure:"nats"`
}

// PubSubConfig holds metadata for Pub/Sub notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// NATSConfig holds JetStream connection settings.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	Name          string `mapstructure:"name"`
	MaxReconnects int    `mapstructure:"max_reconnects"`
	Stream        string `mapstructure:"stream"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// HousekeepingConfig schedules maintenance jobs.
type HousekeepingConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	RetentionSchedule string        `mapstructure:"retention_schedule"`
	JobTimeout        time.Duration `mapstructure:"job_timeout" validate:"gte=0"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PROGRESSD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("tracker.speed_window", 10)
	v.SetDefault("tracker.slow_threshold", 1.0)
	v.SetDefault("tracker.update_rps", 0)
	v.SetDefault("tracker.update_burst", 20)
	v.SetDefault("stream.poll_interval", time.Second)
	v.SetDefault("stream.idle_timeout", 0)
	v.SetDefault("stream.heartbeat", 15*time.Second)
	v.SetDefault("stream.retry_hint", 3*time.Second)
	v.SetDefault("hub.buffer_size", 1024)
	v.SetDefault("hub.max_batch_events", 256)
	v.SetDefault("hub.max_batch_wait", 250*time.Millisecond)
	v.SetDefault("hub.sink_timeout", 5*time.Second)
	v.SetDefault("hub.log_events", true)
	v.SetDefault("event_log.backend", "memory")
	v.SetDefault("event_log.retention", 7*24*time.Hour)
	v.SetDefault("database.migrate", true)
	v.SetDefault("redis.prefix", "progress")
	v.SetDefault("export.backend", "memory")
	v.SetDefault("export.prefix", "exports")
	v.SetDefault("export.format", "json")
	v.SetDefault("export.local.base_dir", "exports")
	v.SetDefault("notify.backend", "none")
	v.SetDefault("notify.nats.name", "progressd")
	v.SetDefault("notify.nats.max_reconnects", 10)
	v.SetDefault("notify.nats.stream", "PROGRESS")
	v.SetDefault("notify.nats.subject_prefix", "progress")
	v.SetDefault("housekeeping.enabled", true)
	v.SetDefault("housekeeping.retention_schedule", "@hourly")
	v.SetDefault("housekeeping.job_timeout", time.Minute)
}

var validate = newValidator()

// newValidator reports field names using their mapstructure keys.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("mapstructure"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate enforces field constraints and backend-specific requirements.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config: %s failed %q", fieldPath(verrs[0].Namespace()), verrs[0].Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.EventLog.Backend == "postgres" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn must be set when event_log.backend is postgres")
	}
	if c.EventLog.Backend == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr must be set when event_log.backend is redis")
	}
	if c.Database.MaxConns > 0 && c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("database.min_conns must not exceed database.max_conns")
	}
	switch c.Export.Backend {
	case "gcs":
		if c.Export.GCS.Bucket == "" {
			return fmt.Errorf("export.gcs.bucket must be set when export.backend is gcs")
		}
	case "minio":
		if c.Export.MinIO.Endpoint == "" || c.Export.MinIO.Bucket == "" {
			return fmt.Errorf("export.minio.endpoint and export.minio.bucket must be set when export.backend is minio")
		}
	case "local":
		if c.Export.Local.BaseDir == "" {
			return fmt.Errorf("export.local.base_dir must be set when export.backend is local")
		}
	}
	switch c.Notify.Backend {
	case "pubsub":
		if c.Notify.PubSub.ProjectID == "" || c.Notify.PubSub.TopicName == "" {
			return fmt.Errorf("notify.pubsub.project_id and notify.pubsub.topic_name must be set when notify.backend is pubsub")
		}
	case "nats":
		if c.Notify.NATS.URL == "" || c.Notify.NATS.Stream == "" {
			return fmt.Errorf("notify.nats.url and notify.nats.stream must be set when notify.backend is nats")
		}
	}
	return nil
}

// fieldPath turns "Config.server.port" into "server.port".
func fieldPath(namespace string) string {
	_, rest, found := strings.Cut(namespace, ".")
	if !found {
		return namespace
	}
	return rest
}
