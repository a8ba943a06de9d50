// Package config loads and validates service configuration via Viper.
package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"

	"github.com/SF-300/vigilant-disco/internal/ai"
	"github.com/SF-300/vigilant-disco/internal/ankiconnect"
	"github.com/SF-300/vigilant-disco/internal/export"
	"github.com/SF-300/vigilant-disco/internal/logging"
	"github.com/SF-300/vigilant-disco/internal/policy/ratelimit"
	"github.com/SF-300/vigilant-disco/internal/queue"
	"github.com/SF-300/vigilant-disco/internal/storage/gcs"
	"github.com/SF-300/vigilant-disco/internal/storage/local"
	"github.com/SF-300/vigilant-disco/internal/storage/postgres"
	"github.com/SF-300/vigilant-disco/internal/telemetry"
)

// EnvPrefix prefixes every environment override, e.g. NOTEPIPE_SERVER_PORT.
const EnvPrefix = "NOTEPIPE"

// Backends accepted by the archive and activity sections.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendPostgres = "postgres"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Auth      AuthConfig       `mapstructure:"auth"`
	Logging   logging.Config   `mapstructure:"logging"`
	Queues    queue.Config     `mapstructure:"queues"`
	Stages    StagesConfig     `mapstructure:"stages"`
	AI        AIConfig         `mapstructure:"ai"`
	Export    ExportConfig     `mapstructure:"export"`
	Archive   ArchiveConfig    `mapstructure:"archive"`
	Activity  ActivityConfig   `mapstructure:"activity"`
	Sources   SourcesConfig    `mapstructure:"sources"`
	Telemetry telemetry.Config `mapstructure:"telemetry"`
	Progress  ProgressConfig   `mapstructure:"progress"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// UploadLimit bounds POST /v1/images per client address.
	UploadLimit ratelimit.Config `mapstructure:"upload_limit"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// StagesConfig bounds stage concurrency and pending results.
type StagesConfig struct {
	MaxInFlight int `mapstructure:"max_in_flight"`
	// MaxPending pauses ingestion while a stage holds this many unreleased
	// results. Zero means unbounded. It is a soft cap: operations already in
	// flight still add their results, so a stage may exceed it by up to
	// MaxInFlight result batches.
	MaxPending int `mapstructure:"max_pending"`
}

// AIConfig selects the card service. Mock replaces the AI and export
// collaborators with canned data.
type AIConfig struct {
	Mock      bool `mapstructure:"mock"`
	ai.Config `mapstructure:",squash"`
}

// ExportConfig chooses where confirmed protonotes go.
type ExportConfig struct {
	Target              string             `mapstructure:"target"`
	Deck                string             `mapstructure:"deck"`
	Tags                []string           `mapstructure:"tags"`
	EscalateUnreachable bool               `mapstructure:"escalate_unreachable"`
	AnkiConnect         ankiconnect.Config `mapstructure:"ankiconnect"`
	PubSub              PubSubConfig       `mapstructure:"pubsub"`
	Postgres            postgres.Config    `mapstructure:"postgres"`
}

// PubSubConfig names the topic receiving exported protonotes.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ArchiveConfig selects where accepted images are archived.
type ArchiveConfig struct {
	Backend string       `mapstructure:"backend"`
	Local   local.Config `mapstructure:"local"`
	GCS     gcs.Config   `mapstructure:"gcs"`
}

// ActivityConfig selects the activity log repository.
type ActivityConfig struct {
	Backend  string          `mapstructure:"backend"`
	Postgres postgres.Config `mapstructure:"postgres"`
	// RecentSize is the number of events kept in memory for live views.
	RecentSize int `mapstructure:"recent_size"`
}

// SourcesConfig enables additional image sources.
type SourcesConfig struct {
	WatchDir    string        `mapstructure:"watch_dir"`
	WatchSettle time.Duration `mapstructure:"watch_settle"`
}

// ProgressConfig tunes the progress hub batching.
type ProgressConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrap(err, "read config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_upload_bytes", 20<<20)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.upload_limit.rps", 0)
	v.SetDefault("server.upload_limit.burst", 5)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("queues.capacity", 0)
	v.SetDefault("queues.policy", string(queue.PolicyBlock))
	v.SetDefault("stages.max_in_flight", 4)
	v.SetDefault("stages.max_pending", 0)
	v.SetDefault("ai.mock", false)
	v.SetDefault("ai.base_url", "https://api.openai.com/v1")
	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.model", "gpt-4o-mini")
	v.SetDefault("ai.timeout", "60s")
	v.SetDefault("ai.requests_per_minute", 30)
	v.SetDefault("ai.burst", 1)
	v.SetDefault("ai.retry.max_attempts", 3)
	v.SetDefault("ai.retry.base_delay", "500ms")
	v.SetDefault("ai.retry.max_delay", "10s")
	v.SetDefault("export.target", export.TargetAnkiConnect)
	v.SetDefault("export.deck", ankiconnect.DefaultDeck)
	v.SetDefault("export.tags", []string{})
	v.SetDefault("export.escalate_unreachable", false)
	v.SetDefault("export.ankiconnect.url", ankiconnect.DefaultURL)
	v.SetDefault("export.ankiconnect.timeout", "10s")
	v.SetDefault("export.pubsub.topic_name", "protonotes")
	v.SetDefault("archive.backend", BackendNone)
	v.SetDefault("archive.local.base_dir", "data/images")
	v.SetDefault("activity.backend", BackendMemory)
	v.SetDefault("activity.recent_size", 512)
	v.SetDefault("sources.watch_dir", "")
	v.SetDefault("sources.watch_settle", "500ms")
	v.SetDefault("telemetry.service_name", "notepipe")
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait", "250ms")
	v.SetDefault("progress.sink_timeout", "5s")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	if c.Server.UploadLimit.RPS < 0 {
		return errors.New("server.upload_limit.rps must be >= 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return errors.New("auth.api_key must be set when auth is enabled")
	}
	if c.Queues.Capacity < 0 {
		return errors.New("queues.capacity must be >= 0")
	}
	if _, err := queue.ParsePolicy(string(c.Queues.Policy)); err != nil {
		return errors.Wrap(err, "queues.policy")
	}
	if c.Stages.MaxInFlight <= 0 {
		return errors.New("stages.max_in_flight must be > 0")
	}
	if c.Stages.MaxPending < 0 {
		return errors.New("stages.max_pending must be >= 0")
	}
	if !c.AI.Mock && strings.TrimSpace(c.AI.APIKey) == "" {
		return errors.New("ai.api_key must be set unless ai.mock is enabled")
	}
	switch c.Export.Target {
	case export.TargetAnkiConnect, export.TargetMemory:
	case export.TargetPubSub:
		if c.Export.PubSub.ProjectID == "" || c.Export.PubSub.TopicName == "" {
			return errors.New("export.pubsub.project_id and topic_name are required for the pubsub target")
		}
	case export.TargetPostgres:
		if c.ExportPostgres().DSN == "" {
			return errors.New("export.postgres.dsn or activity.postgres.dsn is required for the postgres target")
		}
	default:
		return errors.Newf("export.target %q is not supported", c.Export.Target)
	}
	switch c.Archive.Backend {
	case BackendNone, BackendMemory:
	case BackendLocal:
		if strings.TrimSpace(c.Archive.Local.BaseDir) == "" {
			return errors.New("archive.local.base_dir is required for the local backend")
		}
	case BackendGCS:
		if strings.TrimSpace(c.Archive.GCS.Bucket) == "" {
			return errors.New("archive.gcs.bucket is required for the gcs backend")
		}
	default:
		return errors.Newf("archive.backend %q is not supported", c.Archive.Backend)
	}
	switch c.Activity.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Activity.Postgres.DSN == "" {
			return errors.New("activity.postgres.dsn is required for the postgres backend")
		}
	default:
		return errors.Newf("activity.backend %q is not supported", c.Activity.Backend)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return errors.New("telemetry.sample_ratio must be within [0, 1]")
	}
	return nil
}

// ExportPostgres returns the postgres settings used by the export target,
// falling back to the activity database when none are given.
func (c Config) ExportPostgres() postgres.Config {
	if c.Export.Postgres.DSN != "" {
		return c.Export.Postgres
	}
	return c.Activity.Postgres
}
