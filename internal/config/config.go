// Package config loads Brokkr's layered configuration: built-in defaults,
// an optional file, and environment overrides. It is grounded on the
// teacher's internal/controlplane/config (Default/Load/LoadFromEnv shape)
// but switches the env parsing from hand-rolled os.Getenv calls to
// github.com/caarlos0/env/v11 struct tags, the idiom wisbric-nightowl's
// internal/config uses for the same concern.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Database groups connection settings for the broker's Postgres pool.
type Database struct {
	URL    string `yaml:"url" env:"DATABASE__URL"`
	Schema string `yaml:"schema" env:"DATABASE__SCHEMA"`
}

// Log groups structured-logging settings. Level and Format are in the
// hot-reloadable subset (spec.md §4.8).
type Log struct {
	Level  string `yaml:"level" env:"LOG__LEVEL" envDefault:"info"`
	Format string `yaml:"format" env:"LOG__FORMAT" envDefault:"json"`
}

// Broker groups broker-daemon tuning knobs.
type Broker struct {
	WebhookEncryptionKey          string `yaml:"webhook_encryption_key" env:"BROKER__WEBHOOK_ENCRYPTION_KEY"`
	WebhookDeliveryIntervalSec    int    `yaml:"webhook_delivery_interval_seconds" env:"BROKER__WEBHOOK_DELIVERY_INTERVAL_SECONDS" envDefault:"5"`
	WebhookDeliveryBatchSize      int    `yaml:"webhook_delivery_batch_size" env:"BROKER__WEBHOOK_DELIVERY_BATCH_SIZE" envDefault:"25"`
	WebhookLeaseDurationSec       int    `yaml:"webhook_lease_duration_seconds" env:"BROKER__WEBHOOK_LEASE_DURATION_SECONDS" envDefault:"60"`
	WebhookTimeoutSec             int    `yaml:"webhook_timeout_seconds" env:"BROKER__WEBHOOK_TIMEOUT_SECONDS" envDefault:"10"`
	WebhookCleanupRetentionDays   int    `yaml:"webhook_cleanup_retention_days" env:"BROKER__WEBHOOK_CLEANUP_RETENTION_DAYS" envDefault:"30"`
	DiagnosticIntervalSec         int    `yaml:"diagnostic_interval_seconds" env:"BROKER__DIAGNOSTIC_INTERVAL_SECONDS" envDefault:"300"`
	AuditLogRetentionDays         int    `yaml:"audit_log_retention_days" env:"BROKER__AUDIT_LOG_RETENTION_DAYS" envDefault:"90"`
	PakHash                       string `yaml:"pak_hash" env:"BROKER__PAK_HASH"`
	StaleClaimReaperIntervalSec   int    `yaml:"stale_claim_reaper_interval_seconds" env:"BROKER__STALE_CLAIM_REAPER_INTERVAL_SECONDS" envDefault:"15"`
	RetryPromoterIntervalSec      int    `yaml:"retry_promoter_interval_seconds" env:"BROKER__RETRY_PROMOTER_INTERVAL_SECONDS" envDefault:"10"`
	LeaseSweeperIntervalSec       int    `yaml:"lease_sweeper_interval_seconds" env:"BROKER__LEASE_SWEEPER_INTERVAL_SECONDS" envDefault:"15"`
	RetentionPurgeCronExpr        string `yaml:"retention_purge_cron" env:"BROKER__RETENTION_PURGE_CRON" envDefault:"0 */6 * * *"`
	ListenAddr                    string `yaml:"listen_addr" env:"BROKER__LISTEN_ADDR" envDefault:":8080"`
}

// CORS groups the broker HTTP server's CORS policy. Wholly hot-reloadable.
type CORS struct {
	AllowedOrigins []string `yaml:"allowed_origins" env:"CORS__ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	AllowedMethods []string `yaml:"allowed_methods" env:"CORS__ALLOWED_METHODS" envSeparator:"," envDefault:"GET,POST,PATCH,DELETE"`
	AllowedHeaders []string `yaml:"allowed_headers" env:"CORS__ALLOWED_HEADERS" envSeparator:"," envDefault:"Authorization,Content-Type"`
	MaxAgeSeconds  int      `yaml:"max_age_seconds" env:"CORS__MAX_AGE_SECONDS" envDefault:"300"`
}

// Agent groups settings read by the cmd/brokkr-agent binary.
type Agent struct {
	BrokerURL                  string `yaml:"broker_url" env:"AGENT__BROKER_URL"`
	PAK                        string `yaml:"pak" env:"AGENT__PAK"`
	AgentName                  string `yaml:"agent_name" env:"AGENT__AGENT_NAME"`
	ClusterName                string `yaml:"cluster_name" env:"AGENT__CLUSTER_NAME"`
	PollingIntervalSec         int    `yaml:"polling_interval" env:"AGENT__POLLING_INTERVAL" envDefault:"30"`
	MaxRetries                 int    `yaml:"max_retries" env:"AGENT__MAX_RETRIES" envDefault:"3"`
	HealthPort                 int    `yaml:"health_port" env:"AGENT__HEALTH_PORT" envDefault:"9090"`
	DeploymentHealthEnabled    bool   `yaml:"deployment_health_enabled" env:"AGENT__DEPLOYMENT_HEALTH_ENABLED" envDefault:"false"`
	DeploymentHealthIntervalSec int   `yaml:"deployment_health_interval" env:"AGENT__DEPLOYMENT_HEALTH_INTERVAL" envDefault:"60"`
	KubeconfigPath             string `yaml:"kubeconfig_path" env:"AGENT__KUBECONFIG_PATH"`
}

// Telemetry groups observability settings.
type Telemetry struct {
	Enabled        bool    `yaml:"enabled" env:"TELEMETRY__ENABLED" envDefault:"false"`
	OTLPEndpoint   string  `yaml:"otlp_endpoint" env:"TELEMETRY__OTLP_ENDPOINT"`
	ServiceName    string  `yaml:"service_name" env:"TELEMETRY__SERVICE_NAME" envDefault:"brokkr"`
	SamplingRatio  float64 `yaml:"sampling_rate" env:"TELEMETRY__SAMPLING_RATE" envDefault:"0.1"`
}

// PAK groups the prefixed-API-key generation parameters.
type PAK struct {
	Prefix           string `yaml:"prefix" env:"PAK__PREFIX" envDefault:"brk"`
	ShortTokenPrefix string `yaml:"short_token_prefix" env:"PAK__SHORT_TOKEN_PREFIX" envDefault:""`
	ShortTokenLength int    `yaml:"short_token_length" env:"PAK__SHORT_TOKEN_LENGTH" envDefault:"12"`
	LongTokenLength  int    `yaml:"long_token_length" env:"PAK__LONG_TOKEN_LENGTH" envDefault:"32"`
}

// Config is the fully composed broker configuration. Fields are grouped to
// mirror the environment-variable groups documented in spec.md §6.
type Config struct {
	Database  Database  `yaml:"database"`
	Log       Log       `yaml:"log"`
	Broker    Broker    `yaml:"broker"`
	CORS      CORS      `yaml:"cors"`
	Agent     Agent     `yaml:"agent"`
	Telemetry Telemetry `yaml:"telemetry"`
	PAK       PAK       `yaml:"pak"`
}

// Default returns the configuration with only built-in defaults applied —
// no file, no environment.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "BROKKR_"}); err != nil {
		return nil, fmt.Errorf("apply default config: %w", err)
	}
	return cfg, nil
}

// Load composes defaults, an optional YAML file at path, and environment
// overrides (environment always wins). Call this once at startup; the
// hot-reload watcher (Watcher, below) re-applies only the safe subset on
// subsequent file changes.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "BROKKR_"}); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants the rest of the system assumes hold once
// Load returns.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.URL) == "" {
		return fmt.Errorf("database.url is required")
	}
	if c.Database.Schema != "" && !validSchemaName(c.Database.Schema) {
		return fmt.Errorf("database.schema %q does not match ^[a-zA-Z][a-zA-Z0-9_]*$", c.Database.Schema)
	}
	if c.PAK.ShortTokenLength <= 0 || c.PAK.LongTokenLength <= 0 {
		return fmt.Errorf("pak.short_token_length and pak.long_token_length must be positive")
	}
	return nil
}

func validSchemaName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		isLetter := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		isDigit := r >= '0' && r <= '9'
		if i == 0 {
			if !isLetter {
				return false
			}
			continue
		}
		if !isLetter && !isDigit && r != '_' {
			return false
		}
	}
	return true
}
