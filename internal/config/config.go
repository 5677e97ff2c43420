package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"scratch-registry/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	State     StateConfig     `mapstructure:"state"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Sensor    SensorConfig    `mapstructure:"sensor"`
	Notary    NotaryConfig    `mapstructure:"notary"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// StateConfig locates the local system of record.
type StateConfig struct {
	Dir             string `mapstructure:"dir"`
	RegistryFile    string `mapstructure:"registry_file"`
	PulseFile       string `mapstructure:"pulse_file"`
	FingerprintFile string `mapstructure:"fingerprint_file"`
	// Strict fails the run on a corrupt state file instead of starting empty.
	Strict bool `mapstructure:"strict"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity for the run audit log.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
}

// SchedulerConfig governs census cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// SensorConfig covers the catalog feed and detail enrichment.
type SensorConfig struct {
	FeedURL           string        `mapstructure:"feed_url"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	UserAgent         string        `mapstructure:"user_agent"`
	SafetyThreshold   int           `mapstructure:"safety_threshold"`
	DetailURLTemplate string        `mapstructure:"detail_url_template"`
	HealLimit         int           `mapstructure:"heal_limit"`
}

// NotaryConfig tunes reconciliation gates.
type NotaryConfig struct {
	IntegrityRetention float64 `mapstructure:"integrity_retention"`
	AnomalyThreshold   float64 `mapstructure:"anomaly_threshold"`
	RetireAfterMisses  int     `mapstructure:"retire_after_misses"`
	PulseCapacity      int     `mapstructure:"pulse_capacity"`
	BaselineMinSamples int     `mapstructure:"baseline_min_samples"`
}

// ArchiveConfig selects the off-box object store.
type ArchiveConfig struct {
	Backend        string    `mapstructure:"backend"`
	LocalDir       string    `mapstructure:"local_dir"`
	ChangelogLimit int       `mapstructure:"changelog_limit"`
	KeepEvidence   bool      `mapstructure:"keep_evidence"`
	S3             S3Config  `mapstructure:"s3"`
	GCS            GCSConfig `mapstructure:"gcs"`
}

// S3Config covers S3-compatible buckets (AWS, Cloudflare R2, MinIO).
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	PathStyle bool   `mapstructure:"path_style"`
}

// GCSConfig covers Google Cloud Storage.
type GCSConfig struct {
	Bucket          string `mapstructure:"bucket"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled        bool           `mapstructure:"enabled"`
	TopPrizeClaims bool           `mapstructure:"top_prize_claims"`
	Channels       []string       `mapstructure:"channels"`
	Telegram       TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// MetricsConfig exposes the prometheus endpoint.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// TelemetryConfig selects the trace exporter.
type TelemetryConfig struct {
	Exporter    string `mapstructure:"exporter"`
	Endpoint    string `mapstructure:"endpoint"`
	Insecure    bool   `mapstructure:"insecure"`
	ServiceName string `mapstructure:"service_name"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRATCHWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "scratchwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("state.dir", ".")
	v.SetDefault("state.registry_file", "registry.json")
	v.SetDefault("state.pulse_file", "pulse_history.json")
	v.SetDefault("state.fingerprint_file", ".last_registry_hash")
	v.SetDefault("state.strict", false)

	v.SetDefault("scheduler.interval", "6h")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x53435257))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("sensor.request_timeout", "30s")
	v.SetDefault("sensor.user_agent", "scratchwatch/1.0")
	v.SetDefault("sensor.safety_threshold", 40)
	v.SetDefault("sensor.heal_limit", 5)

	v.SetDefault("notary.integrity_retention", 0.75)
	v.SetDefault("notary.anomaly_threshold", 0.40)
	v.SetDefault("notary.retire_after_misses", 3)
	v.SetDefault("notary.pulse_capacity", 200)
	v.SetDefault("notary.baseline_min_samples", 3)

	v.SetDefault("archive.backend", "none")
	v.SetDefault("archive.local_dir", "archive")
	v.SetDefault("archive.changelog_limit", 90)
	v.SetDefault("archive.keep_evidence", false)
	v.SetDefault("archive.s3.region", "auto")
	v.SetDefault("archive.s3.path_style", true)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.top_prize_claims", true)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("metrics.listen_addr", "")

	v.SetDefault("telemetry.exporter", "none")
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.service_name", "scratchwatch")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.conn_max_idle_time", "5m")
	v.SetDefault("database.connect_timeout", "10s")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Sensor.SafetyThreshold < 0 {
		return fmt.Errorf("sensor.safety_threshold cannot be negative")
	}
	if c.Sensor.HealLimit < 0 {
		return fmt.Errorf("sensor.heal_limit cannot be negative")
	}
	if c.Notary.IntegrityRetention <= 0 || c.Notary.IntegrityRetention > 1 {
		return fmt.Errorf("notary.integrity_retention must be in (0, 1]")
	}
	if c.Notary.AnomalyThreshold <= 0 {
		return fmt.Errorf("notary.anomaly_threshold must be greater than zero")
	}
	if c.Notary.RetireAfterMisses <= 0 {
		return fmt.Errorf("notary.retire_after_misses must be greater than zero")
	}
	if c.Notary.PulseCapacity <= 0 {
		return fmt.Errorf("notary.pulse_capacity must be greater than zero")
	}
	switch strings.ToLower(c.Archive.Backend) {
	case "", "none", "local", "s3", "r2", "gcs":
	default:
		return fmt.Errorf("archive.backend %q is not supported", c.Archive.Backend)
	}
	switch strings.ToLower(c.Telemetry.Exporter) {
	case "", "none", "stdout", "otlp":
	default:
		return fmt.Errorf("telemetry.exporter %q is not supported", c.Telemetry.Exporter)
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
