package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"transient-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logging     logging.Config    `mapstructure:"logging"`
	Bus         BusConfig         `mapstructure:"bus"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Archive     ArchiveConfig     `mapstructure:"archive"`
	Calibration CalibrationConfig `mapstructure:"calibration"`
	Export      ExportConfig      `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// BusConfig covers the inbound alert stream.
type BusConfig struct {
	Driver         string        `mapstructure:"driver"`
	Addresses      []string      `mapstructure:"addresses"`
	ConsumerGroup  string        `mapstructure:"consumer_group"`
	ConsumerName   string        `mapstructure:"consumer_name"`
	TopicPattern   string        `mapstructure:"topic_pattern"`
	StartAtOldest  bool          `mapstructure:"start_at_oldest"`
	BatchSize      int           `mapstructure:"batch_size"`
	PollTimeout    time.Duration `mapstructure:"poll_timeout"`
	MessageTimeout time.Duration `mapstructure:"message_timeout"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
	RedisPassword  string        `mapstructure:"redis_password"`
	RedisDB        int           `mapstructure:"redis_db"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MigrateOnStart  bool          `mapstructure:"migrate_on_start"`
}

// ArchiveConfig covers raw packet archival to object storage.
type ArchiveConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Bucket     string        `mapstructure:"bucket"`
	Region     string        `mapstructure:"region"`
	Endpoint   string        `mapstructure:"endpoint"`
	AccessKey  string        `mapstructure:"access_key"`
	SecretKey  string        `mapstructure:"secret_key"`
	PathStyle  bool          `mapstructure:"path_style"`
	Workers    int           `mapstructure:"workers"`
	QueueSize  int           `mapstructure:"queue_size"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryBase  time.Duration `mapstructure:"retry_base"`
	Timeout    time.Duration `mapstructure:"timeout"`
	DrainTime  time.Duration `mapstructure:"drain_timeout"`
}

// CalibrationConfig tunes derived quantities.
type CalibrationConfig struct {
	HistoryRadiusArcsec float64  `mapstructure:"history_radius_arcsec"`
	SchemaVersions      []string `mapstructure:"schema_versions"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ALERTINGEST")
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
	v.SetDefault("app.name", "alertingest")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.stderr", false)

	v.SetDefault("bus.driver", "kafka")
	v.SetDefault("bus.addresses", []string{"localhost:9092"})
	v.SetDefault("bus.consumer_group", "alertingest")
	v.SetDefault("bus.topic_pattern", `^ztf_\d{8}_programid1$`)
	v.SetDefault("bus.start_at_oldest", true)
	v.SetDefault("bus.batch_size", 100)
	v.SetDefault("bus.poll_timeout", "5s")
	v.SetDefault("bus.message_timeout", "30s")
	v.SetDefault("bus.backoff_initial", "1s")
	v.SetDefault("bus.backoff_max", "30s")
	v.SetDefault("bus.consumer_name", "")
	v.SetDefault("bus.redis_password", "")
	v.SetDefault("bus.redis_db", 0)

	v.SetDefault("database.dsn", "")

	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "30m")
	v.SetDefault("database.max_conn_idle_time", "5m")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migrate_on_start", false)

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.region", "us-east-1")
	v.SetDefault("archive.endpoint", "")
	v.SetDefault("archive.access_key", "")
	v.SetDefault("archive.secret_key", "")
	v.SetDefault("archive.path_style", false)
	v.SetDefault("archive.workers", 4)
	v.SetDefault("archive.queue_size", 1024)
	v.SetDefault("archive.max_retries", 3)
	v.SetDefault("archive.retry_base", "500ms")
	v.SetDefault("archive.timeout", "30s")
	v.SetDefault("archive.drain_timeout", "30s")

	v.SetDefault("calibration.history_radius_arcsec", 1.5)
	v.SetDefault("calibration.schema_versions", []string{"3.3"})

	v.SetDefault("export.max_data_points", 100000)
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
	switch c.Bus.Driver {
	case "kafka", "redis":
	default:
		return fmt.Errorf("bus.driver must be kafka or redis, got %q", c.Bus.Driver)
	}
	if len(c.Bus.Addresses) == 0 {
		return fmt.Errorf("bus.addresses must not be empty")
	}
	if c.Bus.ConsumerGroup == "" {
		return fmt.Errorf("bus.consumer_group is required")
	}
	if _, err := regexp.Compile(c.Bus.TopicPattern); err != nil {
		return fmt.Errorf("bus.topic_pattern: %w", err)
	}
	if c.Bus.MessageTimeout <= 0 {
		return fmt.Errorf("bus.message_timeout must be greater than zero")
	}
	if c.Bus.BackoffInitial <= 0 || c.Bus.BackoffMax < c.Bus.BackoffInitial {
		return fmt.Errorf("bus.backoff_initial must be positive and not exceed bus.backoff_max")
	}
	if c.Database.MaxConns > 0 && c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("database.min_conns must not exceed database.max_conns")
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("archive.bucket is required when archive.enabled is true")
	}
	if c.Calibration.HistoryRadiusArcsec <= 0 {
		return fmt.Errorf("calibration.history_radius_arcsec must be greater than zero")
	}
	if len(c.Calibration.SchemaVersions) == 0 {
		return fmt.Errorf("calibration.schema_versions must not be empty")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
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
