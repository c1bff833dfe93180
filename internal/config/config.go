package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/wb-go/wbf/zlog"
)

// Config holds the main configuration for the application.
type Config struct {
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
	Storage  Storage  `mapstructure:"storage"`
	Kafka    Kafka    `mapstructure:"kafka"`
	Redis    Redis    `mapstructure:"redis"`
	Retry    Retry    `mapstructure:"retry"`
	Worker   Worker   `mapstructure:"worker"`
	Pipeline Pipeline `mapstructure:"pipeline"`
	Sweeper  Sweeper  `mapstructure:"sweeper"`
}

// Server holds HTTP server-related configuration.
type Server struct {
	HTTPPort     string        `mapstructure:"http_port"` // HTTP port to listen on
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// Addr returns the listen address for the HTTP server.
func (s Server) Addr() string {
	if strings.Contains(s.HTTPPort, ":") {
		return s.HTTPPort
	}
	return ":" + s.HTTPPort
}

// Database holds database master and slave configuration.
type Database struct {
	Master DatabaseNode   `mapstructure:"master"`
	Slaves []DatabaseNode `mapstructure:"slaves"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DatabaseNode holds connection parameters for a single database node.
type DatabaseNode struct {
	Host    string `mapstructure:"host"`
	Port    string `mapstructure:"port"`
	User    string `mapstructure:"user"`
	Pass    string `mapstructure:"pass"`
	Name    string `mapstructure:"name"`
	SSLMode string `mapstructure:"ssl_mode"`
}

// Storage holds configuration for the object storage backend.
type Storage struct {
	Driver        string        `mapstructure:"driver"` // "minio" or "s3"
	Endpoint      string        `mapstructure:"endpoint"`
	Region        string        `mapstructure:"region"`
	AccessKey     string        `mapstructure:"access_key"`
	SecretKey     string        `mapstructure:"secret_key"`
	BucketName    string        `mapstructure:"bucket_name"`
	UseSSL        bool          `mapstructure:"use_ssl"`
	PublicBaseURL string        `mapstructure:"public_base_url"` // empty means presigned URLs
	PresignExpiry time.Duration `mapstructure:"presign_expiry"`
}

// Kafka holds configuration for the Kafka message queue.
type Kafka struct {
	GroupID string   `mapstructure:"group_id"` // Consumer group ID
	Topic   string   `mapstructure:"topic"`    // Kafka topic name
	Brokers []string `mapstructure:"brokers"`  // List of Kafka broker addresses
}

// Redis holds configuration for the live progress store.
type Redis struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	ProgressTTL time.Duration `mapstructure:"progress_ttl"`
}

// Retry defines retry policy configuration.
type Retry struct {
	Attempts int           `mapstructure:"attempts"` // Number of retry attempts
	Delay    time.Duration `mapstructure:"delay"`    // Initial delay between retries
	Backoff  float64       `mapstructure:"backoff"`  // Backoff multiplier for delays
}

// Worker configures the transcoding workers.
type Worker struct {
	Concurrency int    `mapstructure:"concurrency"` // jobs processed in parallel
	WorkDir     string `mapstructure:"work_dir"`
	FFmpegPath  string `mapstructure:"ffmpeg_path"`
	FFprobePath string `mapstructure:"ffprobe_path"`
	FontPath    string `mapstructure:"font_path"` // optional TTF for watermarks
}

// Pipeline holds job lifecycle settings.
type Pipeline struct {
	Retention time.Duration `mapstructure:"retention"` // job expiry after creation
}

// Sweeper configures the retention sweeper.
type Sweeper struct {
	Schedule  string `mapstructure:"schedule"` // cron spec with seconds
	BatchSize int    `mapstructure:"batch_size"`
}

// DSN returns the PostgreSQL DSN string for connecting to this database node.
func (n DatabaseNode) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		n.User, n.Pass, n.Host, n.Port, n.Name, n.SSLMode,
	)
}

// envBindings maps secrets and deployment specific keys to environment
// variables.
var envBindings = map[string]string{
	"database.master.host": "DB_HOST",
	"database.master.port": "DB_PORT",
	"database.master.user": "DB_USER",
	"database.master.pass": "DB_PASSWORD",
	"database.master.name": "DB_NAME",
	"storage.endpoint":     "STORAGE_ENDPOINT",
	"storage.access_key":   "STORAGE_ACCESS_KEY",
	"storage.secret_key":   "STORAGE_SECRET_KEY",
	"redis.addr":           "REDIS_ADDR",
	"redis.password":       "REDIS_PASSWORD",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", "8080")
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("storage.driver", "minio")
	v.SetDefault("storage.presign_expiry", 24*time.Hour)
	v.SetDefault("redis.progress_ttl", time.Hour)
	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.delay", 500*time.Millisecond)
	v.SetDefault("retry.backoff", 2.0)
	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.ffmpeg_path", "ffmpeg")
	v.SetDefault("worker.ffprobe_path", "ffprobe")
	v.SetDefault("pipeline.retention", 7*24*time.Hour)
	v.SetDefault("sweeper.schedule", "0 0 * * * *")
	v.SetDefault("sweeper.batch_size", 100)
}

// Load reads the YAML file at path, applies defaults and environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind env %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MustLoad loads the configuration from the specified file path.
// It panics if the configuration file cannot be loaded or unmarshaled.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		zlog.Logger.Panic().Err(err).Msg("failed to load config")
	}

	return cfg
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "minio", "s3":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be at least 1")
	}

	if c.Pipeline.Retention <= 0 {
		return fmt.Errorf("pipeline.retention must be positive")
	}

	return nil
}
