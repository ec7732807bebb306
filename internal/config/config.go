package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // account.time_zone must resolve on hosts without zoneinfo

	"gopkg.in/yaml.v3"
)

const (
	SchemaVersion         = 1
	DefaultPath           = "/etc/melcloud/config.yaml"
	DefaultGRPCAddr       = "0.0.0.0:9000"
	DefaultHTTPAddr       = "0.0.0.0:8080"
	DefaultStateDir       = "/var/lib/melcloud"
	DefaultBaseURL        = "https://app.melcloud.com"
	DefaultLanguage       = 18
	DefaultAppVersion     = "1.32.1.0"
	DefaultTimeZone       = "Europe/Stockholm"
	DefaultRetries        = 3
	DefaultShortInterval  = 5 * time.Minute
	DefaultLongInterval   = 3 * time.Hour
	DefaultRequestTimeout = 20 * time.Second
	DefaultPollInterval   = 10 * time.Minute
	DefaultBlobPrefix     = "melcloud/state"
	DefaultMQTTPrefix     = "melcloud"
)

// Backends accepted by state.backend.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Config is the root of the YAML configuration file.
type Config struct {
	SchemaVersion int             `yaml:"schema_version"`
	Account       AccountConfig   `yaml:"account"`
	Transport     TransportConfig `yaml:"transport"`
	State         StateConfig     `yaml:"state"`
	Server        ServerConfig    `yaml:"server"`
	MQTT          *MQTTConfig     `yaml:"mqtt"`
	InfluxDB      *InfluxDBConfig `yaml:"influxdb"`
	Logging       LoggingConfig   `yaml:"logging"`
}

// AccountConfig holds the upstream account credentials and client identity.
type AccountConfig struct {
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	PasswordFile string `yaml:"password_file"`
	BaseURL      string `yaml:"base_url"`
	Language     int    `yaml:"language"`
	AppVersion   string `yaml:"app_version"`
	TimeZone     string `yaml:"time_zone"`
}

// TransportConfig tunes the throttled upstream transport.
type TransportConfig struct {
	Retries        int           `yaml:"retries"`
	ShortInterval  time.Duration `yaml:"short_interval"`
	LongInterval   time.Duration `yaml:"long_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// StateConfig selects where tokens, topology and throttle state survive restarts.
type StateConfig struct {
	Backend    string      `yaml:"backend"`
	Dir        string      `yaml:"dir"`
	SQLitePath string      `yaml:"sqlite_path"`
	Blob       *BlobConfig `yaml:"blob"`
}

// BlobConfig configures the optional S3-compatible mirror of durable state.
type BlobConfig struct {
	Endpoint      string `yaml:"endpoint"`
	Bucket        string `yaml:"bucket"`
	Prefix        string `yaml:"prefix"`
	Region        string `yaml:"region"`
	AccessKeyFile string `yaml:"access_key_file"`
	SecretKeyFile string `yaml:"secret_key_file"`
}

type ServerConfig struct {
	GRPCAddr     string        `yaml:"grpc_addr"`
	HTTPAddr     string        `yaml:"http_addr"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
	Commands    bool   `yaml:"commands"`
}

type InfluxDBConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load parses the YAML config file, applies defaults and env overrides, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	if err := resolvePassword(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.SchemaVersion == 0 {
		cfg.SchemaVersion = SchemaVersion
	}

	if cfg.Account.BaseURL == "" {
		cfg.Account.BaseURL = DefaultBaseURL
	}
	if cfg.Account.Language == 0 {
		cfg.Account.Language = DefaultLanguage
	}
	if cfg.Account.AppVersion == "" {
		cfg.Account.AppVersion = DefaultAppVersion
	}
	if cfg.Account.TimeZone == "" {
		cfg.Account.TimeZone = DefaultTimeZone
	}

	if cfg.Transport.Retries == 0 {
		cfg.Transport.Retries = DefaultRetries
	}
	if cfg.Transport.ShortInterval == 0 {
		cfg.Transport.ShortInterval = DefaultShortInterval
	}
	if cfg.Transport.LongInterval == 0 {
		cfg.Transport.LongInterval = DefaultLongInterval
	}
	if cfg.Transport.RequestTimeout == 0 {
		cfg.Transport.RequestTimeout = DefaultRequestTimeout
	}

	if cfg.State.Backend == "" {
		cfg.State.Backend = BackendFile
	}
	if cfg.State.Dir == "" {
		cfg.State.Dir = DefaultStateDir
	}
	if cfg.State.Blob != nil && cfg.State.Blob.Prefix == "" {
		cfg.State.Blob.Prefix = DefaultBlobPrefix
	}

	if cfg.Server.GRPCAddr == "" {
		cfg.Server.GRPCAddr = DefaultGRPCAddr
	}
	if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.Server.PollInterval == 0 {
		cfg.Server.PollInterval = DefaultPollInterval
	}

	if cfg.MQTT != nil {
		if cfg.MQTT.TopicPrefix == "" {
			cfg.MQTT.TopicPrefix = DefaultMQTTPrefix
		}
		if cfg.MQTT.ClientID == "" {
			cfg.MQTT.ClientID = "melcloud"
		}
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

// applyEnvOverrides applies MELCLOUD_* environment overrides.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MELCLOUD_USERNAME"); v != "" {
		cfg.Account.Username = v
	}
	if v := os.Getenv("MELCLOUD_PASSWORD"); v != "" {
		cfg.Account.Password = v
	}
	if v := os.Getenv("MELCLOUD_PASSWORD_FILE"); v != "" {
		cfg.Account.PasswordFile = v
	}
	if v := os.Getenv("MELCLOUD_STATE_DIR"); v != "" {
		cfg.State.Dir = v
	}
	if v := os.Getenv("MELCLOUD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func resolvePassword(cfg *Config) error {
	if cfg.Account.Password != "" || cfg.Account.PasswordFile == "" {
		return nil
	}
	data, err := os.ReadFile(cfg.Account.PasswordFile)
	if err != nil {
		return fmt.Errorf("read password file: %w", err)
	}
	cfg.Account.Password = strings.TrimSpace(string(data))
	return nil
}

// Validate enforces required invariants, reporting every problem at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	var errs []string
	if cfg.SchemaVersion != SchemaVersion {
		errs = append(errs, fmt.Sprintf("schema_version must be %d", SchemaVersion))
	}
	if cfg.Account.Username == "" {
		errs = append(errs, "account.username is required")
	}
	if cfg.Account.Password == "" {
		errs = append(errs, "account.password or account.password_file is required")
	}
	if _, err := time.LoadLocation(cfg.Account.TimeZone); err != nil {
		errs = append(errs, fmt.Sprintf("account.time_zone %q: %v", cfg.Account.TimeZone, err))
	}

	if cfg.Transport.Retries < 1 {
		errs = append(errs, "transport.retries must be at least 1")
	}
	if cfg.Transport.ShortInterval < 0 || cfg.Transport.LongInterval < 0 {
		errs = append(errs, "transport intervals must not be negative")
	}
	if cfg.Transport.LongInterval < cfg.Transport.ShortInterval {
		errs = append(errs, "transport.long_interval must not be shorter than transport.short_interval")
	}
	if cfg.Transport.RequestTimeout <= 0 {
		errs = append(errs, "transport.request_timeout must be positive")
	}

	switch cfg.State.Backend {
	case BackendFile, BackendMemory:
	case BackendSQLite:
		if cfg.State.SQLitePath == "" && cfg.State.Dir == "" {
			errs = append(errs, "state.sqlite_path or state.dir is required for sqlite")
		}
	default:
		errs = append(errs, fmt.Sprintf("state.backend %q is not one of file, sqlite, memory", cfg.State.Backend))
	}
	if blob := cfg.State.Blob; blob != nil {
		if blob.Endpoint == "" {
			errs = append(errs, "state.blob.endpoint is required")
		}
		if blob.Bucket == "" {
			errs = append(errs, "state.blob.bucket is required")
		}
		if blob.AccessKeyFile == "" || blob.SecretKeyFile == "" {
			errs = append(errs, "state.blob access and secret key files are required")
		}
	}

	if cfg.MQTT != nil {
		if cfg.MQTT.Broker == "" {
			errs = append(errs, "mqtt.broker is required")
		}
		if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
	}
	if cfg.InfluxDB != nil {
		if cfg.InfluxDB.URL == "" || cfg.InfluxDB.Org == "" || cfg.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb url, org and bucket are required")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// EnabledSinks reports which optional state sinks are configured.
func EnabledSinks(cfg *Config) map[string]bool {
	enabled := make(map[string]bool)
	if cfg == nil {
		return enabled
	}
	if cfg.MQTT != nil {
		enabled["mqtt"] = true
	}
	if cfg.InfluxDB != nil {
		enabled["influxdb"] = true
	}
	return enabled
}

// SQLitePath resolves the sqlite database path, defaulting into the state dir.
func (c *Config) SQLitePath() string {
	if c.State.SQLitePath != "" {
		return c.State.SQLitePath
	}
	return strings.TrimRight(c.State.Dir, "/") + "/state.db"
}
