package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	GRPC      GRPCConfig      `yaml:"grpc"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Booking   BookingConfig   `yaml:"booking"`
	Worker    WorkerConfig    `yaml:"worker"`
	Storage   StorageConfig   `yaml:"storage"`
	Lock      LockConfig      `yaml:"lock"`
	Inventory InventoryConfig `yaml:"inventory"`
	Payments  PaymentsConfig  `yaml:"payments"`
	Log       LogConfig       `yaml:"log"`
}

type HTTPConfig struct {
	Address    string `yaml:"address"`
	SwaggerDir string `yaml:"swagger_dir"`
}

type GRPCConfig struct {
	Address string `yaml:"address"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers            []string `yaml:"brokers"`
	BookingEventsTopic string   `yaml:"booking_events_topic"`
	NotificationsTopic string   `yaml:"notifications_topic"`
	GroupID            string   `yaml:"group_id"`
}

type BookingConfig struct {
	HoldTTLMinutes  int `yaml:"hold_ttl_minutes"`
	FlightsCacheTTL int `yaml:"flights_cache_ttl_seconds"`
	MaxPassengers   int `yaml:"max_passengers"`
}

func (b BookingConfig) HoldTTL() time.Duration {
	return time.Duration(b.HoldTTLMinutes) * time.Minute
}

func (b BookingConfig) FlightsCacheDuration() time.Duration {
	return time.Duration(b.FlightsCacheTTL) * time.Second
}

type WorkerConfig struct {
	ExpirationSweepSeconds int `yaml:"expiration_sweep_seconds"`
	BatchSize              int `yaml:"batch_size"`
	Concurrency            int `yaml:"concurrency"`
}

func (w WorkerConfig) SweepInterval() time.Duration {
	return time.Duration(w.ExpirationSweepSeconds) * time.Second
}

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"

	LockDriverLocal = "local"
	LockDriverRedis = "redis"
)

type StorageConfig struct {
	Driver string `yaml:"driver"`
}

type LockConfig struct {
	Driver        string `yaml:"driver"`
	WaitTimeoutMS int    `yaml:"wait_timeout_ms"`
	TTLSeconds    int    `yaml:"ttl_seconds"`
	RetryDelayMS  int    `yaml:"retry_delay_ms"`
}

func (l LockConfig) WaitTimeout() time.Duration {
	return time.Duration(l.WaitTimeoutMS) * time.Millisecond
}

func (l LockConfig) TTL() time.Duration {
	return time.Duration(l.TTLSeconds) * time.Second
}

func (l LockConfig) RetryDelay() time.Duration {
	return time.Duration(l.RetryDelayMS) * time.Millisecond
}

type InventoryConfig struct {
	MaxCASAttempts int `yaml:"max_cas_attempts"`
}

type PaymentsConfig struct {
	SigningSecret      string `yaml:"signing_secret"`
	CardFingerprintKey string `yaml:"card_fingerprint_key"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ResolvePath picks the config file: the flag value, then $CONFIG_PATH,
// then config.yaml.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("CONFIG_PATH"); env != "" {
		return env
	}
	return "config.yaml"
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML, fills defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if c.GRPC.Address == "" {
		c.GRPC.Address = ":9090"
	}
	if c.Booking.HoldTTLMinutes == 0 {
		c.Booking.HoldTTLMinutes = 30
	}
	if c.Booking.FlightsCacheTTL == 0 {
		c.Booking.FlightsCacheTTL = 60
	}
	if c.Booking.MaxPassengers == 0 {
		c.Booking.MaxPassengers = 9
	}
	if c.Worker.ExpirationSweepSeconds == 0 {
		c.Worker.ExpirationSweepSeconds = 60
	}
	if c.Worker.BatchSize == 0 {
		c.Worker.BatchSize = 100
	}
	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = 4
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = StorageDriverPostgres
	}
	if c.Lock.Driver == "" {
		c.Lock.Driver = LockDriverLocal
	}
	if c.Lock.WaitTimeoutMS == 0 {
		c.Lock.WaitTimeoutMS = 2000
	}
	if c.Lock.TTLSeconds == 0 {
		c.Lock.TTLSeconds = 30
	}
	if c.Lock.RetryDelayMS == 0 {
		c.Lock.RetryDelayMS = 25
	}
	if c.Inventory.MaxCASAttempts == 0 {
		c.Inventory.MaxCASAttempts = 32
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.Booking.HoldTTLMinutes < 0 {
		errs = append(errs, errors.New("booking.hold_ttl_minutes must be positive"))
	}
	if c.Booking.MaxPassengers < 0 {
		errs = append(errs, errors.New("booking.max_passengers must be positive"))
	}
	if c.Worker.ExpirationSweepSeconds < 0 || c.Worker.BatchSize < 0 || c.Worker.Concurrency < 0 {
		errs = append(errs, errors.New("worker settings must be positive"))
	}
	switch c.Storage.Driver {
	case StorageDriverPostgres, StorageDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver))
	}
	switch c.Lock.Driver {
	case LockDriverLocal, LockDriverRedis:
	default:
		errs = append(errs, fmt.Errorf("lock.driver %q is not supported", c.Lock.Driver))
	}
	if c.Lock.WaitTimeoutMS < 0 || c.Lock.TTLSeconds < 0 || c.Lock.RetryDelayMS < 0 {
		errs = append(errs, errors.New("lock timings must be positive"))
	}
	if c.Inventory.MaxCASAttempts < 0 {
		errs = append(errs, errors.New("inventory.max_cas_attempts must be positive"))
	}
	if c.Payments.SigningSecret == "" {
		errs = append(errs, errors.New("payments.signing_secret is required"))
	}
	if c.Payments.CardFingerprintKey != "" && len(c.Payments.CardFingerprintKey) != 32 {
		errs = append(errs, errors.New("payments.card_fingerprint_key must be 32 bytes"))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not supported", c.Log.Format))
	}
	return errors.Join(errs...)
}
