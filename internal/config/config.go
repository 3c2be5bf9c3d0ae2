package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App           AppConfig           `yaml:"app"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	RabbitMQ      RabbitMQConfig      `yaml:"rabbitmq"`
	API           APIConfig           `yaml:"api"`
	Calendar      CalendarConfig      `yaml:"calendar"`
	Payment       PaymentConfig       `yaml:"payment"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Telegram      TelegramConfig      `yaml:"telegram"`
	Google        GoogleConfig        `yaml:"google"`
	Backup        BackupConfig        `yaml:"backup"`
	Monitoring    MonitoringConfig    `yaml:"monitoring"`
	Tracing       TracingConfig       `yaml:"tracing"`
	Logging       LoggingConfig       `yaml:"logging"`
	CatalogPath   string              `yaml:"catalog_path"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type RabbitMQConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	JWT       APIJWTConfig       `yaml:"jwt"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool         `yaml:"enabled"`
	Port       int          `yaml:"port"`
	Reflection bool         `yaml:"reflection"`
	TLS        APITLSConfig `yaml:"tls"`
}

type APITLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CertFile          string `yaml:"cert_file"`
	KeyFile           string `yaml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

// APIJWTConfig describes the bearer tokens that carry the customer identity.
type APIJWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
	// CustomerHeader is trusted when Secret is empty (identity resolved by a gateway).
	CustomerHeader string `yaml:"customer_header"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// CalendarConfig defines the slot grid of the shared calendar.
type CalendarConfig struct {
	Timezone           string        `yaml:"timezone"`
	Open               string        `yaml:"open"`
	Close              string        `yaml:"close"`
	SlotMinutes        int           `yaml:"slot_minutes"`
	CancellationWindow time.Duration `yaml:"cancellation_window"`
	ReminderOffset     time.Duration `yaml:"reminder_offset"`
	ReviewOffset       time.Duration `yaml:"review_offset"`
}

func (c CalendarConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

type PaymentConfig struct {
	Provider          string        `yaml:"provider"`
	PublicKey         string        `yaml:"public_key"`
	SecretKey         string        `yaml:"secret_key"`
	Currency          string        `yaml:"currency"`
	SourceType        string        `yaml:"source_type"`
	WebhookSecret     string        `yaml:"webhook_secret"`
	WebhookTolerance  time.Duration `yaml:"webhook_tolerance"`
	LoyaltyCreditUnit string        `yaml:"loyalty_credit_unit"`
}

// CreditUnit is the amount of money that earns one loyalty point.
func (p PaymentConfig) CreditUnit() decimal.Decimal {
	d, err := decimal.NewFromString(p.LoyaltyCreditUnit)
	if err != nil {
		return decimal.Zero
	}
	return d
}

type NotificationsConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	BatchSize     int           `yaml:"batch_size"`
	Lease         time.Duration `yaml:"lease"`
	LockTTL       time.Duration `yaml:"lock_ttl"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	Debug    bool   `yaml:"debug"`
}

type GoogleConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	CalendarID      string `yaml:"calendar_id"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

// secrets are read from ZAPIS_* environment variables and win over the file.
type secrets struct {
	PaymentSecretKey string `envconfig:"PAYMENT_SECRET_KEY"`
	PaymentPublicKey string `envconfig:"PAYMENT_PUBLIC_KEY"`
	WebhookSecret    string `envconfig:"WEBHOOK_SECRET"`
	JWTSecret        string `envconfig:"JWT_SECRET"`
	TelegramToken    string `envconfig:"TELEGRAM_TOKEN"`
	RedisPassword    string `envconfig:"REDIS_PASSWORD"`
	RabbitMQURL      string `envconfig:"RABBITMQ_URL"`
}

const envPrefix = "zapis"

func Load(configPath string) (*Config, error) {
	// Загружаем .env файл если существует
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) applyEnv() error {
	var s secrets
	if err := envconfig.Process(envPrefix, &s); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&c.Payment.SecretKey, s.PaymentSecretKey)
	override(&c.Payment.PublicKey, s.PaymentPublicKey)
	override(&c.Payment.WebhookSecret, s.WebhookSecret)
	override(&c.API.JWT.Secret, s.JWTSecret)
	override(&c.Telegram.BotToken, s.TelegramToken)
	override(&c.Redis.Password, s.RedisPassword)
	override(&c.RabbitMQ.URL, s.RabbitMQURL)
	return nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if err := c.Calendar.Validate(); err != nil {
		return err
	}

	switch c.Payment.Provider {
	case "memory":
	case "omise":
		if c.Payment.SecretKey == "" || c.Payment.PublicKey == "" {
			return errors.New("omise provider requires public and secret keys")
		}
	default:
		return fmt.Errorf("unknown payment provider %q", c.Payment.Provider)
	}
	if c.Payment.WebhookSecret == "" {
		return errors.New("payment webhook secret is required")
	}
	if !c.Payment.CreditUnit().IsPositive() {
		return fmt.Errorf("loyalty credit unit must be a positive number, got %q", c.Payment.LoyaltyCreditUnit)
	}

	if c.Notifications.MaxAttempts < 1 {
		return errors.New("notifications.max_attempts must be at least 1")
	}
	if c.RabbitMQ.Enabled && c.RabbitMQ.URL == "" {
		return errors.New("rabbitmq url is required when rabbitmq is enabled")
	}
	return nil
}

// Validate checks that the grid is well formed.
func (c CalendarConfig) Validate() error {
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("calendar timezone: %w", err)
	}
	open, err := time.Parse("15:04", c.Open)
	if err != nil {
		return fmt.Errorf("calendar open: %w", err)
	}
	closing, err := time.Parse("15:04", c.Close)
	if err != nil {
		return fmt.Errorf("calendar close: %w", err)
	}
	if !open.Before(closing) {
		return errors.New("calendar open must be before close")
	}
	if c.SlotMinutes <= 0 || c.SlotMinutes > 24*60 {
		return fmt.Errorf("calendar slot_minutes out of range: %d", c.SlotMinutes)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "zapis"
	}
	if c.App.Environment == "" {
		c.App.Environment = "production"
	}

	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	// auth enabled by default when API is enabled
	if !c.API.Auth.Enabled {
		c.API.Auth.Enabled = true
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}
	if c.API.JWT.CustomerHeader == "" {
		c.API.JWT.CustomerHeader = "x-customer-id"
	}
	if c.API.RateLimit.RPS == 0 {
		c.API.RateLimit.RPS = 10
	}
	if c.API.RateLimit.Burst == 0 {
		c.API.RateLimit.Burst = 20
	}

	if c.Calendar.Timezone == "" {
		c.Calendar.Timezone = "UTC"
	}
	if c.Calendar.Open == "" {
		c.Calendar.Open = "09:00"
	}
	if c.Calendar.Close == "" {
		c.Calendar.Close = "18:00"
	}
	if c.Calendar.SlotMinutes == 0 {
		c.Calendar.SlotMinutes = 30
	}
	if c.Calendar.CancellationWindow == 0 {
		c.Calendar.CancellationWindow = 24 * time.Hour
	}
	if c.Calendar.ReminderOffset == 0 {
		c.Calendar.ReminderOffset = 48 * time.Hour
	}
	if c.Calendar.ReviewOffset == 0 {
		c.Calendar.ReviewOffset = 48 * time.Hour
	}

	if c.Payment.Provider == "" {
		c.Payment.Provider = "memory"
	}
	if c.Payment.Currency == "" {
		c.Payment.Currency = "THB"
	}
	if c.Payment.SourceType == "" {
		c.Payment.SourceType = "promptpay"
	}
	if c.Payment.WebhookTolerance == 0 {
		c.Payment.WebhookTolerance = 5 * time.Minute
	}
	if c.Payment.LoyaltyCreditUnit == "" {
		c.Payment.LoyaltyCreditUnit = "10"
	}

	if c.Notifications.MaxAttempts == 0 {
		c.Notifications.MaxAttempts = 3
	}
	if c.Notifications.InitialDelay == 0 {
		c.Notifications.InitialDelay = 30 * time.Second
	}
	if c.Notifications.MaxDelay == 0 {
		c.Notifications.MaxDelay = 10 * time.Minute
	}
	if c.Notifications.BackoffFactor == 0 {
		c.Notifications.BackoffFactor = 2
	}
	if c.Notifications.PollInterval == 0 {
		c.Notifications.PollInterval = 5 * time.Second
	}
	if c.Notifications.BatchSize == 0 {
		c.Notifications.BatchSize = 20
	}
	if c.Notifications.Lease == 0 {
		c.Notifications.Lease = 5 * time.Minute
	}
	if c.Notifications.LockTTL == 0 {
		c.Notifications.LockTTL = 10 * time.Second
	}

	if c.RabbitMQ.Exchange == "" {
		c.RabbitMQ.Exchange = "zapis.events"
	}
	if c.Backup.Schedule == "" {
		c.Backup.Schedule = "0 3 * * *"
	}
	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "backups"
	}
	if c.Tracing.SampleRatio == 0 {
		c.Tracing.SampleRatio = 1
	}
}
