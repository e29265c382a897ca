package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server ServerConfig `json:"server" yaml:"server"`

	// Admin gRPC listener
	GRPC GRPCConfig `json:"grpc" yaml:"grpc"`

	// Relational store
	Database DatabaseConfig `json:"database" yaml:"database"`

	// GridFS media and live chat
	MongoDB MongoConfig `json:"mongodb" yaml:"mongodb"`

	Redis RedisConfig `json:"redis" yaml:"redis"`

	Auth AuthConfig `json:"auth" yaml:"auth"`

	// Firebase Configuration
	Firebase FirebaseConfig `json:"firebase" yaml:"firebase"`

	// Notification Configuration
	Notification NotificationConfig `json:"notification" yaml:"notification"`

	// Email Configuration (optional)
	Email EmailConfig `json:"email" yaml:"email"`

	WebPush WebPushConfig `json:"webpush" yaml:"webpush"`

	Stripe StripeConfig `json:"stripe" yaml:"stripe"`

	Media MediaConfig `json:"media" yaml:"media"`

	Store StoreConfig `json:"store" yaml:"store"`

	NATS NATSConfig `json:"nats" yaml:"nats"`

	// Logging Configuration
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Port         string `json:"port" yaml:"port"`
	Host         string `json:"host" yaml:"host"`
	ReadTimeout  int    `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout int    `json:"write_timeout" yaml:"write_timeout"`
	Environment  string `json:"environment" yaml:"environment"` // development, staging, production
	PublicURL    string `json:"public_url" yaml:"public_url"`
	RateLimit    int    `json:"rate_limit" yaml:"rate_limit"` // requests per minute per client, 0 disables
}

type GRPCConfig struct {
	Port    string `json:"port" yaml:"port"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

// DatabaseConfig contains database connection configuration
type DatabaseConfig struct {
	Host         string `json:"host" yaml:"host"`
	Port         string `json:"port" yaml:"port"`
	Username     string `json:"username" yaml:"username"`
	Password     string `json:"password" yaml:"password"`
	DatabaseName string `json:"database_name" yaml:"database_name"`
	MaxOpenConns int    `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns int    `json:"max_idle_conns" yaml:"max_idle_conns"`
}

type MongoConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     string `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	Database string `json:"database" yaml:"database"`
}

type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	// FeedTTL is the lifetime of a cached first feed page, in seconds.
	FeedTTL int `json:"feed_ttl" yaml:"feed_ttl"`
}

type AuthConfig struct {
	JWTSecret     string `json:"-" yaml:"jwt_secret"`
	TokenTTLHours int    `json:"token_ttl_hours" yaml:"token_ttl_hours"`
}

// FirebaseConfig contains Firebase Cloud Messaging and Auth configuration
type FirebaseConfig struct {
	ProjectID           string `json:"project_id" yaml:"project_id"`
	CredentialsFilePath string `json:"credentials_file_path" yaml:"credentials_file_path"`
	Enabled             bool   `json:"enabled" yaml:"enabled"`
}

// NotificationConfig contains notification system configuration
type NotificationConfig struct {
	Workers                int  `json:"workers" yaml:"workers"`                                   // Number of worker goroutines
	ChannelBufferSize      int  `json:"channel_buffer_size" yaml:"channel_buffer_size"`           // Channel buffer size
	ScheduledCheckInterval int  `json:"scheduled_check_interval" yaml:"scheduled_check_interval"` // Minutes
	MaxRetries             int  `json:"max_retries" yaml:"max_retries"`
	RetryDelay             int  `json:"retry_delay" yaml:"retry_delay"` // Seconds
	Enabled                bool `json:"enabled" yaml:"enabled"`
}

// EmailConfig contains email service configuration (optional)
type EmailConfig struct {
	SMTPHost  string `json:"smtp_host" yaml:"smtp_host"`
	SMTPPort  int    `json:"smtp_port" yaml:"smtp_port"`
	Username  string `json:"username" yaml:"username"`
	Password  string `json:"password" yaml:"password"`
	FromEmail string `json:"from_email" yaml:"from_email"`
	FromName  string `json:"from_name" yaml:"from_name"`
	Enabled   bool   `json:"enabled" yaml:"enabled"`
}

type WebPushConfig struct {
	VAPIDPublicKey  string `json:"vapid_public_key" yaml:"vapid_public_key"`
	VAPIDPrivateKey string `json:"-" yaml:"vapid_private_key"`
	Subscriber      string `json:"subscriber" yaml:"subscriber"`
}

func (w WebPushConfig) Enabled() bool {
	return w.VAPIDPublicKey != "" && w.VAPIDPrivateKey != ""
}

type StripeConfig struct {
	SecretKey     string `json:"-" yaml:"secret_key"`
	WebhookSecret string `json:"-" yaml:"webhook_secret"`
	Currency      string `json:"currency" yaml:"currency"`
	RefreshURL    string `json:"refresh_url" yaml:"refresh_url"`
	ReturnURL     string `json:"return_url" yaml:"return_url"`
}

type MediaConfig struct {
	Driver        string `json:"driver" yaml:"driver"` // gridfs, cloudinary
	BaseURL       string `json:"base_url" yaml:"base_url"`
	CloudinaryURL string `json:"-" yaml:"cloudinary_url"`
	Folder        string `json:"folder" yaml:"folder"`
	MaxUploadMB   int    `json:"max_upload_mb" yaml:"max_upload_mb"`
}

// StoreConfig holds print-on-demand provider credentials keyed by service name.
type StoreConfig struct {
	PODProviders map[string]PODProvider `json:"pod_providers" yaml:"pod_providers"`
}

type PODProvider struct {
	APIURL string `json:"api_url" yaml:"api_url"`
	APIKey string `json:"-" yaml:"api_key"`
}

type NATSConfig struct {
	URL string `json:"url" yaml:"url"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level"`             // debug, info, warn, error
	Format     string `json:"format" yaml:"format"`           // json, text
	OutputPath string `json:"output_path" yaml:"output_path"` // stdout, stderr, or file path
}

// LoadConfig layers defaults, the optional YAML file at path and the environment.
// A missing .env file is not an error.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if cfg.Media.BaseURL == "" {
		cfg.Media.BaseURL = strings.TrimRight(cfg.Server.PublicURL, "/") + "/media/"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8080",
			Host:         "0.0.0.0",
			ReadTimeout:  15,
			WriteTimeout: 30,
			Environment:  "development",
			PublicURL:    "http://localhost:8080",
			RateLimit:    120,
		},
		GRPC: GRPCConfig{Port: "9090", Enabled: true},
		Database: DatabaseConfig{
			Host:         "localhost",
			Port:         "3306",
			Username:     "amplifi",
			Password:     "amplifi",
			DatabaseName: "amplifi",
			MaxOpenConns: 25,
			MaxIdleConns: 5,
		},
		MongoDB: MongoConfig{
			Host:     "localhost",
			Port:     "27017",
			Database: "amplifi",
		},
		Redis: RedisConfig{Addr: "localhost:6379", FeedTTL: 30},
		Auth:  AuthConfig{JWTSecret: "amplifi-dev-secret", TokenTTLHours: 24},
		Notification: NotificationConfig{
			Workers:                5,
			ChannelBufferSize:      1000,
			ScheduledCheckInterval: 1,
			MaxRetries:             3,
			RetryDelay:             5,
			Enabled:                true,
		},
		Email: EmailConfig{SMTPPort: 587, FromName: "Amplifi"},
		WebPush: WebPushConfig{
			Subscriber: "mailto:support@amplifi.app",
		},
		Stripe: StripeConfig{
			Currency:   "usd",
			RefreshURL: "http://localhost:8080/settings/payments?refresh=1",
			ReturnURL:  "http://localhost:8080/settings/payments?connected=1",
		},
		Media: MediaConfig{Driver: "gridfs", Folder: "amplifi", MaxUploadMB: 50},
		Store: StoreConfig{PODProviders: map[string]PODProvider{
			"printful":  {APIURL: "https://api.printful.com"},
			"printify":  {APIURL: "https://api.printify.com/v1"},
			"spring":    {APIURL: "https://api.spri.ng"},
			"redbubble": {APIURL: "https://api.redbubble.com"},
		}},
		Logging: LoggingConfig{Level: "info", Format: "text", OutputPath: "stdout"},
	}
}

func (cfg *Config) applyEnv() {
	s := &cfg.Server
	s.Port = getEnvOrDefault("PORT", s.Port)
	s.Host = getEnvOrDefault("HOST", s.Host)
	s.Environment = getEnvOrDefault("APP_ENV", s.Environment)
	s.PublicURL = getEnvOrDefault("PUBLIC_URL", s.PublicURL)
	s.RateLimit = getEnvInt("RATE_LIMIT_PER_MINUTE", s.RateLimit)

	cfg.GRPC.Port = getEnvOrDefault("GRPC_PORT", cfg.GRPC.Port)
	cfg.GRPC.Enabled = getEnvBool("GRPC_ENABLED", cfg.GRPC.Enabled)

	db := &cfg.Database
	db.Host = getEnvOrDefault("MYSQL_HOST", db.Host)
	db.Port = getEnvOrDefault("MYSQL_PORT", db.Port)
	db.Username = getEnvOrDefault("MYSQL_USERNAME", db.Username)
	db.Password = getEnvOrDefault("MYSQL_PASSWORD", db.Password)
	db.DatabaseName = getEnvOrDefault("MYSQL_DATABASE", db.DatabaseName)

	m := &cfg.MongoDB
	m.Host = getEnvOrDefault("MONGO_HOST", m.Host)
	m.Port = getEnvOrDefault("MONGO_PORT", m.Port)
	m.Username = getEnvOrDefault("MONGO_USERNAME", m.Username)
	m.Password = getEnvOrDefault("MONGO_PASSWORD", m.Password)
	m.Database = getEnvOrDefault("MONGO_DATABASE", m.Database)

	cfg.Redis.Addr = getEnvOrDefault("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvInt("REDIS_DB", cfg.Redis.DB)

	cfg.Auth.JWTSecret = getEnvOrDefault("JWT_SECRET", cfg.Auth.JWTSecret)

	cfg.Firebase.ProjectID = getEnvOrDefault("FIREBASE_PROJECT_ID", cfg.Firebase.ProjectID)
	cfg.Firebase.CredentialsFilePath = getEnvOrDefault("FIREBASE_CREDENTIALS_PATH", cfg.Firebase.CredentialsFilePath)
	cfg.Firebase.Enabled = getEnvBool("FIREBASE_ENABLED", cfg.Firebase.Enabled)

	e := &cfg.Email
	e.SMTPHost = getEnvOrDefault("SMTP_HOST", e.SMTPHost)
	e.SMTPPort = getEnvInt("SMTP_PORT", e.SMTPPort)
	e.Username = getEnvOrDefault("SMTP_USERNAME", e.Username)
	e.Password = getEnvOrDefault("SMTP_PASSWORD", e.Password)
	e.FromEmail = getEnvOrDefault("FROM_EMAIL", e.FromEmail)
	e.Enabled = getEnvBool("EMAIL_ENABLED", e.Enabled)

	cfg.WebPush.VAPIDPublicKey = getEnvOrDefault("VAPID_PUBLIC_KEY", cfg.WebPush.VAPIDPublicKey)
	cfg.WebPush.VAPIDPrivateKey = getEnvOrDefault("VAPID_PRIVATE_KEY", cfg.WebPush.VAPIDPrivateKey)

	cfg.Stripe.SecretKey = getEnvOrDefault("STRIPE_SECRET_KEY", cfg.Stripe.SecretKey)
	cfg.Stripe.WebhookSecret = getEnvOrDefault("STRIPE_WEBHOOK_SECRET", cfg.Stripe.WebhookSecret)
	cfg.Stripe.RefreshURL = getEnvOrDefault("STRIPE_REFRESH_URL", cfg.Stripe.RefreshURL)
	cfg.Stripe.ReturnURL = getEnvOrDefault("STRIPE_RETURN_URL", cfg.Stripe.ReturnURL)

	cfg.Media.Driver = getEnvOrDefault("MEDIA_DRIVER", cfg.Media.Driver)
	cfg.Media.BaseURL = getEnvOrDefault("MEDIA_BASE_URL", cfg.Media.BaseURL)
	cfg.Media.CloudinaryURL = getEnvOrDefault("CLOUDINARY_URL", cfg.Media.CloudinaryURL)

	for name, p := range cfg.Store.PODProviders {
		prefix := strings.ToUpper(name)
		p.APIURL = getEnvOrDefault(prefix+"_API_URL", p.APIURL)
		p.APIKey = getEnvOrDefault(prefix+"_API_KEY", p.APIKey)
		cfg.Store.PODProviders[name] = p
	}

	cfg.NATS.URL = getEnvOrDefault("NATS_URL", cfg.NATS.URL)

	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnvOrDefault("LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.OutputPath = getEnvOrDefault("LOG_OUTPUT", cfg.Logging.OutputPath)
}

func (cfg *Config) Validate() error {
	if cfg.Notification.Workers <= 0 {
		return errors.New("notification.workers must be positive")
	}
	if cfg.IsProduction() && (cfg.Auth.JWTSecret == "" || cfg.Auth.JWTSecret == Default().Auth.JWTSecret) {
		return errors.New("JWT_SECRET must be set in production")
	}
	switch cfg.Media.Driver {
	case "gridfs":
	case "cloudinary":
		if cfg.Media.CloudinaryURL == "" {
			return errors.New("CLOUDINARY_URL is required for the cloudinary media driver")
		}
	default:
		return fmt.Errorf("unknown media driver %q", cfg.Media.Driver)
	}
	return nil
}

func (cfg *Config) IsProduction() bool {
	return cfg.Server.Environment == "production"
}

func (cfg *Config) TokenTTL() time.Duration {
	if cfg.Auth.TokenTTLHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(cfg.Auth.TokenTTLHours) * time.Hour
}

func (cfg *Config) MaxUploadBytes() int64 {
	return int64(cfg.Media.MaxUploadMB) << 20
}

func (cfg *Config) DSN() string {
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == "" {
		cfg.Database.Port = "3306"
	}

	mc := mysql.NewConfig()
	mc.User = cfg.Database.Username
	mc.Passwd = cfg.Database.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Database.Host, cfg.Database.Port)
	mc.DBName = cfg.Database.DatabaseName
	mc.ParseTime = true
	mc.Loc = time.Local
	mc.Params = map[string]string{"charset": "utf8mb4"}
	return mc.FormatDSN()
}

func (cfg *Config) GetMongoURI() string {
	m := cfg.MongoDB
	host := net.JoinHostPort(m.Host, m.Port)
	if m.Username == "" {
		return "mongodb://" + host
	}
	u := url.URL{
		Scheme:   "mongodb",
		User:     url.UserPassword(m.Username, m.Password),
		Host:     host,
		Path:     "/" + m.Database,
		RawQuery: "authSource=admin",
	}
	return u.String()
}

func (cfg *Config) ServerAddr() string {
	return net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}
