package config

import (
	"log"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server   Server   `yaml:"server"`
	Database Database `yaml:"database"`
	S3       S3       `yaml:"s3"`
	Redis    Redis    `yaml:"redis"`
	Broker   Broker   `yaml:"broker"`
	Auth     Auth     `yaml:"auth"`
	Realtime Realtime `yaml:"realtime"`
}

// S3 holds S3/MinIO storage configuration for message attachments
type S3 struct {
	Enabled         bool   `yaml:"enabled" env:"S3_ENABLED" env-default:"false"`
	Endpoint        string `yaml:"endpoint" env:"S3_ENDPOINT" env-default:"http://localhost:9000"`
	AccessKeyID     string `yaml:"access_key_id" env:"S3_ACCESS_KEY_ID" env-default:"minioadmin"`
	SecretAccessKey string `yaml:"secret_access_key" env:"S3_SECRET_ACCESS_KEY" env-default:"minioadmin"`
	Bucket          string `yaml:"bucket" env:"S3_BUCKET" env-default:"attachments"`
	Region          string `yaml:"region" env:"S3_REGION" env-default:"us-east-1"`
	PublicURL       string `yaml:"public_url" env:"S3_PUBLIC_URL" env-default:"http://localhost:9000/attachments"`
	MaxUploadSize   int64  `yaml:"max_upload_size" env:"S3_MAX_UPLOAD_SIZE" env-default:"26214400"`
}

// Server holds HTTP server configuration
type Server struct {
	Host           string        `yaml:"host" env:"SERVER_HOST" env-default:"0.0.0.0"`
	Port           string        `yaml:"port" env:"SERVER_PORT" env-default:"8080"`
	ReadTimeout    time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT" env-default:"15s"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT" env-default:"60s"`
	AllowedOrigins []string      `yaml:"allowed_origins" env:"SERVER_ALLOWED_ORIGINS" env-separator:"," env-default:"*"`
}

// Address returns the full server address
func (s Server) Address() string {
	return s.Host + ":" + s.Port
}

// Database holds database configuration
type Database struct {
	// PostgreSQL; in-memory stores are used when empty
	PostgresDSN string `yaml:"postgres_dsn" env:"DATABASE_URL"`

	// Connection pool settings
	MaxOpenConns int           `yaml:"max_open_conns" env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	MaxIdleConns int           `yaml:"max_idle_conns" env:"DB_MAX_IDLE_CONNS" env-default:"5"`
	ConnLifetime time.Duration `yaml:"conn_lifetime" env:"DB_CONN_LIFETIME" env-default:"5m"`
	AutoMigrate  bool          `yaml:"auto_migrate" env:"DB_AUTO_MIGRATE" env-default:"true"`
}

// Redis holds the push transport configuration; the in-process hub is used when URL is empty
type Redis struct {
	URL string `yaml:"url" env:"REDIS_URL"`
}

// Broker holds RabbitMQ configuration for social events
type Broker struct {
	URL      string        `yaml:"url" env:"RABBITMQ_URL"`
	Queue    string        `yaml:"queue" env:"RABBITMQ_QUEUE" env-default:"social-events"`
	Prefetch int           `yaml:"prefetch" env:"RABBITMQ_PREFETCH" env-default:"16"`
	Redial   time.Duration `yaml:"redial" env:"RABBITMQ_REDIAL_MAX" env-default:"30s"`
}

// Auth holds identity token configuration
type Auth struct {
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET" env-required:"true"`
	Issuer    string `yaml:"issuer" env:"JWT_ISSUER"`
}

// Realtime holds session and supervisor configuration
type Realtime struct {
	OpTimeout            time.Duration `yaml:"op_timeout" env:"REALTIME_OP_TIMEOUT" env-default:"10s"`
	ReconnectInitial     time.Duration `yaml:"reconnect_initial" env:"REALTIME_RECONNECT_INITIAL" env-default:"500ms"`
	ReconnectMax         time.Duration `yaml:"reconnect_max" env:"REALTIME_RECONNECT_MAX" env-default:"30s"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts" env:"REALTIME_MAX_RECONNECT_ATTEMPTS" env-default:"10"`
	ReconcileInterval    time.Duration `yaml:"reconcile_interval" env:"REALTIME_RECONCILE_INTERVAL" env-default:"60s"`
	Alerts               bool          `yaml:"alerts" env:"REALTIME_ALERTS" env-default:"true"`
}

// MustLoad loads configuration from environment and panics on error
func MustLoad() Config {
	// Load .env file if exists (for development)
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	return cfg
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (Config, error) {
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
