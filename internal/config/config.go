package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the application configuration
type Config struct {
	Environment string         `json:"environment"`
	Server      ServerConfig   `json:"server"`
	Database    DatabaseConfig `json:"database"`
	Security    SecurityConfig `json:"security"`
	Storage     StorageConfig  `json:"storage"`
	SMS         SMSConfig      `json:"sms"`
	Jobs        JobsConfig     `json:"jobs"`
	Logging     LoggingConfig  `json:"logging"`
	CORS        CORSConfig     `json:"cors"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	User           string        `json:"user"`
	Password       string        `json:"password"`
	DBName         string        `json:"db_name"`
	SSLMode        string        `json:"ssl_mode"`
	MaxConnections int           `json:"max_connections"`
	MaxIdleConns   int           `json:"max_idle_conns"`
	MaxLifetime    time.Duration `json:"max_lifetime"`
	AutoMigrate    bool          `json:"auto_migrate"`
}

// SecurityConfig holds token secrets and session cookie settings
type SecurityConfig struct {
	AccessTokenSecret  string        `json:"access_token_secret"`
	RefreshTokenSecret string        `json:"refresh_token_secret"`
	AccessTokenTTL     time.Duration `json:"access_token_ttl"`
	RefreshTokenTTL    time.Duration `json:"refresh_token_ttl"`
	CookieDomain       string        `json:"cookie_domain"`
	CookieSecure       bool          `json:"cookie_secure"`
}

// StorageConfig selects the document store. An empty bucket keeps
// documents in memory.
type StorageConfig struct {
	Bucket          string        `json:"bucket"`
	Region          string        `json:"region"`
	Endpoint        string        `json:"endpoint"`
	AccessKeyID     string        `json:"access_key_id"`
	SecretAccessKey string        `json:"secret_access_key"`
	UsePathStyle    bool          `json:"use_path_style"`
	PresignTTL      time.Duration `json:"presign_ttl"`
	PublicBaseURL   string        `json:"public_base_url"`
}

// SMSConfig configures phone code delivery. DryRun logs codes instead of
// sending them.
type SMSConfig struct {
	SenderID string `json:"sender_id"`
	Region   string `json:"region"`
	DryRun   bool   `json:"dry_run"`
}

// JobsConfig holds cron specs for background jobs
type JobsConfig struct {
	Enabled         bool          `json:"enabled"`
	PurgePhoneCodes string        `json:"purge_phone_codes"`
	StaleReviews    string        `json:"stale_reviews"`
	StaleReviewAge  time.Duration `json:"stale_review_age"`
	Timeout         time.Duration `json:"timeout"`
}

// LoggingConfig
type LoggingConfig struct {
	Level string `json:"level"`
}

// CORSConfig
type CORSConfig struct {
	AllowedOrigins []string `json:"allowed_origins"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Host:           "localhost",
			Port:           5432,
			User:           os.Getenv("USER"),
			DBName:         "verifiednyumba",
			SSLMode:        "disable",
			MaxConnections: 25,
			MaxIdleConns:   5,
			MaxLifetime:    30 * time.Minute,
			AutoMigrate:    true,
		},
		Security: SecurityConfig{
			AccessTokenTTL:  15 * time.Minute,
			RefreshTokenTTL: 7 * 24 * time.Hour,
		},
		Storage: StorageConfig{
			Region:        "af-south-1",
			PresignTTL:    time.Hour,
			PublicBaseURL: "http://localhost:8080/blobs",
		},
		SMS: SMSConfig{
			SenderID: "Nyumba",
			Region:   "eu-west-1",
			DryRun:   true,
		},
		Jobs: JobsConfig{
			Enabled:         true,
			PurgePhoneCodes: "*/30 * * * *",
			StaleReviews:    "0 8 * * *",
			StaleReviewAge:  48 * time.Hour,
			Timeout:         5 * time.Minute,
		},
		Logging: LoggingConfig{Level: "info"},
		CORS: CORSConfig{
			AllowedOrigins: []string{"http://localhost:3000"},
		},
	}
}

// LoadConfig loads configuration from .env, the JSON file at configPath and
// environment variables, later sources winning.
func LoadConfig(configPath string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	config := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case err == nil:
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := overrideWithEnv(config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func overrideWithEnv(config *Config) error {
	if env := os.Getenv("APP_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid SERVER_PORT: %w", err)
		}
		config.Server.Port = p
	}

	if dbHost := os.Getenv("DATABASE_HOST"); dbHost != "" {
		config.Database.Host = dbHost
	}
	if dbPort := os.Getenv("DATABASE_PORT"); dbPort != "" {
		p, err := strconv.Atoi(dbPort)
		if err != nil {
			return fmt.Errorf("invalid DATABASE_PORT: %w", err)
		}
		config.Database.Port = p
	}
	if dbUser := os.Getenv("DATABASE_USER"); dbUser != "" {
		config.Database.User = dbUser
	}
	if dbPass := os.Getenv("DATABASE_PASSWORD"); dbPass != "" {
		config.Database.Password = dbPass
	}
	if dbName := os.Getenv("DATABASE_DBNAME"); dbName != "" {
		config.Database.DBName = dbName
	}
	if sslMode := os.Getenv("DATABASE_SSLMODE"); sslMode != "" {
		config.Database.SSLMode = sslMode
	}

	if secret := os.Getenv("JWT_ACCESS_SECRET"); secret != "" {
		config.Security.AccessTokenSecret = secret
	}
	if secret := os.Getenv("JWT_REFRESH_SECRET"); secret != "" {
		config.Security.RefreshTokenSecret = secret
	}
	if domain := os.Getenv("COOKIE_DOMAIN"); domain != "" {
		config.Security.CookieDomain = domain
	}
	if secure := os.Getenv("COOKIE_SECURE"); secure != "" {
		b, err := strconv.ParseBool(secure)
		if err != nil {
			return fmt.Errorf("invalid COOKIE_SECURE: %w", err)
		}
		config.Security.CookieSecure = b
	}

	if bucket := os.Getenv("S3_BUCKET"); bucket != "" {
		config.Storage.Bucket = bucket
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		config.Storage.Region = region
		config.SMS.Region = region
	}
	if endpoint := os.Getenv("S3_ENDPOINT"); endpoint != "" {
		config.Storage.Endpoint = endpoint
		config.Storage.UsePathStyle = true
	}
	if key := os.Getenv("AWS_ACCESS_KEY_ID"); key != "" {
		config.Storage.AccessKeyID = key
	}
	if secret := os.Getenv("AWS_SECRET_ACCESS_KEY"); secret != "" {
		config.Storage.SecretAccessKey = secret
	}

	if sender := os.Getenv("SMS_SENDER_ID"); sender != "" {
		config.SMS.SenderID = sender
	}
	if dryRun := os.Getenv("SMS_DRY_RUN"); dryRun != "" {
		b, err := strconv.ParseBool(dryRun)
		if err != nil {
			return fmt.Errorf("invalid SMS_DRY_RUN: %w", err)
		}
		config.SMS.DryRun = b
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		config.CORS.AllowedOrigins = splitList(origins)
	}
	return nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Security.AccessTokenTTL <= 0 || c.Security.RefreshTokenTTL <= 0 {
		return errors.New("token TTLs must be positive")
	}
	if c.IsProduction() {
		if len(c.Security.AccessTokenSecret) < 32 || len(c.Security.RefreshTokenSecret) < 32 {
			return errors.New("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must be at least 32 characters in production")
		}
		if c.Security.AccessTokenSecret == c.Security.RefreshTokenSecret {
			return errors.New("access and refresh token secrets must differ")
		}
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// GetDatabaseURL returns the database connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
