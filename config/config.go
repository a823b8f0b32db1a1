package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Provider ProviderConfig
	SDK      SDKConfig
	Webhook  WebhookConfig
	Crypto   CryptoConfig
	Client   ClientConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// ProviderConfig holds video-provider API credentials.
// Mock substitutes a deterministic in-process provider for local development.
type ProviderConfig struct {
	AccountID    string
	ClientID     string
	ClientSecret string
	BaseURL      string // override for testing; empty = provider default
	AuthURL      string
	Mock         bool
}

// SDKConfig holds the client SDK key pair used to sign time-boxed join
// signatures handed to the browser/native SDK.
type SDKConfig struct {
	Key          string
	Secret       string
	TokenTTLSecs int
}

// WebhookConfig holds the shared secret for provider webhook verification.
type WebhookConfig struct {
	Secret string
}

// CryptoConfig holds the symmetric key for encrypting meeting passcodes at
// rest. Must be 32 bytes (hex-encoded, 64 chars) for AES-256.
type CryptoConfig struct {
	EncryptionKey string
}

// ClientConfig holds client-facing settings.
type ClientConfig struct {
	BaseURL string
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	readTimeout, _ := strconv.Atoi(getEnv("READ_TIMEOUT_SEC", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("WRITE_TIMEOUT_SEC", "30"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	jwtExpire, _ := strconv.Atoi(getEnv("JWT_EXPIRE_HOURS", "24"))

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "classlive"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: jwtExpire,
		},
		Provider: ProviderConfig{
			AccountID:    getEnv("PROVIDER_ACCOUNT_ID", ""),
			ClientID:     getEnv("PROVIDER_CLIENT_ID", ""),
			ClientSecret: getEnv("PROVIDER_CLIENT_SECRET", ""),
			BaseURL:      getEnv("PROVIDER_BASE_URL", ""),
			AuthURL:      getEnv("PROVIDER_AUTH_URL", ""),
			Mock:         getEnvBool("PROVIDER_MOCK", false),
		},
		SDK: SDKConfig{
			Key:          getEnv("SDK_KEY", ""),
			Secret:       getEnv("SDK_SECRET", ""),
			TokenTTLSecs: getEnvInt("SDK_TOKEN_TTL_SEC", 7200),
		},
		Webhook: WebhookConfig{
			Secret: getEnv("WEBHOOK_SECRET", ""),
		},
		Crypto: CryptoConfig{
			EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
		},
		Client: ClientConfig{
			BaseURL: getEnv("CLIENT_BASE_URL", "http://localhost:3000"),
		},
	}
	if !cfg.Provider.Mock && cfg.Crypto.EncryptionKey == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required unless PROVIDER_MOCK=1")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	}
	return fallback
}
