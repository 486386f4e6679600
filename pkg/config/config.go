package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	Token    TokenConfig
	Cookie   CookieConfig
	Auth     AuthConfig
	CORS     CORSConfig
	Log      LogConfig
	Cleanup  CleanupConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// TokenConfig carries the key material and envelope identity for the token
// service. EncryptionKey and SigningKey are raw key bytes supplied through
// the environment; they are validated at service construction, not here.
type TokenConfig struct {
	EncryptionKey string
	SigningKey    string
	Issuer        string
	Audience      string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// CookieConfig controls the auth cookie naming and attributes. Domain and
// the Secure attribute only apply outside local development so plain-HTTP
// testing keeps working.
type CookieConfig struct {
	Prefix string
	Domain string
}

// AuthConfig tunes flow behaviour.
type AuthConfig struct {
	// RefreshGrace is how much remaining access-token life makes a
	// refresh request a no-op.
	RefreshGrace time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// CleanupConfig governs the background pruning of expired refresh-token rows.
type CleanupConfig struct {
	Enabled  bool
	Interval time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.Token = TokenConfig{
		EncryptionKey: v.GetString("TOKEN_ENCRYPTION_KEY"),
		SigningKey:    v.GetString("TOKEN_SIGNING_KEY"),
		Issuer:        v.GetString("TOKEN_ISSUER"),
		Audience:      v.GetString("TOKEN_AUDIENCE"),
		AccessTTL:     parseDuration(v.GetString("ACCESS_TOKEN_TTL"), 15*time.Minute),
		RefreshTTL:    parseDuration(v.GetString("REFRESH_TOKEN_TTL"), 7*24*time.Hour),
	}

	cfg.Cookie = CookieConfig{
		Prefix: v.GetString("COOKIE_PREFIX"),
		Domain: v.GetString("COOKIE_DOMAIN"),
	}

	cfg.Auth = AuthConfig{
		RefreshGrace: parseDuration(v.GetString("REFRESH_GRACE"), 5*time.Minute),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Cleanup = CleanupConfig{
		Enabled:  v.GetBool("ENABLE_TOKEN_CLEANUP"),
		Interval: parseDuration(v.GetString("TOKEN_CLEANUP_INTERVAL"), time.Hour),
	}

	return cfg, nil
}

// IsLocal reports whether the deployment runs without TLS termination, which
// relaxes the Secure and Domain cookie attributes.
func (c *Config) IsLocal() bool {
	return c.Env != EnvProduction
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "wishary")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("TOKEN_ENCRYPTION_KEY", "")
	v.SetDefault("TOKEN_SIGNING_KEY", "")
	v.SetDefault("TOKEN_ISSUER", "wishary")
	v.SetDefault("TOKEN_AUDIENCE", "wishary-web")
	v.SetDefault("ACCESS_TOKEN_TTL", "15m")
	v.SetDefault("REFRESH_TOKEN_TTL", "168h")

	v.SetDefault("COOKIE_PREFIX", "wishary")
	v.SetDefault("COOKIE_DOMAIN", "")
	v.SetDefault("REFRESH_GRACE", "5m")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ENABLE_TOKEN_CLEANUP", false)
	v.SetDefault("TOKEN_CLEANUP_INTERVAL", "1h")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
