package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	Auth      AuthConfig
	APIKey    APIKeyConfig
	RateLimit RateLimitConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
}

const (
	AuthModeLocal    = "local"
	AuthModeExternal = "external"
	AuthModeDual     = "dual"
)

// AuthConfig controls which credential types are accepted and how they are verified.
type AuthConfig struct {
	Mode         string
	CookieSecure bool

	JWTSecret       string
	JWTIssuer       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	External ExternalAuthConfig
	Shadow   ShadowConfig
	Dev      DevBypassConfig
}

// ExternalAuthConfig describes the Tenant Access Hub identity provider.
type ExternalAuthConfig struct {
	Issuer       string
	Audience     string
	JWKSURL      string
	PublicKeyPEM string
	AppID        string
	ClockSkew    time.Duration
	JWKSCacheTTL time.Duration
	FetchTimeout time.Duration
}

type ShadowConfig struct {
	Enabled     bool
	SyncOnLogin bool
	DefaultRole string
}

// DevBypassConfig synthesizes a fixed principal when no credential is sent.
// It is never honoured in production.
type DevBypassConfig struct {
	Enabled bool
	UserID  string
	Email   string
	Name    string
	OrgID   string
	Role    string
}

type APIKeyConfig struct {
	StrictRateLimit  bool
	DefaultRateLimit int
	UsageTimeout     time.Duration
}

type RateLimitConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	LoginRate  float64
	LoginBurst int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	environment := getenv("ENVIRONMENT", "development")
	cookieSecure := environment == "production"
	if !cookieSecure {
		cookieSecure = getenvBool("AUTH_COOKIE_SECURE", false)
	}

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "kovra"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  environment,
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),
		Auth: AuthConfig{
			Mode:            normalizeAuthMode(getenv("AUTH_MODE", AuthModeDual)),
			CookieSecure:    cookieSecure,
			JWTSecret:       strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
			JWTIssuer:       getenv("AUTH_JWT_ISSUER", "kovra"),
			AccessTokenTTL:  getenvDuration("AUTH_ACCESS_TOKEN_TTL", 15*time.Minute),
			RefreshTokenTTL: getenvDuration("AUTH_REFRESH_TOKEN_TTL", 7*24*time.Hour),
			External: ExternalAuthConfig{
				Issuer:       strings.TrimSpace(getenv("TAH_ISSUER", "")),
				Audience:     strings.TrimSpace(getenv("TAH_AUDIENCE", "")),
				JWKSURL:      strings.TrimSpace(getenv("TAH_JWKS_URL", "")),
				PublicKeyPEM: strings.TrimSpace(getenv("TAH_PUBLIC_KEY", "")),
				AppID:        strings.TrimSpace(getenv("TAH_APP_ID", "")),
				ClockSkew:    time.Duration(getenvInt("TAH_CLOCK_SKEW_SECONDS", 30)) * time.Second,
				JWKSCacheTTL: getenvDuration("TAH_JWKS_CACHE_TTL", time.Hour),
				FetchTimeout: getenvDuration("TAH_JWKS_FETCH_TIMEOUT", 5*time.Second),
			},
			Shadow: ShadowConfig{
				Enabled:     getenvBool("AUTH_SHADOW_USERS", true),
				SyncOnLogin: getenvBool("AUTH_SHADOW_SYNC_ON_LOGIN", true),
				DefaultRole: strings.ToUpper(getenv("AUTH_SHADOW_DEFAULT_ROLE", "USER")),
			},
			Dev: DevBypassConfig{
				Enabled: getenvBool("AUTH_DEV_BYPASS", false),
				UserID:  getenv("AUTH_DEV_USER_ID", "dev-user"),
				Email:   getenv("AUTH_DEV_EMAIL", "dev@localhost"),
				Name:    getenv("AUTH_DEV_NAME", "Developer"),
				OrgID:   getenv("AUTH_DEV_ORG_ID", "dev-org"),
				Role:    strings.ToUpper(getenv("AUTH_DEV_ROLE", "ADMIN")),
			},
		},
		APIKey: APIKeyConfig{
			StrictRateLimit:  getenvBool("APIKEY_STRICT_RATE_LIMIT", false),
			DefaultRateLimit: getenvInt("APIKEY_DEFAULT_RATE_LIMIT", 1000),
			UsageTimeout:     getenvDuration("APIKEY_USAGE_TIMEOUT", 5*time.Second),
		},
		RateLimit: RateLimitConfig{
			RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			RedisPassword: getenv("REDIS_PASSWORD", ""),
			RedisDB:       getenvInt("REDIS_DB", 0),
			LoginRate:     getenvFloat("LOGIN_RATE_PER_SECOND", 0.2),
			LoginBurst:    getenvInt("LOGIN_BURST", 10),
		},
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "kovra"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
	}

	if cfg.IsProduction() && cfg.Auth.Dev.Enabled {
		log.Println("AUTH_DEV_BYPASS ignored in production")
		cfg.Auth.Dev.Enabled = false
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

// IsDevelopment reports whether verbose error detail may be returned to clients.
func (c Config) IsDevelopment() bool {
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func (a AuthConfig) LocalEnabled() bool {
	return a.Mode == AuthModeLocal || a.Mode == AuthModeDual
}

func (a AuthConfig) ExternalEnabled() bool {
	if a.Mode != AuthModeExternal && a.Mode != AuthModeDual {
		return false
	}
	return a.External.Issuer != "" || a.External.Audience != ""
}

func normalizeAuthMode(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case AuthModeLocal, AuthModeExternal:
		return value
	default:
		return AuthModeDual
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
