package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the report service
type Config struct {
	// Server
	Port           string
	TrustedProxies []string
	LogLevel       string
	PublicBaseURL  string
	AllowedOrigins []string

	// Database
	DBHost            string
	DBPort            string
	DBUser            string
	DBPassword        string
	DBName            string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBPingMaxWait     time.Duration

	// Sessions
	JWTSecret  string
	SessionTTL time.Duration

	// Object storage
	StorageDir        string
	StorageBucket     string
	MaxPhotos         int
	MaxPhotoBytes     int64
	ImageMaxDimension int

	// OAuth providers
	GoogleClientID       string
	GoogleClientSecret   string
	FacebookClientID     string
	FacebookClientSecret string
	TwitterClientID      string
	TwitterClientSecret  string
	LinkedInClientID     string
	LinkedInClientSecret string
	LinkedInRedirectURL  string

	// Social relay
	TwitterAPIURL    string
	FacebookGraphURL string
	RelayTimeout     time.Duration

	// RabbitMQ
	AMQPURL        string
	AMQPExchange   string
	AMQPRoutingKey string

	// Rate limiting
	RateLimitRPS   float64
	RateLimitBurst int

	// Wizard drafts
	DraftTTL time.Duration
}

// Load loads configuration from environment variables, reading .env first when present.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Warnf("Warning: .env file not loaded, using system environment variables: %v", err)
	}

	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),

		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnv("DB_PORT", "3306"),
		DBUser:            getEnv("DB_USER", "server"),
		DBPassword:        getEnv("DB_PASSWORD", "secret"),
		DBName:            getEnv("DB_NAME", "gridwatch"),
		DBMaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 10),
		DBConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		DBPingMaxWait:     getDurationEnv("DB_PING_MAX_WAIT", 60*time.Second),

		JWTSecret:  getEnv("JWT_SECRET", "dev-insecure-secret-change"),
		SessionTTL: getDurationEnv("SESSION_TTL", 7*24*time.Hour),

		StorageDir:        getEnv("STORAGE_DIR", "objects"),
		StorageBucket:     getEnv("STORAGE_BUCKET", "report-images"),
		MaxPhotos:         getIntEnv("MAX_PHOTOS", 5),
		MaxPhotoBytes:     int64(getIntEnv("MAX_PHOTO_BYTES", 10<<20)),
		ImageMaxDimension: getIntEnv("IMAGE_MAX_DIMENSION", 1600),

		GoogleClientID:       os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret:   os.Getenv("GOOGLE_CLIENT_SECRET"),
		FacebookClientID:     os.Getenv("FACEBOOK_CLIENT_ID"),
		FacebookClientSecret: os.Getenv("FACEBOOK_CLIENT_SECRET"),
		TwitterClientID:      os.Getenv("TWITTER_CLIENT_ID"),
		TwitterClientSecret:  os.Getenv("TWITTER_CLIENT_SECRET"),
		LinkedInClientID:     os.Getenv("LINKEDIN_CLIENT_ID"),
		LinkedInClientSecret: os.Getenv("LINKEDIN_CLIENT_SECRET"),
		LinkedInRedirectURL:  os.Getenv("LINKEDIN_REDIRECT_URL"),

		TwitterAPIURL:    strings.TrimRight(getEnv("TWITTER_API_URL", "https://api.twitter.com"), "/"),
		FacebookGraphURL: strings.TrimRight(getEnv("FACEBOOK_GRAPH_URL", "https://graph.facebook.com"), "/"),
		RelayTimeout:     getDurationEnv("RELAY_TIMEOUT", 15*time.Second),

		AMQPURL:        os.Getenv("AMQP_URL"),
		AMQPExchange:   getEnv("AMQP_EXCHANGE", "gridwatch-reports"),
		AMQPRoutingKey: getEnv("AMQP_ROUTING_KEY", "report.events"),

		RateLimitRPS:   getFloatEnv("RATE_LIMIT_RPS", 10),
		RateLimitBurst: getIntEnv("RATE_LIMIT_BURST", 20),

		DraftTTL: getDurationEnv("DRAFT_TTL", time.Hour),
	}

	cfg.TrustedProxies = getListEnv("TRUSTED_PROXIES")
	cfg.AllowedOrigins = getListEnv("CORS_ALLOWED_ORIGINS")
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if cfg.LinkedInRedirectURL == "" {
		cfg.LinkedInRedirectURL = cfg.PublicBaseURL + "/api/v1/auth/linkedin/callback"
	}

	return cfg
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv gets an integer environment variable or returns a default value
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil && intValue > 0 {
			return intValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil && f > 0 {
			return f
		}
	}
	return defaultValue
}

// getDurationEnv gets a duration environment variable or returns a default value
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getListEnv(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
