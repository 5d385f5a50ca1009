package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName          string
	AppVersion       string
	Environment      string
	LogLevel         string
	HTTPAddr         string
	AuthCookieName   string
	AuthCookieSecure bool
	SessionTTL       time.Duration

	DBType     string
	DBHost     string
	DBPort     string
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	Gateway GatewayConfig

	Admission AdmissionConfig

	RedisAddr     string
	RedisPassword string
}

// GatewayConfig carries payment gateway credentials and tuning.
type GatewayConfig struct {
	Provider     string
	BaseURL      string
	ClientID     string
	ClientSecret string
	Currency     string
	Timeout      time.Duration
}

// AdmissionConfig bounds order-creation attempts per identifier.
type AdmissionConfig struct {
	MaxOrdersPerWindow int
	Window             time.Duration
	SweepInterval      time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	environment := getenv("ENVIRONMENT", "development")
	authCookieSecure := environment == "production"
	if !authCookieSecure {
		authCookieSecure = getenvBool("AUTH_COOKIE_SECURE", false)
	}

	return Config{
		AppName:          getenv("APP_SERVICE", "creditgate"),
		AppVersion:       getenv("APP_VERSION", "0.1.0"),
		Environment:      environment,
		LogLevel:         getenv("LOG_LEVEL", "info"),
		HTTPAddr:         getenv("HTTP_ADDR", ":8080"),
		AuthCookieName:   getenv("AUTH_COOKIE_NAME", ""),
		AuthCookieSecure: authCookieSecure,
		SessionTTL:       getenvDuration("SESSION_TTL", 24*time.Hour),

		DBType:     getenv("DATABASE_TYPE", "postgres"),
		DBHost:     getenv("DATABASE_HOST", "localhost"),
		DBPort:     getenv("DATABASE_PORT", "5432"),
		DBName:     getenv("DATABASE_NAME", "creditgate"),
		DBUser:     getenv("DATABASE_USER", "postgres"),
		DBPassword: getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:  getenv("DATABASE_SSLMODE", "disable"),

		Gateway: GatewayConfig{
			Provider:     strings.ToLower(getenv("GATEWAY_PROVIDER", "paypal")),
			BaseURL:      getenv("PAYPAL_BASE_URL", "https://api-m.sandbox.paypal.com"),
			ClientID:     strings.TrimSpace(getenv("PAYPAL_CLIENT_ID", "")),
			ClientSecret: strings.TrimSpace(getenv("PAYPAL_CLIENT_SECRET", "")),
			Currency:     strings.ToUpper(getenv("GATEWAY_CURRENCY", "USD")),
			Timeout:      getenvDuration("GATEWAY_TIMEOUT", 15*time.Second),
		},

		Admission: AdmissionConfig{
			MaxOrdersPerWindow: getenvInt("ADMISSION_MAX_ORDERS", 5),
			Window:             getenvDuration("ADMISSION_WINDOW", time.Hour),
			SweepInterval:      getenvDuration("ADMISSION_SWEEP_INTERVAL", 5*time.Minute),
		},

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
	}
}

// IsProduction reports whether the service runs in production mode.
func (c Config) IsProduction() bool {
	return c.Environment == "production"
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
