package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port      string
	Env       string
	LogLevel  string
	LogFormat string

	DatabaseURL string
	DBMaxConns  int
	DBMinConns  int

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// PayHere merchant credentials used to sign checkout sessions and
	// verify payment notifications.
	PayHereMerchantID     string
	PayHereMerchantSecret string
	PayHereCurrency       string
	PayHereNotifyURL      string

	ProvisionalHoldTTL      time.Duration
	PendingPaymentFreshness time.Duration
	PerSlotMinutes          int
	ClinicTimezone          string

	SMSProvider         string
	TwilioAccountSID    string
	TwilioAuthToken     string
	TwilioFromNumber    string
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	SMSQueueURL         string

	CORSAllowedOrigins []string
	WebhookRateLimit   int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:      getEnv("PORT", "8080"),
		Env:       getEnv("ENV", "development"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		DBMaxConns:  getEnvAsInt("DB_MAX_CONNS", 10),
		DBMinConns:  getEnvAsInt("DB_MIN_CONNS", 1),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		PayHereMerchantID:     getEnv("PAYHERE_MERCHANT_ID", ""),
		PayHereMerchantSecret: getEnv("PAYHERE_MERCHANT_SECRET", ""),
		PayHereCurrency:       strings.ToUpper(getEnv("PAYHERE_CURRENCY", "LKR")),
		PayHereNotifyURL:      getEnv("PAYHERE_NOTIFY_URL", ""),

		ProvisionalHoldTTL:      getEnvAsDuration("PROVISIONAL_HOLD_TTL", 30*time.Minute),
		PendingPaymentFreshness: getEnvAsDuration("PENDING_PAYMENT_FRESHNESS", 30*time.Minute),
		PerSlotMinutes:          getEnvAsInt("PER_SLOT_MINUTES", 10),
		ClinicTimezone:          getEnv("CLINIC_TIMEZONE", "Asia/Colombo"),

		SMSProvider:         strings.ToLower(strings.TrimSpace(getEnv("SMS_PROVIDER", "auto"))),
		TwilioAccountSID:    getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:     getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber:    getEnv("TWILIO_FROM_NUMBER", ""),
		AWSRegion:           getEnv("AWS_REGION", "ap-south-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		SMSQueueURL:         getEnv("SMS_QUEUE_URL", ""),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		WebhookRateLimit:   getEnvAsInt("WEBHOOK_RATE_LIMIT", 20),
	}
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// Validate reports settings the service cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DatabaseURL) == "" {
		errs = append(errs, errors.New("config: DATABASE_URL is required"))
	}
	if c.IsProduction() {
		if c.PayHereMerchantID == "" {
			errs = append(errs, errors.New("config: PAYHERE_MERCHANT_ID is required in production"))
		}
		if c.PayHereMerchantSecret == "" {
			errs = append(errs, errors.New("config: PAYHERE_MERCHANT_SECRET is required in production"))
		}
	}
	if c.PerSlotMinutes <= 0 {
		errs = append(errs, errors.New("config: PER_SLOT_MINUTES must be positive"))
	}
	if c.ProvisionalHoldTTL <= 0 {
		errs = append(errs, errors.New("config: PROVISIONAL_HOLD_TTL must be positive"))
	}
	if c.PendingPaymentFreshness <= 0 {
		errs = append(errs, errors.New("config: PENDING_PAYMENT_FRESHNESS must be positive"))
	}
	return errors.Join(errs...)
}

// Location resolves the clinic timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
