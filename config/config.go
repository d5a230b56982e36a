package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all configuration fields for the application.
type Config struct {
	Port       string
	APIBaseURL string
	LogLevel   string
	LogFormat  string

	DBDriver     string // "sqlite" or "postgres"
	DatabaseURL  string
	StoreTimeout time.Duration
	// AtomicResolve inserts the review and resolves the request in one transaction.
	AtomicResolve bool

	TwilioAccountSID        string
	TwilioAuthToken         string
	TwilioPhone             string
	TwilioBaseURL           string
	SkipSignatureValidation bool
	StatusCallbackURL       string

	ReviewWebhookURL string

	RabbitMQURL   string
	RabbitMQQueue string

	S3 S3Config
}

// S3Config configures the archive of review events.
type S3Config struct {
	Enabled   bool
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	PathStyle bool
}

// LoadConfig loads configuration from environment variables.
// It attempts to load a .env file first; variables already set in the environment win.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Info().Err(err).Msg("No .env file found, relying on environment variables")
	} else {
		log.Info().Msg("Loaded configuration from .env file")
	}

	cfg := &Config{
		Port:       getenv("PORT", "5001"),
		APIBaseURL: strings.TrimRight(os.Getenv("API_BASE_URL"), "/"),
		LogLevel:   os.Getenv("LOG_LEVEL"),
		LogFormat:  os.Getenv("LOG_FORMAT"),

		DBDriver:    getenv("DB_DRIVER", "sqlite"),
		DatabaseURL: getenv("DATABASE_URL", "file:reviews.db?_pragma=busy_timeout(5000)"),

		TwilioAccountSID:  os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioPhone:       os.Getenv("TWILIO_PHONE"),
		TwilioBaseURL:     getenv("TWILIO_BASE_URL", "https://api.twilio.com"),
		StatusCallbackURL: os.Getenv("STATUS_CALLBACK_URL"),

		ReviewWebhookURL: os.Getenv("REVIEW_WEBHOOK_URL"),

		RabbitMQURL:   os.Getenv("RABBITMQ_URL"),
		RabbitMQQueue: getenv("RABBITMQ_QUEUE", "review_events"),

		S3: S3Config{
			Bucket:    os.Getenv("S3_BUCKET"),
			Region:    getenv("S3_REGION", "us-east-1"),
			Endpoint:  os.Getenv("S3_ENDPOINT"),
			AccessKey: os.Getenv("S3_ACCESS_KEY"),
			SecretKey: os.Getenv("S3_SECRET_KEY"),
		},
	}

	var err error
	if cfg.StoreTimeout, err = time.ParseDuration(getenv("STORE_TIMEOUT", "10s")); err != nil {
		return nil, fmt.Errorf("invalid STORE_TIMEOUT: %w", err)
	}
	if cfg.AtomicResolve, err = getbool("ATOMIC_RESOLVE"); err != nil {
		return nil, err
	}
	if cfg.SkipSignatureValidation, err = getbool("SKIP_SIGNATURE_VALIDATION"); err != nil {
		return nil, err
	}
	if cfg.S3.Enabled, err = getbool("S3_ENABLED"); err != nil {
		return nil, err
	}
	if cfg.S3.PathStyle, err = getbool("S3_PATH_STYLE"); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Info().
		Str("port", cfg.Port).
		Str("dbDriver", cfg.DBDriver).
		Bool("atomicResolve", cfg.AtomicResolve).
		Bool("rabbitmq", cfg.RabbitMQURL != "").
		Bool("s3", cfg.S3.Enabled).
		Msg("Configuration loaded")
	return cfg, nil
}

// Validate rejects combinations the server cannot start with.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if !c.SkipSignatureValidation {
		if c.TwilioAuthToken == "" {
			return fmt.Errorf("TWILIO_AUTH_TOKEN is required unless SKIP_SIGNATURE_VALIDATION=true")
		}
		if c.APIBaseURL == "" {
			return fmt.Errorf("API_BASE_URL is required to validate webhook signatures")
		}
	}
	if c.S3.Enabled && c.S3.Bucket == "" {
		return fmt.Errorf("S3_BUCKET is required when S3_ENABLED=true")
	}
	return nil
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func getbool(key string) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
