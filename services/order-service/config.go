package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	awspkg "github.com/yashrajoria/fitmeals-backend/pkg/aws"
)

type Config struct {
	Port        string
	Environment string

	DatabaseURL      string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresHost     string
	PostgresPort     string
	PostgresSSLMode  string
	PostgresTimeZone string

	MongoURI      string
	MongoDatabase string
	MealStore     string
	MealTable     string

	RedisURL         string
	WebhookDedupeTTL time.Duration

	StripeSecretKey     string
	StripeWebhookSecret string
	Currency            string

	JWTSecret           string
	TrustGatewayHeaders bool
	AllowedOrigins      []string
	RequestTimeout      time.Duration
	RateLimitRPS        float64
	RateLimitBurst      int

	ReconcileInterval time.Duration
	PendingTTL        time.Duration

	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	AWSRegion          string
	AWSUseSecrets      bool
	SecretName         string
	OrderTopicARN      string
	PaymentTopicARN    string
	CloudWatchEnabled  bool
	CloudWatchLogGroup string
	MetricsEnabled     bool
}

// secretKeys are the settings that may be overridden from Secrets Manager.
var secretKeys = []string{
	"DATABASE_URL", "POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_DB", "POSTGRES_HOST", "POSTGRES_PORT",
	"MONGO_URI", "REDIS_URL", "STRIPE_SECRET_KEY", "STRIPE_WEBHOOK_SECRET", "JWT_SECRET",
	"SMTP_USERNAME", "SMTP_PASSWORD",
}

func LoadConfig(ctx context.Context) (*Config, error) {
	if getEnv("AWS_USE_SECRETS", "false") == "true" {
		if err := applySecrets(ctx, getEnv("AWS_REGION", "us-east-1"), getEnv("AWS_SECRET_NAME", "order-service/config")); err != nil {
			return nil, err
		}
	}
	return configFromEnv(os.Getenv)
}

// applySecrets copies known keys from a JSON secret into the environment so
// they win over values from .env.
func applySecrets(ctx context.Context, region, name string) error {
	awsCfg, err := awspkg.LoadAWSConfig(ctx, region)
	if err != nil {
		return err
	}
	values, err := awspkg.NewSecretsClient(awsCfg).GetSecretMap(ctx, name)
	if err != nil {
		return fmt.Errorf("load secret %s: %w", name, err)
	}
	for _, key := range secretKeys {
		if v := values[key]; v != "" {
			if err := os.Setenv(key, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func configFromEnv(lookup func(string) string) (*Config, error) {
	env := func(key, fallback string) string {
		if v := lookup(key); v != "" {
			return v
		}
		return fallback
	}

	cfg := &Config{
		Port:        env("PORT", "8087"),
		Environment: env("ENVIRONMENT", "development"),

		DatabaseURL:      lookup("DATABASE_URL"),
		PostgresUser:     lookup("POSTGRES_USER"),
		PostgresPassword: lookup("POSTGRES_PASSWORD"),
		PostgresDB:       lookup("POSTGRES_DB"),
		PostgresHost:     lookup("POSTGRES_HOST"),
		PostgresPort:     env("POSTGRES_PORT", "5432"),
		PostgresSSLMode:  env("POSTGRES_SSLMODE", "disable"),
		PostgresTimeZone: env("POSTGRES_TIMEZONE", "UTC"),

		MongoURI:      lookup("MONGO_URI"),
		MongoDatabase: env("MONGO_DATABASE", "fitmeals"),
		MealStore:     strings.ToLower(env("MEAL_STORE", "mongo")),
		MealTable:     env("MEAL_TABLE", "meals"),

		RedisURL: lookup("REDIS_URL"),

		StripeSecretKey:     lookup("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: lookup("STRIPE_WEBHOOK_SECRET"),
		Currency:            strings.ToLower(env("CURRENCY", "usd")),

		JWTSecret:           lookup("JWT_SECRET"),
		TrustGatewayHeaders: env("TRUST_GATEWAY_HEADERS", "false") == "true",
		AllowedOrigins:      splitList(env("ALLOWED_ORIGINS", "http://localhost:3000")),

		SMTPHost:     lookup("SMTP_HOST"),
		SMTPUsername: lookup("SMTP_USERNAME"),
		SMTPPassword: lookup("SMTP_PASSWORD"),
		SMTPFrom:     env("SMTP_FROM", "Fit Meals <orders@fitmeals.local>"),

		AWSRegion:          env("AWS_REGION", "us-east-1"),
		AWSUseSecrets:      env("AWS_USE_SECRETS", "false") == "true",
		SecretName:         env("AWS_SECRET_NAME", "order-service/config"),
		OrderTopicARN:      lookup("SNS_ORDER_TOPIC_ARN"),
		PaymentTopicARN:    lookup("SNS_PAYMENT_TOPIC_ARN"),
		CloudWatchEnabled:  env("CLOUDWATCH_ENABLED", "false") == "true",
		CloudWatchLogGroup: env("CLOUDWATCH_LOG_GROUP", "/fitmeals/order-service"),
		MetricsEnabled:     env("METRICS_ENABLED", "false") == "true",
	}

	var err error
	// A zero reconcile interval disables the sweeper; the rest must be positive.
	durations := []struct {
		key       string
		fallback  string
		dst       *time.Duration
		allowZero bool
	}{
		{"WEBHOOK_DEDUPE_TTL", "72h", &cfg.WebhookDedupeTTL, false},
		{"REQUEST_TIMEOUT", "15s", &cfg.RequestTimeout, false},
		{"PAYMENT_RECONCILE_INTERVAL", "10m", &cfg.ReconcileInterval, true},
		{"PAYMENT_PENDING_TTL", "24h", &cfg.PendingTTL, false},
	}
	for _, d := range durations {
		if *d.dst, err = time.ParseDuration(env(d.key, d.fallback)); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		if *d.dst < 0 || (*d.dst == 0 && !d.allowZero) {
			return nil, fmt.Errorf("invalid %s: must be positive, got %s", d.key, *d.dst)
		}
	}
	cfg.SMTPPort = env("SMTP_PORT", "587")
	if _, err := strconv.Atoi(cfg.SMTPPort); err != nil {
		return nil, fmt.Errorf("invalid SMTP_PORT: %w", err)
	}
	if cfg.RateLimitRPS, err = strconv.ParseFloat(env("RATE_LIMIT_RPS", "10"), 64); err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_RPS: %w", err)
	}
	if cfg.RateLimitBurst, err = strconv.Atoi(env("RATE_LIMIT_BURST", "20")); err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_BURST: %w", err)
	}
	if cfg.RateLimitRPS <= 0 || cfg.RateLimitBurst <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}

	if cfg.DatabaseURL == "" && (cfg.PostgresUser == "" || cfg.PostgresPassword == "" || cfg.PostgresDB == "" || cfg.PostgresHost == "") {
		return nil, fmt.Errorf("database config incomplete: set DATABASE_URL or POSTGRES_*")
	}
	if cfg.StripeSecretKey == "" || cfg.StripeWebhookSecret == "" {
		return nil, fmt.Errorf("STRIPE_SECRET_KEY and STRIPE_WEBHOOK_SECRET are required")
	}
	if cfg.JWTSecret == "" && !cfg.TrustGatewayHeaders {
		return nil, fmt.Errorf("JWT_SECRET is required unless TRUST_GATEWAY_HEADERS=true")
	}
	switch cfg.MealStore {
	case "mongo":
		if cfg.MongoURI == "" {
			return nil, fmt.Errorf("MONGO_URI is required when MEAL_STORE=mongo")
		}
	case "dynamodb":
	default:
		return nil, fmt.Errorf("unknown MEAL_STORE %q", cfg.MealStore)
	}
	return cfg, nil
}

// PostgresDSN prefers DATABASE_URL and otherwise assembles a key/value DSN.
func (c *Config) PostgresDSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		c.PostgresHost, c.PostgresUser, c.PostgresPassword, c.PostgresDB,
		c.PostgresPort, c.PostgresSSLMode, c.PostgresTimeZone)
}

// RedactedDSN returns the DSN safe for logging.
func (c *Config) RedactedDSN() string {
	if c.DatabaseURL != "" {
		if u, err := url.Parse(c.DatabaseURL); err == nil {
			return u.Redacted()
		}
		return "<unparseable DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s dbname=%s port=%s", c.PostgresHost, c.PostgresDB, c.PostgresPort)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
