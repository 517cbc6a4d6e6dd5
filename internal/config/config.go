package config // package config loads application configuration from environment variables

import (
	"os" // os provides access to environment variables
	"time"

	log "github.com/sirupsen/logrus" // log reports configuration errors and halts execution
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  Required values are enforced at load time; the
// engine, payment and logging groups fall back to defaults.
type Config struct {
	Env       string // application environment (e.g. "dev", "prod")
	Port      string // HTTP port to listen on
	DBUser    string // database username
	DBPass    string // database password (optional)
	DBHost    string // database host address
	DBPort    string // database port number
	DBName    string // database name
	JWTSecret string // secret used to verify JWTs
	LogLevel  string // logrus level name

	DBMaxOpenConns    int           // pool size; idle connections follow it
	DBConnMaxLifetime time.Duration // recycle pooled connections after this long
	RunMigrations     bool          // apply embedded migrations on startup

	Engine  EngineConfig
	Payment PaymentConfig
	Broker  BrokerConfig
}

// EngineConfig tunes the reservation engine.
type EngineConfig struct {
	HoldTTL          time.Duration // lifetime of a hold before it may be swept
	HoldRetention    time.Duration // extra lifetime of a hold record after expiry; 0 keeps it until swept
	SweepInterval    time.Duration // pause between reconciler runs
	SweepBatchSize   int           // holds examined per run
	ScheduleCacheTTL time.Duration // in-process popup/slot cache lifetime
	PricingFile      string        // optional YAML price table
}

// PaymentConfig selects and tunes the payment provider.
type PaymentConfig struct {
	Provider            string // "mock" or "stripe"
	StripeSecretKey     string
	StripeWebhookSecret string
	BreakerMaxFailures  uint32
	BreakerOpenTimeout  time.Duration
	CallTimeout         time.Duration
}

// BrokerConfig controls event publishing and the audit consumer.
type BrokerConfig struct {
	URL                  string
	AuditConsumerEnabled bool
	AuditLogPath         string
}

// Load reads configuration values from environment variables and returns a
// Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
	return Config{
		Env:               must("APP_ENV"),             // environment (dev/test/prod)
		Port:              must("APP_PORT"),            // port to bind the HTTP server
		DBUser:            must("DB_USER"),             // database user
		DBPass:            os.Getenv("DB_PASS"),        // database password (empty allowed)
		DBHost:            must("DB_HOST"),             // database host
		DBPort:            must("DB_PORT"),             // database port
		DBName:            must("DB_NAME"),             // database name
		JWTSecret:         must("JWT_SECRET"),          // secret used for verifying JWTs
		LogLevel:          envStr("LOG_LEVEL", "info"), // log verbosity
		DBMaxOpenConns:    envInt("DB_MAX_OPEN_CONNS", 25),
		DBConnMaxLifetime: envDur("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		RunMigrations:     envBool("RUN_MIGRATIONS", true),
		Engine:            LoadEngineConfig(),
		Payment:           LoadPaymentConfig(),
		Broker:            LoadBrokerConfig(),
	}
}

// LoadEngineConfig reads the reservation engine settings.
func LoadEngineConfig() EngineConfig {
	c := EngineConfig{
		HoldTTL:          envDur("HOLD_TTL", 10*time.Minute),
		HoldRetention:    envDur("HOLD_RETENTION", time.Hour),
		SweepInterval:    envDur("SWEEP_INTERVAL", 30*time.Second),
		SweepBatchSize:   envInt("SWEEP_BATCH_SIZE", 100),
		ScheduleCacheTTL: envDur("SCHEDULE_CACHE_TTL", time.Minute),
		PricingFile:      os.Getenv("PRICING_FILE"),
	}
	if c.HoldTTL <= 0 {
		c.HoldTTL = 10 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
	if c.SweepBatchSize < 1 {
		c.SweepBatchSize = 100
	}
	return c
}

// LoadPaymentConfig reads the payment provider settings.  Selecting stripe
// without a secret key is fatal.
func LoadPaymentConfig() PaymentConfig {
	c := PaymentConfig{
		Provider:            envStr("PAYMENT_PROVIDER", "mock"),
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		BreakerMaxFailures:  uint32(envInt("PAYMENT_BREAKER_MAX_FAILURES", 5)),
		BreakerOpenTimeout:  envDur("PAYMENT_BREAKER_TIMEOUT", 30*time.Second),
		CallTimeout:         envDur("PAYMENT_TIMEOUT", 10*time.Second),
	}
	if c.Provider == "stripe" && c.StripeSecretKey == "" {
		log.Fatalf("missing required env var: STRIPE_SECRET_KEY")
	}
	return c
}

// LoadBrokerConfig reads the RabbitMQ settings.  An empty URL disables
// event publishing.
func LoadBrokerConfig() BrokerConfig {
	url := os.Getenv("RABBITMQ_URL")
	if url == "" {
		url = os.Getenv("AMQP_URL")
	}
	return BrokerConfig{
		URL:                  url,
		AuditConsumerEnabled: envBool("AUDIT_CONSUMER_ENABLED", true),
		AuditLogPath:         envStr("AUDIT_LOG_PATH", "logs/reservation.log"),
	}
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}
