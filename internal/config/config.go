package config // package config loads application configuration from environment variables

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

// Storage backends selectable with STORAGE.
const (
	StorageMySQL  = "mysql"
	StorageMemory = "memory"
)

// Payment gateways selectable with GATEWAY.  The sandbox approves or
// declines from a local page and is refused in production.
const (
	GatewayWebpay  = "webpay"
	GatewaySandbox = "sandbox"
)

// DefaultTimezone is the zone booking dates and times are expressed in.
const DefaultTimezone = "America/Santiago"

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  Durations accept Go duration syntax ("15m").
type Config struct {
	Env     string // application environment (e.g. "dev", "prod")
	Port    string // HTTP port to listen on
	Storage string // "mysql" or "memory"

	DBUser         string // database username
	DBPass         string // database password (optional)
	DBHost         string // database host address
	DBPort         string // database port number
	DBName         string // database name
	MigrateOnStart bool   // apply embedded migrations at startup

	JWTSecret string // secret used to verify admin JWTs

	Timezone string         // IANA zone of booking dates and slot times
	Location *time.Location // Timezone, resolved by Load

	HoldTTL        time.Duration // lifetime of a checkout hold
	GatewayWindow  time.Duration // time the gateway gives a customer to pay
	GatewayTimeout time.Duration // per-call timeout towards the gateway
	NotifyTimeout  time.Duration // bound on the post-commit notification

	Gateway string // "webpay" or "sandbox"
	Webpay  WebpayConfig

	AMQPURL        string // RabbitMQ connection string; empty disables events
	BookingLogPath string // file the event consumer appends to

	CommissionTable string // optional YAML rate table path

	ReapEvery      time.Duration // expired-hold cleanup interval
	ReconcileEvery time.Duration // pending-payment polling interval
	ReconcileAfter time.Duration // minimum age of a pending payment before polling
	DepositsAt     string        // local "HH:MM" at which yesterday's deposits are generated
}

// WebpayConfig holds the gateway credentials and the customer return URL.
type WebpayConfig struct {
	BaseURL      string
	CommerceCode string
	APIKey       string
	ReturnURL    string
}

// Load reads an optional .env file and then the environment.  Required
// variables are enforced by must() and missing values cause the program to
// exit with a fatal log message.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		Env:     envStr("APP_ENV", "dev"),
		Port:    envStr("APP_PORT", "8080"),
		Storage: envStr("STORAGE", StorageMySQL),

		DBPass:         os.Getenv("DB_PASS"),
		MigrateOnStart: envBool("DB_MIGRATE", true),

		JWTSecret: must("JWT_SECRET"),

		Timezone: envStr("BOOKING_TZ", envStr("TZ", DefaultTimezone)),

		HoldTTL:        envDur("HOLD_TTL", 15*time.Minute),
		GatewayWindow:  envDur("GATEWAY_WINDOW", 10*time.Minute),
		GatewayTimeout: envDur("GATEWAY_TIMEOUT", 10*time.Second),
		NotifyTimeout:  envDur("NOTIFY_TIMEOUT", 5*time.Second),

		Gateway: envStr("GATEWAY", GatewayWebpay),
		Webpay: WebpayConfig{
			BaseURL:      envStr("WEBPAY_BASE_URL", "https://webpay3gint.transbank.cl"),
			CommerceCode: envStr("WEBPAY_COMMERCE_CODE", "597055555532"),
			APIKey:       envStr("WEBPAY_API_KEY", ""),
			ReturnURL:    envStr("WEBPAY_RETURN_URL", "http://localhost:8080/v1/payments/return"),
		},

		AMQPURL:        os.Getenv("AMQP_URL"),
		BookingLogPath: envStr("BOOKING_LOG", "booking.log"),

		CommissionTable: os.Getenv("COMMISSION_TABLE"),

		ReapEvery:      envDur("REAP_EVERY", time.Minute),
		ReconcileEvery: envDur("RECONCILE_EVERY", 2*time.Minute),
		ReconcileAfter: envDur("RECONCILE_AFTER", 5*time.Minute),
		DepositsAt:     envStr("DEPOSITS_AT", "03:00"),
	}
	if cfg.Storage == StorageMySQL {
		cfg.DBUser = must("DB_USER")
		cfg.DBHost = must("DB_HOST")
		cfg.DBPort = envStr("DB_PORT", "3306")
		cfg.DBName = must("DB_NAME")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	cfg.Location, _ = time.LoadLocation(cfg.Timezone)
	return cfg
}

// WorkerConfig is the subset of settings the event consumer needs.
type WorkerConfig struct {
	Env            string
	AMQPURL        string
	BookingLogPath string
}

// LoadWorker reads the event consumer's settings.  AMQP_URL is required.
func LoadWorker() WorkerConfig {
	_ = godotenv.Load()
	return WorkerConfig{
		Env:            envStr("APP_ENV", "dev"),
		AMQPURL:        must("AMQP_URL"),
		BookingLogPath: envStr("BOOKING_LOG", "booking.log"),
	}
}

// IsProduction reports whether Env names a production deployment.
func (c Config) IsProduction() bool {
	switch c.Env {
	case "prod", "production":
		return true
	}
	return false
}

// Validate checks relations between values.  A hold must outlive the
// gateway redirect window, otherwise a customer who pays at the last
// second finds the slot released.
func (c Config) Validate() error {
	switch c.Storage {
	case StorageMySQL, StorageMemory:
	default:
		return fmt.Errorf("unknown STORAGE %q", c.Storage)
	}
	if c.HoldTTL <= 0 {
		return fmt.Errorf("HOLD_TTL must be positive")
	}
	if c.HoldTTL <= c.GatewayWindow {
		return fmt.Errorf("HOLD_TTL (%s) must exceed GATEWAY_WINDOW (%s)", c.HoldTTL, c.GatewayWindow)
	}
	if c.GatewayTimeout <= 0 || c.NotifyTimeout <= 0 {
		return fmt.Errorf("GATEWAY_TIMEOUT and NOTIFY_TIMEOUT must be positive")
	}
	if c.ReapEvery <= 0 || c.ReconcileEvery <= 0 {
		return fmt.Errorf("REAP_EVERY and RECONCILE_EVERY must be positive")
	}
	if _, err := time.Parse("15:04", c.DepositsAt); err != nil {
		return fmt.Errorf("DEPOSITS_AT must be HH:MM: %w", err)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("BOOKING_TZ: %w", err)
	}
	switch c.Gateway {
	case GatewayWebpay:
		if c.Webpay.APIKey == "" {
			return fmt.Errorf("WEBPAY_API_KEY is required with GATEWAY=%s", GatewayWebpay)
		}
	case GatewaySandbox:
		if c.IsProduction() {
			return fmt.Errorf("GATEWAY=%s is not allowed in %s", GatewaySandbox, c.Env)
		}
	default:
		return fmt.Errorf("unknown GATEWAY %q", c.Gateway)
	}
	return nil
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

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "True", "yes", "YES", "on", "ON":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "off", "OFF":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	if n, err := strconv.Atoi(os.Getenv(k)); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	if dur, err := time.ParseDuration(os.Getenv(k)); err == nil {
		return dur
	}
	return d
}
