package config

import (
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

type DarajaConfig struct {
	BaseURL        string `json:"baseUrl" mapstructure:"base_url"`
	ConsumerKey    string `json:"consumerKey" mapstructure:"consumer_key"`
	ConsumerSecret string `json:"consumerSecret" mapstructure:"consumer_secret"`
	ShortCode      string `json:"shortCode" mapstructure:"short_code"`
	Passkey        string `json:"passkey" mapstructure:"passkey"`
	CallbackURL    string `json:"callbackUrl" mapstructure:"callback_url"`
	WebhookSecret  string `json:"webhookSecret" mapstructure:"webhook_secret"`

	// Sandbox feed. The Daraja sandbox cannot call back into a dev machine,
	// so simulated results arrive over PubNub instead.
	Sandbox     bool   `json:"sandbox" mapstructure:"sandbox"`
	PNSubKey    string `json:"pn_subkey" mapstructure:"pn_subkey"`
	PNSubSecret string `json:"pn_subsecret" mapstructure:"pn_subsecret"`
	PNUUID      string `json:"pn_uuid" mapstructure:"pn_uuid"`
	PNChannel   string `json:"pn_channel" mapstructure:"pn_channel"`
}

type Config struct {
	// Server configuration
	Port         string
	CallbackPort string
	Environment  string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// PubNub configuration (user notifications)
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string

	// Booking configuration
	BookingPrice decimal.Decimal
	Currency     string

	// Timeout configuration
	PaymentWindow time.Duration
	SlotHoldSlack time.Duration
	SweepInterval time.Duration

	// Provider retry configuration
	ProviderMaxRetries int
	ProviderBackoff    time.Duration

	// Admin
	AdminKeyHash string

	// Monitoring
	EnableMetrics bool
	MetricsPort   string

	DarajaConfig DarajaConfig
}

func LoadConfig() *Config {
	return &Config{
		// Server
		Port:         getEnv("PORT", "8090"),
		CallbackPort: getEnv("CALLBACK_PORT", "8091"),
		Environment:  getEnv("ENVIRONMENT", "development"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),

		// Booking
		BookingPrice: getEnvAsDecimal("BOOKING_PRICE", "3000"),
		Currency:     getEnv("CURRENCY", "KES"),

		// Timeouts
		PaymentWindow: getEnvAsDuration("PAYMENT_WINDOW", "2m"),
		SlotHoldSlack: getEnvAsDuration("SLOT_HOLD_SLACK", "1m"),
		SweepInterval: getEnvAsDuration("SWEEP_INTERVAL", "30s"),

		// Provider retries
		ProviderMaxRetries: getEnvAsInt("PROVIDER_MAX_RETRIES", 3),
		ProviderBackoff:    getEnvAsDuration("PROVIDER_BACKOFF", "1s"),

		// Admin
		AdminKeyHash: getEnv("ADMIN_KEY_HASH", ""),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
		MetricsPort:   getEnv("METRICS_PORT", "9090"),

		DarajaConfig: DarajaConfig{
			BaseURL:        getEnv("DARAJA_BASE_URL", "https://sandbox.safaricom.co.ke"),
			ConsumerKey:    getEnv("DARAJA_CONSUMER_KEY", ""),
			ConsumerSecret: getEnv("DARAJA_CONSUMER_SECRET", ""),
			ShortCode:      getEnv("DARAJA_SHORT_CODE", "174379"),
			Passkey:        getEnv("DARAJA_PASSKEY", ""),
			CallbackURL:    getEnv("DARAJA_CALLBACK_URL", ""),
			WebhookSecret:  getEnv("DARAJA_WEBHOOK_SECRET", ""),
			Sandbox:        getEnvAsBool("DARAJA_SANDBOX", true),
			PNSubKey:       getEnv("DARAJA_PN_SUBKEY", ""),
			PNSubSecret:    getEnv("DARAJA_PN_SUBSECRET", ""),
			PNUUID:         getEnv("DARAJA_PN_UUID", "tanker-backend"),
			PNChannel:      getEnv("DARAJA_PN_CHANNEL", "mpesa-sandbox-results"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}

func getEnvAsDecimal(key string, defaultValue string) decimal.Decimal {
	valueStr := getEnv(key, defaultValue)
	if value, err := decimal.NewFromString(valueStr); err == nil {
		return value
	}
	value, _ := decimal.NewFromString(defaultValue)
	return value
}
