/**
 * @description
 * This package handles the configuration management for the service. It uses
 * the Viper library to read configuration from environment variables,
 * providing a centralized and straightforward way to manage application
 * settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the payment-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort              string  `mapstructure:"SERVER_PORT"`
	DatabaseURL             string  `mapstructure:"DATABASE_URL"`
	RedisURL                string  `mapstructure:"REDIS_URL"`
	RedisCachePrefix        string  `mapstructure:"REDIS_CACHE_PREFIX"`
	RabbitMQURL             string  `mapstructure:"RABBITMQ_URL"`
	PaymentEventExchange    string  `mapstructure:"PAYMENT_EVENT_EXCHANGE"`
	StripeAPIBaseURL        string  `mapstructure:"STRIPE_API_BASE_URL"`
	StripeSecretKey         string  `mapstructure:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret     string  `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	WebhookToleranceSeconds int     `mapstructure:"WEBHOOK_TOLERANCE_SECONDS"`
	ExchangeRateAPIBaseURL  string  `mapstructure:"EXCHANGE_RATE_API_BASE_URL"`
	ExchangeRateAPIKey      string  `mapstructure:"EXCHANGE_RATE_API_KEY"`
	JWTSecret               string  `mapstructure:"JWT_SECRET"`
	TVAPercentage           float64 `mapstructure:"TVA_PERCENTAGE"`
	FlatFeePercent          float64 `mapstructure:"FLAT_FEE_PERCENT"`
	PricingTierCeiling      float64 `mapstructure:"PRICING_TIER_CEILING"`
	PricingUseTieredFee     bool    `mapstructure:"PRICING_USE_TIERED_FEE"`
	PricingCacheTTLSeconds  int     `mapstructure:"PRICING_CACHE_TTL_SECONDS"`
}

// LoadConfig reads configuration from environment variables from the given
// path. It uses Viper to automatically bind environment variables to the
// Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_CACHE_PREFIX", "gohappygo:cache")
	viper.SetDefault("PAYMENT_EVENT_EXCHANGE", "gohappygo.events")
	viper.SetDefault("STRIPE_API_BASE_URL", "https://api.stripe.com")
	viper.SetDefault("WEBHOOK_TOLERANCE_SECONDS", 300)
	viper.SetDefault("TVA_PERCENTAGE", 20.0)
	viper.SetDefault("FLAT_FEE_PERCENT", 15.0)
	viper.SetDefault("PRICING_TIER_CEILING", 151.0)
	viper.SetDefault("PRICING_USE_TIERED_FEE", false)
	viper.SetDefault("PRICING_CACHE_TTL_SECONDS", 300)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_CACHE_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("PAYMENT_EVENT_EXCHANGE")
	_ = viper.BindEnv("STRIPE_API_BASE_URL")
	_ = viper.BindEnv("STRIPE_SECRET_KEY")
	_ = viper.BindEnv("STRIPE_WEBHOOK_SECRET")
	_ = viper.BindEnv("WEBHOOK_TOLERANCE_SECONDS")
	_ = viper.BindEnv("EXCHANGE_RATE_API_BASE_URL")
	_ = viper.BindEnv("EXCHANGE_RATE_API_KEY")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("TVA_PERCENTAGE")
	_ = viper.BindEnv("FLAT_FEE_PERCENT")
	_ = viper.BindEnv("PRICING_TIER_CEILING")
	_ = viper.BindEnv("PRICING_USE_TIERED_FEE")
	_ = viper.BindEnv("PRICING_CACHE_TTL_SECONDS")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}

	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisCachePrefix = strings.TrimSpace(config.RedisCachePrefix)
	if config.RedisCachePrefix == "" {
		config.RedisCachePrefix = "gohappygo:cache"
	}
	config.StripeAPIBaseURL = strings.TrimSpace(config.StripeAPIBaseURL)
	if config.StripeAPIBaseURL == "" {
		config.StripeAPIBaseURL = "https://api.stripe.com"
	}

	if config.TVAPercentage < 0 {
		log.Printf("level=warn component=config msg=\"negative tva percentage configured; using default\" tva=%f", config.TVAPercentage)
		config.TVAPercentage = 20.0
	}
	if config.FlatFeePercent <= 0 || config.FlatFeePercent >= 100 {
		log.Printf("level=warn component=config msg=\"flat fee percent out of range; using default\" percent=%f", config.FlatFeePercent)
		config.FlatFeePercent = 15.0
	}
	if config.PricingTierCeiling <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive tier ceiling configured; using default\" ceiling=%f", config.PricingTierCeiling)
		config.PricingTierCeiling = 151.0
	}
	if config.WebhookToleranceSeconds < 0 {
		config.WebhookToleranceSeconds = 0
	}
	if config.PricingCacheTTLSeconds <= 0 {
		config.PricingCacheTTLSeconds = 300
	}

	return
}
