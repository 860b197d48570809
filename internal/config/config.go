/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
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
	ServerPort  string `mapstructure:"SERVER_PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	RedisURL    string `mapstructure:"REDIS_URL"`
	RabbitMQURL string `mapstructure:"RABBITMQ_URL"`
	AuthJWKSURL string `mapstructure:"AUTH_JWKS_URL"`
	AdminAPIKey string `mapstructure:"ADMIN_API_KEY"`

	// Provider credentials.
	StripeSecretKey      string `mapstructure:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret  string `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	PaystackBaseURL      string `mapstructure:"PAYSTACK_BASE_URL"`
	PaystackSecretKey    string `mapstructure:"PAYSTACK_SECRET_KEY"`
	FlutterwaveBaseURL   string `mapstructure:"FLUTTERWAVE_BASE_URL"`
	FlutterwaveSecretKey string `mapstructure:"FLUTTERWAVE_SECRET_KEY"`
	FlutterwaveVerifHash string `mapstructure:"FLUTTERWAVE_VERIF_HASH"`

	// Exchange rate feed.
	FXFeedBaseURL        string `mapstructure:"FX_FEED_BASE_URL"`
	FXFeedAPIKey         string `mapstructure:"FX_FEED_API_KEY"`
	FXRefreshIntervalMin int    `mapstructure:"FX_REFRESH_INTERVAL_MINUTES"`

	// Fee and tax policy.
	DefaultPlatformFeePercent float64 `mapstructure:"DEFAULT_PLATFORM_FEE_PERCENT"`
	ReferralCreditPercent     float64 `mapstructure:"REFERRAL_CREDIT_PERCENT"`

	// Fraud thresholds.
	FraudVelocityPerHour     int `mapstructure:"FRAUD_VELOCITY_PER_HOUR"`
	FraudFailedLockoutCount  int `mapstructure:"FRAUD_FAILED_LOCKOUT_COUNT"`
	FraudPhoneAccountLimit   int `mapstructure:"FRAUD_PHONE_ACCOUNT_LIMIT"`
	FraudPhoneChargesPerHour int `mapstructure:"FRAUD_PHONE_CHARGES_PER_HOUR"`

	// Scheduler cron specs and windows.
	RenewalCronSpec       string `mapstructure:"RENEWAL_CRON_SPEC"`
	ExpiryCronSpec        string `mapstructure:"EXPIRY_CRON_SPEC"`
	RiskRecomputeCronSpec string `mapstructure:"RISK_RECOMPUTE_CRON_SPEC"`
	RenewalBatchSize      int    `mapstructure:"RENEWAL_BATCH_SIZE"`
	GracePeriodHours      int    `mapstructure:"GRACE_PERIOD_HOURS"`
	SubscriptionTermDays  int    `mapstructure:"SUBSCRIPTION_TERM_DAYS"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
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
	viper.SetDefault("PAYSTACK_BASE_URL", "https://api.paystack.co")
	viper.SetDefault("FLUTTERWAVE_BASE_URL", "https://api.flutterwave.com")
	viper.SetDefault("FX_REFRESH_INTERVAL_MINUTES", 60)
	viper.SetDefault("DEFAULT_PLATFORM_FEE_PERCENT", 10.0)
	viper.SetDefault("REFERRAL_CREDIT_PERCENT", 0.0)
	viper.SetDefault("FRAUD_VELOCITY_PER_HOUR", 10)
	viper.SetDefault("FRAUD_FAILED_LOCKOUT_COUNT", 5)
	viper.SetDefault("FRAUD_PHONE_ACCOUNT_LIMIT", 3)
	viper.SetDefault("FRAUD_PHONE_CHARGES_PER_HOUR", 5)
	viper.SetDefault("RENEWAL_CRON_SPEC", "0 */2 * * *")
	viper.SetDefault("EXPIRY_CRON_SPEC", "30 3 * * *")
	viper.SetDefault("RISK_RECOMPUTE_CRON_SPEC", "15 */6 * * *")
	viper.SetDefault("RENEWAL_BATCH_SIZE", 50)
	viper.SetDefault("GRACE_PERIOD_HOURS", 72)
	viper.SetDefault("SUBSCRIPTION_TERM_DAYS", 30)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "PAYMENT_REDIS_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("AUTH_JWKS_URL")
	_ = viper.BindEnv("ADMIN_API_KEY", "ADMIN_API_KEY", "PAYMENT_SERVICE_ADMIN_API_KEY")
	_ = viper.BindEnv("STRIPE_SECRET_KEY")
	_ = viper.BindEnv("STRIPE_WEBHOOK_SECRET")
	_ = viper.BindEnv("PAYSTACK_BASE_URL")
	_ = viper.BindEnv("PAYSTACK_SECRET_KEY")
	_ = viper.BindEnv("FLUTTERWAVE_BASE_URL")
	_ = viper.BindEnv("FLUTTERWAVE_SECRET_KEY")
	_ = viper.BindEnv("FLUTTERWAVE_VERIF_HASH")
	_ = viper.BindEnv("FX_FEED_BASE_URL")
	_ = viper.BindEnv("FX_FEED_API_KEY")
	_ = viper.BindEnv("FX_REFRESH_INTERVAL_MINUTES")
	_ = viper.BindEnv("DEFAULT_PLATFORM_FEE_PERCENT")
	_ = viper.BindEnv("REFERRAL_CREDIT_PERCENT")
	_ = viper.BindEnv("FRAUD_VELOCITY_PER_HOUR")
	_ = viper.BindEnv("FRAUD_FAILED_LOCKOUT_COUNT")
	_ = viper.BindEnv("FRAUD_PHONE_ACCOUNT_LIMIT")
	_ = viper.BindEnv("FRAUD_PHONE_CHARGES_PER_HOUR")
	_ = viper.BindEnv("RENEWAL_CRON_SPEC")
	_ = viper.BindEnv("EXPIRY_CRON_SPEC")
	_ = viper.BindEnv("RISK_RECOMPUTE_CRON_SPEC")
	_ = viper.BindEnv("RENEWAL_BATCH_SIZE")
	_ = viper.BindEnv("GRACE_PERIOD_HOURS")
	_ = viper.BindEnv("SUBSCRIPTION_TERM_DAYS")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
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
	config.PaystackBaseURL = strings.TrimRight(strings.TrimSpace(config.PaystackBaseURL), "/")
	config.FlutterwaveBaseURL = strings.TrimRight(strings.TrimSpace(config.FlutterwaveBaseURL), "/")
	config.FXFeedBaseURL = strings.TrimRight(strings.TrimSpace(config.FXFeedBaseURL), "/")

	if config.DefaultPlatformFeePercent < 0 {
		log.Printf("level=warn component=config msg=\"negative platform fee percent configured; coercing to zero\" fee_percent=%f", config.DefaultPlatformFeePercent)
		config.DefaultPlatformFeePercent = 0
	}
	if config.DefaultPlatformFeePercent > 100 {
		log.Printf("level=warn component=config msg=\"platform fee percent too high; capping at 100\" fee_percent=%f", config.DefaultPlatformFeePercent)
		config.DefaultPlatformFeePercent = 100
	}
	if config.ReferralCreditPercent < 0 {
		config.ReferralCreditPercent = 0
	}
	if config.ReferralCreditPercent > 100 {
		config.ReferralCreditPercent = 100
	}

	if config.FXRefreshIntervalMin <= 0 {
		config.FXRefreshIntervalMin = 60
	}
	if config.FraudVelocityPerHour <= 0 {
		config.FraudVelocityPerHour = 10
	}
	if config.FraudFailedLockoutCount <= 0 {
		config.FraudFailedLockoutCount = 5
	}
	if config.FraudPhoneAccountLimit <= 0 {
		config.FraudPhoneAccountLimit = 3
	}
	if config.FraudPhoneChargesPerHour <= 0 {
		config.FraudPhoneChargesPerHour = 5
	}
	if config.RenewalBatchSize <= 0 {
		config.RenewalBatchSize = 50
	}
	if config.GracePeriodHours <= 0 {
		config.GracePeriodHours = 72
	}
	if config.SubscriptionTermDays <= 0 {
		config.SubscriptionTermDays = 30
	}

	return
}
