package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "DEFAULT_PLATFORM_FEE_PERCENT")
	unsetEnvWithCleanup(t, "GRACE_PERIOD_HOURS")
	unsetEnvWithCleanup(t, "SUBSCRIPTION_TERM_DAYS")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.DefaultPlatformFeePercent != 10.0 {
		t.Fatalf("expected default platform fee percent 10, got %f", cfg.DefaultPlatformFeePercent)
	}
	if cfg.GracePeriodHours != 72 {
		t.Fatalf("expected default grace period 72h, got %d", cfg.GracePeriodHours)
	}
	if cfg.SubscriptionTermDays != 30 {
		t.Fatalf("expected default subscription term 30d, got %d", cfg.SubscriptionTermDays)
	}
	if cfg.PaystackBaseURL != "https://api.paystack.co" {
		t.Fatalf("expected default paystack base url, got %q", cfg.PaystackBaseURL)
	}
}

func TestLoadConfig_AdminAPIKeyAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "ADMIN_API_KEY")
	setEnvWithCleanup(t, "PAYMENT_SERVICE_ADMIN_API_KEY", "alias-only-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.AdminAPIKey != "alias-only-key" {
		t.Fatalf("expected AdminAPIKey from alias env var, got %q", cfg.AdminAPIKey)
	}
}

func TestLoadConfig_FeePercentIsClamped(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "DEFAULT_PLATFORM_FEE_PERCENT", "150")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.DefaultPlatformFeePercent != 100 {
		t.Fatalf("expected fee percent capped at 100, got %f", cfg.DefaultPlatformFeePercent)
	}
}

func TestLoadConfig_TrailingSlashesAreStripped(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "FLUTTERWAVE_BASE_URL", "https://api.flutterwave.com/")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.FlutterwaveBaseURL != "https://api.flutterwave.com" {
		t.Fatalf("expected normalized base url, got %q", cfg.FlutterwaveBaseURL)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
