/**
 * @description
 * This file handles the configuration management for the subscription-service.
 * It uses the 'viper' library to load configuration from environment variables,
 * providing a centralized and consistent way to manage application settings.
 */
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	ServerPort        string `mapstructure:"SERVER_PORT"`
	DatabaseURL       string `mapstructure:"DATABASE_URL"`
	RedisURL          string `mapstructure:"REDIS_URL"`
	RabbitMQURL       string `mapstructure:"RABBITMQ_URL"`
	CatalogServiceURL string `mapstructure:"CATALOG_SERVICE_URL"`
	InternalAPIKey    string `mapstructure:"INTERNAL_API_KEY"`
	JWTSecret         string `mapstructure:"JWT_SECRET"`

	ExpirySweepSchedule  string `mapstructure:"EXPIRY_SWEEP_SCHEDULE"`
	ExpiringSoonSchedule string `mapstructure:"EXPIRING_SOON_SCHEDULE"`
	AddonSweepSchedule   string `mapstructure:"ADDON_SWEEP_SCHEDULE"`
	ReconcileSchedule    string `mapstructure:"RECONCILE_SCHEDULE"`

	ExpiringSoonDays           int `mapstructure:"EXPIRING_SOON_DAYS"`
	DefaultBillingDays         int `mapstructure:"DEFAULT_BILLING_DAYS"`
	EntitlementCacheTTLSeconds int `mapstructure:"ENTITLEMENT_CACHE_TTL_SECONDS"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (config Config, err error) {
	viper.SetDefault("SERVER_PORT", "8086")
	viper.SetDefault("EXPIRY_SWEEP_SCHEDULE", "*/15 * * * *")
	viper.SetDefault("EXPIRING_SOON_SCHEDULE", "0 9 * * *")
	viper.SetDefault("ADDON_SWEEP_SCHEDULE", "5 * * * *")
	viper.SetDefault("RECONCILE_SCHEDULE", "30 3 * * *")
	viper.SetDefault("EXPIRING_SOON_DAYS", 7)
	viper.SetDefault("DEFAULT_BILLING_DAYS", 30)
	viper.SetDefault("ENTITLEMENT_CACHE_TTL_SECONDS", 300)
	viper.AutomaticEnv()

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("CATALOG_SERVICE_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("EXPIRY_SWEEP_SCHEDULE")
	_ = viper.BindEnv("EXPIRING_SOON_SCHEDULE")
	_ = viper.BindEnv("ADDON_SWEEP_SCHEDULE")
	_ = viper.BindEnv("RECONCILE_SCHEDULE")
	_ = viper.BindEnv("EXPIRING_SOON_DAYS")
	_ = viper.BindEnv("DEFAULT_BILLING_DAYS")
	_ = viper.BindEnv("ENTITLEMENT_CACHE_TTL_SECONDS")

	if err = viper.Unmarshal(&config); err != nil {
		return config, err
	}

	if config.DatabaseURL == "" {
		return config, fmt.Errorf("DATABASE_URL is required")
	}
	if config.JWTSecret == "" {
		return config, fmt.Errorf("JWT_SECRET is required")
	}
	if config.InternalAPIKey == "" {
		return config, fmt.Errorf("INTERNAL_API_KEY is required")
	}
	return config, nil
}
