package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Admin holds the configuration of the admin control plane
type Admin struct {
	ListenAddr    string `yaml:"listen_addr"`
	DatabaseURL   string `yaml:"database_url"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`

	JWTAlgorithm           string        `yaml:"jwt_algorithm"`
	AccessTokenTTL         time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL        time.Duration `yaml:"refresh_token_ttl"`
	KeyRotationInterval    time.Duration `yaml:"key_rotation_interval"`
	KeyDeletionGracePeriod time.Duration `yaml:"key_deletion_grace_period"`
	ClockSkew              time.Duration `yaml:"clock_skew"`
	PublicKeyExportPath    string        `yaml:"public_key_export_path"`

	InitialAdminUsername string `yaml:"initial_admin_username"`
	InitialAdminEmail    string `yaml:"initial_admin_email"`
	InitialAdminPassword string `yaml:"initial_admin_password"`

	InitialAccountName   string `yaml:"initial_account_name"`
	InitialAccountSecret string `yaml:"initial_account_secret"`

	Environment string `yaml:"environment"`

	GCInterval          time.Duration `yaml:"gc_interval"`
	GCFinalizedMargin   time.Duration `yaml:"gc_finalized_margin"`
	GCOrphanMargin      time.Duration `yaml:"gc_orphan_margin"`
	ElementSyncInterval time.Duration `yaml:"element_sync_interval"`
	OfflineThreshold    int           `yaml:"offline_threshold"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// LoadAdmin reads admin configuration from the optional YAML file at path
// and then the environment.
func LoadAdmin(path string) (*Admin, error) {
	cfg := &Admin{
		ListenAddr:             ":8081",
		RedisAddr:              "localhost:6379",
		JWTAlgorithm:           "RS256",
		AccessTokenTTL:         30 * time.Minute,
		RefreshTokenTTL:        7 * 24 * time.Hour,
		KeyRotationInterval:    24 * time.Hour,
		KeyDeletionGracePeriod: 24 * time.Hour,
		ClockSkew:              5 * time.Minute,
		Environment:            "prod",
		GCInterval:             6 * time.Hour,
		GCFinalizedMargin:      24 * time.Hour,
		GCOrphanMargin:         7 * 24 * time.Hour,
		ElementSyncInterval:    60 * time.Second,
		OfflineThreshold:       3,
		LogLevel:               "info",
		LogJSON:                true,
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyString(&cfg.ListenAddr, "ADMIN_LISTEN_ADDR")
	applyString(&cfg.DatabaseURL, "DATABASE_URL")
	applyString(&cfg.RedisAddr, "REDIS_ADDR")
	applyString(&cfg.RedisPassword, "REDIS_PASSWORD")
	applyString(&cfg.JWTAlgorithm, "JWT_ALGORITHM")
	applyMinutes(&cfg.AccessTokenTTL, "JWT_ACCESS_TOKEN_EXPIRE_MINUTES")
	applyDays(&cfg.RefreshTokenTTL, "JWT_REFRESH_TOKEN_EXPIRE_DAYS")
	applyHours(&cfg.KeyRotationInterval, "JWT_KEY_ROTATION_HOURS")
	applyString(&cfg.PublicKeyExportPath, "JWT_PUBLIC_KEY_EXPORT_PATH")
	applyString(&cfg.InitialAdminUsername, "INITIAL_ADMIN_USERNAME")
	applyString(&cfg.InitialAdminEmail, "INITIAL_ADMIN_EMAIL")
	applyString(&cfg.InitialAdminPassword, "INITIAL_ADMIN_PASSWORD")
	applyString(&cfg.InitialAccountName, "INITIAL_ACCOUNT_NAME")
	applyString(&cfg.InitialAccountSecret, "INITIAL_ACCOUNT_SECRET")
	applyString(&cfg.Environment, "ENVIRONMENT")
	applyHours(&cfg.GCInterval, "SCHEDULER_GC_INTERVAL_HOURS")
	applySeconds(&cfg.ElementSyncInterval, "ELEMENT_SYNC_INTERVAL")
	applyInt(&cfg.OfflineThreshold, "ELEMENT_OFFLINE_THRESHOLD")
	applyString(&cfg.LogLevel, "LOG_LEVEL")

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTAlgorithm != "RS256" {
		return nil, fmt.Errorf("unsupported JWT algorithm %q, only RS256 is supported", cfg.JWTAlgorithm)
	}
	return cfg, nil
}

func applyMinutes(dst *time.Duration, key string) {
	var n int
	applyInt(&n, key)
	if n > 0 {
		*dst = time.Duration(n) * time.Minute
	}
}

func applyHours(dst *time.Duration, key string) {
	var n int
	applyInt(&n, key)
	if n > 0 {
		*dst = time.Duration(n) * time.Hour
	}
}

func applyDays(dst *time.Duration, key string) {
	var n int
	applyInt(&n, key)
	if n > 0 {
		*dst = time.Duration(n) * 24 * time.Hour
	}
}
