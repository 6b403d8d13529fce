package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/artstore/pkg/errdefs"
	"github.com/cuemby/artstore/pkg/types"
)

// SE holds the configuration of one storage element process. Values are
// read from the environment at startup and are immutable afterwards; an
// optional YAML file may pre-populate fields before the environment is
// applied on top.
type SE struct {
	ElementID   string            `yaml:"element_id"`
	DisplayName string            `yaml:"display_name"`
	Mode        types.Mode        `yaml:"mode"`
	StorageType types.StorageType `yaml:"storage_type"`
	BasePath    string            `yaml:"base_path"`

	ListenAddr    string `yaml:"listen_addr"`
	Endpoint      string `yaml:"endpoint"`
	DatabaseURL   string `yaml:"database_url"`
	TablePrefix   string `yaml:"table_prefix"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`

	MaxFileSizeBytes int64 `yaml:"max_file_size_bytes"`
	RetentionDays    int   `yaml:"retention_days"`
	Priority         int   `yaml:"priority"`
	WALEnabled       bool  `yaml:"wal_enabled"`
	WALRetentionDays int   `yaml:"wal_retention_days"`

	HealthReportInterval time.Duration `yaml:"health_report_interval"`
	HealthReportTTL      time.Duration `yaml:"health_report_ttl"`
	RebuildTimeout       time.Duration `yaml:"rebuild_timeout"`

	CacheTTLHours map[types.Mode]int `yaml:"cache_ttl_hours"`

	JWTPublicKeyPath string `yaml:"jwt_public_key_path"`
	AdminBaseURL     string `yaml:"admin_base_url"`

	// TicketDBPath holds the local restore ticket database; used only in
	// ar mode.
	TicketDBPath string `yaml:"ticket_db_path"`

	// S3 backend settings, ignored for local storage
	S3Bucket   string `yaml:"s3_bucket"`
	S3Region   string `yaml:"s3_region"`
	S3Endpoint string `yaml:"s3_endpoint"`
	// S3CapacityBytes declares the element capacity; S3 has no statvfs.
	S3CapacityBytes int64 `yaml:"s3_capacity_bytes"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// LoadSE reads storage element configuration from the optional YAML file
// at path (empty = skip) and then the environment.
func LoadSE(path string) (*SE, error) {
	cfg := &SE{
		DisplayName:          "ArtStore Storage Element",
		StorageType:          types.StorageTypeLocal,
		BasePath:             "/var/lib/artstore/objects",
		ListenAddr:           ":8080",
		TablePrefix:          "se",
		RedisAddr:            "localhost:6379",
		MaxFileSizeBytes:     10 << 30,
		RetentionDays:        365,
		Priority:             100,
		WALEnabled:           true,
		WALRetentionDays:     7,
		HealthReportInterval: 30 * time.Second,
		RebuildTimeout:       30 * time.Minute,
		TicketDBPath:         "/var/lib/artstore/tickets.db",
		CacheTTLHours:        map[types.Mode]int{},
		LogLevel:             "info",
		LogJSON:              true,
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

	applyString(&cfg.ElementID, "STORAGE_ELEMENT_ID")
	applyString(&cfg.DisplayName, "STORAGE_DISPLAY_NAME")
	applyMode(&cfg.Mode, "APP_MODE")
	applyStorageType(&cfg.StorageType, "STORAGE_TYPE")
	applyString(&cfg.BasePath, "STORAGE_BASE_PATH")
	applyString(&cfg.ListenAddr, "SE_LISTEN_ADDR")
	applyString(&cfg.Endpoint, "SE_ENDPOINT")
	applyString(&cfg.DatabaseURL, "DATABASE_URL")
	applyString(&cfg.TablePrefix, "DB_TABLE_PREFIX")
	applyString(&cfg.RedisAddr, "REDIS_ADDR")
	applyString(&cfg.RedisPassword, "REDIS_PASSWORD")
	applyInt64(&cfg.MaxFileSizeBytes, "STORAGE_MAX_SIZE")
	applyInt(&cfg.RetentionDays, "STORAGE_RETENTION_DAYS")
	applyInt(&cfg.Priority, "STORAGE_PRIORITY")
	applyBool(&cfg.WALEnabled, "WAL_ENABLED")
	applyInt(&cfg.WALRetentionDays, "WAL_RETENTION_DAYS")
	applySeconds(&cfg.HealthReportInterval, "STORAGE_HEALTH_REPORT_INTERVAL")
	applySeconds(&cfg.HealthReportTTL, "STORAGE_HEALTH_REPORT_TTL")
	applyString(&cfg.JWTPublicKeyPath, "JWT_PUBLIC_KEY_PATH")
	applyString(&cfg.AdminBaseURL, "ADMIN_BASE_URL")
	applyString(&cfg.TicketDBPath, "TICKET_DB_PATH")
	applyString(&cfg.S3Bucket, "S3_BUCKET")
	applyString(&cfg.S3Region, "S3_REGION")
	applyString(&cfg.S3Endpoint, "S3_ENDPOINT")
	applyInt64(&cfg.S3CapacityBytes, "S3_CAPACITY_BYTES")
	applyString(&cfg.LogLevel, "LOG_LEVEL")

	for _, m := range []types.Mode{types.ModeEdit, types.ModeRW, types.ModeRO, types.ModeAR} {
		if v := os.Getenv("CACHE_TTL_HOURS_" + modeEnvSuffix(m)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("invalid CACHE_TTL_HOURS_%s: %w", modeEnvSuffix(m), err)
			}
			cfg.CacheTTLHours[m] = n
		}
	}

	if cfg.HealthReportTTL == 0 {
		cfg.HealthReportTTL = 3 * cfg.HealthReportInterval
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for startup errors
func (c *SE) Validate() error {
	if c.ElementID == "" {
		return fmt.Errorf("STORAGE_ELEMENT_ID is required")
	}
	if !c.Mode.Valid() {
		return errdefs.Newf(errdefs.KindInvalidTransition, "invalid mode %q", c.Mode)
	}
	if c.StorageType != types.StorageTypeLocal && c.StorageType != types.StorageTypeS3 {
		return fmt.Errorf("invalid storage type %q", c.StorageType)
	}
	if c.StorageType == types.StorageTypeS3 && c.S3Bucket == "" {
		return fmt.Errorf("S3_BUCKET is required for s3 storage")
	}
	if c.StorageType == types.StorageTypeS3 && c.S3CapacityBytes <= 0 {
		return fmt.Errorf("S3_CAPACITY_BYTES must be positive for s3 storage")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.TablePrefix == "" {
		return fmt.Errorf("DB_TABLE_PREFIX is required")
	}
	if c.MaxFileSizeBytes <= 0 {
		return fmt.Errorf("STORAGE_MAX_SIZE must be positive")
	}
	if c.RetentionDays <= 0 {
		return fmt.Errorf("STORAGE_RETENTION_DAYS must be positive")
	}
	return nil
}

// CacheTTLHoursFor returns the configured cache TTL for a mode, falling
// back to the mode default.
func (c *SE) CacheTTLHoursFor(mode types.Mode) int {
	if h, ok := c.CacheTTLHours[mode]; ok && h > 0 {
		return h
	}
	return mode.DefaultCacheTTLHours()
}

func modeEnvSuffix(m types.Mode) string {
	switch m {
	case types.ModeEdit:
		return "EDIT"
	case types.ModeRW:
		return "RW"
	case types.ModeRO:
		return "RO"
	default:
		return "AR"
	}
}

func applyString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func applyInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func applyInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func applyBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func applySeconds(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(n) * time.Second
		}
	}
}

func applyMode(dst *types.Mode, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = types.Mode(v)
	}
}

func applyStorageType(dst *types.StorageType, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = types.StorageType(v)
	}
}
