// Package config loads and validates the SOAR engine's boot-time
// environment configuration (spec §6 "Configuration environment ...
// All boot-time; no hot-reload"), mirroring the teacher's
// pkg/config/validator.go and pkg/database/config.go: typed sub-configs,
// environment loading with sane defaults, and fail-fast Validate().
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config aggregates every sub-config the engine needs at boot.
type Config struct {
	Database  *DatabaseConfig
	Engine    *EngineConfig
	Security  *SecurityConfig
	Approval  *ApprovalConfig
	Retention *RetentionConfig

	// JWTSecret verifies (never issues, per spec §1) operator bearer
	// tokens on the approval-decision and security-observability
	// endpoints.
	JWTSecret string

	// HTTPPort is the port internal/httpapi listens on.
	HTTPPort string

	// AWSRegion is the region the audit cold-archiver's S3 client is
	// configured for; the bucket comes from Retention.ArchiveS3Bucket.
	AWSRegion string
}

// Load reads the SOAR engine configuration from environment variables,
// optionally preceded by a .env file in envDir (mirrors cmd/tarsy/main.go's
// godotenv.Load call: a missing .env is a warning, not a fatal error,
// since production environments inject vars directly).
func Load(envDir string) (*Config, error) {
	if envDir != "" {
		envPath := envDir + "/.env"
		if err := godotenv.Load(envPath); err != nil {
			fmt.Fprintf(os.Stderr, "config: could not load %s, continuing with existing environment\n", envPath)
		}
	}

	db, err := loadDatabaseConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Database:  db,
		Engine:    DefaultEngineConfig(),
		Security:  applyTrustedIPs(DefaultSecurityConfig()),
		Approval:  DefaultApprovalConfig(),
		Retention: applyArchiveBucket(DefaultRetentionConfig()),
		JWTSecret: os.Getenv("JWT_SECRET"),
		HTTPPort:  getEnvOrDefault("HTTP_PORT", "8080"),
		AWSRegion: getEnvOrDefault("AWS_REGION", "us-east-1"),
	}

	if err := NewValidator(cfg).Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDatabaseConfig() (*DatabaseConfig, error) {
	cfg := DefaultDatabaseConfig()

	if url := os.Getenv("DATABASE_URL"); url != "" {
		// A full DSN/URL is accepted as-is; the pgx stdlib driver parses
		// either libpq keyword/value or URL form, so store it verbatim
		// and have DSN() short-circuit to it.
		cfg.databaseURL = url
	}

	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%w: DB_PORT: %v", ErrInvalidValue, err)
		}
		cfg.Port = port
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.User = v
	}
	cfg.Password = os.Getenv("DB_PASSWORD")
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.Database = v
	}
	if v := os.Getenv("DB_SSLMODE"); v != "" {
		cfg.SSLMode = v
	}
	if v := os.Getenv("DB_MAX_OPEN_CONNS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%w: DB_MAX_OPEN_CONNS: %v", ErrInvalidValue, err)
		}
		cfg.MaxOpenConns = n
	}
	if v := os.Getenv("DB_MAX_IDLE_CONNS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%w: DB_MAX_IDLE_CONNS: %v", ErrInvalidValue, err)
		}
		cfg.MaxIdleConns = n
	}
	return cfg, nil
}

func applyTrustedIPs(sec *SecurityConfig) *SecurityConfig {
	raw := os.Getenv("WEBHOOK_TRUSTED_IPS")
	if raw == "" {
		return sec
	}
	for _, ip := range strings.Split(raw, ",") {
		ip = strings.TrimSpace(ip)
		if ip != "" {
			sec.TrustedIPs = append(sec.TrustedIPs, ip)
		}
	}
	return sec
}

func applyArchiveBucket(r *RetentionConfig) *RetentionConfig {
	if bucket := os.Getenv("AUDIT_ARCHIVE_S3_BUCKET"); bucket != "" {
		r.ArchiveS3Bucket = bucket
	}
	return r
}

func getEnvOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
