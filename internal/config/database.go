package config

import (
	"strconv"
	"time"
)

// DatabaseConfig holds Postgres connection settings, reinterpreting the
// distilled spec's §6 MONGODB_URI as a Postgres DSN per SPEC_FULL Part B
// (the chosen persistence engine is Postgres via jackc/pgx, not Mongo).
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// databaseURL, when set via DATABASE_URL, takes precedence over the
	// individual Host/Port/... fields in DSN().
	databaseURL string
}

// DefaultDatabaseConfig returns production-reasonable connection-pool
// defaults; Host/User/Password/Database still need filling in from the
// environment.
func DefaultDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		Host:            "localhost",
		Port:            5432,
		User:            "soar",
		Database:        "soar",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 15 * time.Minute,
	}
}

// DSN renders the connection string pgx/v5/stdlib expects: the raw
// DATABASE_URL when one was supplied, else a libpq keyword/value string
// built from the individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.databaseURL != "" {
		return c.databaseURL
	}
	return "host=" + c.Host +
		" port=" + strconv.Itoa(c.Port) +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.Database +
		" sslmode=" + c.SSLMode
}
