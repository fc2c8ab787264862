package dbconfig

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Supported values for DB_DRIVER.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds storage backend settings.
type Config struct {
	Driver     string `envconfig:"DB_DRIVER" default:"memory"`
	Host       string `envconfig:"DB_HOST" default:"localhost"`
	Port       int    `envconfig:"DB_PORT" default:"5432"`
	User       string `envconfig:"DB_USER" default:"postgres"`
	Password   string `envconfig:"DB_PASSWORD" default:"postgres"`
	Database   string `envconfig:"DB_NAME" default:"planningpoker"`
	SSLMode    string `envconfig:"DB_SSLMODE" default:"disable"`
	SQLitePath string `envconfig:"DB_SQLITE_PATH" default:"planningpoker.db"`
}

// NewConfigFromEnv reads DB_* environment variables (with defaults).
func NewConfigFromEnv() (Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return Config{}, fmt.Errorf("failed to read database config: %w", err)
	}
	switch c.Driver {
	case DriverMemory, DriverPostgres, DriverSQLite:
	default:
		return Config{}, fmt.Errorf("unsupported DB_DRIVER %q", c.Driver)
	}
	return c, nil
}

// DSN returns the connection string for the configured SQL driver.
func (c Config) DSN() string {
	if c.Driver == DriverSQLite {
		return SQLiteDSN(c.SQLitePath)
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// SQLiteDSN builds a modernc.org/sqlite DSN with foreign keys enforced.
func SQLiteDSN(path string) string {
	return fmt.Sprintf(
		"file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite",
		path,
	)
}
