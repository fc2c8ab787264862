package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jonboulle/clockwork"
	_ "github.com/lib/pq"
	"github.com/mcdev12/planningpoker/go/internal/dbconfig"
	"github.com/mcdev12/planningpoker/go/internal/rooms"
	"github.com/mcdev12/planningpoker/go/internal/rooms/repository"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// sqlDriverName maps DB_DRIVER onto the database/sql driver name.
func sqlDriverName(driver string) (string, repository.Dialect, error) {
	switch driver {
	case dbconfig.DriverPostgres:
		return "postgres", repository.DialectPostgres, nil
	case dbconfig.DriverSQLite:
		return "sqlite", repository.DialectSQLite, nil
	default:
		return "", "", fmt.Errorf("driver %q is not a SQL database", driver)
	}
}

func setupDatabase(ctx context.Context, cfg dbconfig.Config) (*sql.DB, repository.Dialect, error) {
	driverName, dialect, err := sqlDriverName(cfg.Driver)
	if err != nil {
		return nil, "", err
	}

	database, err := sql.Open(driverName, cfg.DSN())
	if err != nil {
		return nil, "", fmt.Errorf("failed to create database connection: %w", err)
	}
	if dialect == repository.DialectSQLite {
		// one writer at a time
		database.SetMaxOpenConns(1)
	}

	if err := database.PingContext(ctx); err != nil {
		database.Close()
		return nil, "", fmt.Errorf("failed to ping database: %w", err)
	}

	if dialect == repository.DialectPostgres {
		log.Info().
			Str("host", cfg.Host).
			Int("port", cfg.Port).
			Str("database", cfg.Database).
			Msg("connected to database")
	} else {
		log.Info().Str("path", cfg.SQLitePath).Msg("opened sqlite database")
	}
	return database, dialect, nil
}

// setupStore returns the room store selected by DB_DRIVER and a func that
// releases it. SQLite schemas are created on the fly; Postgres expects the
// migrate command to have run.
func setupStore(ctx context.Context, cfg dbconfig.Config) (rooms.Repository, func() error, error) {
	clock := clockwork.NewRealClock()

	if cfg.Driver == dbconfig.DriverMemory {
		log.Warn().Msg("using in-memory room store; state is lost on restart and not shared between instances")
		return repository.NewMemoryStore(clock), func() error { return nil }, nil
	}

	database, dialect, err := setupDatabase(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if dialect == repository.DialectSQLite {
		if err := repository.CreateSchema(ctx, database, dialect); err != nil {
			database.Close()
			return nil, nil, err
		}
	}
	return repository.NewSQLStore(database, dialect, clock), database.Close, nil
}
