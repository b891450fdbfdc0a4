// Package storedb provides the single PostgreSQL connection and embedded
// migration set shared by the state store, the audit trail, and failure
// memory, using direct pgx/v5 queries rather than a generated ORM
// client.
package storedb

import (
	"context"
	stdsql "database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
)

//go:embed migrations
var migrationsFS embed.FS

// Config holds connection parameters for the shared Overlord database.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns conservative pool sizing for a single-Overlord
// deployment.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            5432,
		User:            "overlord",
		Database:        "overlord",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	}
}

// DB wraps a database/sql handle over the pgx driver with migrations
// already applied.
type DB struct {
	conn *stdsql.DB
}

// Conn exposes the underlying *sql.DB for callers that build their own
// prepared queries (pkg/store, pkg/audit, pkg/failure).
func (d *DB) Conn() *stdsql.DB { return d.conn }

// Close closes the underlying connection pool.
func (d *DB) Close() error { return d.conn.Close() }

// Open connects to Postgres, applies every pending embedded migration, and
// returns a ready-to-use DB.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	conn, err := stdsql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("storedb: open: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("storedb: ping: %w", err)
	}

	if err := runMigrations(conn, cfg.Database); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("storedb: migrate: %w", err)
	}

	return &DB{conn: conn}, nil
}

// FromConn wraps a pre-built *sql.DB (used by tests against a
// testcontainers-managed Postgres) without re-running migrations, which the
// caller is expected to have applied already via Migrate.
func FromConn(conn *stdsql.DB) *DB {
	return &DB{conn: conn}
}

// Migrate applies every pending embedded migration against conn. Exposed
// separately so integration tests can apply migrations against a
// testcontainers database before wrapping it with FromConn.
func Migrate(conn *stdsql.DB, databaseName string) error {
	return runMigrations(conn, databaseName)
}

func runMigrations(conn *stdsql.DB, databaseName string) error {
	driver, err := postgres.WithInstance(conn, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, databaseName, driver)
	if err != nil {
		return fmt.Errorf("migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
