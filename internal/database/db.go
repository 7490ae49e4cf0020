// Package database provides SQLite-backed persistence for aggregated
// events and per-source sync history. The schema is managed with goose
// migrations embedded in the binary.
package database

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Config holds database configuration.
type Config struct {
	DatabasePath string
}

// DB wraps the SQLite connection and its repositories.
type DB struct {
	conn *sql.DB

	// Repository persists aggregated events across cycles.
	Repository *EventsRepository
}

// NewDB opens (creating if needed) the SQLite database at the configured
// path and applies any pending migrations.
func NewDB(config Config) (*DB, error) {
	if config.DatabasePath == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if dir := filepath.Dir(config.DatabasePath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	// WAL keeps readers unblocked during sync writes. Times are stored
	// and scanned in UTC; display zones live in the timezone_name column.
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_loc=UTC", config.DatabasePath)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := runMigrations(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &DB{
		conn:       conn,
		Repository: NewEventsRepository(conn),
	}, nil
}

func runMigrations(conn *sql.DB) error {
	goose.SetBaseFS(embeddedMigrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.Up(conn, "migrations")
}

// Connection returns the underlying database connection for repositories
// constructed outside of NewDB.
func (db *DB) Connection() *sql.DB {
	return db.conn
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
