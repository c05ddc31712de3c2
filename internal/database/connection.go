package database

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// DB is the process-wide database connection set by Connect
var DB *sqlx.DB

// Connect opens the database for dbType ("sqlite" or "postgres") and
// initializes the schema. For sqlite, dsn is the database file path.
func Connect(dbType, dsn string) (*sqlx.DB, error) {
	var (
		db  *sqlx.DB
		err error
	)

	switch dbType {
	case "", "sqlite", "sqlite3":
		if dsn == "" {
			dsn = filepath.Join("data", "masterybot.db")
		}
		// Create data directory if it doesn't exist
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		db, err = sqlx.Connect("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		// SQLite doesn't support multiple writers
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	case "postgres", "postgresql":
		db, err = sqlx.Connect("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		db.SetMaxOpenConns(10)
	default:
		return nil, fmt.Errorf("unsupported database type %q", dbType)
	}

	if err := initializeSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	DB = db
	return db, nil
}

// Close closes the database connection
func Close() error {
	if DB != nil {
		return DB.Close()
	}
	return nil
}

// initializeSchema creates necessary tables if they don't exist
func initializeSchema(db *sqlx.DB) error {
	// Create engine_states table
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS engine_states (
			device_id TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			state TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create engine_states table: %w", err)
	}

	// Create content_signatures table
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS content_signatures (
			kind TEXT NOT NULL,
			signature TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (kind, signature)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create content_signatures table: %w", err)
	}

	// Create content_embeddings table, one row per vector content hash
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS content_embeddings (
			hash TEXT PRIMARY KEY,
			vector TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create content_embeddings table: %w", err)
	}

	return nil
}
