package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLite tolerates exactly one writer; reads scale out under WAL. The read
// pool is sized for the handler concurrency of a small deployment.
const (
	writePoolSize = 1
	readPoolSize  = 10
	busyTimeoutMS = 5000
)

// SQLiteStore implements Store using SQLite with WAL mode and dual
// connection pools (single writer, multiple readers).
type SQLiteStore struct {
	readDB  *sql.DB
	writeDB *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath with WAL mode,
// runs any pending migrations, and returns a ready-to-use store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// The database file holds wrapped keys and verifier hashes; create it
	// owner-only before the driver gets a chance to use looser permissions.
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		f, err := os.OpenFile(dbPath, os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			return nil, fmt.Errorf("creating database file: %w", err)
		}
		f.Close()
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(%d)&_pragma=synchronous(normal)&_pragma=foreign_keys(on)",
		dbPath, busyTimeoutMS)

	writeDB, err := openPool(dsn+"&_txlock=immediate", writePoolSize)
	if err != nil {
		return nil, fmt.Errorf("opening write pool: %w", err)
	}
	readDB, err := openPool(dsn, readPoolSize)
	if err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("opening read pool: %w", err)
	}

	if err := migrate(writeDB); err != nil {
		readDB.Close()
		writeDB.Close()
		return nil, err
	}

	slog.Info("database initialized", "path", dbPath)
	return &SQLiteStore{readDB: readDB, writeDB: writeDB}, nil
}

// openPool opens a connection pool for the shared DSN and verifies it.
func openPool(dsn string, size int) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(size)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// migrate applies pending goose migrations through the write pool.
func migrate(db *sql.DB) error {
	// fs.Sub strips the "migrations" prefix so goose sees *.sql at root level.
	migrations, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("accessing embedded migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, migrations)
	if err != nil {
		return fmt.Errorf("creating migration provider: %w", err)
	}
	results, err := provider.Up(context.Background())
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	for _, r := range results {
		slog.Info("migration applied",
			"version", r.Source.Version,
			"path", r.Source.Path,
			"duration", r.Duration,
		)
	}
	return nil
}

// Close shuts down both connection pools. The write pool is closed first.
func (s *SQLiteStore) Close() error {
	writeErr := s.writeDB.Close()
	readErr := s.readDB.Close()
	if writeErr != nil {
		return fmt.Errorf("closing write connection: %w", writeErr)
	}
	if readErr != nil {
		return fmt.Errorf("closing read connection: %w", readErr)
	}
	return nil
}

// Ping verifies database connectivity using the read pool.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.readDB.PingContext(ctx)
}

// offset converts a 1-based page number into a LIMIT offset.
func offset(page, pageSize int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * pageSize
}
