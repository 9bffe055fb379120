package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// Index represents the SQLite-backed durable email index
type Index struct {
	db     *sql.DB
	logger *logrus.Logger
}

// NewIndex opens (creating if necessary) the index database at dbPath
func NewIndex(dbPath string, logger *logrus.Logger) (*Index, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	idx := &Index{
		db:     db,
		logger: logger,
	}

	if err := idx.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.WithField("path", dbPath).Info("Email index initialized")
	return idx, nil
}

// initSchema initializes the database schema
func (i *Index) initSchema() error {
	if _, err := i.db.Exec(Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (i *Index) Close() error {
	if i.db != nil {
		return i.db.Close()
	}
	return nil
}

// DB returns the underlying database connection (for use in store.go)
func (i *Index) DB() *sql.DB {
	return i.db
}
