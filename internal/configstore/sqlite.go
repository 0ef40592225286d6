// Package configstore provides client access to the remote configuration
// store that backs the prompt cache.
//
// This file implements the SQLite-backed store for single-node deployments.
// SQLite has no cross-process push transport, so change notifications are
// delivered through the in-process notifier: every write goes through Put,
// which fans the new document out to subscribers in the same process.
package configstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is a SQLite-backed Store.
type SQLiteStore struct {
	db       *sql.DB
	notifier *notifier
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db, notifier: newNotifier()}, nil
}

// Read returns the document at (collection, key), or nil if absent.
func (s *SQLiteStore) Read(ctx context.Context, collection, key string) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT collection, key, data, updated_at FROM documents WHERE collection = ? AND key = ?`,
		collection, key)
	doc, err := scanDocumentRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore Read failed", "error", err, "collection", collection, "key", key)
		return nil, fmt.Errorf("failed to read document %s/%s: %w", collection, key, err)
	}
	return doc, nil
}

// Query returns documents whose top-level JSON field equals value, using the
// JSON1 extension.
func (s *SQLiteStore) Query(ctx context.Context, collection, field, value string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT collection, key, data, updated_at FROM documents
		 WHERE collection = ? AND json_extract(data, '$.' || ?) = ?
		 ORDER BY key`,
		collection, field, value)
	if err != nil {
		slog.Error("SQLiteStore Query failed", "error", err, "collection", collection, "field", field)
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	return collectDocuments(rows)
}

// List returns every document in a collection in key order.
func (s *SQLiteStore) List(ctx context.Context, collection string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT collection, key, data, updated_at FROM documents WHERE collection = ? ORDER BY key`,
		collection)
	if err != nil {
		slog.Error("SQLiteStore List failed", "error", err, "collection", collection)
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return collectDocuments(rows)
}

// Put inserts or replaces a document and notifies in-process subscribers.
func (s *SQLiteStore) Put(ctx context.Context, collection, key string, data json.RawMessage) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, key, data, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(collection, key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		collection, key, string(data), now)
	if err != nil {
		slog.Error("SQLiteStore Put failed", "error", err, "collection", collection, "key", key)
		return fmt.Errorf("failed to put document %s/%s: %w", collection, key, err)
	}

	s.notifier.notify(Document{
		Collection: collection,
		Key:        key,
		Data:       append(json.RawMessage(nil), data...),
		UpdatedAt:  now,
	})
	slog.Debug("SQLiteStore Put succeeded", "collection", collection, "key", key)
	return nil
}

// Delete removes a document if present.
func (s *SQLiteStore) Delete(ctx context.Context, collection, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND key = ?`, collection, key)
	if err != nil {
		slog.Error("SQLiteStore Delete failed", "error", err, "collection", collection, "key", key)
		return fmt.Errorf("failed to delete document %s/%s: %w", collection, key, err)
	}
	return nil
}

// Subscribe registers fn for changes to (collection, key). Notifications
// cover writes made through this store instance only.
func (s *SQLiteStore) Subscribe(collection, key string, fn ChangeHandler) (func(), error) {
	return s.notifier.subscribe(collection, key, fn), nil
}

// Close drops subscriptions and closes the database.
func (s *SQLiteStore) Close() error {
	s.notifier.clear()
	return s.db.Close()
}
