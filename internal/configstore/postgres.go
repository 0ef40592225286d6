// Package configstore provides client access to the remote configuration
// store that backs the prompt cache.
//
// This file implements the PostgreSQL-backed store. Change notifications
// ride LISTEN/NOTIFY: a trigger fires on every document write, and a
// pq.Listener dispatches the changed document to subscribers, so pushes
// reach every connected node, not just the writer.
package configstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "embed"

	"github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute

	// notifyChannel is the LISTEN/NOTIFY channel used by the document trigger.
	notifyChannel = "pathlight_config"
	// listenerMinReconnect and listenerMaxReconnect bound the pq.Listener
	// reconnect backoff.
	listenerMinReconnect = 10 * time.Second
	listenerMaxReconnect = time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is a PostgreSQL-backed Store with push notifications.
type PostgresStore struct {
	db       *sql.DB
	listener *pq.Listener
	notifier *notifier
	done     chan struct{}
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	listener := pq.NewListener(dsn, listenerMinReconnect, listenerMaxReconnect, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			slog.Error("PostgresStore listener event", "event", ev, "error", err)
		}
	})
	if err := listener.Listen(notifyChannel); err != nil {
		listener.Close()
		slog.Error("PostgresStore failed to LISTEN", "error", err, "channel", notifyChannel)
		return nil, fmt.Errorf("failed to listen on %s: %w", notifyChannel, err)
	}

	s := &PostgresStore{
		db:       db,
		listener: listener,
		notifier: newNotifier(),
		done:     make(chan struct{}),
	}
	go s.dispatchNotifications()
	return s, nil
}

// dispatchNotifications converts NOTIFY payloads into document pushes. The
// payload is "collection|key"; the current document is re-read so
// subscribers always receive the latest content (last-write-wins).
func (s *PostgresStore) dispatchNotifications() {
	for {
		select {
		case <-s.done:
			return
		case n := <-s.listener.Notify:
			if n == nil {
				// nil is delivered after a reconnect; watched documents may
				// have changed while disconnected, but the manifest diff is
				// the catch-all for that window.
				slog.Debug("PostgresStore listener reconnected")
				continue
			}
			collection, key, ok := strings.Cut(n.Extra, "|")
			if !ok {
				slog.Error("PostgresStore malformed notification payload", "payload", n.Extra)
				continue
			}
			doc, err := s.Read(context.Background(), collection, key)
			if err != nil {
				slog.Error("PostgresStore failed to read notified document", "error", err, "collection", collection, "key", key)
				continue
			}
			if doc == nil {
				continue
			}
			s.notifier.notify(*doc)
		}
	}
}

// Read returns the document at (collection, key), or nil if absent.
func (s *PostgresStore) Read(ctx context.Context, collection, key string) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT collection, key, data, updated_at FROM documents WHERE collection = $1 AND key = $2`,
		collection, key)
	doc, err := scanDocumentRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore Read failed", "error", err, "collection", collection, "key", key)
		return nil, fmt.Errorf("failed to read document %s/%s: %w", collection, key, err)
	}
	return doc, nil
}

// Query returns documents whose top-level JSON field equals value.
func (s *PostgresStore) Query(ctx context.Context, collection, field, value string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT collection, key, data, updated_at FROM documents
		 WHERE collection = $1 AND data ->> $2 = $3
		 ORDER BY key`,
		collection, field, value)
	if err != nil {
		slog.Error("PostgresStore Query failed", "error", err, "collection", collection, "field", field)
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	return collectDocuments(rows)
}

// List returns every document in a collection in key order.
func (s *PostgresStore) List(ctx context.Context, collection string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT collection, key, data, updated_at FROM documents WHERE collection = $1 ORDER BY key`,
		collection)
	if err != nil {
		slog.Error("PostgresStore List failed", "error", err, "collection", collection)
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return collectDocuments(rows)
}

// Put inserts or replaces a document. The documents_notify trigger fires the
// push to every listening node, including this one.
func (s *PostgresStore) Put(ctx context.Context, collection, key string, data json.RawMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, key, data, updated_at) VALUES ($1, $2, $3, now())
		 ON CONFLICT (collection, key) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		collection, key, string(data))
	if err != nil {
		slog.Error("PostgresStore Put failed", "error", err, "collection", collection, "key", key)
		return fmt.Errorf("failed to put document %s/%s: %w", collection, key, err)
	}
	slog.Debug("PostgresStore Put succeeded", "collection", collection, "key", key)
	return nil
}

// Delete removes a document if present.
func (s *PostgresStore) Delete(ctx context.Context, collection, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = $1 AND key = $2`, collection, key)
	if err != nil {
		slog.Error("PostgresStore Delete failed", "error", err, "collection", collection, "key", key)
		return fmt.Errorf("failed to delete document %s/%s: %w", collection, key, err)
	}
	return nil
}

// Subscribe registers fn for changes to (collection, key).
func (s *PostgresStore) Subscribe(collection, key string, fn ChangeHandler) (func(), error) {
	return s.notifier.subscribe(collection, key, fn), nil
}

// Close stops the notification dispatcher and closes connections.
func (s *PostgresStore) Close() error {
	close(s.done)
	s.notifier.clear()
	if err := s.listener.Close(); err != nil {
		slog.Error("PostgresStore listener close failed", "error", err)
	}
	return s.db.Close()
}
