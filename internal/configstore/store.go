// Package configstore provides client access to the remote configuration
// store that backs the prompt cache.
//
// The store is an opaque document database: point reads by key, queries by
// a top-level JSON field, collection scans, and per-document subscriptions
// that push the current document whenever it changes. Three backends are
// provided: in-memory (tests and local development), SQLite (single-node
// persistent), and PostgreSQL (multi-node, LISTEN/NOTIFY driven pushes).
package configstore

import (
	"context"
	"encoding/json"
	"time"
)

// Collections used by the prompt cache.
const (
	// CollectionObjectives holds conversation objective documents.
	CollectionObjectives = "conversation_objectives"
	// CollectionTrees holds conversation tree documents.
	CollectionTrees = "conversation_trees"
	// CollectionManifest holds the manifest singleton (and any historical copies).
	CollectionManifest = "prompt_manifest"
)

// Document is one stored configuration document. Data is the raw JSON
// payload; the document key may differ from the domain id inside Data.
type Document struct {
	Collection string          `json:"collection"`
	Key        string          `json:"key"`
	Data       json.RawMessage `json:"data"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// ChangeHandler receives the current document whenever a watched document
// changes. Handlers are invoked on store-client goroutines and must be safe
// to run concurrently with reads and writes. For one subscription, documents
// arrive in the order the store emitted them; last-write-wins consumers
// depend on that.
type ChangeHandler func(doc Document)

// Store is the interface consumed by the cache layer.
type Store interface {
	// Read returns the document at (collection, key), or nil if absent.
	Read(ctx context.Context, collection, key string) (*Document, error)
	// Query returns all documents in collection whose top-level JSON field
	// equals value.
	Query(ctx context.Context, collection, field, value string) ([]Document, error)
	// List returns every document in a collection. Used by bootstrap scans.
	List(ctx context.Context, collection string) ([]Document, error)
	// Put inserts or replaces a document and notifies subscribers.
	Put(ctx context.Context, collection, key string, data json.RawMessage) error
	// Delete removes a document if present.
	Delete(ctx context.Context, collection, key string) error
	// Subscribe registers fn for changes to (collection, key) and returns an
	// unsubscribe function. Unsubscribing more than once is harmless.
	Subscribe(collection, key string, fn ChangeHandler) (func(), error)
	// Close releases backend resources.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option configures a store backend.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}
