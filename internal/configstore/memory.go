// Package configstore provides client access to the remote configuration
// store that backs the prompt cache.
//
// This file implements the in-memory backend used by tests and local
// development.
package configstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store. Writes notify in-process subscribers.
type MemoryStore struct {
	notifier *notifier

	mu   sync.RWMutex
	docs map[string]map[string]Document
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		notifier: newNotifier(),
		docs:     make(map[string]map[string]Document),
	}
}

// Read returns the document at (collection, key), or nil if absent.
func (s *MemoryStore) Read(ctx context.Context, collection, key string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[collection][key]
	if !ok {
		return nil, nil
	}
	return &doc, nil
}

// Query returns documents whose top-level JSON field equals value.
func (s *MemoryStore) Query(ctx context.Context, collection, field, value string) ([]Document, error) {
	docs, err := s.List(ctx, collection)
	if err != nil {
		return nil, err
	}
	var out []Document
	for _, doc := range docs {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(doc.Data, &fields); err != nil {
			slog.Debug("MemoryStore Query skipping non-object document", "collection", collection, "key", doc.Key)
			continue
		}
		var fv string
		if raw, ok := fields[field]; ok && json.Unmarshal(raw, &fv) == nil && fv == value {
			out = append(out, doc)
		}
	}
	return out, nil
}

// List returns every document in a collection in key order.
func (s *MemoryStore) List(ctx context.Context, collection string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	coll := s.docs[collection]
	keys := make([]string, 0, len(coll))
	for k := range coll {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Document, 0, len(keys))
	for _, k := range keys {
		out = append(out, coll[k])
	}
	return out, nil
}

// Put inserts or replaces a document and notifies subscribers.
func (s *MemoryStore) Put(ctx context.Context, collection, key string, data json.RawMessage) error {
	doc := Document{
		Collection: collection,
		Key:        key,
		Data:       append(json.RawMessage(nil), data...),
		UpdatedAt:  time.Now(),
	}
	s.mu.Lock()
	if s.docs[collection] == nil {
		s.docs[collection] = make(map[string]Document)
	}
	s.docs[collection][key] = doc
	s.mu.Unlock()

	s.notifier.notify(doc)
	slog.Debug("MemoryStore Put succeeded", "collection", collection, "key", key)
	return nil
}

// Delete removes a document if present.
func (s *MemoryStore) Delete(ctx context.Context, collection, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs[collection], key)
	return nil
}

// Subscribe registers fn for changes to (collection, key).
func (s *MemoryStore) Subscribe(collection, key string, fn ChangeHandler) (func(), error) {
	return s.notifier.subscribe(collection, key, fn), nil
}

// Close drops all subscriptions.
func (s *MemoryStore) Close() error {
	s.notifier.clear()
	return nil
}
