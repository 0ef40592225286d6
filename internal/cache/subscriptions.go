// Package cache implements the realtime prompt/objective cache.
//
// This file implements subscription bookkeeping: at most one live store
// subscription per cached document, torn down when the entry is evicted.
package cache

import (
	"log/slog"
	"sync"

	"github.com/pathlight-ai/pathlight/internal/configstore"
)

// subscriptionManager owns the live store subscriptions for cached entries
// plus the manifest. It guarantees at most one active subscription per
// logical id and leaves no dangling listeners after drop/dropAll.
type subscriptionManager struct {
	store configstore.Store

	mu   sync.Mutex
	subs map[string]func()
}

func newSubscriptionManager(store configstore.Store) *subscriptionManager {
	return &subscriptionManager{store: store, subs: make(map[string]func())}
}

// ensure opens a subscription for (collection, id) if none exists. docKey is
// the store document key, which may differ from the logical id for
// historical documents. Subscription failures are logged and swallowed: the
// cache degrades to serving possibly-stale data rather than failing callers.
func (m *subscriptionManager) ensure(collection, id, docKey string, fn configstore.ChangeHandler) {
	key := subscriptionKey(collection, id)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[key]; ok {
		return
	}
	unsub, err := m.store.Subscribe(collection, docKey, fn)
	if err != nil {
		slog.Error("subscriptionManager failed to subscribe", "error", err, "collection", collection, "id", id, "docKey", docKey)
		return
	}
	m.subs[key] = unsub
	slog.Debug("subscriptionManager subscribed", "collection", collection, "id", id, "active", len(m.subs))
}

// drop unsubscribes and forgets the subscription for (collection, id).
func (m *subscriptionManager) drop(collection, id string) {
	key := subscriptionKey(collection, id)
	m.mu.Lock()
	unsub, ok := m.subs[key]
	delete(m.subs, key)
	m.mu.Unlock()
	if ok {
		unsub()
		slog.Debug("subscriptionManager unsubscribed", "collection", collection, "id", id)
	}
}

// dropAll unsubscribes everything, including the manifest subscription.
func (m *subscriptionManager) dropAll() {
	m.mu.Lock()
	subs := m.subs
	m.subs = make(map[string]func())
	m.mu.Unlock()
	for _, unsub := range subs {
		unsub()
	}
	slog.Debug("subscriptionManager dropped all subscriptions", "count", len(subs))
}

// count reports the number of live subscriptions. Subscription count is
// coupled to cache capacity: entries only hold a subscription while cached,
// so it can never exceed the two cache capacities plus the manifest.
func (m *subscriptionManager) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

func subscriptionKey(collection, id string) string {
	return collection + "/" + id
}
