// Package configstore provides client access to the remote configuration
// store that backs the prompt cache.
//
// This file implements the in-process change fan-out shared by the
// in-memory and SQLite backends, which have no external push transport.
package configstore

import (
	"log/slog"
	"sync"
)

// subscriber delivers documents to one handler in the order they were
// enqueued. A single drain goroutine runs at a time, so a handler never sees
// document N+1 before document N; last-write-wins consumers depend on that.
type subscriber struct {
	fn ChangeHandler

	mu       sync.Mutex
	queue    []Document
	draining bool
	closed   bool
}

// enqueue appends doc and starts the drain goroutine if none is running. The
// caller never blocks; a slow handler grows its own queue.
func (s *subscriber) enqueue(doc Document) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, doc)
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	s.mu.Unlock()
	go s.drain()
}

func (s *subscriber) drain() {
	for {
		s.mu.Lock()
		if s.closed || len(s.queue) == 0 {
			s.draining = false
			s.queue = nil
			s.mu.Unlock()
			return
		}
		doc := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		s.fn(doc)
	}
}

// close drops queued documents and stops further delivery.
func (s *subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.mu.Unlock()
}

// notifier fans a changed document out to subscribers of (collection, key).
// Delivery is asynchronous but per-subscriber ordered: each subscriber
// receives documents in the order notify was called.
type notifier struct {
	mu   sync.Mutex
	next int64
	subs map[string]map[int64]*subscriber
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[string]map[int64]*subscriber)}
}

func subKey(collection, key string) string {
	return collection + "/" + key
}

// subscribe registers fn and returns an idempotent unsubscribe function.
func (n *notifier) subscribe(collection, key string, fn ChangeHandler) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	sk := subKey(collection, key)
	if n.subs[sk] == nil {
		n.subs[sk] = make(map[int64]*subscriber)
	}
	n.next++
	id := n.next
	sub := &subscriber{fn: fn}
	n.subs[sk][id] = sub
	slog.Debug("configstore notifier subscribed", "collection", collection, "key", key, "subscribers", len(n.subs[sk]))
	return func() {
		n.mu.Lock()
		if handlers, ok := n.subs[sk]; ok {
			if sub, ok := handlers[id]; ok {
				sub.close()
				delete(handlers, id)
			}
			if len(handlers) == 0 {
				delete(n.subs, sk)
			}
		}
		n.mu.Unlock()
	}
}

// notify dispatches doc to every subscriber of its (collection, key).
// Documents are enqueued under the notifier lock, so every subscriber
// observes writes to one key in the same order.
func (n *notifier) notify(doc Document) {
	n.mu.Lock()
	for _, sub := range n.subs[subKey(doc.Collection, doc.Key)] {
		sub.enqueue(doc)
	}
	n.mu.Unlock()
}

// clear drops every subscription. Used on Close.
func (n *notifier) clear() {
	n.mu.Lock()
	for _, handlers := range n.subs {
		for _, sub := range handlers {
			sub.close()
		}
	}
	n.subs = make(map[string]map[int64]*subscriber)
	n.mu.Unlock()
}
