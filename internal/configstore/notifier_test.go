package configstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"
)

func waitForDeliveries(t *testing.T, count func() int, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if count() >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected %d deliveries, got %d", want, count())
}

// Cached entries are refreshed last-write-wins, which is only sound if a
// subscriber sees writes to one key in the order they were made. Hammer one
// key with ordered writes and verify the handler observes no inversions and
// ends on the final value.
func TestMemoryStoreSubscribeDeliveryOrdered(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	const writes = 500

	var mu sync.Mutex
	var seen []int
	unsub, err := s.Subscribe(CollectionObjectives, "obj1", func(doc Document) {
		var payload struct {
			N int `json:"n"`
		}
		if err := json.Unmarshal(doc.Data, &payload); err != nil {
			t.Errorf("malformed pushed document: %v", err)
			return
		}
		mu.Lock()
		seen = append(seen, payload.N)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer unsub()

	for i := 0; i < writes; i++ {
		s.Put(ctx, CollectionObjectives, "obj1", json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)))
	}

	waitForDeliveries(t, func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(seen)
	}, writes)

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(seen); i++ {
		if seen[i] < seen[i-1] {
			t.Fatalf("delivery inversion at %d: %d after %d", i, seen[i], seen[i-1])
		}
	}
	if last := seen[len(seen)-1]; last != writes-1 {
		t.Errorf("expected final delivery %d, got %d", writes-1, last)
	}
}

// A handler that stalls on one key must not reorder or lose that key's
// later writes.
func TestNotifierSlowSubscriberStaysOrdered(t *testing.T) {
	n := newNotifier()

	var mu sync.Mutex
	var seen []string
	n.subscribe("c", "k", func(doc Document) {
		time.Sleep(time.Millisecond)
		mu.Lock()
		seen = append(seen, string(doc.Data))
		mu.Unlock()
	})

	for i := 0; i < 20; i++ {
		n.notify(Document{Collection: "c", Key: "k", Data: json.RawMessage(fmt.Sprintf(`%d`, i))})
	}

	waitForDeliveries(t, func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(seen)
	}, 20)

	mu.Lock()
	defer mu.Unlock()
	for i, v := range seen {
		if v != fmt.Sprintf("%d", i) {
			t.Fatalf("expected delivery %d at position %d, got %s", i, i, v)
		}
	}
}

func TestNotifierUnsubscribeDropsQueued(t *testing.T) {
	n := newNotifier()

	delivered := make(chan struct{}, 64)
	release := make(chan struct{})
	unsub := n.subscribe("c", "k", func(Document) {
		<-release
		delivered <- struct{}{}
	})

	// First notification blocks in the handler; the rest queue behind it.
	for i := 0; i < 5; i++ {
		n.notify(Document{Collection: "c", Key: "k"})
	}
	unsub()
	close(release)

	// Only the in-flight delivery may complete; the queue was dropped.
	time.Sleep(20 * time.Millisecond)
	if got := len(delivered); got > 1 {
		t.Errorf("expected at most 1 delivery after unsubscribe, got %d", got)
	}
}
