package cache

import (
	"context"
	"testing"
	"time"

	"github.com/pathlight-ai/pathlight/internal/configstore"
	"github.com/pathlight-ai/pathlight/internal/models"
)

func newStartedCache(t *testing.T, store configstore.Store, opts Options) *PromptCache {
	t.Helper()
	pc, err := New(store, opts)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	pc.Start(context.Background())
	t.Cleanup(pc.Cleanup)
	return pc
}

// waitFor polls cond until true or the deadline passes. Pushes are delivered
// asynchronously, so tests poll for their effects.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

func TestNewRequiresStore(t *testing.T) {
	if _, err := New(nil, Options{}); err == nil {
		t.Error("expected error for nil store")
	}
}

func TestGetObjectiveMissThenHit(t *testing.T) {
	store := configstore.NewMemoryStore()
	putJSON(t, store, configstore.CollectionObjectives, "obj1", models.Objective{ID: "obj1", Purpose: "intro", Category: models.CategoryOnboarding})
	pc := newStartedCache(t, store, Options{})
	ctx := context.Background()

	obj, err := pc.GetObjective(ctx, "obj1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if obj == nil || obj.Purpose != "intro" {
		t.Fatalf("expected fetched objective, got %+v", obj)
	}

	obj, err = pc.GetObjective(ctx, "obj1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if obj == nil {
		t.Fatal("expected cached objective")
	}

	stats := pc.Stats()
	if stats.TotalMisses != 1 || stats.TotalHits != 1 {
		t.Errorf("expected 1 miss and 1 hit, got %+v", stats)
	}
	if stats.HitRate != 0.5 {
		t.Errorf("expected hit rate 0.5, got %f", stats.HitRate)
	}
	if stats.CacheSize != 1 {
		t.Errorf("expected one cached objective, got %d", stats.CacheSize)
	}
}

func TestGetObjectiveUnknownIsNil(t *testing.T) {
	pc := newStartedCache(t, configstore.NewMemoryStore(), Options{})
	obj, err := pc.GetObjective(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obj != nil {
		t.Errorf("expected nil for unknown objective, got %+v", obj)
	}
	if obj, _ := pc.GetObjective(context.Background(), ""); obj != nil {
		t.Errorf("expected nil for empty id, got %+v", obj)
	}
}

func TestGetObjectiveFallsBackToFieldQuery(t *testing.T) {
	store := configstore.NewMemoryStore()
	// Historical document keyed by an auto-generated id.
	putJSON(t, store, configstore.CollectionObjectives, "doc-4711", models.Objective{ID: "obj1", Purpose: "intro", Category: models.CategoryOnboarding})
	pc := newStartedCache(t, store, Options{})

	obj, err := pc.GetObjective(context.Background(), "obj1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if obj == nil || obj.ID != "obj1" {
		t.Fatalf("expected objective resolved via field query, got %+v", obj)
	}
}

func TestObjectivePushRefreshesCachedEntry(t *testing.T) {
	store := configstore.NewMemoryStore()
	putJSON(t, store, configstore.CollectionObjectives, "obj1", models.Objective{ID: "obj1", Purpose: "v1", Category: models.CategoryOnboarding})
	pc := newStartedCache(t, store, Options{})
	ctx := context.Background()

	if _, err := pc.GetObjective(ctx, "obj1"); err != nil {
		t.Fatalf("get failed: %v", err)
	}

	putJSON(t, store, configstore.CollectionObjectives, "obj1", models.Objective{ID: "obj1", Purpose: "v2", Category: models.CategoryOnboarding})
	waitFor(t, time.Second, func() bool {
		obj, _ := pc.GetObjective(ctx, "obj1")
		return obj != nil && obj.Purpose == "v2"
	}, "cached objective should pick up the pushed update")

	// The refresh must come from the push, not a store refetch on miss.
	if stats := pc.Stats(); stats.TotalMisses != 1 {
		t.Errorf("expected a single miss, got %+v", stats)
	}
}

func TestEvictionDropsSubscriptionAndIgnoresLatePush(t *testing.T) {
	store := configstore.NewMemoryStore()
	putJSON(t, store, configstore.CollectionObjectives, "obj1", models.Objective{ID: "obj1", Purpose: "v1", Category: models.CategoryOnboarding})
	putJSON(t, store, configstore.CollectionObjectives, "obj2", models.Objective{ID: "obj2", Purpose: "v1", Category: models.CategoryOnboarding})
	pc := newStartedCache(t, store, Options{Capacity: 1})
	ctx := context.Background()

	if _, err := pc.GetObjective(ctx, "obj1"); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	base := pc.SubscriptionCount() // manifest + obj1

	// Fetching obj2 evicts obj1 and must tear down its subscription.
	if _, err := pc.GetObjective(ctx, "obj2"); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got := pc.SubscriptionCount(); got != base {
		t.Errorf("expected subscription count to stay at %d after eviction, got %d", base, got)
	}
	if pc.objectives.contains("obj1") {
		t.Error("expected obj1 to be evicted")
	}

	// A late push for the evicted id must not resurrect it.
	pc.applyObjectivePush("obj1", configstore.Document{Key: "obj1", Data: []byte(`{"id":"obj1","purpose":"v2"}`)})
	if pc.objectives.contains("obj1") {
		t.Error("push resurrected an evicted entry")
	}
}

func TestManifestDiffRefreshesCachedObjectives(t *testing.T) {
	// Per-document subscriptions are suppressed so only the manifest diff
	// path can refresh the entry.
	store := &manifestOnlyStore{Store: configstore.NewMemoryStore()}
	putJSON(t, store, configstore.CollectionObjectives, "obj1", models.Objective{ID: "obj1", Purpose: "v1", Category: models.CategoryOnboarding})
	putJSON(t, store, configstore.CollectionObjectives, "obj2", models.Objective{ID: "obj2", Purpose: "v1", Category: models.CategoryOnboarding})
	putJSON(t, store, configstore.CollectionManifest, models.ManifestKey, models.Manifest{
		Version: 1,
		ActiveObjectives: map[string]models.ManifestEntry{
			"obj1": {Version: 1, Checksum: "aaaa"},
			"obj2": {Version: 1, Checksum: "bbbb"},
		},
	})
	pc := newStartedCache(t, store, Options{})
	ctx := context.Background()

	if _, err := pc.GetObjective(ctx, "obj1"); err != nil {
		t.Fatalf("get failed: %v", err)
	}

	// obj1 changes in the store and its manifest checksum moves; obj2's
	// checksum moves too but it was never cached, so it must not be fetched.
	putJSON(t, store, configstore.CollectionObjectives, "obj1", models.Objective{ID: "obj1", Purpose: "v2", Category: models.CategoryOnboarding})
	putJSON(t, store, configstore.CollectionManifest, models.ManifestKey, models.Manifest{
		Version: 2,
		ActiveObjectives: map[string]models.ManifestEntry{
			"obj1": {Version: 2, Checksum: "a2a2"},
			"obj2": {Version: 2, Checksum: "b2b2"},
		},
	})

	waitFor(t, time.Second, func() bool {
		obj, _ := pc.GetObjective(ctx, "obj1")
		return obj != nil && obj.Purpose == "v2"
	}, "manifest diff should refresh the cached objective")

	if m := pc.GetManifest(); m == nil || m.Version != 2 {
		t.Errorf("expected manifest snapshot to advance to version 2, got %+v", m)
	}
	if pc.objectives.contains("obj2") {
		t.Error("manifest diff must not fetch uncached ids")
	}
}

func TestManifestPushOnAdoptedDocumentKey(t *testing.T) {
	store := configstore.NewMemoryStore()
	// The well-known key is absent; bootstrap adopts the manifest under its
	// historical key, and pushes to that document must still drive refresh.
	putJSON(t, store, configstore.CollectionManifest, "manifest-v2", models.Manifest{
		Version: 2,
		ActiveObjectives: map[string]models.ManifestEntry{
			"obj1": {Version: 1, Checksum: "aaaa"},
		},
	})
	putJSON(t, store, configstore.CollectionObjectives, "obj1", models.Objective{ID: "obj1", Purpose: "v1", Category: models.CategoryOnboarding})
	pc := newStartedCache(t, store, Options{})
	ctx := context.Background()

	if m := pc.GetManifest(); m == nil || m.Version != 2 {
		t.Fatalf("expected adopted manifest version 2, got %+v", m)
	}
	if _, err := pc.GetObjective(ctx, "obj1"); err != nil {
		t.Fatalf("get failed: %v", err)
	}

	putJSON(t, store, configstore.CollectionObjectives, "obj1", models.Objective{ID: "obj1", Purpose: "v2", Category: models.CategoryOnboarding})
	putJSON(t, store, configstore.CollectionManifest, "manifest-v2", models.Manifest{
		Version: 3,
		ActiveObjectives: map[string]models.ManifestEntry{
			"obj1": {Version: 2, Checksum: "a2a2"},
		},
	})

	waitFor(t, time.Second, func() bool {
		m := pc.GetManifest()
		return m != nil && m.Version == 3
	}, "push to the adopted manifest document should reach the cache")
}

func TestGetDefaultTreeFallbackChain(t *testing.T) {
	store := configstore.NewMemoryStore()
	putJSON(t, store, configstore.CollectionTrees, models.DefaultTreeID, models.Tree{ID: models.DefaultTreeID, Name: "Onboarding"})
	putJSON(t, store, configstore.CollectionTrees, "manifest_default", models.Tree{ID: "manifest_default", Name: "Default"})
	putJSON(t, store, configstore.CollectionTrees, "student_tree", models.Tree{ID: "student_tree", Name: "Students"})
	putJSON(t, store, configstore.CollectionManifest, models.ManifestKey, models.Manifest{
		Version:      1,
		DefaultTree:  "manifest_default",
		PersonaTrees: map[string]string{"student": "student_tree"},
	})
	pc := newStartedCache(t, store, Options{})
	ctx := context.Background()

	tree, err := pc.GetDefaultTree(ctx, "student")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if tree == nil || tree.ID != "student_tree" {
		t.Errorf("expected persona-mapped tree, got %+v", tree)
	}

	tree, err = pc.GetDefaultTree(ctx, "unmapped_persona")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if tree == nil || tree.ID != "manifest_default" {
		t.Errorf("expected manifest default tree, got %+v", tree)
	}
}

func TestGetDefaultTreeWithoutManifest(t *testing.T) {
	store := configstore.NewMemoryStore()
	putJSON(t, store, configstore.CollectionTrees, models.DefaultTreeID, models.Tree{ID: models.DefaultTreeID})
	pc := newStartedCache(t, store, Options{})

	tree, err := pc.GetDefaultTree(context.Background(), "")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if tree == nil || tree.ID != models.DefaultTreeID {
		t.Errorf("expected well-known onboarding tree, got %+v", tree)
	}
}

func TestPreloadTreesFromManifestHints(t *testing.T) {
	store := configstore.NewMemoryStore()
	putJSON(t, store, configstore.CollectionTrees, models.DefaultTreeID, models.Tree{ID: models.DefaultTreeID})
	putJSON(t, store, configstore.CollectionManifest, models.ManifestKey, models.Manifest{
		Version: 1,
		Cache:   models.ManifestCacheHints{PreloadTrees: []string{models.DefaultTreeID}},
	})
	pc := newStartedCache(t, store, Options{PreloadTrees: true})

	if !pc.trees.isPreloaded(models.DefaultTreeID) {
		t.Error("expected hinted tree to be preloaded")
	}
	// A preloaded tree serves hits without a store round trip.
	if _, err := pc.GetTree(context.Background(), models.DefaultTreeID); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stats := pc.Stats(); stats.TotalMisses != 0 || stats.TotalHits != 1 {
		t.Errorf("expected preloaded hit, got %+v", stats)
	}
}

func TestGeneratePromptUnknownObjective(t *testing.T) {
	pc := newStartedCache(t, configstore.NewMemoryStore(), Options{})
	bundle, err := pc.GeneratePrompt(context.Background(), "missing", &models.ConversationState{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bundle != nil {
		t.Errorf("expected nil bundle for unknown objective, got %+v", bundle)
	}
}

func TestClearKeepsManifestSubscription(t *testing.T) {
	store := configstore.NewMemoryStore()
	putJSON(t, store, configstore.CollectionObjectives, "obj1", models.Objective{ID: "obj1", Purpose: "intro", Category: models.CategoryOnboarding})
	pc := newStartedCache(t, store, Options{})
	ctx := context.Background()

	if _, err := pc.GetObjective(ctx, "obj1"); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got := pc.SubscriptionCount(); got != 2 {
		t.Fatalf("expected manifest plus one document subscription, got %d", got)
	}

	pc.Clear()
	if got := pc.SubscriptionCount(); got != 1 {
		t.Errorf("expected only the manifest subscription to survive, got %d", got)
	}
	if pc.objectives.len() != 0 {
		t.Error("expected objectives cache to be empty")
	}
}

func TestCleanupIdempotent(t *testing.T) {
	store := configstore.NewMemoryStore()
	pc := newStartedCache(t, store, Options{})
	pc.Cleanup()
	pc.Cleanup()
	if got := pc.SubscriptionCount(); got != 0 {
		t.Errorf("expected no live subscriptions after cleanup, got %d", got)
	}
}

func TestWaitForReady(t *testing.T) {
	store := configstore.NewMemoryStore()
	pc, err := New(store, Options{})
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	t.Cleanup(pc.Cleanup)

	if pc.IsReady() {
		t.Error("expected cache to be not ready before Start")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := pc.WaitForReady(ctx); err == nil {
		t.Error("expected WaitForReady to time out before Start")
	}

	pc.Start(context.Background())
	if !pc.IsReady() {
		t.Error("expected cache to be ready after Start")
	}
	if err := pc.WaitForReady(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

// manifestOnlyStore suppresses per-document subscriptions so tests can
// isolate the manifest diff refresh path.
type manifestOnlyStore struct {
	configstore.Store
}

func (s *manifestOnlyStore) Subscribe(collection, key string, fn configstore.ChangeHandler) (func(), error) {
	if collection != configstore.CollectionManifest {
		return func() {}, nil
	}
	return s.Store.Subscribe(collection, key, fn)
}
