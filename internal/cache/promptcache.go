// Package cache implements the realtime prompt/objective cache.
//
// This file implements the PromptCache service object: the public surface
// the rest of the application consumes. It is constructed once at process
// start and passed by reference to consumers; there is no package-level
// mutable state.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pathlight-ai/pathlight/internal/assembler"
	"github.com/pathlight-ai/pathlight/internal/configstore"
	"github.com/pathlight-ai/pathlight/internal/models"
)

// Options configures a PromptCache. Zero values fall back to defaults.
type Options struct {
	// Capacity is the per-cache entry limit (objectives and trees sized
	// independently).
	Capacity int
	// TTL bounds how long an untouched entry counts as fresh.
	TTL time.Duration
	// PreloadTrees controls whether manifest preload hints are honored.
	PreloadTrees bool
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// PromptCache mirrors the remote configuration store's objectives and trees,
// kept fresh by manifest diffs and per-document push subscriptions, and
// derives per-turn prompt bundles from cached objectives.
type PromptCache struct {
	store configstore.Store
	opts  Options
	now   func() time.Time

	objectives *entryCache[*models.Objective]
	trees      *entryCache[*models.Tree]
	subs       *subscriptionManager

	// fetches coalesces concurrent misses for the same id into a single
	// in-flight store read.
	fetches singleflight.Group

	manifestMu sync.RWMutex
	manifest   *models.Manifest

	hits   atomic.Int64
	misses atomic.Int64

	startedAt time.Time
	ready     chan struct{}
	readyOnce sync.Once
	closeOnce sync.Once
}

// New creates a PromptCache over the given store. Call Start to bootstrap
// the manifest and begin receiving pushes.
func New(store configstore.Store, opts Options) (*PromptCache, error) {
	if store == nil {
		return nil, fmt.Errorf("config store is required")
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	pc := &PromptCache{
		store:     store,
		opts:      opts,
		now:       opts.Now,
		subs:      newSubscriptionManager(store),
		startedAt: opts.Now(),
		ready:     make(chan struct{}),
	}

	var err error
	pc.objectives, err = newEntryCache[*models.Objective](opts.Capacity, opts.TTL, pc.now, func(id string) {
		pc.subs.drop(configstore.CollectionObjectives, id)
	})
	if err != nil {
		return nil, err
	}
	pc.trees, err = newEntryCache[*models.Tree](opts.Capacity, opts.TTL, pc.now, func(id string) {
		pc.subs.drop(configstore.CollectionTrees, id)
	})
	if err != nil {
		return nil, err
	}

	slog.Debug("PromptCache created", "capacity", opts.Capacity, "ttl", opts.TTL)
	return pc, nil
}

// Start bootstraps the manifest, opens the manifest subscription, and honors
// preload hints. Bootstrap failures are logged, not returned: the cache
// stays usable in degraded mode (point reads still work; only proactive
// manifest refresh is unavailable).
func (pc *PromptCache) Start(ctx context.Context) {
	manifest, manifestKey, err := pc.loadManifest(ctx)
	if err != nil {
		slog.Error("PromptCache bootstrap failed, continuing degraded", "error", err)
	}
	if manifest != nil {
		pc.manifestMu.Lock()
		pc.manifest = manifest
		pc.manifestMu.Unlock()
	}

	if manifestKey == "" {
		manifestKey = models.ManifestKey
	}
	pc.subs.ensure(configstore.CollectionManifest, models.ManifestKey, manifestKey, pc.onManifestPush)

	if manifest != nil && pc.opts.PreloadTrees {
		pc.preloadTrees(ctx, manifest.Cache.PreloadTrees)
	}

	pc.readyOnce.Do(func() { close(pc.ready) })
	slog.Info("PromptCache started", "manifest_loaded", manifest != nil)
}

// WaitForReady blocks until bootstrap completes or ctx expires.
func (pc *PromptCache) WaitForReady(ctx context.Context) error {
	select {
	case <-pc.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsReady reports whether bootstrap has completed.
func (pc *PromptCache) IsReady() bool {
	select {
	case <-pc.ready:
		return true
	default:
		return false
	}
}

// GetObjective returns the objective for id: from cache when fresh,
// otherwise fetched from the store, cached, and subscribed. A nil objective
// with nil error means the objective does not exist; callers degrade to a
// default prompt.
func (pc *PromptCache) GetObjective(ctx context.Context, id string) (*models.Objective, error) {
	if id == "" {
		return nil, nil
	}
	if obj, ok := pc.objectives.get(id); ok {
		pc.hits.Add(1)
		return obj, nil
	}
	pc.misses.Add(1)

	v, err, _ := pc.fetches.Do("objective/"+id, func() (interface{}, error) {
		obj, docKey, err := pc.fetchObjective(ctx, id)
		if err != nil || obj == nil {
			return (*models.Objective)(nil), err
		}
		pc.objectives.put(id, obj)
		pc.subs.ensure(configstore.CollectionObjectives, id, docKey, func(doc configstore.Document) {
			pc.applyObjectivePush(id, doc)
		})
		return obj, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Objective), nil
}

// GetTree returns the tree for id, with the same semantics as GetObjective.
func (pc *PromptCache) GetTree(ctx context.Context, id string) (*models.Tree, error) {
	if id == "" {
		return nil, nil
	}
	if tree, ok := pc.trees.get(id); ok {
		pc.hits.Add(1)
		return tree, nil
	}
	pc.misses.Add(1)

	v, err, _ := pc.fetches.Do("tree/"+id, func() (interface{}, error) {
		tree, docKey, err := pc.fetchTree(ctx, id)
		if err != nil || tree == nil {
			return (*models.Tree)(nil), err
		}
		pc.trees.put(id, tree)
		pc.subs.ensure(configstore.CollectionTrees, id, docKey, func(doc configstore.Document) {
			pc.applyTreePush(id, doc)
		})
		return tree, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Tree), nil
}

// GetDefaultTree resolves the default conversation tree: the persona-mapped
// tree if one is flagged for persona, else the manifest's default, else the
// well-known onboarding tree.
func (pc *PromptCache) GetDefaultTree(ctx context.Context, persona string) (*models.Tree, error) {
	id := models.DefaultTreeID
	pc.manifestMu.RLock()
	if m := pc.manifest; m != nil {
		if persona != "" && m.PersonaTrees[persona] != "" {
			id = m.PersonaTrees[persona]
		} else if m.DefaultTree != "" {
			id = m.DefaultTree
		}
	}
	pc.manifestMu.RUnlock()
	return pc.GetTree(ctx, id)
}

// GeneratePrompt derives the prompt bundle for one turn of the conversation
// driven by objectiveID. A nil bundle means the objective does not exist.
func (pc *PromptCache) GeneratePrompt(ctx context.Context, objectiveID string, state *models.ConversationState) (*models.PromptBundle, error) {
	obj, err := pc.GetObjective(ctx, objectiveID)
	if err != nil {
		return nil, err
	}
	return assembler.Generate(obj, state), nil
}

// GetManifest returns the current manifest snapshot, or nil in degraded mode.
func (pc *PromptCache) GetManifest() *models.Manifest {
	pc.manifestMu.RLock()
	defer pc.manifestMu.RUnlock()
	return pc.manifest
}

// Stats returns a point-in-time snapshot of cache effectiveness.
func (pc *PromptCache) Stats() models.CacheStats {
	hits := pc.hits.Load()
	misses := pc.misses.Load()
	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return models.CacheStats{
		HitRate:       hitRate,
		TotalHits:     hits,
		TotalMisses:   misses,
		CacheSize:     pc.objectives.len(),
		TreeCacheSize: pc.trees.len(),
		UptimeMinutes: int64(pc.now().Sub(pc.startedAt) / time.Minute),
	}
}

// SubscriptionCount reports live store subscriptions, manifest included.
func (pc *PromptCache) SubscriptionCount() int {
	return pc.subs.count()
}

// InvalidateObjective evicts one objective and tears down its subscription.
func (pc *PromptCache) InvalidateObjective(id string) {
	pc.objectives.invalidate(id)
}

// InvalidateTree evicts one tree and tears down its subscription.
func (pc *PromptCache) InvalidateTree(id string) {
	pc.trees.invalidate(id)
}

// Clear empties both caches and their per-document subscriptions, keeping
// the manifest and its subscription. Used on logout and in tests.
func (pc *PromptCache) Clear() {
	pc.objectives.clear()
	pc.trees.clear()
	slog.Info("PromptCache cleared")
}

// Cleanup synchronously tears down every live subscription and empties both
// caches. Callers must invoke it on shutdown to avoid leaking listeners.
func (pc *PromptCache) Cleanup() {
	pc.closeOnce.Do(func() {
		pc.objectives.clear()
		pc.trees.clear()
		pc.subs.dropAll()
		slog.Info("PromptCache cleanup complete")
	})
}

// fetchObjective reads an objective by primary key, retrying once via a
// field query because historical documents may be keyed by an auto-generated
// id distinct from the domain id. It returns the store document key the
// objective lives under.
func (pc *PromptCache) fetchObjective(ctx context.Context, id string) (*models.Objective, string, error) {
	doc, err := pc.fetchDocument(ctx, configstore.CollectionObjectives, id)
	if err != nil || doc == nil {
		return nil, "", err
	}
	var obj models.Objective
	if err := json.Unmarshal(doc.Data, &obj); err != nil {
		slog.Error("PromptCache malformed objective document", "error", err, "id", id, "docKey", doc.Key)
		return nil, "", fmt.Errorf("malformed objective %s: %w", id, err)
	}
	if obj.ID == "" {
		obj.ID = id
	}
	return &obj, doc.Key, nil
}

// fetchTree reads a tree with the same two-step addressing as objectives.
func (pc *PromptCache) fetchTree(ctx context.Context, id string) (*models.Tree, string, error) {
	doc, err := pc.fetchDocument(ctx, configstore.CollectionTrees, id)
	if err != nil || doc == nil {
		return nil, "", err
	}
	var tree models.Tree
	if err := json.Unmarshal(doc.Data, &tree); err != nil {
		slog.Error("PromptCache malformed tree document", "error", err, "id", id, "docKey", doc.Key)
		return nil, "", fmt.Errorf("malformed tree %s: %w", id, err)
	}
	if tree.ID == "" {
		tree.ID = id
	}
	return &tree, doc.Key, nil
}

// fetchDocument is the shared two-step read: point read by key, then one
// retry querying the collection for a matching domain id field.
func (pc *PromptCache) fetchDocument(ctx context.Context, collection, id string) (*configstore.Document, error) {
	doc, err := pc.store.Read(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	if doc != nil {
		return doc, nil
	}

	slog.Debug("PromptCache point read missed, querying by id field", "collection", collection, "id", id)
	docs, err := pc.store.Query(ctx, collection, "id", id)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		slog.Debug("PromptCache document not found", "collection", collection, "id", id)
		return nil, nil
	}
	return &docs[0], nil
}

// applyObjectivePush applies a per-document push: last write wins, but only
// while the entry is still cached, so a push racing an eviction cannot
// resurrect an unsubscribed entry.
func (pc *PromptCache) applyObjectivePush(id string, doc configstore.Document) {
	if !pc.objectives.contains(id) {
		return
	}
	var obj models.Objective
	if err := json.Unmarshal(doc.Data, &obj); err != nil {
		slog.Error("PromptCache ignoring malformed objective push", "error", err, "id", id)
		return
	}
	if obj.ID == "" {
		obj.ID = id
	}
	pc.objectives.put(id, &obj)
	slog.Debug("PromptCache objective refreshed from push", "id", id)
}

// applyTreePush is the tree counterpart of applyObjectivePush.
func (pc *PromptCache) applyTreePush(id string, doc configstore.Document) {
	if !pc.trees.contains(id) {
		return
	}
	var tree models.Tree
	if err := json.Unmarshal(doc.Data, &tree); err != nil {
		slog.Error("PromptCache ignoring malformed tree push", "error", err, "id", id)
		return
	}
	if tree.ID == "" {
		tree.ID = id
	}
	pc.trees.put(id, &tree)
	slog.Debug("PromptCache tree refreshed from push", "id", id)
}

// onManifestPush diffs the pushed manifest against the previous snapshot and
// proactively re-fetches every changed id that is currently cached, keeping
// hot entries warm without caller-driven misses. Per-document subscriptions
// are the fast path; this is the catch-all.
func (pc *PromptCache) onManifestPush(doc configstore.Document) {
	next := decodeManifest(doc)
	if next == nil {
		return
	}

	pc.manifestMu.Lock()
	prev := pc.manifest
	pc.manifest = next
	pc.manifestMu.Unlock()

	changedObjectives, changedTrees := diffManifests(prev, next)
	slog.Debug("PromptCache manifest push", "version", next.Version, "changed_objectives", len(changedObjectives), "changed_trees", len(changedTrees))

	ctx := context.Background()
	for _, id := range changedObjectives {
		if !pc.objectives.contains(id) {
			continue
		}
		obj, _, err := pc.fetchObjective(ctx, id)
		if err != nil || obj == nil {
			slog.Error("PromptCache manifest refresh failed, keeping stale entry", "error", err, "id", id)
			continue
		}
		pc.objectives.put(id, obj)
		slog.Debug("PromptCache objective refreshed from manifest diff", "id", id)
	}
	for _, id := range changedTrees {
		if !pc.trees.contains(id) {
			continue
		}
		tree, _, err := pc.fetchTree(ctx, id)
		if err != nil || tree == nil {
			slog.Error("PromptCache manifest refresh failed, keeping stale entry", "error", err, "id", id)
			continue
		}
		pc.trees.put(id, tree)
		slog.Debug("PromptCache tree refreshed from manifest diff", "id", id)
	}
}

// preloadTrees eagerly fetches manifest-hinted trees and flags them.
func (pc *PromptCache) preloadTrees(ctx context.Context, ids []string) {
	for _, id := range ids {
		tree, docKey, err := pc.fetchTree(ctx, id)
		if err != nil || tree == nil {
			slog.Error("PromptCache tree preload failed", "error", err, "id", id)
			continue
		}
		pc.trees.putPreloaded(id, tree)
		pc.subs.ensure(configstore.CollectionTrees, id, docKey, func(doc configstore.Document) {
			pc.applyTreePush(id, doc)
		})
		slog.Debug("PromptCache tree preloaded", "id", id)
	}
}
