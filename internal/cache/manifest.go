// Package cache implements the realtime prompt/objective cache.
//
// This file implements manifest handling: checksum computation, snapshot
// diffing, and the bootstrap/repair path that adopts or synthesizes a
// manifest when the well-known document is missing.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/pathlight-ai/pathlight/internal/configstore"
	"github.com/pathlight-ai/pathlight/internal/models"
)

// checksumLength truncates document checksums to a short stable prefix.
const checksumLength = 16

// checksumData hashes a serialized document into the short checksum form
// used by manifest entries.
func checksumData(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:checksumLength]
}

// diffEntries returns the ids whose checksum changed between two manifest
// entry maps, including ids new in next. Removed ids are omitted: there is
// no document left to refresh. The result is sorted for determinism.
func diffEntries(prev, next map[string]models.ManifestEntry) []string {
	var changed []string
	for id, entry := range next {
		if old, ok := prev[id]; !ok || old.Checksum != entry.Checksum {
			changed = append(changed, id)
		}
	}
	sort.Strings(changed)
	return changed
}

// diffManifests reports the objective and tree ids whose checksums differ
// between two manifest snapshots. A nil previous manifest marks everything
// in next as changed.
func diffManifests(prev, next *models.Manifest) (objectives, trees []string) {
	if next == nil {
		return nil, nil
	}
	var prevObjectives, prevTrees map[string]models.ManifestEntry
	if prev != nil {
		prevObjectives = prev.ActiveObjectives
		prevTrees = prev.ActiveTrees
	}
	return diffEntries(prevObjectives, next.ActiveObjectives), diffEntries(prevTrees, next.ActiveTrees)
}

// loadManifest resolves the manifest in three steps: the well-known key, a
// scan of the manifest collection, and finally best-effort synthesis from
// the objective and tree collections. The synthesized form is not written
// back; it is a local repair, not authoritative. The returned key is the
// store document the manifest was loaded from, so the lifetime subscription
// watches the document actually in use; for synthesized manifests it is the
// well-known key, where an authored manifest would appear.
func (pc *PromptCache) loadManifest(ctx context.Context) (*models.Manifest, string, error) {
	doc, err := pc.store.Read(ctx, configstore.CollectionManifest, models.ManifestKey)
	if err != nil {
		slog.Error("PromptCache manifest read failed, falling back to scan", "error", err)
	}
	if doc != nil {
		if m := decodeManifest(*doc); m != nil {
			slog.Debug("PromptCache manifest loaded", "key", doc.Key, "version", m.Version)
			return m, doc.Key, nil
		}
	}

	docs, err := pc.store.List(ctx, configstore.CollectionManifest)
	if err != nil {
		slog.Error("PromptCache manifest scan failed", "error", err)
	}
	for _, d := range docs {
		if m := decodeManifest(d); m != nil {
			slog.Info("PromptCache adopted manifest from scan", "key", d.Key, "version", m.Version)
			return m, d.Key, nil
		}
	}

	m, err := pc.synthesizeManifest(ctx)
	return m, models.ManifestKey, err
}

// decodeManifest unmarshals a manifest document, returning nil if malformed.
func decodeManifest(doc configstore.Document) *models.Manifest {
	var m models.Manifest
	if err := json.Unmarshal(doc.Data, &m); err != nil {
		slog.Error("PromptCache skipping malformed manifest document", "error", err, "key", doc.Key)
		return nil
	}
	return &m
}

// synthesizeManifest builds a manifest by scanning all objectives and trees
// and hashing their serialized content into dummy checksums.
func (pc *PromptCache) synthesizeManifest(ctx context.Context) (*models.Manifest, error) {
	slog.Info("PromptCache synthesizing manifest from collection scans")

	objectives, err := pc.scanEntries(ctx, configstore.CollectionObjectives)
	if err != nil {
		return nil, fmt.Errorf("manifest synthesis failed: %w", err)
	}
	trees, err := pc.scanEntries(ctx, configstore.CollectionTrees)
	if err != nil {
		return nil, fmt.Errorf("manifest synthesis failed: %w", err)
	}

	m := &models.Manifest{
		Version:          1,
		LastUpdated:      pc.now(),
		ActiveObjectives: objectives,
		ActiveTrees:      trees,
	}

	// Adopt a default-flagged tree if one exists.
	treeDocs, err := pc.store.List(ctx, configstore.CollectionTrees)
	if err == nil {
		for _, d := range treeDocs {
			var t models.Tree
			if json.Unmarshal(d.Data, &t) == nil && t.IsDefault {
				m.DefaultTree = treeID(d, t)
				break
			}
		}
	}

	summary, _ := json.Marshal(m.ActiveObjectives)
	m.Checksum = checksumData(summary)
	slog.Info("PromptCache manifest synthesized", "objectives", len(objectives), "trees", len(trees), "default_tree", m.DefaultTree)
	return m, nil
}

// scanEntries lists a collection and builds manifest entries keyed by the
// documents' domain ids (falling back to the store key).
func (pc *PromptCache) scanEntries(ctx context.Context, collection string) (map[string]models.ManifestEntry, error) {
	docs, err := pc.store.List(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", collection, err)
	}
	entries := make(map[string]models.ManifestEntry, len(docs))
	for _, d := range docs {
		entries[documentID(d)] = models.ManifestEntry{
			Version:      1,
			Checksum:     checksumData(d.Data),
			LastModified: d.UpdatedAt,
		}
	}
	return entries, nil
}

// documentID extracts the domain id from a document, falling back to the
// store key for historical documents without one.
func documentID(d configstore.Document) string {
	var fields struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(d.Data, &fields); err == nil && fields.ID != "" {
		return fields.ID
	}
	return d.Key
}

func treeID(d configstore.Document, t models.Tree) string {
	if t.ID != "" {
		return t.ID
	}
	return d.Key
}
