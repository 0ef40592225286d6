// Package testutil provides common test utilities and helpers for Pathlight tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pathlight-ai/pathlight/internal/cache"
	"github.com/pathlight-ai/pathlight/internal/configstore"
	"github.com/pathlight-ai/pathlight/internal/models"
)

// FakeGenAI is a canned-reply generator for API tests.
type FakeGenAI struct {
	Reply string
	Err   error

	LastBundle *models.PromptBundle
}

// GenerateReply returns the canned reply, recording the bundle it received.
func (f *FakeGenAI) GenerateReply(ctx context.Context, bundle *models.PromptBundle, state *models.ConversationState) (string, error) {
	f.LastBundle = bundle
	if f.Err != nil {
		return "", f.Err
	}
	return f.Reply, nil
}

// NewTestCache creates a started prompt cache over a fresh in-memory store.
func NewTestCache(t *testing.T) (*cache.PromptCache, *configstore.MemoryStore) {
	t.Helper()
	store := configstore.NewMemoryStore()
	pc, err := cache.New(store, cache.Options{PreloadTrees: true})
	if err != nil {
		t.Fatalf("failed to create prompt cache: %v", err)
	}
	pc.Start(context.Background())
	t.Cleanup(pc.Cleanup)
	return pc, store
}

// PutDocument marshals v and writes it into the store.
func PutDocument(t *testing.T, store configstore.Store, collection, key string, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal document: %v", err)
	}
	if err := store.Put(context.Background(), collection, key, data); err != nil {
		t.Fatalf("failed to put document %s/%s: %v", collection, key, err)
	}
}

// WaitFor polls cond until it returns true or the deadline passes. Push
// notifications are delivered asynchronously, so tests poll for effects.
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
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

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}
