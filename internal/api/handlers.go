// Package api provides HTTP handlers and the main API server logic for
// Pathlight.
package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/pathlight-ai/pathlight/internal/configstore"
	"github.com/pathlight-ai/pathlight/internal/models"
)

// MaxRequestBodyBytes bounds request bodies on the write endpoints.
const MaxRequestBodyBytes = 1 << 20

// promptRequest is the payload for prompt and reply generation.
type promptRequest struct {
	ObjectiveID       string                    `json:"objective_id"`
	ConversationState *models.ConversationState `json:"conversation_state"`
}

func (s *Server) getObjectiveHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	obj, err := s.cache.GetObjective(r.Context(), id)
	if err != nil {
		slog.Error("getObjectiveHandler failed", "error", err, "id", id)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("failed to load objective"))
		return
	}
	if obj == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("objective not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(obj))
}

func (s *Server) getTreeHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	tree, err := s.cache.GetTree(r.Context(), id)
	if err != nil {
		slog.Error("getTreeHandler failed", "error", err, "id", id)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("failed to load tree"))
		return
	}
	if tree == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("tree not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(tree))
}

func (s *Server) getDefaultTreeHandler(w http.ResponseWriter, r *http.Request) {
	persona := r.URL.Query().Get("persona")
	tree, err := s.cache.GetDefaultTree(r.Context(), persona)
	if err != nil {
		slog.Error("getDefaultTreeHandler failed", "error", err, "persona", persona)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("failed to load default tree"))
		return
	}
	if tree == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("no default tree configured"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(tree))
}

func (s *Server) generatePromptHandler(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if err := decodeRequest(r, &req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid request body"))
		return
	}
	if req.ObjectiveID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("objective_id is required"))
		return
	}

	bundle, err := s.cache.GeneratePrompt(r.Context(), req.ObjectiveID, req.ConversationState)
	if err != nil {
		slog.Error("generatePromptHandler failed", "error", err, "objective_id", req.ObjectiveID)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("failed to generate prompt"))
		return
	}
	if bundle == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("objective not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(bundle))
}

func (s *Server) generateReplyHandler(w http.ResponseWriter, r *http.Request) {
	if s.genai == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("reply generation not configured"))
		return
	}
	var req promptRequest
	if err := decodeRequest(r, &req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid request body"))
		return
	}
	if req.ObjectiveID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("objective_id is required"))
		return
	}

	bundle, err := s.cache.GeneratePrompt(r.Context(), req.ObjectiveID, req.ConversationState)
	if err != nil {
		slog.Error("generateReplyHandler prompt generation failed", "error", err, "objective_id", req.ObjectiveID)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("failed to generate prompt"))
		return
	}
	if bundle == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("objective not found"))
		return
	}

	reply, err := s.genai.GenerateReply(r.Context(), bundle, req.ConversationState)
	if err != nil {
		slog.Error("generateReplyHandler reply generation failed", "error", err, "objective_id", req.ObjectiveID)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("failed to generate reply"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"reply": reply}))
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(s.cache.Stats()))
}

func (s *Server) manifestHandler(w http.ResponseWriter, r *http.Request) {
	m := s.cache.GetManifest()
	if m == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("no manifest available"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(m))
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if !s.cache.IsReady() {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("cache not ready"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]bool{"ready": true}))
}

// putObjectiveHandler is the authoring write path for objectives. The store
// write fires the change notification that refreshes any cached copy.
func (s *Server) putObjectiveHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	body, err := readBody(r)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("failed to read request body"))
		return
	}

	var obj models.Objective
	if err := json.Unmarshal(body, &obj); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid objective JSON"))
		return
	}
	if obj.ID == "" {
		obj.ID = id
	}
	if obj.ID != id {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("objective id does not match URL"))
		return
	}
	if err := obj.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	data, err := json.Marshal(obj)
	if err != nil {
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("failed to encode objective"))
		return
	}
	if err := s.store.Put(r.Context(), configstore.CollectionObjectives, id, data); err != nil {
		slog.Error("putObjectiveHandler store write failed", "error", err, "id", id)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("failed to store objective"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("objective stored", obj))
}

// putTreeHandler is the authoring write path for trees.
func (s *Server) putTreeHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	body, err := readBody(r)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("failed to read request body"))
		return
	}

	var tree models.Tree
	if err := json.Unmarshal(body, &tree); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid tree JSON"))
		return
	}
	if tree.ID == "" {
		tree.ID = id
	}
	if tree.ID != id {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("tree id does not match URL"))
		return
	}
	if err := tree.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	data, err := json.Marshal(tree)
	if err != nil {
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("failed to encode tree"))
		return
	}
	if err := s.store.Put(r.Context(), configstore.CollectionTrees, id, data); err != nil {
		slog.Error("putTreeHandler store write failed", "error", err, "id", id)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("failed to store tree"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("tree stored", tree))
}

// putManifestHandler replaces the manifest singleton. The write pushes the
// new snapshot to the cache's manifest subscription, which diffs and
// refreshes changed entries.
func (s *Server) putManifestHandler(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("failed to read request body"))
		return
	}

	var manifest models.Manifest
	if err := json.Unmarshal(body, &manifest); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid manifest JSON"))
		return
	}

	data, err := json.Marshal(manifest)
	if err != nil {
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("failed to encode manifest"))
		return
	}
	if err := s.store.Put(r.Context(), configstore.CollectionManifest, models.ManifestKey, data); err != nil {
		slog.Error("putManifestHandler store write failed", "error", err)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("failed to store manifest"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("manifest stored", manifest))
}

func decodeRequest(r *http.Request, v interface{}) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, MaxRequestBodyBytes))
}
