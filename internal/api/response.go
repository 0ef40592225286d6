// Package api provides HTTP handlers and the main API server logic for
// Pathlight.
//
// This file holds the shared JSON response writer.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// fallbackErrorBody is served when a response fails to marshal. Kept as a
// literal so the failure path cannot itself fail.
var fallbackErrorBody = []byte(`{"status":"error","message":"internal server error"}`)

// writeJSONResponse marshals response and writes it with statusCode. Headers
// are written only after marshaling succeeds, so an encoding failure degrades
// to a well-formed 500 instead of a half-written body.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	data, err := json.Marshal(response)
	if err != nil {
		slog.Error("writeJSONResponse: failed to marshal response", "error", err)
		statusCode = http.StatusInternalServerError
		data = fallbackErrorBody
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(data); err != nil {
		slog.Error("writeJSONResponse: failed to write response", "error", err)
	}
}
