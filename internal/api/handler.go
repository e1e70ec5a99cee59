// Package api provides HTTP handlers for the Polly API.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ashureev/polly/internal/agent"
	"github.com/ashureev/polly/internal/room"
	"github.com/ashureev/polly/internal/scenario"
	"github.com/ashureev/polly/internal/store"
)

// ModelStats reports which model provider is wired and how it is doing.
type ModelStats interface {
	Provider() string
	GetStats() agent.Stats
	Health(ctx context.Context) error
}

// Handler provides common handler utilities.
type Handler struct {
	store   store.TurnStore
	catalog scenario.Catalog
	rooms   *room.Registry
	model   ModelStats
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(ts store.TurnStore, catalog scenario.Catalog, rooms *room.Registry, model ModelStats) *Handler {
	return &Handler{
		store:   ts,
		catalog: catalog,
		rooms:   rooms,
		model:   model,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
