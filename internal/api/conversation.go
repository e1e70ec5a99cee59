package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/polly/internal/domain"
	"github.com/ashureev/polly/internal/store"
	"github.com/go-chi/chi/v5"
)

const healthTimeout = 2 * time.Second

// RegisterRoutes registers the read-only API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/scenarios", h.ListScenarios)
		r.Get("/conversations/{scenarioID}", h.ListConversations)
		r.Get("/conversations/{scenarioID}/{studentID}", h.GetConversation)
		r.Get("/rooms/stats", h.RoomStats)
	})
}

// Health reports store reachability and model provider counters.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	status, code := "ok", http.StatusOK
	storeStatus := "ok"
	if err := h.store.Ping(ctx); err != nil {
		slog.Error("Health check: store ping failed", "error", err)
		status, code = "degraded", http.StatusServiceUnavailable
		storeStatus = "unreachable"
	}

	body := map[string]interface{}{
		"status": status,
		"store":  storeStatus,
	}
	if h.model != nil {
		body["provider"] = h.model.Provider()
		body["model_stats"] = h.model.GetStats()
		body["model"] = "ok"
		if err := h.model.Health(ctx); err != nil {
			slog.Warn("Health check: model provider unhealthy", "error", err)
			body["model"] = "unreachable"
			body["status"] = "degraded"
		}
	}
	JSON(w, code, body)
}

type scenarioSummary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Level string `json:"level,omitempty"`
}

// ListScenarios returns the id, name and level of every scenario.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	defs, err := h.catalog.List(r.Context())
	if err != nil {
		slog.Error("Failed to list scenarios", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list scenarios")
		return
	}
	out := make([]scenarioSummary, 0, len(defs))
	for _, def := range defs {
		out = append(out, scenarioSummary{ID: def.ID, Name: def.Name, Level: def.Level})
	}
	JSON(w, http.StatusOK, map[string]interface{}{"scenarios": out})
}

// GetConversation returns the persisted turns of one conversation.
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	key := domain.ConversationKey{
		ScenarioID: chi.URLParam(r, "scenarioID"),
		StudentID:  chi.URLParam(r, "studentID"),
	}
	if !domain.ValidID(key.ScenarioID) || !domain.ValidID(key.StudentID) {
		Error(w, http.StatusBadRequest, "invalid scenario or student id")
		return
	}

	hist, err := h.store.Get(r.Context(), key)
	if errors.Is(err, store.ErrNotFound) {
		Error(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		slog.Error("Failed to load conversation", "error", err, "scenario_id", key.ScenarioID, "student_id", key.StudentID)
		Error(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"scenario_id": key.ScenarioID,
		"student_id":  key.StudentID,
		"turns":       hist.Turns,
		"created_at":  hist.CreatedAt,
		"updated_at":  hist.UpdatedAt,
	})
}

// ListConversations returns per-student summaries for a scenario.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	scenarioID := chi.URLParam(r, "scenarioID")
	if !domain.ValidID(scenarioID) {
		Error(w, http.StatusBadRequest, "invalid scenario id")
		return
	}
	sums, err := h.store.List(r.Context(), scenarioID)
	if err != nil {
		slog.Error("Failed to list conversations", "error", err, "scenario_id", scenarioID)
		Error(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	if sums == nil {
		sums = []store.Summary{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"scenario_id":   scenarioID,
		"conversations": sums,
	})
}

// RoomStats returns live room and connection counts.
func (h *Handler) RoomStats(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.rooms.Stats())
}
