package tasks

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/openstipend/openstipend/internal/platform/httpx"
)

// Handler exposes approval task resolution.
type Handler struct {
	service *Service
}

// NewHandler constructs a Handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Register mounts the task routes.
func (h *Handler) Register(r chi.Router) {
	r.Route("/tasks", func(r chi.Router) {
		r.Get("/entity/{entityID}", h.listByEntity)
		r.Post("/{taskID}/complete", h.complete)
	})
}

func (h *Handler) listByEntity(w http.ResponseWriter, r *http.Request) {
	entityID, err := uuid.Parse(chi.URLParam(r, "entityID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "entityID must be a UUID")
		return
	}
	list, err := h.service.ListByEntity(r.Context(), entityID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"tasks": list})
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(chi.URLParam(r, "taskID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "taskID must be a UUID")
		return
	}
	var body struct {
		Success *bool `json:"success"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if body.Success == nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "success is required")
		return
	}
	if err := h.service.Complete(r.Context(), taskID, *body.Success); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"success": true})
}
