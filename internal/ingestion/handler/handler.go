package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/ingestion/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/forum-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/logger"
)

// maxBodyBytes bounds a message request; forum posts are far smaller.
const maxBodyBytes = 1 << 20

type Publisher interface {
	Save(ctx context.Context, req *ingestion.MessageRequest) (*ingestion.MessageResponse, error)
	Remove(ctx context.Context, id uint32) (*ingestion.MessageResponse, error)
}

type Handler struct {
	publisher Publisher
	logger    *slog.Logger
}

func New(pub Publisher) *Handler {
	return &Handler{
		publisher: pub,
		logger:    slog.Default().With("component", "ingestion-handler"),
	}
}

// Save handles POST /api/v1/messages and PUT /api/v1/messages/{id}.
func (h *Handler) Save(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	var req ingestion.MessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if v := r.PathValue("id"); v != "" {
		id, err := parseID(v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.ID != 0 && req.ID != id {
			h.writeError(w, http.StatusBadRequest, "id_msg does not match the path")
			return
		}
		req.ID = id
	}
	if err := validator.ValidateMessage(&req); err != nil {
		var validationErr *validator.ValidationError
		if errors.As(err, &validationErr) {
			h.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"fields": validationErr.Fields,
			})
			return
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.publisher.Save(ctx, &req)
	if err != nil {
		statusCode := apperrors.HTTPStatusCode(err)
		log.Error("saving message failed", "id_msg", req.ID, "error", err, "status_code", statusCode)
		h.writeError(w, statusCode, "saving message failed")
		return
	}
	log.Info("message saved", "id_msg", resp.ID, "action", resp.Action, "published", resp.Published)
	h.writeJSON(w, http.StatusAccepted, resp)
}

// Delete handles DELETE /api/v1/messages/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := parseID(r.PathValue("id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := h.publisher.Remove(ctx, id)
	if err != nil {
		statusCode := apperrors.HTTPStatusCode(err)
		if statusCode == http.StatusNotFound {
			h.writeError(w, statusCode, "message not found")
			return
		}
		logger.FromContext(ctx).Error("deleting message failed", "id_msg", id, "error", err)
		h.writeError(w, statusCode, "deleting message failed")
		return
	}
	h.writeJSON(w, http.StatusAccepted, resp)
}

func parseID(v string) (uint32, error) {
	id, err := strconv.ParseUint(v, 10, 32)
	if err != nil || id == 0 {
		return 0, errors.New("message id must be a positive integer")
	}
	return uint32(id), nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
