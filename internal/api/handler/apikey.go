package handler

import (
	"net/http"
	"time"

	"github.com/bcnelson/stack-traffic-manager/internal/api/middleware"
	"github.com/bcnelson/stack-traffic-manager/internal/domain"
	"github.com/bcnelson/stack-traffic-manager/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/go-logr/logr"
)

// APIKeyHandler handles API key endpoints.
type APIKeyHandler struct {
	store storage.Storage
	log   logr.Logger
}

// NewAPIKeyHandler creates a new APIKeyHandler.
func NewAPIKeyHandler(store storage.Storage, log logr.Logger) *APIKeyHandler {
	return &APIKeyHandler{store: store, log: log.WithName("apikeys")}
}

// Create creates a new API key.
func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateAPIKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		respondStandardError(w, http.StatusBadRequest, domain.ErrCodeInvalidInput, "invalid request body", "", nil)
		return
	}

	if req.Name == "" {
		respondStandardError(w, http.StatusBadRequest, domain.ErrCodeValidationError, "name is required", "name", nil)
		return
	}

	key, hash, prefix, err := generateAPIKey()
	if err != nil {
		h.log.Error(err, "generating API key")
		respondStandardError(w, http.StatusInternalServerError, domain.ErrCodeInternalError, "failed to generate API key", "", nil)
		return
	}

	apiKey := &domain.APIKey{
		ID:        generateID(),
		Name:      req.Name,
		KeyHash:   hash,
		KeyPrefix: prefix,
		CreatedBy: creator(r),
		CreatedAt: time.Now(),
	}

	if err := h.store.CreateAPIKey(r.Context(), apiKey); err != nil {
		handleError(w, err)
		return
	}

	resp := &domain.CreateAPIKeyResponse{
		ID:        apiKey.ID,
		Name:      apiKey.Name,
		Key:       key, // Only returned on creation
		KeyPrefix: apiKey.KeyPrefix,
		CreatedBy: apiKey.CreatedBy,
		CreatedAt: apiKey.CreatedAt,
	}

	h.log.Info("API key created", "id", apiKey.ID, "name", apiKey.Name, "by", apiKey.CreatedBy)
	respondJSON(w, http.StatusCreated, resp)
}

// List lists all API keys (without the actual key values).
func (h *APIKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	keys, err := h.store.ListAPIKeys(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, keys)
}

// Delete deletes an API key.
func (h *APIKeyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondStandardError(w, http.StatusBadRequest, domain.ErrCodeValidationError, "id is required", "id", nil)
		return
	}

	if err := h.store.DeleteAPIKey(r.Context(), id); err != nil {
		handleError(w, err)
		return
	}

	h.log.Info("API key deleted", "id", id, "by", creator(r))
	w.WriteHeader(http.StatusNoContent)
}

// creator names the principal of the request for audit logs.
func creator(r *http.Request) string {
	return middleware.GetAPIKeyFromContext(r.Context()).Principal()
}
