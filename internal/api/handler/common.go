package handler

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bcnelson/stack-traffic-manager/internal/api/middleware"
	"github.com/bcnelson/stack-traffic-manager/internal/domain"
	"github.com/bcnelson/stack-traffic-manager/internal/validation"
	"github.com/google/uuid"
)

// APIKeyPrefix marks keys issued by this server.
const APIKeyPrefix = "stm_"

// respondJSON writes a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondStandardError writes a JSON error response in the standard envelope.
func respondStandardError(w http.ResponseWriter, status int, code, message, field string, details map[string]any) {
	respondJSON(w, status, &domain.StandardErrorResponse{
		Error: domain.StandardError{
			Code:    code,
			Message: message,
			Field:   field,
			Details: details,
		},
	})
}

// handleError converts domain errors to HTTP errors.
func handleError(w http.ResponseWriter, err error) {
	var verrs validation.ValidationErrors
	if errors.As(err, &verrs) && verrs.HasErrors() {
		respondValidationErrors(w, verrs)
		return
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		respondStandardError(w, http.StatusNotFound, domain.ErrCodeResourceNotFound, err.Error(), "", nil)
	case errors.Is(err, domain.ErrAlreadyExists):
		respondStandardError(w, http.StatusConflict, domain.ErrCodeResourceAlreadyExists, err.Error(), "", nil)
	case errors.Is(err, domain.ErrInvalidInput):
		respondStandardError(w, http.StatusBadRequest, domain.ErrCodeInvalidInput, err.Error(), "", nil)
	case errors.Is(err, domain.ErrUnauthorized):
		respondStandardError(w, http.StatusUnauthorized, domain.ErrCodeUnauthorized, "unauthorized", "", nil)
	case errors.Is(err, domain.ErrRevisionMismatch):
		respondStandardError(w, http.StatusPreconditionFailed, domain.ErrCodePreconditionFailed, err.Error(), "", nil)
	case errors.Is(err, domain.ErrUnsafeReduction):
		respondStandardError(w, http.StatusConflict, domain.ErrCodeUnsafeReduction, err.Error(), "", nil)
	case errors.Is(err, domain.ErrInconsistentInfrastructure):
		respondStandardError(w, http.StatusConflict, domain.ErrCodeInconsistent, err.Error(), "", nil)
	case errors.Is(err, domain.ErrStoreFailure):
		respondStandardError(w, http.StatusBadGateway, domain.ErrCodeStoreFailure, err.Error(), "", nil)
	case errors.Is(err, domain.ErrDirectoryFailure):
		respondStandardError(w, http.StatusBadGateway, domain.ErrCodeDirectoryFailure, err.Error(), "", nil)
	default:
		respondStandardError(w, http.StatusInternalServerError, domain.ErrCodeInternalError, "internal server error", "", nil)
	}
}

// decodeJSON decodes JSON from request body.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.ErrInvalidInput
	}
	return nil
}

// generateID generates a new UUID.
func generateID() string {
	return uuid.New().String()
}

// generateAPIKey generates a new random API key.
func generateAPIKey() (key string, hash string, prefix string, err error) {
	// Generate 32 random bytes for the key
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", "", "", err
	}

	key = APIKeyPrefix + hex.EncodeToString(bytes)
	hash = middleware.HashAPIKey(key)
	prefix = key[:12] // "stm_" + first 8 chars of hex

	return key, hash, prefix, nil
}

// respondValidationErrors writes a JSON response for validation errors.
func respondValidationErrors(w http.ResponseWriter, errs validation.ValidationErrors) {
	respondStandardError(w, http.StatusBadRequest, domain.ErrCodeValidationError,
		errs.Error(), errs[0].Field, map[string]any{
			"errors": errs,
			"fields": errs.Fields(),
		})
}
