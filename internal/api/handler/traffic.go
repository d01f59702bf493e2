package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/bcnelson/stack-traffic-manager/internal/domain"
	"github.com/bcnelson/stack-traffic-manager/internal/service"
	"github.com/bcnelson/stack-traffic-manager/internal/validation"
	"github.com/go-chi/chi/v5"
	"github.com/go-logr/logr"
)

// TrafficHandler handles the traffic distribution endpoints.
type TrafficHandler struct {
	traffic *service.TrafficService
	log     logr.Logger
}

// NewTrafficHandler creates a new TrafficHandler.
func NewTrafficHandler(traffic *service.TrafficService, log logr.Logger) *TrafficHandler {
	return &TrafficHandler{traffic: traffic, log: log.WithName("traffic")}
}

// Get returns the current distribution. The ETag is the record set revision.
func (h *TrafficHandler) Get(w http.ResponseWriter, r *http.Request) {
	app := chi.URLParam(r, "app")

	result, err := h.traffic.Distribution(r.Context(), app)
	if err != nil {
		handleError(w, err)
		return
	}

	SetETagHeader(w, result.Revision)
	respondJSON(w, http.StatusOK, result)
}

// Set gives one version the requested share of the application's traffic.
func (h *TrafficHandler) Set(w http.ResponseWriter, r *http.Request) {
	app := chi.URLParam(r, "app")

	var body domain.SetTrafficRequest
	if err := decodeJSON(r, &body); err != nil {
		respondStandardError(w, http.StatusBadRequest, domain.ErrCodeInvalidInput, "invalid request body", "", nil)
		return
	}
	if body.Percentage == nil {
		var errs validation.ValidationErrors
		errs.Required("percentage")
		respondValidationErrors(w, errs)
		return
	}

	dryRun := false
	if v := r.URL.Query().Get("dryRun"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondStandardError(w, http.StatusBadRequest, domain.ErrCodeInvalidInput, "dryRun must be a boolean", "dryRun", nil)
			return
		}
		dryRun = b
	}

	req := &domain.RebalanceRequest{
		Application:     app,
		Version:         body.Version,
		Percentage:      *body.Percentage,
		RequireExisting: body.RequireExisting,
		DryRun:          dryRun,
		Revision:        RevisionFromIfMatch(r),
	}

	result, err := h.traffic.SetWeight(r.Context(), req)
	switch {
	case errors.Is(err, domain.ErrUnsafeReduction):
		respondStandardError(w, http.StatusConflict, domain.ErrCodeUnsafeReduction, err.Error(), "percentage",
			map[string]any{"distribution": result})
		return
	case errors.Is(err, domain.ErrRevisionMismatch) && req.Revision != "":
		current := ""
		if dist, derr := h.traffic.Distribution(r.Context(), app); derr == nil {
			current = dist.Revision
		}
		RespondPreconditionFailed(w, current)
		return
	case err != nil:
		handleError(w, err)
		return
	}

	if result.Applied {
		h.log.Info("traffic updated",
			"application", app,
			"version", req.Version,
			"weight", result.AppliedWeight,
			"changes", len(result.Changes),
			"by", creator(r))
	}

	SetETagHeader(w, result.Revision)
	respondJSON(w, http.StatusOK, result)
}
