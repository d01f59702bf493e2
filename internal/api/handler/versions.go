package handler

import (
	"context"
	"net/http"

	"github.com/bcnelson/stack-traffic-manager/internal/domain"
	"github.com/bcnelson/stack-traffic-manager/internal/service"
	"github.com/bcnelson/stack-traffic-manager/internal/validation"
	"github.com/go-chi/chi/v5"
	"github.com/go-logr/logr"
)

// Inventory is the writable side of the version inventory.
type Inventory interface {
	RegisterVersion(ctx context.Context, version *domain.StackVersion) error
	DeregisterVersion(ctx context.Context, application, version string) error
}

// VersionHandler handles the application version endpoints.
type VersionHandler struct {
	traffic   *service.TrafficService
	inventory Inventory
	log       logr.Logger
}

// NewVersionHandler creates a new VersionHandler. inventory may be nil when
// versions are discovered from infrastructure instead of registered.
func NewVersionHandler(traffic *service.TrafficService, inventory Inventory, log logr.Logger) *VersionHandler {
	return &VersionHandler{traffic: traffic, inventory: inventory, log: log.WithName("versions")}
}

// List lists the live versions of an application.
func (h *VersionHandler) List(w http.ResponseWriter, r *http.Request) {
	versions, err := h.traffic.Versions(r.Context(), chi.URLParam(r, "app"))
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, versions)
}

// Register adds or replaces a version in the inventory.
func (h *VersionHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterVersionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondStandardError(w, http.StatusBadRequest, domain.ErrCodeInvalidInput, "invalid request body", "", nil)
		return
	}

	version := &domain.StackVersion{
		Application: chi.URLParam(r, "app"),
		Version:     chi.URLParam(r, "version"),
		Domain:      domain.NormalizeDomain(req.Domain),
		Endpoint:    domain.NormalizeDomain(req.Endpoint),
		StackName:   req.StackName,
	}
	if version.StackName == "" {
		version.StackName = version.Identifier()
	}

	if err := validation.ValidateStackVersion(version); err != nil {
		handleError(w, err)
		return
	}

	if err := h.inventory.RegisterVersion(r.Context(), version); err != nil {
		handleError(w, err)
		return
	}

	h.log.Info("version registered",
		"application", version.Application,
		"version", version.Version,
		"domain", version.Domain,
		"by", creator(r))
	respondJSON(w, http.StatusOK, version)
}

// Deregister removes a version from the inventory. Its record keeps its
// weight; shift traffic away before deregistering.
func (h *VersionHandler) Deregister(w http.ResponseWriter, r *http.Request) {
	app := chi.URLParam(r, "app")
	version := chi.URLParam(r, "version")

	if err := h.inventory.DeregisterVersion(r.Context(), app, version); err != nil {
		handleError(w, err)
		return
	}

	h.log.Info("version deregistered", "application", app, "version", version, "by", creator(r))
	w.WriteHeader(http.StatusNoContent)
}
