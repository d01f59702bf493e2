package handler

import (
	"net/http"
	"strings"

	"github.com/bcnelson/stack-traffic-manager/internal/domain"
)

// GenerateETag quotes a record set revision for use as an entity tag.
func GenerateETag(revision string) string {
	if revision == "" {
		return ""
	}
	return `"` + revision + `"`
}

// SetETagHeader sets the ETag header on the response.
func SetETagHeader(w http.ResponseWriter, revision string) {
	if etag := GenerateETag(revision); etag != "" {
		w.Header().Set("ETag", etag)
	}
}

// RevisionFromIfMatch extracts the pinned revision from the If-Match header.
// A missing header or "*" pins nothing.
func RevisionFromIfMatch(r *http.Request) string {
	ifMatch := strings.TrimSpace(r.Header.Get("If-Match"))
	if ifMatch == "" || ifMatch == "*" {
		return ""
	}
	ifMatch = strings.TrimPrefix(ifMatch, "W/")
	return strings.Trim(ifMatch, `"`)
}

// RespondPreconditionFailed writes a 412 Precondition Failed response.
func RespondPreconditionFailed(w http.ResponseWriter, currentRevision string) {
	var details map[string]any
	if currentRevision != "" {
		details = map[string]any{"currentETag": GenerateETag(currentRevision)}
	}
	respondStandardError(w, http.StatusPreconditionFailed, domain.ErrCodePreconditionFailed,
		"record set has been modified", "", details)
}
