package domain

import (
	"strings"
	"time"
)

// Principals that are not stored keys.
const (
	BootstrapKeyID = "bootstrap"
	OIDCPrefix     = "oidc:"
)

// APIKey is a credential allowed to change traffic. Callers authenticated by
// the bootstrap key or an OIDC token are represented as unsaved keys.
type APIKey struct {
	ID        string `json:"id" db:"id"`
	Name      string `json:"name" db:"name"`
	KeyHash   string `json:"-" db:"key_hash"`
	KeyPrefix string `json:"keyPrefix" db:"key_prefix"`
	// CreatedBy is the principal that issued the key, see Principal.
	CreatedBy  string     `json:"createdBy,omitempty" db:"created_by"`
	CreatedAt  time.Time  `json:"createdAt" db:"created_at"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty" db:"last_used_at"`
}

// Principal identifies the caller in audit logs and CreatedBy:
// "bootstrap", "oidc:<subject>" or "key:<name>".
func (k *APIKey) Principal() string {
	if k == nil {
		return ""
	}
	if k.ID == BootstrapKeyID || strings.HasPrefix(k.ID, OIDCPrefix) {
		return k.ID
	}
	return "key:" + k.Name
}

// CreateAPIKeyRequest is the request body for issuing an API key.
type CreateAPIKeyRequest struct {
	Name string `json:"name"`
}

// CreateAPIKeyResponse carries the plain key; it is never shown again.
type CreateAPIKeyResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Key       string    `json:"key"`
	KeyPrefix string    `json:"keyPrefix"`
	CreatedBy string    `json:"createdBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
