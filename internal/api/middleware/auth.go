package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/bcnelson/stack-traffic-manager/internal/auth"
	"github.com/bcnelson/stack-traffic-manager/internal/domain"
	"github.com/bcnelson/stack-traffic-manager/internal/storage"
	"github.com/go-logr/logr"
)

type contextKey string

const APIKeyContextKey contextKey = "api_key"

// TokenVerifier verifies OIDC bearer tokens.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*auth.OIDCClaims, error)
}

// Auth creates authentication middleware. Bearer credentials are accepted as a
// stored API key, the bootstrap key while no API keys exist, or, when verifier
// is not nil, an OIDC token.
func Auth(store storage.Storage, bootstrapKey string, verifier TokenVerifier, log logr.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Extract the credential from the Authorization header
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, `{"error":{"code":"UNAUTHORIZED","message":"missing authorization header"}}`, http.StatusUnauthorized)
				return
			}

			if !strings.HasPrefix(authHeader, "Bearer ") {
				http.Error(w, `{"error":{"code":"UNAUTHORIZED","message":"invalid authorization header format"}}`, http.StatusUnauthorized)
				return
			}

			credential := strings.TrimPrefix(authHeader, "Bearer ")
			if credential == "" {
				http.Error(w, `{"error":{"code":"UNAUTHORIZED","message":"empty credential"}}`, http.StatusUnauthorized)
				return
			}

			ctx := r.Context()

			if verifier != nil && auth.LooksLikeJWT(credential) {
				claims, err := verifier.Verify(ctx, credential)
				if err != nil {
					log.V(1).Info("rejected bearer token", "error", err.Error())
					http.Error(w, `{"error":{"code":"UNAUTHORIZED","message":"invalid token"}}`, http.StatusUnauthorized)
					return
				}
				name := claims.Email
				if name == "" {
					name = claims.Subject
				}
				// token callers are represented like API keys so handlers see one principal type
				ctx = context.WithValue(ctx, APIKeyContextKey, &domain.APIKey{
					ID:   domain.OIDCPrefix + claims.Subject,
					Name: name,
				})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			// Check if we have any API keys in the database
			keyCount, err := store.CountAPIKeys(ctx)
			if err != nil {
				log.Error(err, "counting API keys")
				http.Error(w, `{"error":{"code":"INTERNAL_ERROR","message":"internal server error"}}`, http.StatusInternalServerError)
				return
			}

			// If no keys exist and bootstrap key is set, allow bootstrap key
			if keyCount == 0 && bootstrapKey != "" {
				if subtle.ConstantTimeCompare([]byte(credential), []byte(bootstrapKey)) == 1 {
					ctx = context.WithValue(ctx, APIKeyContextKey, &domain.APIKey{
						ID:   domain.BootstrapKeyID,
						Name: "Bootstrap Key",
					})
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			// Hash the provided key and look it up
			storedKey, err := store.GetAPIKeyByHash(ctx, HashAPIKey(credential))
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					http.Error(w, `{"error":{"code":"UNAUTHORIZED","message":"invalid API key"}}`, http.StatusUnauthorized)
					return
				}
				log.Error(err, "looking up API key")
				http.Error(w, `{"error":{"code":"INTERNAL_ERROR","message":"internal server error"}}`, http.StatusInternalServerError)
				return
			}

			// Update last used timestamp (fire and forget)
			go func() {
				_ = store.UpdateAPIKeyLastUsed(context.Background(), storedKey.ID)
			}()

			ctx = context.WithValue(ctx, APIKeyContextKey, storedKey)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// HashAPIKey creates a SHA-256 hash of the API key.
// SHA-256 is enough for lookups since API keys are high-entropy random strings.
func HashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// GetAPIKeyFromContext retrieves the API key from the request context.
func GetAPIKeyFromContext(ctx context.Context) *domain.APIKey {
	key, _ := ctx.Value(APIKeyContextKey).(*domain.APIKey)
	return key
}
