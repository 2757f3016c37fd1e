package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/vinay-lgtm-code/kontext-verify-sub003/domain/plan"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/infrastructure/httputil"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/infrastructure/logging"
)

// planContextKey carries the resolved plan tier for the authenticated key.
type planContextKey struct{}

// GetTier reads the tier resolved by Auth for the current request.
func GetTier(ctx context.Context) plan.Tier {
	if v, ok := ctx.Value(planContextKey{}).(plan.Tier); ok {
		return v
	}
	return plan.TierFree
}

// Auth validates the Authorization: Bearer <key> header against the
// configured key set using a fixed-length digest comparison so constant-time
// compare never short-circuits on length. It also requires X-Project-Id on
// every route it guards.
type Auth struct {
	keyHashes  map[[32]byte]string // digest -> raw key
	tierForKey map[string]plan.Tier
	logger     *logging.Logger
}

// NewAuth builds an Auth middleware from the configured API keys and their
// per-key plan tier (defaulting unassigned keys to free).
func NewAuth(keys []string, tierForKey map[string]plan.Tier, logger *logging.Logger) *Auth {
	hashes := make(map[[32]byte]string, len(keys))
	for _, k := range keys {
		hashes[sha256.Sum256([]byte(k))] = k
	}
	return &Auth{keyHashes: hashes, tierForKey: tierForKey, logger: logger}
}

// Handler rejects requests without a valid "Authorization: Bearer <key>"
// header or a missing X-Project-Id, and otherwise binds the caller's
// identity and plan tier into the request context. When no keys are
// configured, every request passes through unchecked.
func (m *Auth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(m.keyHashes) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		received := bearerToken(r.Header.Get("Authorization"))
		if received == "" {
			m.reject(w, r, "missing_api_key")
			return
		}

		receivedHash := sha256.Sum256([]byte(received))
		matchedKey := ""
		for hash, key := range m.keyHashes {
			if subtle.ConstantTimeCompare(hash[:], receivedHash[:]) == 1 {
				matchedKey = key
				break
			}
		}
		if matchedKey == "" {
			m.reject(w, r, "invalid_api_key")
			return
		}

		if strings.TrimSpace(r.Header.Get("X-Project-Id")) == "" {
			m.reject(w, r, "missing_project_id")
			return
		}

		tier := m.tierForKey[matchedKey]
		if tier == "" {
			tier = plan.TierFree
		}

		ctx := logging.WithUserID(r.Context(), matchedKey)
		ctx = context.WithValue(ctx, planContextKey{}, tier)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header, returning "" if the header is absent or malformed.
func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}

func (m *Auth) reject(w http.ResponseWriter, r *http.Request, reason string) {
	if m.logger != nil {
		m.logger.LogSecurityEvent(r.Context(), "auth_rejected", map[string]interface{}{
			"reason": reason, "path": r.URL.Path,
		})
	}
	httputil.WriteErrorResponse(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid API key", nil)
}
