// Package middleware provides HTTP middleware for the engine's boundary.
package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/vinay-lgtm-code/kontext-verify-sub003/infrastructure/httputil"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/infrastructure/logging"
)

// Recovery recovers from panics in downstream handlers, logging the stack
// and responding with a 500 INTERNAL error instead of crashing the process.
type Recovery struct {
	logger *logging.Logger
}

// NewRecovery constructs a Recovery middleware.
func NewRecovery(logger *logging.Logger) *Recovery {
	return &Recovery{logger: logger}
}

// Handler wraps next with panic recovery.
func (m *Recovery) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				stack := debug.Stack()
				if m.logger != nil {
					m.logger.WithContext(r.Context()).WithFields(map[string]interface{}{
						"panic":  fmt.Sprintf("%v", err),
						"stack":  string(stack),
						"path":   r.URL.Path,
						"method": r.Method,
					}).Error("panic recovered")
				}
				httputil.WriteErrorResponse(w, r, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
