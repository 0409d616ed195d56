package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// BearerAuth rejects requests whose Authorization header does not carry
// token. Rejections are logged with the reason and never with the
// presented credential.
func BearerAuth(token string, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			reason := ""
			switch {
			case !ok || got == "":
				reason = "missing"
			case subtle.ConstantTimeCompare([]byte(got), want) != 1:
				reason = "invalid"
			}
			if reason != "" {
				logger.Warn("api request rejected",
					"reason", reason,
					"method", r.Method,
					"path", r.URL.Path,
					"remote", r.RemoteAddr,
				)
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
