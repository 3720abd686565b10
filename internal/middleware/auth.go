package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"docstore/internal/auth"
	"docstore/internal/httputil"
)

// Auth requires a valid bearer token on every request except the paths
// listed in public. The token subject is stored in the request context.
func Auth(verifier auth.TokenVerifier, logger *slog.Logger, public ...string) func(http.Handler) http.Handler {
	open := make(map[string]bool, len(public))
	for _, p := range public {
		open[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if open[r.URL.Path] || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				httputil.RespondCouchError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}

			claims, err := verifier.VerifyToken(token)
			if err != nil {
				logger.Info("request rejected",
					"path", r.URL.Path,
					"method", r.Method,
					"error", err,
				)
				httputil.RespondCouchError(w, http.StatusUnauthorized, "unauthorized", "invalid bearer token")
				return
			}

			next.ServeHTTP(w, httputil.WithSubject(r, claims.Principal()))
		})
	}
}
