package chi

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragflow/internal/logger"
)

const bearerPrefix = "Bearer "

// openPaths serve probes and scrapes without credentials.
var openPaths = map[string]struct{}{
	"/health":  {},
	"/metrics": {},
}

// BearerAuthMiddleware guards the event and run endpoints with static API
// keys. With no non-empty keys configured it is a pass-through.
func BearerAuthMiddleware(apiKeys []string) func(http.Handler) http.Handler {
	keys := make([][]byte, 0, len(apiKeys))
	for _, k := range apiKeys {
		if k != "" {
			keys = append(keys, []byte(k))
		}
	}

	return func(next http.Handler) http.Handler {
		if len(keys) == 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := openPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			token, reason := bearerToken(r.Header.Get("Authorization"))
			if reason == "" && !knownKey(keys, token) {
				reason = "invalid api key"
			}
			if reason != "" {
				logger.FromContext(r.Context()).Info("Request rejected", zap.String("reason", reason))
				writeError(w, http.StatusUnauthorized, CodeUnauthorized, reason)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken extracts the token, or returns the rejection reason.
func bearerToken(header string) (token, reason string) {
	if header == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", "authorization header must use Bearer scheme"
	}
	return header[len(bearerPrefix):], ""
}

// knownKey compares against every key in constant time.
func knownKey(keys [][]byte, token string) bool {
	found := 0
	for _, k := range keys {
		found |= subtle.ConstantTimeCompare(k, []byte(token))
	}
	return found == 1
}
