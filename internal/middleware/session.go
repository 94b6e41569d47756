package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

type contextKey string

// SessionContextKey holds the picker session id of the request
const SessionContextKey contextKey = "session"

// SessionHeader identifies the picker device on every picking call
const SessionHeader = "X-Session-ID"

// RequireSession rejects requests without an X-Session-ID header
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := strings.TrimSpace(r.Header.Get(SessionHeader))
		if sessionID == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{
				"error": SessionHeader + " header required",
				"code":  "SESSION_REQUIRED",
			})
			return
		}

		ctx := context.WithValue(r.Context(), SessionContextKey, sessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SessionFromContext retrieves the session id stored by RequireSession
func SessionFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(SessionContextKey).(string)
	return id, ok && id != ""
}
