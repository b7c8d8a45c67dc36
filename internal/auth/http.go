// ABOUTME: HTTP middleware for JWT authentication on API endpoints
// ABOUTME: Extracts bearer tokens from headers or, for websockets, a query parameter

package auth

import (
	"net/http"
	"strings"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// RequestToken returns the bearer token for a request. The Authorization
// header wins; the access_token query parameter is accepted as a fallback
// because the browser WebSocket handshake cannot carry custom headers.
func RequestToken(r *http.Request) string {
	if token, errMsg := extractBearerToken(r.Header.Get("Authorization")); errMsg == "" {
		return token
	}
	return r.URL.Query().Get("access_token")
}

// Middleware creates an HTTP middleware that validates bearer tokens and
// places the authenticated user identity on the request context.
func Middleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
				return
			}

			userID, err := verifier.Verify(token)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}
