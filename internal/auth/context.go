// ABOUTME: Request-context plumbing for the authenticated user identity
// ABOUTME: WithUserID/UserIDFrom mirror the middleware/handler contract

package auth

import "context"

type contextKey int

const userIDKey contextKey = iota

// WithUserID returns a context carrying the authenticated user identity.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFrom extracts the authenticated user identity from the context.
// Returns empty string and false if the request was not authenticated.
func UserIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}
