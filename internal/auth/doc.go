// Package auth provides bearer-token authentication for eva-gateway.
//
// # Tokens
//
// Users authenticate with JWT tokens signed HS256 using the configured
// jwt_secret. The user identity travels in the "sid" claim:
//
//	verifier := auth.NewJWTVerifier(secret)
//	userID, err := verifier.Verify(token)
//
// Tokens are minted by the gateway's token command (or an upstream
// identity provider sharing the secret):
//
//	token, err := verifier.Generate(userID, 30*24*time.Hour)
//
// # HTTP Integration
//
// Middleware guards the JSON API, rejecting requests without a valid
// Authorization: Bearer header and placing the user identity on the
// request context for handlers to read via UserIDFrom.
//
// The websocket hub cannot rely on headers: browser clients pass the
// token as an access_token query parameter instead, and RequestToken
// resolves the header-or-query precedence in one place.
package auth
