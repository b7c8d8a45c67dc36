// Package gateway orchestrates the eva-gateway server components.
//
// # Overview
//
// The gateway package is the central coordinator of the eva-gateway server.
// It owns the conversation store, the per-user session registry, and the
// chat orchestrator, and exposes them over a single HTTP server.
//
// # Gateway Struct
//
// The Gateway struct is the main entry point:
//
//	type Gateway struct {
//	    config     *config.Config
//	    store      store.Store
//	    registry   *session.Registry
//	    chat       *chat.Service
//	    verifier   auth.TokenVerifier
//	    httpServer *http.Server
//	}
//
// # HTTP API
//
// The gateway exposes HTTP endpoints in api.go:
//
//   - POST /api/chat - Submit a chat turn (content streams over the hub)
//   - GET /api/conversations - List the caller's visible conversations
//   - GET /api/conversations/{id} - Fetch one transcript
//   - PATCH /api/conversations/{id}?title=X - Rename a conversation
//   - PATCH /api/conversations/{id} with {"delete": true} - Soft-delete
//   - GET /hub - Websocket upgrade for stream events
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check
//
// All /api routes require a bearer token. The hub additionally accepts the
// token as an access_token query parameter, since browser websockets
// cannot set custom headers.
//
// # The Hub
//
// Clients connect to /hub and receive JSON events:
//
//	{"type": "StreamMessage", "data": {"chatId": "...", "partialContent": "..."}}
//	{"type": "EndStream"}
//
// A user may hold any number of hub connections (multiple tabs); every
// connection receives every event for that user. A connection that stops
// draining is dropped without affecting the others.
//
// # Lifecycle
//
// Start the gateway:
//
//	gw, err := gateway.New(cfg, logger)
//	err = gw.Run(ctx)
//
// Run blocks until ctx is canceled, then drains the HTTP server and closes
// the store.
//
// # Key Files
//
//   - gateway.go: Gateway struct, wiring, Run/Shutdown, health endpoints
//   - api.go: JSON API handlers
//   - ws.go: websocket hub and per-connection channel
package gateway
