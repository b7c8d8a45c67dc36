// Package relay paces model output fragments onto a user's live channels,
// accumulating the full reply and guaranteeing a terminal EndStream event.
package relay
