// Package chat orchestrates a chat turn end to end.
//
// # Flow
//
// Handle runs the full pipeline for one turn:
//
//  1. Check the user's subscription to the requested model
//  2. Resolve the model deployment and build an inference client
//  3. Start a new conversation (empty chatId) or load the existing one
//  4. Stream the reply through the relay to the user's channels
//  5. Persist the updated transcript and token counts
//
// New conversations are seeded with the system preamble (date-stamped) and
// titled by a second, non-streaming model call capped at five words. Token
// counts are best-effort: a failed count records zero rather than failing
// the turn.
//
// # Failure Behavior
//
// Business failures (not subscribed, model unavailable, unknown chat id)
// are pushed to the user's live channels as a notice plus the terminal
// event, and reported in the Result. A turn whose stream fails persists
// nothing. Content-filter rejections additionally surface the fixed
// moderation notice.
package chat
