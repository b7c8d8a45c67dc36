// Package store provides conversation and model persistence for eva-gateway.
//
// # Overview
//
// The store owns three tables:
//
//   - chat_history: one row per conversation, keyed (user_id, chat_id),
//     with the transcript serialized as a JSON blob
//   - available_models: model deployment descriptors managed by admins
//   - user_subscriptions: which users may use which models
//
// # Conversation Semantics
//
// CreateConversation is conditional: inserting an id that already exists
// returns created=false without touching the stored row, so a retried
// create is benign. AppendTurn is unconditional and replaces the whole
// transcript; concurrent turns on one chat are last-writer-wins.
//
// Deletion is soft: SoftDeleteConversation flips the visibility flag, and
// every read path filters on it. The flag transitions true to false only.
//
// # Caching
//
// CachedStore decorates a Store and memoizes the two lookups on the hot
// path of every chat turn, GetModel and IsSubscribed, for six hours.
// Entitlement and model changes therefore take up to the TTL to reach
// running gateways.
//
// # Implementations
//
//   - SQLiteStore: production implementation on modernc.org/sqlite
//   - MockStore: in-memory implementation for tests
package store
