// ABOUTME: In-memory fan-out registry mapping users to their live connections
// ABOUTME: Broadcasts stream events to every tab a user has open

package session

import (
	"log/slog"
	"sync"
)

// EventType discriminates server→client events on the real-time channel.
type EventType string

const (
	// EventStreamMessage carries one partial-content fragment.
	EventStreamMessage EventType = "StreamMessage"

	// EventEndStream signals the client to stop buffering and refresh
	// conversation metadata. Carries no payload.
	EventEndStream EventType = "EndStream"
)

// StreamPayload is the data of a StreamMessage event.
type StreamPayload struct {
	ChatID         string `json:"chatId"`
	PartialContent string `json:"partialContent"`
}

// Event is a single server→client message.
type Event struct {
	Type EventType      `json:"type"`
	Data *StreamPayload `json:"data,omitempty"`
}

// Channel is one live client connection. Send must be safe to call from
// the registry's broadcasting goroutine; implementations queue to their
// transport and report an error once the connection is unusable.
type Channel interface {
	Send(event *Event) error
}

// Registry maps a user identity to the set of channels currently connected
// for that user. One instance is constructed at process start and injected
// where needed; registrations are process-memory only and lost on restart,
// clients reconnect and resume via conversation fetch.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]map[Channel]struct{} // userID -> channel set
	logger   *slog.Logger
}

// NewRegistry creates a registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		channels: make(map[string]map[Channel]struct{}),
		logger:   logger.With("component", "session"),
	}
}

// Register adds a channel to the set for userID, creating the set if this
// is the user's first connection. Safe under concurrent registration and
// broadcast from independent connections.
func (r *Registry) Register(userID string, ch Channel) {
	r.mu.Lock()
	if _, ok := r.channels[userID]; !ok {
		r.channels[userID] = make(map[Channel]struct{})
	}
	r.channels[userID][ch] = struct{}{}
	count := len(r.channels[userID])
	r.mu.Unlock()

	r.logger.Debug("channel registered",
		"user_id", userID,
		"connections", count)
}

// Unregister removes a channel. Empty per-user sets are pruned.
func (r *Registry) Unregister(userID string, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.channels[userID]
	if !ok {
		return
	}

	if _, exists := set[ch]; !exists {
		return
	}

	delete(set, ch)
	if len(set) == 0 {
		delete(r.channels, userID)
	}

	r.logger.Debug("channel unregistered",
		"user_id", userID,
		"connections", len(set))
}

// Broadcast delivers event to every channel registered for userID.
// Broadcasting to a user with zero channels is a silent no-op: the user
// simply has no live tab. A channel erroring on send is treated as
// implicitly disconnected: its removal is scheduled and delivery to the
// remaining channels continues.
func (r *Registry) Broadcast(userID string, event *Event) {
	r.mu.RLock()
	set, ok := r.channels[userID]
	if !ok || len(set) == 0 {
		r.mu.RUnlock()
		return
	}

	// Copy channels under read lock to avoid holding the lock during sends
	targets := make([]Channel, 0, len(set))
	for ch := range set {
		targets = append(targets, ch)
	}
	r.mu.RUnlock()

	for _, ch := range targets {
		if err := ch.Send(event); err != nil {
			r.logger.Debug("dropping dead channel",
				"user_id", userID,
				"error", err)
			go r.Unregister(userID, ch)
		}
	}
}

// Connections returns the number of live channels for userID.
func (r *Registry) Connections(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels[userID])
}
