// ABOUTME: Token relay forwarding model output fragments to a user's live channels
// ABOUTME: Paces sends, accumulates the full reply, and emits the terminal EndStream

package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/evachat/eva-gateway/internal/llm"
	"github.com/evachat/eva-gateway/internal/session"
)

// ModerationNotice replaces further fragments when the provider rejects the
// request for content policy reasons. Clients match on this wording; do
// not reflow.
const ModerationNotice = "Your query got a filtered content warning,\r\nPlease remove any words showing **HATE, SELF HARM, SEXUAL, VIOLENCE** from your query and rewrite it."

// FragmentSource is a lazy sequence of text fragments from a model call.
// Recv returns io.EOF when the stream is exhausted.
type FragmentSource interface {
	Recv() (string, error)
}

// Broadcaster is what the relay needs from the session registry.
type Broadcaster interface {
	Broadcast(userID string, event *session.Event)
}

// Relay forwards model output to every live channel of the owning user.
// Absence of a live viewer never short-circuits anything: broadcasts to an
// empty channel set are silently dropped by the registry while the model
// call and persistence run to completion, so a user who reconnects before
// the turn finishes still finds the full transcript saved.
type Relay struct {
	broadcaster Broadcaster
	delay       time.Duration
	logger      *slog.Logger
}

// New creates a relay. delay paces fragment sends so slow client renderers
// keep up; it is a tunable, not a correctness requirement.
func New(broadcaster Broadcaster, delay time.Duration, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		broadcaster: broadcaster,
		delay:       delay,
		logger:      logger.With("component", "relay"),
	}
}

// Run consumes source until exhaustion, broadcasting each non-empty fragment
// tagged with chatID, then emits one terminal EndStream event (also when the
// source yielded zero fragments). Returns the accumulated concatenation of
// all fragments, needed for persistence and title generation.
//
// On a content-policy error the fixed moderation notice is broadcast in
// place of further fragments, EndStream still fires, and the triggering
// error is returned so the caller can decide what to persist. Any other
// source error is returned as-is without an EndStream; the caller owns
// failure messaging.
func (r *Relay) Run(ctx context.Context, userID, chatID string, source FragmentSource) (string, error) {
	var full strings.Builder

	for {
		fragment, err := source.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, llm.ErrContentFiltered) {
			r.logger.Warn("content filtered by provider",
				"user_id", userID,
				"chat_id", chatID)
			r.Notify(userID, chatID, ModerationNotice)
			r.EndStream(userID)
			return full.String(), err
		}
		if err != nil {
			return full.String(), err
		}

		if fragment == "" {
			continue
		}

		full.WriteString(fragment)
		r.broadcaster.Broadcast(userID, &session.Event{
			Type: session.EventStreamMessage,
			Data: &session.StreamPayload{ChatID: chatID, PartialContent: fragment},
		})

		if r.delay > 0 {
			select {
			case <-time.After(r.delay):
			case <-ctx.Done():
				return full.String(), ctx.Err()
			}
		}
	}

	r.EndStream(userID)
	return full.String(), nil
}

// Notify broadcasts a one-off text notice to the user's channels, tagged
// with the conversation it concerns.
func (r *Relay) Notify(userID, chatID, text string) {
	r.broadcaster.Broadcast(userID, &session.Event{
		Type: session.EventStreamMessage,
		Data: &session.StreamPayload{ChatID: chatID, PartialContent: text},
	})
}

// EndStream broadcasts the terminal end-of-stream event for the user.
func (r *Relay) EndStream(userID string) {
	r.broadcaster.Broadcast(userID, &session.Event{Type: session.EventEndStream})
}
