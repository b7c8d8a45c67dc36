// ABOUTME: Store interface and data types for eva-gateway persistence
// ABOUTME: Defines Conversation, Message, Model structs and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist or is not visible
var ErrNotFound = errors.New("not found")

// ErrModelNotFound is returned when a model is unknown or inactive
var ErrModelNotFound = errors.New("model unavailable")

// Message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single role-tagged entry in a conversation transcript.
// Entries are immutable once appended; corrections become new entries.
type Message struct {
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	ModelID        string    `json:"modelId,omitempty"`
	TokensConsumed int       `json:"tokensConsumed"`
	CreatedOn      time.Time `json:"createdOn"`
}

// Conversation is one chat transcript owned by a single user.
// The (UserID, ChatID) pair is immutable; Visible transitions true→false only.
type Conversation struct {
	UserID              string
	ChatID              string
	Title               string
	Messages            []Message
	CreatedOn           time.Time
	NetTokenConsumption int
	Visible             bool
}

// ConversationSummary is one row of the "list my visible conversations" view
type ConversationSummary struct {
	ChatID       string
	Title        string
	LastActivity time.Time
}

// Model describes a chat model deployment. Owned by the admin tooling;
// read-only from the gateway's perspective.
type Model struct {
	DeploymentID   string
	DeploymentName string
	Provider       string
	Endpoint       string
	APIKey         string
	Active         bool
}

// Store defines the interface for conversation and model persistence
type Store interface {
	// CreateConversation conditionally inserts a new conversation.
	// Returns false (not an error) if the (userID, chatID) pair already
	// existed; a concurrent duplicate create on the same turn is benign.
	CreateConversation(ctx context.Context, conv *Conversation) (bool, error)

	// AppendTurn unconditionally replaces the transcript and token total of
	// an existing conversation. Callers must have verified existence and
	// visibility first; concurrent turns race last-writer-wins.
	AppendTurn(ctx context.Context, userID, chatID string, messages []Message, netTokens int) error

	// GetVisibleConversation returns the conversation only while its
	// visibility flag is set. Returns ErrNotFound otherwise.
	GetVisibleConversation(ctx context.Context, userID, chatID string) (*Conversation, error)

	// RenameConversation sets a new title on a visible conversation.
	// Returns false if the conversation is missing or already deleted.
	RenameConversation(ctx context.Context, userID, chatID, title string) (bool, error)

	// SoftDeleteConversation flips the visibility flag to false.
	// Returns false if the conversation is missing or already deleted.
	SoftDeleteConversation(ctx context.Context, userID, chatID string) (bool, error)

	// ListVisibleConversations returns summaries of the user's visible
	// conversations, most recently active first.
	ListVisibleConversations(ctx context.Context, userID string) ([]*ConversationSummary, error)

	// GetModel returns an active model deployment, ErrModelNotFound otherwise.
	GetModel(ctx context.Context, deploymentID string) (*Model, error)

	// IsSubscribed reports whether the user is entitled to use the model.
	IsSubscribed(ctx context.Context, userID, modelID string) (bool, error)

	// UpsertModel and GrantSubscription are used by the seeding CLI; the
	// admin UI owning this data lives outside the gateway.
	UpsertModel(ctx context.Context, model *Model) error
	GrantSubscription(ctx context.Context, userID, modelID string) error

	// Close releases any resources held by the store
	Close() error
}
