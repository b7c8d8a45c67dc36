// ABOUTME: In-memory Store implementation for tests
// ABOUTME: Mirrors SQLite semantics including conditional create and soft-delete

package store

import (
	"context"
	"sync"
	"time"
)

// MockStore is an in-memory Store for tests. Safe for concurrent use.
type MockStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation // key userID/chatID
	models        map[string]*Model
	subscriptions map[string]bool // key userID/modelID

	// Error injection
	CreateErr error
	AppendErr error
	GetErr    error

	// Call counters for assertions
	AppendCalls int
	CreateCalls int
}

// NewMockStore creates an empty in-memory store.
func NewMockStore() *MockStore {
	return &MockStore{
		conversations: make(map[string]*Conversation),
		models:        make(map[string]*Model),
		subscriptions: make(map[string]bool),
	}
}

func convKey(userID, chatID string) string {
	return userID + "/" + chatID
}

// CreateConversation conditionally inserts; false if the id already existed.
func (m *MockStore) CreateConversation(_ context.Context, conv *Conversation) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CreateCalls++
	if m.CreateErr != nil {
		return false, m.CreateErr
	}

	key := convKey(conv.UserID, conv.ChatID)
	if _, exists := m.conversations[key]; exists {
		return false, nil
	}

	stored := *conv
	stored.Messages = append([]Message(nil), conv.Messages...)
	stored.Visible = true
	m.conversations[key] = &stored
	return true, nil
}

// AppendTurn replaces the transcript unconditionally (last-writer-wins).
func (m *MockStore) AppendTurn(_ context.Context, userID, chatID string, messages []Message, netTokens int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.AppendCalls++
	if m.AppendErr != nil {
		return m.AppendErr
	}

	conv, exists := m.conversations[convKey(userID, chatID)]
	if !exists {
		// SQLite UPDATE on a missing row affects zero rows without error
		return nil
	}
	conv.Messages = append([]Message(nil), messages...)
	conv.NetTokenConsumption = netTokens
	conv.CreatedOn = time.Now().UTC()
	return nil
}

// GetVisibleConversation returns a copy, ErrNotFound when missing or deleted.
func (m *MockStore) GetVisibleConversation(_ context.Context, userID, chatID string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.GetErr != nil {
		return nil, m.GetErr
	}

	conv, exists := m.conversations[convKey(userID, chatID)]
	if !exists || !conv.Visible {
		return nil, ErrNotFound
	}

	copied := *conv
	copied.Messages = append([]Message(nil), conv.Messages...)
	return &copied, nil
}

// RenameConversation retitles a visible conversation.
func (m *MockStore) RenameConversation(_ context.Context, userID, chatID, title string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, exists := m.conversations[convKey(userID, chatID)]
	if !exists || !conv.Visible {
		return false, nil
	}
	conv.Title = title
	return true, nil
}

// SoftDeleteConversation hides a visible conversation.
func (m *MockStore) SoftDeleteConversation(_ context.Context, userID, chatID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, exists := m.conversations[convKey(userID, chatID)]
	if !exists || !conv.Visible {
		return false, nil
	}
	conv.Visible = false
	return true, nil
}

// ListVisibleConversations returns summaries of visible conversations.
func (m *MockStore) ListVisibleConversations(_ context.Context, userID string) ([]*ConversationSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var summaries []*ConversationSummary
	for _, conv := range m.conversations {
		if conv.UserID != userID || !conv.Visible {
			continue
		}
		summaries = append(summaries, &ConversationSummary{
			ChatID:       conv.ChatID,
			Title:        conv.Title,
			LastActivity: conv.CreatedOn,
		})
	}
	return summaries, nil
}

// GetModel returns an active model, ErrModelNotFound otherwise.
func (m *MockStore) GetModel(_ context.Context, deploymentID string) (*Model, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	model, exists := m.models[deploymentID]
	if !exists || !model.Active {
		return nil, ErrModelNotFound
	}
	copied := *model
	return &copied, nil
}

// IsSubscribed reports the stored entitlement.
func (m *MockStore) IsSubscribed(_ context.Context, userID, modelID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.subscriptions[convKey(userID, modelID)], nil
}

// UpsertModel stores a model row.
func (m *MockStore) UpsertModel(_ context.Context, model *Model) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *model
	m.models[model.DeploymentID] = &copied
	return nil
}

// GrantSubscription entitles a user to a model.
func (m *MockStore) GrantSubscription(_ context.Context, userID, modelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions[convKey(userID, modelID)] = true
	return nil
}

// Close is a no-op for the mock.
func (m *MockStore) Close() error {
	return nil
}
