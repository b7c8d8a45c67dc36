// ABOUTME: Tests for the SQLite store implementation
// ABOUTME: Uses in-memory databases, covers conditional create and soft-delete laws

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testConversation(userID, chatID string) *Conversation {
	now := time.Now().UTC().Truncate(time.Second)
	return &Conversation{
		UserID: userID,
		ChatID: chatID,
		Title:  "Test Conversation",
		Messages: []Message{
			{Role: RoleSystem, Content: "You are a helpful assistant.", CreatedOn: now},
			{Role: RoleUser, Content: "Hello", TokensConsumed: 1, CreatedOn: now},
			{Role: RoleAssistant, Content: "Hi there!", ModelID: "gpt-4o", TokensConsumed: 3, CreatedOn: now},
		},
		CreatedOn:           now,
		NetTokenConsumption: 4,
		Visible:             true,
	}
}

func TestCreateConversation_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv := testConversation("user-1", "chat-1")

	created, err := s.CreateConversation(ctx, conv)
	require.NoError(t, err)
	assert.True(t, created)

	// Second create with the same id is benign, not an error
	dupe := testConversation("user-1", "chat-1")
	dupe.Title = "Different Title"
	created, err = s.CreateConversation(ctx, dupe)
	require.NoError(t, err)
	assert.False(t, created)

	// Stored content is unchanged from the first call
	got, err := s.GetVisibleConversation(ctx, "user-1", "chat-1")
	require.NoError(t, err)
	assert.Equal(t, "Test Conversation", got.Title)
}

func TestGetVisibleConversation_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv := testConversation("user-1", "chat-1")
	_, err := s.CreateConversation(ctx, conv)
	require.NoError(t, err)

	got, err := s.GetVisibleConversation(ctx, "user-1", "chat-1")
	require.NoError(t, err)

	require.Len(t, got.Messages, 3)
	assert.Equal(t, RoleAssistant, got.Messages[2].Role)
	assert.Equal(t, "Hi there!", got.Messages[2].Content)
	assert.Equal(t, "gpt-4o", got.Messages[2].ModelID)
	assert.Equal(t, 4, got.NetTokenConsumption)
}

func TestGetVisibleConversation_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetVisibleConversation(context.Background(), "user-1", "no-such-chat")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetVisibleConversation_WrongOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateConversation(ctx, testConversation("user-1", "chat-1"))
	require.NoError(t, err)

	_, err = s.GetVisibleConversation(ctx, "user-2", "chat-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppendTurn_GrowsTranscript(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv := testConversation("user-1", "chat-1")
	_, err := s.CreateConversation(ctx, conv)
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	updated := append(conv.Messages,
		Message{Role: RoleUser, Content: "Another question", TokensConsumed: 2, CreatedOn: now},
		Message{Role: RoleAssistant, Content: "Another answer", ModelID: "gpt-4o", TokensConsumed: 5, CreatedOn: now},
	)
	require.NoError(t, s.AppendTurn(ctx, "user-1", "chat-1", updated, 11))

	got, err := s.GetVisibleConversation(ctx, "user-1", "chat-1")
	require.NoError(t, err)

	require.Len(t, got.Messages, 5)
	assert.Equal(t, "Another question", got.Messages[3].Content)
	assert.Equal(t, "Another answer", got.Messages[4].Content)
	assert.Equal(t, 11, got.NetTokenConsumption)
}

func TestSoftDelete_Law(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateConversation(ctx, testConversation("user-1", "chat-1"))
	require.NoError(t, err)

	ok, err := s.SoftDeleteConversation(ctx, "user-1", "chat-1")
	require.NoError(t, err)
	assert.True(t, ok)

	// Fetch returns ErrNotFound after delete
	_, err = s.GetVisibleConversation(ctx, "user-1", "chat-1")
	assert.ErrorIs(t, err, ErrNotFound)

	// List excludes the deleted conversation
	summaries, err := s.ListVisibleConversations(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, summaries)

	// Second delete returns false
	ok, err = s.SoftDeleteConversation(ctx, "user-1", "chat-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRenameConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateConversation(ctx, testConversation("user-1", "chat-1"))
	require.NoError(t, err)

	ok, err := s.RenameConversation(ctx, "user-1", "chat-1", "New Title")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetVisibleConversation(ctx, "user-1", "chat-1")
	require.NoError(t, err)
	assert.Equal(t, "New Title", got.Title)
}

func TestRenameConversation_DeletedOrMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.RenameConversation(ctx, "user-1", "no-such-chat", "Title")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.CreateConversation(ctx, testConversation("user-1", "chat-1"))
	require.NoError(t, err)
	_, err = s.SoftDeleteConversation(ctx, "user-1", "chat-1")
	require.NoError(t, err)

	ok, err = s.RenameConversation(ctx, "user-1", "chat-1", "Title")
	require.NoError(t, err)
	assert.False(t, ok, "renaming a deleted conversation should fail")
}

func TestListVisibleConversations_Order(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := testConversation("user-1", "chat-old")
	older.CreatedOn = time.Now().UTC().Add(-time.Hour)
	_, err := s.CreateConversation(ctx, older)
	require.NoError(t, err)

	newer := testConversation("user-1", "chat-new")
	newer.CreatedOn = time.Now().UTC()
	_, err = s.CreateConversation(ctx, newer)
	require.NoError(t, err)

	// Another user's conversation must not leak in
	_, err = s.CreateConversation(ctx, testConversation("user-2", "chat-other"))
	require.NoError(t, err)

	summaries, err := s.ListVisibleConversations(ctx, "user-1")
	require.NoError(t, err)

	require.Len(t, summaries, 2)
	assert.Equal(t, "chat-new", summaries[0].ChatID)
	assert.Equal(t, "chat-old", summaries[1].ChatID)
}

func TestGetModel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertModel(ctx, &Model{
		DeploymentID:   "dep-1",
		DeploymentName: "gpt-4o",
		Provider:       "azure",
		Endpoint:       "https://example.openai.azure.com",
		APIKey:         "key",
		Active:         true,
	}))

	m, err := s.GetModel(ctx, "dep-1")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", m.DeploymentName)
	assert.True(t, m.Active)
}

func TestGetModel_InactiveIsUnavailable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertModel(ctx, &Model{
		DeploymentID:   "dep-1",
		DeploymentName: "gpt-4o",
		Endpoint:       "https://example.openai.azure.com",
		APIKey:         "key",
		Active:         false,
	}))

	_, err := s.GetModel(ctx, "dep-1")
	assert.ErrorIs(t, err, ErrModelNotFound)

	_, err = s.GetModel(ctx, "no-such-model")
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestIsSubscribed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	subscribed, err := s.IsSubscribed(ctx, "user-1", "dep-1")
	require.NoError(t, err)
	assert.False(t, subscribed)

	require.NoError(t, s.GrantSubscription(ctx, "user-1", "dep-1"))

	subscribed, err = s.IsSubscribed(ctx, "user-1", "dep-1")
	require.NoError(t, err)
	assert.True(t, subscribed)

	// Granting twice is benign
	require.NoError(t, s.GrantSubscription(ctx, "user-1", "dep-1"))
}
