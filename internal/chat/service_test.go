// ABOUTME: Orchestrator tests with fake model clients and a recording broadcaster
// ABOUTME: Covers new-chat, continue-chat, subscription gating, and failure paths

package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evachat/eva-gateway/internal/config"
	"github.com/evachat/eva-gateway/internal/llm"
	"github.com/evachat/eva-gateway/internal/relay"
	"github.com/evachat/eva-gateway/internal/session"
	"github.com/evachat/eva-gateway/internal/store"
)

type fakeSource struct {
	fragments []string
	finalErr  error
}

func (f *fakeSource) Recv() (string, error) {
	if len(f.fragments) == 0 {
		if f.finalErr != nil {
			return "", f.finalErr
		}
		return "", io.EOF
	}
	next := f.fragments[0]
	f.fragments = f.fragments[1:]
	return next, nil
}

type fakeClient struct {
	name      string
	fragments []string
	streamErr error
	sourceErr error
	title     string
	titleErr  error
}

func (f *fakeClient) ModelName() string { return f.name }

func (f *fakeClient) Stream(_ context.Context, _ []store.Message) (relay.FragmentSource, error) {
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return &fakeSource{fragments: f.fragments, finalErr: f.sourceErr}, nil
}

func (f *fakeClient) Complete(_ context.Context, _ string) (string, error) {
	if f.titleErr != nil {
		return "", f.titleErr
	}
	return f.title, nil
}

type recordingBroadcaster struct {
	events []*session.Event
}

func (b *recordingBroadcaster) Broadcast(_ string, event *session.Event) {
	b.events = append(b.events, event)
}

func (b *recordingBroadcaster) fragments() []string {
	var out []string
	for _, ev := range b.events {
		if ev.Type == session.EventStreamMessage {
			out = append(out, ev.Data.PartialContent)
		}
	}
	return out
}

func (b *recordingBroadcaster) endStreams() int {
	n := 0
	for _, ev := range b.events {
		if ev.Type == session.EventEndStream {
			n++
		}
	}
	return n
}

type fixture struct {
	store   *store.MockStore
	caster  *recordingBroadcaster
	client  *fakeClient
	service *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := store.NewMockStore()
	caster := &recordingBroadcaster{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rly := relay.New(caster, 0, logger)

	client := &fakeClient{
		name:      "gpt-4",
		fragments: []string{"Hello", " there"},
		title:     "Greeting Exchange",
	}
	factory := func(_ *store.Model) ModelClient { return client }

	svc, err := New(st, rly, factory, config.ChatConfig{}, logger)
	require.NoError(t, err)

	f := &fixture{store: st, caster: caster, client: client, service: svc}
	f.seedModel(t, "model-1")
	return f
}

func (f *fixture) seedModel(t *testing.T, modelID string) {
	t.Helper()
	require.NoError(t, f.store.UpsertModel(context.Background(), &store.Model{
		DeploymentID:   modelID,
		DeploymentName: "gpt-4",
		Provider:       "azure",
		Endpoint:       "https://example.openai.azure.com",
		APIKey:         "key",
		Active:         true,
	}))
	require.NoError(t, f.store.GrantSubscription(context.Background(), "user-1", modelID))
}

func TestHandle_NewChat(t *testing.T) {
	f := newFixture(t)

	res := f.service.Handle(context.Background(), &Request{
		UserID:  "user-1",
		ModelID: "model-1",
		Query:   "Say hello",
	})

	require.True(t, res.Success)
	require.NotEmpty(t, res.ChatID)

	assert.Equal(t, []string{"Hello", " there"}, f.caster.fragments())
	assert.Equal(t, 1, f.caster.endStreams())

	conv, err := f.store.GetVisibleConversation(context.Background(), "user-1", res.ChatID)
	require.NoError(t, err)
	assert.Equal(t, "Greeting Exchange", conv.Title)
	require.Len(t, conv.Messages, 3)
	assert.Equal(t, store.RoleSystem, conv.Messages[0].Role)
	assert.Equal(t, store.RoleUser, conv.Messages[1].Role)
	assert.Equal(t, "Say hello", conv.Messages[1].Content)
	assert.Equal(t, store.RoleAssistant, conv.Messages[2].Role)
	assert.Equal(t, "Hello there", conv.Messages[2].Content)
	assert.Greater(t, conv.NetTokenConsumption, 0)
}

func TestHandle_ContinueChat(t *testing.T) {
	f := newFixture(t)

	res := f.service.Handle(context.Background(), &Request{
		UserID:  "user-1",
		ModelID: "model-1",
		Query:   "Say hello",
	})
	require.True(t, res.Success)
	chatID := res.ChatID
	before, err := f.store.GetVisibleConversation(context.Background(), "user-1", chatID)
	require.NoError(t, err)

	f.client.fragments = []string{"Any", "time"}
	res = f.service.Handle(context.Background(), &Request{
		UserID:  "user-1",
		ChatID:  chatID,
		ModelID: "model-1",
		Query:   "Thanks",
	})
	require.True(t, res.Success)
	assert.Equal(t, chatID, res.ChatID)

	conv, err := f.store.GetVisibleConversation(context.Background(), "user-1", chatID)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 5)
	assert.Equal(t, "Thanks", conv.Messages[3].Content)
	assert.Equal(t, "Anytime", conv.Messages[4].Content)
	assert.Greater(t, conv.NetTokenConsumption, before.NetTokenConsumption)
	assert.Equal(t, 1, f.store.CreateCalls)
	assert.Equal(t, 1, f.store.AppendCalls)
}

func TestHandle_NotSubscribed(t *testing.T) {
	f := newFixture(t)

	res := f.service.Handle(context.Background(), &Request{
		UserID:  "stranger",
		ModelID: "model-1",
		Query:   "Say hello",
	})

	require.False(t, res.Success)
	assert.Equal(t, "Model is not subscribed", res.Error)
	assert.Equal(t, []string{"You are not subscribed to this model"}, f.caster.fragments())
	assert.Equal(t, 1, f.caster.endStreams())
	assert.Zero(t, f.store.CreateCalls)
}

func TestHandle_ModelUnavailable(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.GrantSubscription(context.Background(), "user-1", "retired-model"))

	res := f.service.Handle(context.Background(), &Request{
		UserID:  "user-1",
		ModelID: "retired-model",
		Query:   "Say hello",
	})

	require.False(t, res.Success)
	assert.Equal(t, "Selected model not available", res.Error)
}

func TestHandle_UnknownChatID(t *testing.T) {
	f := newFixture(t)

	res := f.service.Handle(context.Background(), &Request{
		UserID:  "user-1",
		ChatID:  "missing-chat",
		ModelID: "model-1",
		Query:   "Hello again",
	})

	// Matches the upstream contract: the caller gets success while the
	// notice lands on the stream.
	require.True(t, res.Success)
	assert.Empty(t, res.ChatID)
	frags := f.caster.fragments()
	require.Len(t, frags, 1)
	assert.Contains(t, frags[0], "missing-chat")
	assert.Equal(t, 1, f.caster.endStreams())
	assert.Zero(t, f.store.AppendCalls)
}

func TestHandle_ContentFilteredMidStream(t *testing.T) {
	f := newFixture(t)
	f.client.fragments = []string{"part"}
	f.client.sourceErr = llm.ErrContentFiltered

	res := f.service.Handle(context.Background(), &Request{
		UserID:  "user-1",
		ModelID: "model-1",
		Query:   "bad words",
	})

	require.False(t, res.Success)
	frags := f.caster.fragments()
	require.Len(t, frags, 2)
	assert.Equal(t, relay.ModerationNotice, frags[1])
	assert.Equal(t, 1, f.caster.endStreams())
	// Nothing persisted for a filtered turn.
	assert.Zero(t, f.store.CreateCalls)
}

func TestHandle_ContentFilteredOnOpen(t *testing.T) {
	f := newFixture(t)
	f.client.streamErr = fmt.Errorf("request rejected: %w", llm.ErrContentFiltered)

	res := f.service.Handle(context.Background(), &Request{
		UserID:  "user-1",
		ModelID: "model-1",
		Query:   "bad words",
	})

	require.False(t, res.Success)
	frags := f.caster.fragments()
	require.Len(t, frags, 1)
	assert.Equal(t, relay.ModerationNotice, frags[0])
	assert.Equal(t, 1, f.caster.endStreams())
}

func TestHandle_StreamFailureSkipsPersistence(t *testing.T) {
	f := newFixture(t)
	f.client.fragments = []string{"partial"}
	f.client.sourceErr = errors.New("upstream gone")

	res := f.service.Handle(context.Background(), &Request{
		UserID:  "user-1",
		ModelID: "model-1",
		Query:   "Say hello",
	})

	require.False(t, res.Success)
	assert.Contains(t, res.Error, "upstream gone")
	assert.Zero(t, f.store.CreateCalls)
	assert.Zero(t, f.store.AppendCalls)
}

func TestHandle_TitleFailureStillPersists(t *testing.T) {
	f := newFixture(t)
	f.client.titleErr = errors.New("title model down")

	res := f.service.Handle(context.Background(), &Request{
		UserID:  "user-1",
		ModelID: "model-1",
		Query:   "Say hello",
	})

	require.True(t, res.Success)
	conv, err := f.store.GetVisibleConversation(context.Background(), "user-1", res.ChatID)
	require.NoError(t, err)
	assert.Equal(t, titleFallback, conv.Title)
}

func TestHandle_MissingFields(t *testing.T) {
	f := newFixture(t)

	res := f.service.Handle(context.Background(), &Request{UserID: "user-1", ModelID: "model-1"})
	require.False(t, res.Success)

	res = f.service.Handle(context.Background(), &Request{UserID: "user-1", Query: "hi"})
	require.False(t, res.Success)
}

func TestGenerateTitle_StripsQuotes(t *testing.T) {
	f := newFixture(t)

	for raw, want := range map[string]string{
		`"Quoted Title"`:   "Quoted Title",
		`'Single Quoted'`:  "Single Quoted",
		`Plain Title`:      "Plain Title",
		`  Padded Title  `: "Padded Title",
	} {
		f.client.title = raw
		got := f.service.generateTitle(context.Background(), f.client, "query")
		assert.Equal(t, want, got, "raw %q", raw)
	}
}

func TestRenderSystemPrompt_IncludesDate(t *testing.T) {
	f := newFixture(t)

	rendered := f.service.renderSystemPrompt()
	assert.Contains(t, rendered, f.service.now().UTC().Format("Monday, 02 January 2006"))
}
