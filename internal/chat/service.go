// ABOUTME: Chat orchestrator: subscription check, model resolution, streaming, persistence
// ABOUTME: Owns the new-chat and continue-chat flows plus title generation

package chat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"

	"github.com/evachat/eva-gateway/internal/config"
	"github.com/evachat/eva-gateway/internal/llm"
	"github.com/evachat/eva-gateway/internal/relay"
	"github.com/evachat/eva-gateway/internal/store"
)

// DefaultSystemPrompt seeds new conversations when no prompt is configured.
const DefaultSystemPrompt = "You are Eva, a helpful AI assistant. " +
	"Answer accurately and concisely, using markdown where it improves readability. " +
	"Today's date is {{.Date}}."

const titlePrompt = "You are a chatbot specialized in generating concise titles. " +
	"I will provide a message and you will respond with a title in no more than 5 words " +
	"which should capture the essence of the message. Do not wrap the title in quotes. " +
	"My first message: '%s'"

// titleFallback is stored when title generation fails; the turn itself
// still succeeds.
const titleFallback = "Failed to generate title"

// ModelClient is the inference surface the orchestrator needs. Satisfied
// by llm.Client through clientAdapter; tests substitute fakes.
type ModelClient interface {
	ModelName() string
	Stream(ctx context.Context, messages []store.Message) (relay.FragmentSource, error)
	Complete(ctx context.Context, prompt string) (string, error)
}

// ClientFactory builds an inference client for a resolved model deployment.
type ClientFactory func(model *store.Model) ModelClient

type clientAdapter struct {
	*llm.Client
}

func (a clientAdapter) Stream(ctx context.Context, messages []store.Message) (relay.FragmentSource, error) {
	s, err := a.Client.Stream(ctx, messages)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// DefaultClientFactory returns a factory producing llm.Client instances
// with the given capabilities attached.
func DefaultClientFactory(capabilities []llm.Capability, logger *slog.Logger) ClientFactory {
	return func(model *store.Model) ModelClient {
		return clientAdapter{llm.NewClient(model, capabilities, logger)}
	}
}

// Request is one chat turn submitted by a user. An empty ChatID starts a
// new conversation; otherwise the turn continues an existing one.
type Request struct {
	UserID  string `json:"-"`
	ChatID  string `json:"chatId"`
	ModelID string `json:"modelId"`
	Query   string `json:"userInput"`
}

// Result is the synchronous reply to a chat turn. The streamed content
// itself travels over the user's websocket channels, not in this struct.
type Result struct {
	Success bool   `json:"success"`
	ChatID  string `json:"chatId,omitempty"`
	Error   string `json:"errorMessage,omitempty"`
}

// Service orchestrates chat turns end to end.
type Service struct {
	store        store.Store
	relay        *relay.Relay
	newClient    ClientFactory
	systemPrompt *template.Template
	timeout      time.Duration
	logger       *slog.Logger

	now func() time.Time
}

// New builds a Service. The system prompt template may reference {{.Date}};
// an empty prompt falls back to DefaultSystemPrompt.
func New(st store.Store, rly *relay.Relay, factory ClientFactory, cfg config.ChatConfig, logger *slog.Logger) (*Service, error) {
	promptText := cfg.SystemPrompt
	if promptText == "" {
		promptText = DefaultSystemPrompt
	}
	tmpl, err := template.New("system_prompt").Parse(promptText)
	if err != nil {
		return nil, fmt.Errorf("parsing system prompt template: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		store:        st,
		relay:        rly,
		newClient:    factory,
		systemPrompt: tmpl,
		timeout:      cfg.InferenceTimeout,
		logger:       logger.With("component", "chat"),
		now:          time.Now,
	}, nil
}

// Handle runs one chat turn. Failures are reported both in the returned
// Result and, where the user already has a live stream open, as a notice
// followed by the terminal event on their channels.
func (s *Service) Handle(ctx context.Context, req *Request) *Result {
	if req.Query == "" {
		return &Result{Success: false, Error: "userInput is required"}
	}
	if req.ModelID == "" {
		return &Result{Success: false, Error: "modelId is required"}
	}

	subscribed, err := s.store.IsSubscribed(ctx, req.UserID, req.ModelID)
	if err != nil {
		s.logger.Error("subscription check failed", "user_id", req.UserID, "error", err)
		return s.fail(req, "SERVER handling error: "+err.Error())
	}
	if !subscribed {
		s.notifyFailure(req, "You are not subscribed to this model")
		return &Result{Success: false, Error: "Model is not subscribed"}
	}

	model, err := s.store.GetModel(ctx, req.ModelID)
	if errors.Is(err, store.ErrModelNotFound) {
		s.notifyFailure(req, "Selected model is not available, Try with different model")
		return &Result{Success: false, Error: "Selected model not available"}
	}
	if err != nil {
		s.logger.Error("model lookup failed", "model_id", req.ModelID, "error", err)
		return s.fail(req, "SERVER handling error: "+err.Error())
	}

	client := s.newClient(model)

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if req.ChatID == "" {
		return s.startNewChat(ctx, req, client)
	}
	return s.continueChat(ctx, req, client)
}

// startNewChat seeds a transcript with the system preamble, streams the
// first exchange, and persists the conversation with a generated title.
func (s *Service) startNewChat(ctx context.Context, req *Request, client ModelClient) *Result {
	chatID := uuid.NewString()
	now := s.now().UTC()
	modelName := client.ModelName()

	messages := []store.Message{
		{Role: store.RoleSystem, Content: s.renderSystemPrompt(), CreatedOn: now},
		{
			Role:           store.RoleUser,
			Content:        req.Query,
			ModelID:        modelName,
			TokensConsumed: llm.CountTokens(modelName, req.Query),
			CreatedOn:      now,
		},
	}

	answer, res := s.streamTurn(ctx, req, chatID, client, messages)
	if res != nil {
		return res
	}

	completionTokens := llm.CountTokens(modelName, answer)
	messages = append(messages, store.Message{
		Role:           store.RoleAssistant,
		Content:        answer,
		ModelID:        modelName,
		TokensConsumed: completionTokens,
		CreatedOn:      s.now().UTC(),
	})

	conv := &store.Conversation{
		UserID:              req.UserID,
		ChatID:              chatID,
		Title:               s.generateTitle(ctx, client, req.Query),
		Messages:            messages,
		CreatedOn:           s.now().UTC(),
		NetTokenConsumption: messages[1].TokensConsumed + completionTokens,
		Visible:             true,
	}

	created, err := s.store.CreateConversation(ctx, conv)
	if err != nil {
		s.logger.Error("saving new conversation failed",
			"user_id", req.UserID,
			"chat_id", chatID,
			"error", err)
		return s.fail(req, "Error starting new chat: "+err.Error())
	}
	if created {
		s.logger.Info("conversation created", "user_id", req.UserID, "chat_id", chatID)
	}

	return &Result{Success: true, ChatID: chatID}
}

// continueChat loads the stored transcript, streams the next exchange,
// and writes the whole transcript back.
func (s *Service) continueChat(ctx context.Context, req *Request, client ModelClient) *Result {
	conv, err := s.store.GetVisibleConversation(ctx, req.UserID, req.ChatID)
	if errors.Is(err, store.ErrNotFound) {
		s.notifyFailure(req, fmt.Sprintf(
			"Error continuing chat with existing history: Chat history not found for chat ID: %s", req.ChatID))
		return &Result{Success: true}
	}
	if err != nil {
		s.logger.Error("loading conversation failed",
			"user_id", req.UserID,
			"chat_id", req.ChatID,
			"error", err)
		return s.fail(req, "SERVER handling error: "+err.Error())
	}

	modelName := client.ModelName()
	promptTokens := llm.CountTokens(modelName, req.Query)
	messages := append(conv.Messages, store.Message{
		Role:           store.RoleUser,
		Content:        req.Query,
		ModelID:        modelName,
		TokensConsumed: promptTokens,
		CreatedOn:      s.now().UTC(),
	})

	answer, res := s.streamTurn(ctx, req, req.ChatID, client, messages)
	if res != nil {
		return res
	}

	completionTokens := llm.CountTokens(modelName, answer)
	messages = append(messages, store.Message{
		Role:           store.RoleAssistant,
		Content:        answer,
		ModelID:        modelName,
		TokensConsumed: completionTokens,
		CreatedOn:      s.now().UTC(),
	})

	netTokens := conv.NetTokenConsumption + promptTokens + completionTokens
	if err := s.store.AppendTurn(ctx, req.UserID, req.ChatID, messages, netTokens); err != nil {
		s.logger.Error("saving conversation turn failed",
			"user_id", req.UserID,
			"chat_id", req.ChatID,
			"error", err)
		return s.fail(req, "Error continuing chat with existing history: "+err.Error())
	}

	return &Result{Success: true, ChatID: req.ChatID}
}

// streamTurn opens the model stream and relays it to the user's channels.
// On failure it returns a non-nil Result; nothing is persisted.
func (s *Service) streamTurn(ctx context.Context, req *Request, chatID string, client ModelClient, messages []store.Message) (string, *Result) {
	source, err := client.Stream(ctx, messages)
	if err != nil {
		if errors.Is(err, llm.ErrContentFiltered) {
			s.relay.Notify(req.UserID, chatID, relay.ModerationNotice)
			s.relay.EndStream(req.UserID)
			return "", &Result{Success: false, Error: "Content filtered"}
		}
		s.logger.Error("opening model stream failed",
			"user_id", req.UserID,
			"chat_id", chatID,
			"error", err)
		return "", s.fail(req, "SERVER handling error: "+err.Error())
	}

	answer, err := s.relay.Run(ctx, req.UserID, chatID, source)
	if err != nil {
		if errors.Is(err, llm.ErrContentFiltered) {
			// The relay already sent the moderation notice and the
			// terminal event.
			return "", &Result{Success: false, Error: "Content filtered"}
		}
		s.logger.Error("model stream failed",
			"user_id", req.UserID,
			"chat_id", chatID,
			"error", err)
		return "", s.fail(req, "SERVER handling error: "+err.Error())
	}
	return answer, nil
}

// generateTitle asks the model for a short conversation title via a
// separate non-streaming call. Surrounding quotes are stripped; failures
// degrade to a fixed fallback title.
func (s *Service) generateTitle(ctx context.Context, client ModelClient, userQuery string) string {
	title, err := client.Complete(ctx, fmt.Sprintf(titlePrompt, userQuery))
	if err != nil {
		s.logger.Warn("title generation failed", "error", err)
		return titleFallback
	}

	title = strings.TrimSpace(title)
	for _, quote := range []string{`"`, `'`} {
		if len(title) > 1 && strings.HasPrefix(title, quote) && strings.HasSuffix(title, quote) {
			title = title[1 : len(title)-1]
			break
		}
	}
	if title == "" {
		return titleFallback
	}
	return title
}

// renderSystemPrompt resolves the preamble template with today's date.
func (s *Service) renderSystemPrompt() string {
	var buf bytes.Buffer
	err := s.systemPrompt.Execute(&buf, struct{ Date string }{
		Date: s.now().UTC().Format("Monday, 02 January 2006"),
	})
	if err != nil {
		s.logger.Warn("rendering system prompt failed", "error", err)
		return DefaultSystemPromptRendered(s.now().UTC())
	}
	return buf.String()
}

// DefaultSystemPromptRendered returns the built-in preamble with the date
// substituted, bypassing template execution.
func DefaultSystemPromptRendered(now time.Time) string {
	return strings.ReplaceAll(DefaultSystemPrompt, "{{.Date}}", now.Format("Monday, 02 January 2006"))
}

// notifyFailure pushes a failure notice and the terminal event to any
// channels the user has open, so in-flight UI streams settle.
func (s *Service) notifyFailure(req *Request, message string) {
	chatID := req.ChatID
	if chatID == "" {
		chatID = req.UserID
	}
	s.relay.Notify(req.UserID, chatID, message)
	s.relay.EndStream(req.UserID)
}

// fail reports an unexpected server-side error over both paths.
func (s *Service) fail(req *Request, message string) *Result {
	s.notifyFailure(req, "Something went wrong, please wait for a while.")
	return &Result{Success: false, Error: message}
}
