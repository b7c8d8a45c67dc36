// ABOUTME: Model inference client built on go-openai with Azure deployment support
// ABOUTME: Streams completions, auto-invokes tool capabilities, detects content filtering

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/evachat/eva-gateway/internal/store"
)

// ErrContentFiltered marks a provider rejection for content policy reasons.
var ErrContentFiltered = errors.New("content filtered")

// temperature is pinned near zero so replies stay deterministic.
const temperature = 0.001

// Client is an inference handle bound to one model deployment's endpoint
// and credential, with capabilities the model may invoke mid-stream.
type Client struct {
	api          *openai.Client
	deployment   string
	capabilities []Capability
	logger       *slog.Logger
}

// NewClient builds a client from a model descriptor. Providers named
// "azure" get deployment-style routing; anything else is treated as an
// OpenAI-compatible endpoint.
func NewClient(model *store.Model, capabilities []Capability, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	var cfg openai.ClientConfig
	if strings.EqualFold(model.Provider, "azure") {
		cfg = openai.DefaultAzureConfig(model.APIKey, model.Endpoint)
	} else {
		cfg = openai.DefaultConfig(model.APIKey)
		if model.Endpoint != "" {
			cfg.BaseURL = model.Endpoint
		}
	}

	return &Client{
		api:          openai.NewClientWithConfig(cfg),
		deployment:   model.DeploymentName,
		capabilities: capabilities,
		logger:       logger.With("component", "llm", "deployment", model.DeploymentName),
	}
}

// ModelName returns the deployment's model name, used for token counting.
func (c *Client) ModelName() string {
	return c.deployment
}

// Stream starts a streaming completion over the given transcript.
// The returned stream yields text fragments; tool calls requested by the
// model are invoked transparently and generation resumes with their results.
func (c *Client) Stream(ctx context.Context, messages []store.Message) (*Stream, error) {
	s := &Stream{
		client:   c,
		ctx:      ctx,
		messages: toChatMessages(messages),
	}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

// Complete runs a single non-streaming prompt, used for title generation.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.deployment,
		Temperature: temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", wrapProviderError(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// tools returns the request tool definitions for the attached capabilities.
func (c *Client) tools() []openai.Tool {
	if len(c.capabilities) == 0 {
		return nil
	}
	tools := make([]openai.Tool, 0, len(c.capabilities))
	for _, cap := range c.capabilities {
		tools = append(tools, cap.Definition())
	}
	return tools
}

// capability finds an attached capability by tool name.
func (c *Client) capability(name string) Capability {
	for _, cap := range c.capabilities {
		if cap.Definition().Function.Name == name {
			return cap
		}
	}
	return nil
}

// Stream yields text fragments from a streaming completion.
// Recv returns io.EOF once generation is complete; tool-call rounds are
// handled internally and never surface as fragments.
type Stream struct {
	client   *Client
	ctx      context.Context
	messages []openai.ChatCompletionMessage
	cur      *openai.ChatCompletionStream
	pending  []openai.ToolCall
}

// open starts (or restarts, after a tool round) the provider stream.
func (s *Stream) open() error {
	stream, err := s.client.api.CreateChatCompletionStream(s.ctx, openai.ChatCompletionRequest{
		Model:       s.client.deployment,
		Temperature: temperature,
		Messages:    s.messages,
		Tools:       s.client.tools(),
	})
	if err != nil {
		return wrapProviderError(err)
	}
	s.cur = stream
	return nil
}

// Recv returns the next text fragment, or io.EOF when generation completes.
func (s *Stream) Recv() (string, error) {
	for {
		resp, err := s.cur.Recv()
		if errors.Is(err, io.EOF) {
			s.cur.Close()
			s.cur = nil

			if len(s.pending) > 0 {
				if err := s.runToolRound(); err != nil {
					return "", err
				}
				continue
			}
			return "", io.EOF
		}
		if err != nil {
			return "", wrapProviderError(err)
		}

		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta

		if len(delta.ToolCalls) > 0 {
			s.mergeToolCallDeltas(delta.ToolCalls)
			continue
		}

		if delta.Content != "" {
			return delta.Content, nil
		}
	}
}

// Close releases the underlying provider stream if still open.
func (s *Stream) Close() {
	if s.cur != nil {
		s.cur.Close()
		s.cur = nil
	}
}

// mergeToolCallDeltas accumulates streamed tool-call fragments by index.
func (s *Stream) mergeToolCallDeltas(deltas []openai.ToolCall) {
	for _, d := range deltas {
		idx := 0
		if d.Index != nil {
			idx = *d.Index
		}
		for len(s.pending) <= idx {
			s.pending = append(s.pending, openai.ToolCall{Type: openai.ToolTypeFunction})
		}
		call := &s.pending[idx]
		if d.ID != "" {
			call.ID = d.ID
		}
		if d.Function.Name != "" {
			call.Function.Name = d.Function.Name
		}
		call.Function.Arguments += d.Function.Arguments
	}
}

// runToolRound invokes the requested capabilities and restarts generation
// with their results appended to the transcript.
func (s *Stream) runToolRound() error {
	calls := s.pending
	s.pending = nil

	s.messages = append(s.messages, openai.ChatCompletionMessage{
		Role:      openai.ChatMessageRoleAssistant,
		ToolCalls: calls,
	})

	for _, call := range calls {
		result := s.invoke(call)
		s.messages = append(s.messages, openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			ToolCallID: call.ID,
			Content:    result,
		})
	}

	return s.open()
}

// invoke runs one capability; failures are reported back to the model
// rather than failing the turn.
func (s *Stream) invoke(call openai.ToolCall) string {
	cap := s.client.capability(call.Function.Name)
	if cap == nil {
		s.client.logger.Warn("model requested unknown tool", "tool", call.Function.Name)
		return fmt.Sprintf("unknown tool %q", call.Function.Name)
	}

	result, err := cap.Invoke(s.ctx, call.Function.Arguments)
	if err != nil {
		s.client.logger.Warn("capability invocation failed",
			"tool", call.Function.Name,
			"error", err)
		return fmt.Sprintf("tool %s failed: %v", call.Function.Name, err)
	}
	return result
}

// toChatMessages converts stored transcript entries to request messages.
func toChatMessages(messages []store.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	return out
}

// wrapProviderError maps provider errors into the package taxonomy.
// Azure rejects policy violations with error code "content_filter".
func wrapProviderError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if code, ok := apiErr.Code.(string); ok && code == "content_filter" {
			return fmt.Errorf("%w: %s", ErrContentFiltered, apiErr.Message)
		}
	}
	return err
}
