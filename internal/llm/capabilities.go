// ABOUTME: Pluggable capabilities the model may call mid-generation
// ABOUTME: Current date-time lookup and Google-style web search

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Capability is a tool the model may invoke zero or more times mid-stream.
type Capability interface {
	// Definition describes the tool for the completion request.
	Definition() openai.Tool

	// Invoke runs the tool with the model-supplied JSON arguments.
	Invoke(ctx context.Context, arguments string) (string, error)
}

// CurrentDateTime reports the gateway's current date and time.
type CurrentDateTime struct {
	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

// Definition describes the date-time tool.
func (c *CurrentDateTime) Definition() openai.Tool {
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        "current_date_time",
			Description: "Returns the current date and time in UTC. Use when the user asks about today's date or the current time.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {}
			}`),
		},
	}
}

// Invoke returns the current UTC timestamp.
func (c *CurrentDateTime) Invoke(_ context.Context, _ string) (string, error) {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	return now().UTC().Format("Monday, 02 January 2006 15:04:05 MST"), nil
}

// WebSearch queries a Google Custom Search-style endpoint and returns the
// top results as plain text for the model to read.
type WebSearch struct {
	Endpoint string
	APIKey   string
	EngineID string

	// HTTPClient is overridable for tests; defaults to a 10s-timeout client.
	HTTPClient *http.Client
}

// webSearchArgs is the model-supplied argument payload.
type webSearchArgs struct {
	Query string `json:"query"`
}

// searchResponse is the subset of the search API response we read.
type searchResponse struct {
	Items []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"items"`
}

// Definition describes the web-search tool.
func (w *WebSearch) Definition() openai.Tool {
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        "web_search",
			Description: "Searches the web and returns the top results. Use for questions about current events or facts you are unsure of.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"query": {"type": "string", "description": "The search query"}
				},
				"required": ["query"]
			}`),
		},
	}
}

// Invoke performs the search and renders results as title/link/snippet lines.
func (w *WebSearch) Invoke(ctx context.Context, arguments string) (string, error) {
	var args webSearchArgs
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return "", fmt.Errorf("parsing search arguments: %w", err)
	}
	if args.Query == "" {
		return "", fmt.Errorf("empty search query")
	}

	u, err := url.Parse(w.Endpoint)
	if err != nil {
		return "", fmt.Errorf("parsing search endpoint: %w", err)
	}
	q := u.Query()
	q.Set("key", w.APIKey)
	q.Set("cx", w.EngineID)
	q.Set("q", args.Query)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("building search request: %w", err)
	}

	client := w.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("search returned %d: %s", resp.StatusCode, body)
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decoding search response: %w", err)
	}

	if len(parsed.Items) == 0 {
		return "No results found.", nil
	}

	var b strings.Builder
	for i, item := range parsed.Items {
		if i >= 5 {
			break
		}
		fmt.Fprintf(&b, "%s\n%s\n%s\n\n", item.Title, item.Link, item.Snippet)
	}
	return strings.TrimSpace(b.String()), nil
}
