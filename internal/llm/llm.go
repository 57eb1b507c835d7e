// Package llm wraps the Gemini SDK behind a small chat interface:
// Chat(messages, model) -> text, plus a structured-JSON variant and a
// markdown-fence stripper for callers that fall back to plain text.
package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/PersonalProjectsDsully/newsgrouping/internal/config"
)

// DefaultModel is used whenever a caller leaves model empty.
const DefaultModel = "gemini-flash-lite-latest"

// Role is a chat message role.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

// Message is one turn of a chat prompt.
type Message struct {
	Role    Role
	Content string
}

// Client wraps a genai.Client with the Chat interface the rest of this
// module depends on.
type Client struct {
	gClient      *genai.Client
	defaultModel string
}

// NewClient builds a Client from the given configuration. The API key
// and model name are resolved by config.Config's own env/file
// precedence before reaching here, so this constructor takes a
// fully-resolved config value rather than reading the environment
// itself.
func NewClient(ctx context.Context, cfg config.LLMConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: API key is required (set GEMINI_API_KEY or llm.api_key)")
	}

	modelName := cfg.Model
	if modelName == "" {
		modelName = DefaultModel
	}

	gClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: creating client: %w", err)
	}

	return &Client{gClient: gClient, defaultModel: modelName}, nil
}

func (c *Client) modelOrDefault(model string) string {
	if model == "" {
		return c.defaultModel
	}
	return model
}

func toContents(messages []Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		role := string(m.Role)
		if role != "user" && role != "model" {
			// genai only recognizes "user"/"model" roles; a "system"
			// message is sent as its own "user" turn so instructions
			// still reach the model.
			role = "user"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}
	return contents
}

// Chat sends messages to model (or the client default) and returns the
// raw text response.
func (c *Client) Chat(ctx context.Context, messages []Message, model string) (string, error) {
	resp, err := c.gClient.Models.GenerateContent(ctx, c.modelOrDefault(model), toContents(messages), nil)
	if err != nil {
		return "", fmt.Errorf("llm: generating content: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("llm: empty response from model")
	}
	return text, nil
}

// ChatJSON is Chat constrained to a response schema (Gemini structured
// output). Use this whenever the caller needs guaranteed-parseable
// JSON; fall back to Chat + StripJSONFence when no schema is available
// for the shape.
func (c *Client) ChatJSON(ctx context.Context, messages []Message, model string, schema *genai.Schema, temperature float32) (string, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(temperature),
		ResponseMIMEType: "application/json",
	}
	if schema != nil {
		cfg.ResponseSchema = schema
	}

	resp, err := c.gClient.Models.GenerateContent(ctx, c.modelOrDefault(model), toContents(messages), cfg)
	if err != nil {
		return "", fmt.Errorf("llm: generating structured content: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("llm: empty structured response from model")
	}
	return text, nil
}

// StripJSONFence removes a ```json ... ``` or ``` ... ``` wrapper from
// an LLM response. Safe to call on text that has no fence.
func StripJSONFence(response string) string {
	clean := strings.TrimSpace(response)
	if strings.HasPrefix(clean, "```json") {
		clean = strings.TrimPrefix(clean, "```json")
		clean = strings.TrimPrefix(clean, "```")
		clean = strings.TrimSuffix(clean, "```")
		return strings.TrimSpace(clean)
	}
	if strings.HasPrefix(clean, "```") {
		clean = strings.TrimPrefix(clean, "```")
		clean = strings.TrimSuffix(clean, "```")
		return strings.TrimSpace(clean)
	}
	return clean
}
