// Package claude summarizes mirrored Slack threads with Anthropic Claude.
package claude

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/sabinanfranz/slack-data-ai/internal/config"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "claude-sonnet-4-5"
	// MaxTokens is the maximum number of tokens for responses.
	MaxTokens = 2048
)

// ErrNoSummary is returned when a response carries neither a summary tool
// call nor a JSON object.
var ErrNoSummary = errors.New("claude: response contained no summary")

// Client wraps the Anthropic SDK client.
type Client struct {
	client anthropic.Client
	model  string
}

// NewClient creates a new Claude API client.
func NewClient(apiKey, model string) *Client {
	if model == "" {
		model = DefaultModel
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Client{
		client: client,
		model:  model,
	}
}

// NewClientFromConfig creates a client from the application configuration.
func NewClientFromConfig(cfg *config.Config) (*Client, error) {
	if err := cfg.RequireSummary(); err != nil {
		return nil, err
	}
	return NewClient(cfg.AnthropicAPIKey, cfg.SummaryModel), nil
}

// Model returns the model ID requests are sent to.
func (c *Client) Model() string {
	return c.model
}

// CreateMessageWithTools sends a message with tool definitions.
func (c *Client) CreateMessageWithTools(
	ctx context.Context,
	systemPrompt string,
	messages []anthropic.MessageParam,
	tools []anthropic.ToolUnionParam,
) (*anthropic.Message, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: MaxTokens,
		Messages:  messages,
		Tools:     tools,
	}

	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: systemPrompt},
		}
	}

	return c.client.Messages.New(ctx, params)
}

// GenerateSummary asks Claude to summarize a thread transcript and returns
// the summary document it produced.
func (c *Client) GenerateSummary(ctx context.Context, instructions, transcript string) (json.RawMessage, error) {
	resp, err := c.CreateMessageWithTools(ctx, instructions,
		[]anthropic.MessageParam{BuildUserMessage(transcript)},
		[]anthropic.ToolUnionParam{SummaryTool()},
	)
	if err != nil {
		return nil, fmt.Errorf("claude API error: %w", err)
	}

	for _, use := range ExtractToolUses(resp) {
		if use.Name == SummaryToolName {
			return json.RawMessage(use.Input), nil
		}
	}
	return ExtractJSONObject(ExtractTextContent(resp))
}

// BuildUserMessage creates a user message param.
func BuildUserMessage(content string) anthropic.MessageParam {
	return anthropic.MessageParam{
		Role: anthropic.MessageParamRoleUser,
		Content: []anthropic.ContentBlockParamUnion{
			anthropic.NewTextBlock(content),
		},
	}
}

// ExtractTextContent extracts text content from a message.
func ExtractTextContent(msg *anthropic.Message) string {
	var text string
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text += b.Text
		}
	}
	return text
}

// ExtractToolUses extracts tool use blocks from a message.
func ExtractToolUses(msg *anthropic.Message) []anthropic.ToolUseBlock {
	var toolUses []anthropic.ToolUseBlock
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.ToolUseBlock:
			toolUses = append(toolUses, b)
		}
	}
	return toolUses
}

// ExtractJSONObject returns the outermost JSON object in text, tolerating
// prose or code fences around it.
func ExtractJSONObject(text string) (json.RawMessage, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return nil, ErrNoSummary
	}
	raw := json.RawMessage(text[start : end+1])
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrNoSummary)
	}
	return raw, nil
}
