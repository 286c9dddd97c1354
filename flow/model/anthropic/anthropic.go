// Package anthropic adapts Anthropic's Claude API to the model.Completer
// interface.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/specflow-go/flow/model"
)

// DefaultModel is used when no model is specified.
const DefaultModel = "claude-3-5-sonnet-20241022"

const defaultMaxTokens = 4096

// Completer wraps the official anthropic-sdk-go client. Safe for
// concurrent use.
type Completer struct {
	client *anthropic.Client
	model  string
}

// New creates a Claude-backed completer. An empty model uses
// DefaultModel; the API key comes from the caller, usually the
// ANTHROPIC_API_KEY environment variable.
func New(apiKey, modelName string) (*Completer, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic API key required")
	}
	if modelName == "" {
		modelName = DefaultModel
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Completer{client: &client, model: modelName}, nil
}

// Complete implements model.Completer.
func (c *Completer) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages:  toMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature >= 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return model.Response{}, fmt.Errorf("anthropic completion: %w", err)
	}

	var text string
	for _, block := range message.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return model.Response{
		Text:      text,
		TokensIn:  int(message.Usage.InputTokens),
		TokensOut: int(message.Usage.OutputTokens),
		Model:     c.model,
	}, nil
}

func toMessages(msgs []model.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == model.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}
