// Package google adapts Google's Gemini API to the model.Completer
// interface.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/dshills/specflow-go/flow/model"
)

// DefaultModel is used when no model is specified.
const DefaultModel = "gemini-1.5-flash"

// Completer wraps the generative-ai-go client. Safe for concurrent use;
// call Close when done.
type Completer struct {
	client *genai.Client
	model  string
}

// New creates a Gemini-backed completer.
func New(ctx context.Context, apiKey, modelName string) (*Completer, error) {
	if apiKey == "" {
		return nil, errors.New("google API key required")
	}
	if modelName == "" {
		modelName = DefaultModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create google client: %w", err)
	}
	return &Completer{client: client, model: modelName}, nil
}

// Close releases the underlying client.
func (c *Completer) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Complete implements model.Completer.
func (c *Completer) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	m := c.client.GenerativeModel(c.model)
	if req.System != "" {
		m.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.System)},
		}
	}
	if req.MaxTokens > 0 {
		m.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.Temperature >= 0 {
		m.SetTemperature(float32(req.Temperature))
	}
	if req.JSONOnly {
		m.ResponseMIMEType = "application/json"
	}

	var prompt strings.Builder
	for i, msg := range req.Messages {
		if i > 0 {
			prompt.WriteString("\n\n")
		}
		prompt.WriteString(msg.Content)
	}

	resp, err := m.GenerateContent(ctx, genai.Text(prompt.String()))
	if err != nil {
		return model.Response{}, fmt.Errorf("google completion: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return model.Response{}, errors.New("google completion returned no candidates")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}

	out := model.Response{Text: text.String(), Model: c.model}
	if resp.UsageMetadata != nil {
		out.TokensIn = int(resp.UsageMetadata.PromptTokenCount)
		out.TokensOut = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}
