package capability

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicAnswerer implements TextAnswerer for Claude vision models.
type AnthropicAnswerer struct {
	client      anthropic.Client
	model       string
	temperature float64
}

// NewAnthropicAnswerer creates a new Anthropic answerer.
func NewAnthropicAnswerer(apiKey, model string, temperature float64) (*AnthropicAnswerer, error) {
	if apiKey == "" {
		return nil, Unavailable(KindTextAnswerer, "anthropic", fmt.Errorf("anthropic API key is required"))
	}
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicAnswerer{client: client, model: model, temperature: temperature}, nil
}

// Name returns the backend identifier.
func (a *AnthropicAnswerer) Name() string {
	return "anthropic"
}

// Models returns the list of supported Claude models.
func (a *AnthropicAnswerer) Models() []string {
	return []string{
		"claude-sonnet-4-20250514",
		"claude-opus-4-20250514",
	}
}

// Sample sends the image and query to Claude and returns the text of the reply.
func (a *AnthropicAnswerer) Sample(ctx context.Context, img Image, query string) (string, error) {
	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   256,
		Temperature: anthropic.Float(a.temperature),
		System:      []anthropic.TextBlockParam{{Text: answerInstruction}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64(img.MIMEType, img.Base64()),
				anthropic.NewTextBlock(query),
			),
		},
	})
	if err != nil {
		capErr := InvocationFailed(KindTextAnswerer, a.Name(), fmt.Errorf("anthropic API error: %w", err))
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			capErr.WithStatus(apiErr.StatusCode)
		}
		return "", capErr
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return content, nil
}
