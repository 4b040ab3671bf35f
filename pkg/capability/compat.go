package capability

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// CompatAnswerer implements TextAnswerer for OpenAI-compatible servers
// (vLLM, llama.cpp server) hosting a local vision model.
// Many of these servers ignore the n parameter, so samples are drawn one call at a time.
type CompatAnswerer struct {
	client      openai.Client
	baseURL     string
	model       string
	temperature float64
}

// NewCompatAnswerer creates an answerer for the server at baseURL.
func NewCompatAnswerer(baseURL, apiKey, model string, temperature float64) (*CompatAnswerer, error) {
	if baseURL == "" {
		return nil, Unavailable(KindTextAnswerer, "compat", fmt.Errorf("compat base URL is required"))
	}
	if model == "" {
		return nil, Unavailable(KindTextAnswerer, "compat", fmt.Errorf("compat model is required"))
	}

	opts := []option.RequestOption{option.WithBaseURL(baseURL)}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	} else {
		opts = append(opts, option.WithAPIKey("none"))
	}

	return &CompatAnswerer{
		client:      openai.NewClient(opts...),
		baseURL:     baseURL,
		model:       model,
		temperature: temperature,
	}, nil
}

// Name returns the backend identifier.
func (a *CompatAnswerer) Name() string {
	return "compat"
}

// Models returns the configured model; compat servers serve whatever they were started with.
func (a *CompatAnswerer) Models() []string {
	return []string{a.model}
}

// Sample returns one answer sample.
func (a *CompatAnswerer) Sample(ctx context.Context, img Image, query string) (string, error) {
	resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(a.model),
		Messages:    visionMessages(img, query),
		Temperature: openai.Float(a.temperature),
		MaxTokens:   openai.Int(256),
	})
	if err != nil {
		capErr := InvocationFailed(KindTextAnswerer, a.Name(), fmt.Errorf("compat server %s: %w", a.baseURL, err))
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			capErr.WithStatus(apiErr.StatusCode)
		}
		return "", capErr
	}

	if len(resp.Choices) == 0 {
		return "", InvocationFailed(KindTextAnswerer, a.Name(), fmt.Errorf("compat server returned no choices"))
	}

	return resp.Choices[0].Message.Content, nil
}
