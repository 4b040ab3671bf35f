package capability

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const answerInstruction = "Answer the question about the image. Reply with a short phrase, no explanation."

// OpenAIAnswerer implements TextAnswerer and BatchAnswerer for OpenAI vision models.
type OpenAIAnswerer struct {
	client      openai.Client
	name        string
	model       string
	temperature float64
	maxTokens   int64
}

// NewOpenAIAnswerer creates a new OpenAI answerer.
func NewOpenAIAnswerer(apiKey, model string, temperature float64) (*OpenAIAnswerer, error) {
	if apiKey == "" {
		return nil, Unavailable(KindTextAnswerer, "openai", fmt.Errorf("openai API key is required"))
	}
	if model == "" {
		model = "gpt-4o-mini"
	}

	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIAnswerer{
		client:      client,
		name:        "openai",
		model:       model,
		temperature: temperature,
		maxTokens:   256,
	}, nil
}

// Name returns the backend identifier.
func (a *OpenAIAnswerer) Name() string {
	return a.name
}

// Models returns the list of supported OpenAI vision models.
func (a *OpenAIAnswerer) Models() []string {
	return []string{
		"gpt-4o",
		"gpt-4o-mini",
		"gpt-4.1",
		"gpt-4.1-mini",
	}
}

// Sample returns one answer sample.
func (a *OpenAIAnswerer) Sample(ctx context.Context, img Image, query string) (string, error) {
	samples, err := a.SampleN(ctx, img, query, 1)
	if err != nil {
		return "", err
	}
	return samples[0], nil
}

// SampleN requests n choices in a single chat completion.
func (a *OpenAIAnswerer) SampleN(ctx context.Context, img Image, query string, n int) ([]string, error) {
	if n < 1 {
		return nil, nil
	}
	resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(a.model),
		Messages:            visionMessages(img, query),
		N:                   openai.Int(int64(n)),
		Temperature:         openai.Float(a.temperature),
		MaxCompletionTokens: openai.Int(a.maxTokens),
	})
	if err != nil {
		return nil, a.wrapError(fmt.Errorf("%s API error: %w", a.name, err))
	}

	if len(resp.Choices) < n {
		return nil, InvocationFailed(KindTextAnswerer, a.name,
			fmt.Errorf("%s returned %d choices, want %d", a.name, len(resp.Choices), n))
	}

	samples := make([]string, 0, n)
	for _, choice := range resp.Choices[:n] {
		samples = append(samples, choice.Message.Content)
	}
	return samples, nil
}

func (a *OpenAIAnswerer) wrapError(err error) error {
	capErr := InvocationFailed(KindTextAnswerer, a.name, err)
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		capErr.WithStatus(apiErr.StatusCode)
	}
	return capErr
}

func visionMessages(img Image, query string) []openai.ChatCompletionMessageParamUnion {
	return []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(answerInstruction),
		openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
			openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: img.DataURL(),
			}),
			openai.TextContentPart(query),
		}),
	}
}
