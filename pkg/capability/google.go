package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const boxScale = 1000.0

// GoogleAnswerer implements TextAnswerer and BatchAnswerer for Gemini models.
type GoogleAnswerer struct {
	client      *genai.Client
	model       string
	temperature float64
}

// GoogleLocalizer implements ObjectLocalizer using Gemini's box_2d detection output.
type GoogleLocalizer struct {
	client *genai.Client
	model  string
}

func newGoogleClient(ctx context.Context, kind Kind, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, Unavailable(kind, "google", fmt.Errorf("google API key is required"))
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, Unavailable(kind, "google", fmt.Errorf("failed to create google client: %w", err))
	}
	return client, nil
}

// NewGoogleAnswerer creates a new Gemini answerer.
func NewGoogleAnswerer(ctx context.Context, apiKey, model string, temperature float64) (*GoogleAnswerer, error) {
	client, err := newGoogleClient(ctx, KindTextAnswerer, apiKey)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GoogleAnswerer{client: client, model: model, temperature: temperature}, nil
}

// NewGoogleLocalizer creates a new Gemini localizer.
func NewGoogleLocalizer(ctx context.Context, apiKey, model string) (*GoogleLocalizer, error) {
	client, err := newGoogleClient(ctx, KindObjectLocalizer, apiKey)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GoogleLocalizer{client: client, model: model}, nil
}

func googleModels() []string {
	return []string{
		"gemini-2.0-flash",
		"gemini-2.5-flash",
		"gemini-2.5-pro",
	}
}

// Name returns the backend identifier.
func (a *GoogleAnswerer) Name() string {
	return "google"
}

// Models returns the list of supported Gemini models.
func (a *GoogleAnswerer) Models() []string {
	return googleModels()
}

// Sample returns one answer sample.
func (a *GoogleAnswerer) Sample(ctx context.Context, img Image, query string) (string, error) {
	samples, err := a.SampleN(ctx, img, query, 1)
	if err != nil {
		return "", err
	}
	return samples[0], nil
}

// SampleN requests n candidates in a single call.
func (a *GoogleAnswerer) SampleN(ctx context.Context, img Image, query string, n int) ([]string, error) {
	if n < 1 {
		return nil, nil
	}
	resp, err := a.client.Models.GenerateContent(ctx, a.model, imageContents(img, query), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(answerInstruction, genai.RoleUser),
		Temperature:       genai.Ptr(float32(a.temperature)),
		CandidateCount:    int32(n),
	})
	if err != nil {
		return nil, googleError(KindTextAnswerer, err)
	}

	if resp == nil || len(resp.Candidates) < n {
		got := 0
		if resp != nil {
			got = len(resp.Candidates)
		}
		return nil, InvocationFailed(KindTextAnswerer, "google",
			fmt.Errorf("google returned %d candidates, want %d", got, n))
	}

	samples := make([]string, 0, n)
	for _, cand := range resp.Candidates[:n] {
		samples = append(samples, candidateText(cand))
	}
	return samples, nil
}

// Name returns the backend identifier.
func (l *GoogleLocalizer) Name() string {
	return "google"
}

// Models returns the list of supported Gemini models.
func (l *GoogleLocalizer) Models() []string {
	return googleModels()
}

// Locate asks Gemini for box_2d detections and converts them to pixel space.
func (l *GoogleLocalizer) Locate(ctx context.Context, img Image, query string) (DetectionResult, error) {
	if img.Width <= 0 || img.Height <= 0 {
		return DetectionResult{}, InvocationFailed(KindObjectLocalizer, l.Name(),
			fmt.Errorf("image dimensions unknown for %s", img.MIMEType))
	}

	resp, err := l.client.Models.GenerateContent(ctx, l.model, imageContents(img, buildLocalizePrompt(query)), &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(float32(0)),
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return DetectionResult{}, googleError(KindObjectLocalizer, err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return DetectionResult{}, InvocationFailed(KindObjectLocalizer, l.Name(), fmt.Errorf("google returned no candidates"))
	}

	result, err := ParseBoxes(candidateText(resp.Candidates[0]), img.Width, img.Height)
	if err != nil {
		return DetectionResult{}, InvocationFailed(KindObjectLocalizer, l.Name(), err)
	}
	return result, nil
}

func buildLocalizePrompt(query string) string {
	var sb strings.Builder
	sb.WriteString("Detect the objects in the image that are relevant to this request:\n")
	sb.WriteString(query)
	sb.WriteString("\n\nReturn ONLY a JSON array. Each entry: {\"box_2d\": [ymin, xmin, ymax, xmax], \"label\": \"...\"}")
	sb.WriteString(" with coordinates normalized to 0-1000. Return [] if nothing matches.")
	return sb.String()
}

type boxEntry struct {
	Box2D []float64 `json:"box_2d"`
	Label string    `json:"label"`
}

// ParseBoxes converts a box_2d JSON array (normalized 0-1000, [ymin, xmin, ymax, xmax])
// into pixel-space boxes for an image of the given size.
func ParseBoxes(content string, width, height int) (DetectionResult, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var entries []boxEntry
	if err := json.Unmarshal([]byte(content), &entries); err != nil {
		return DetectionResult{}, fmt.Errorf("invalid detection response: %w", err)
	}

	result := DetectionResult{Boxes: make([]Box, 0, len(entries))}
	for i, e := range entries {
		if len(e.Box2D) != 4 {
			return DetectionResult{}, fmt.Errorf("detection %d: box_2d has %d values, want 4", i, len(e.Box2D))
		}
		ymin, xmin := clampNorm(e.Box2D[0]), clampNorm(e.Box2D[1])
		ymax, xmax := clampNorm(e.Box2D[2]), clampNorm(e.Box2D[3])
		if xmin > xmax {
			xmin, xmax = xmax, xmin
		}
		if ymin > ymax {
			ymin, ymax = ymax, ymin
		}
		result.Boxes = append(result.Boxes, Box{
			XMin:  xmin / boxScale * float64(width),
			YMin:  ymin / boxScale * float64(height),
			XMax:  xmax / boxScale * float64(width),
			YMax:  ymax / boxScale * float64(height),
			Label: e.Label,
		})
	}
	return result, nil
}

func clampNorm(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > boxScale {
		return boxScale
	}
	return v
}

func imageContents(img Image, text string) []*genai.Content {
	return []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(img.Data, img.MIMEType),
			genai.NewPartFromText(text),
		}, genai.RoleUser),
	}
}

func candidateText(cand *genai.Candidate) string {
	if cand == nil || cand.Content == nil {
		return ""
	}
	var content string
	for _, part := range cand.Content.Parts {
		if part != nil && part.Text != "" {
			content += part.Text
		}
	}
	return content
}

func googleError(kind Kind, err error) error {
	capErr := InvocationFailed(kind, "google", fmt.Errorf("google API error: %w", err))
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		capErr.WithStatus(apiErr.Code)
	}
	return capErr
}
