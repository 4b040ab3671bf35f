package capability

import "context"

// Kind names one of the two capabilities the router can use.
type Kind string

const (
	// KindTextAnswerer produces free-form textual answers.
	KindTextAnswerer Kind = "text_answerer"
	// KindObjectLocalizer produces bounding boxes.
	KindObjectLocalizer Kind = "object_localizer"
)

// TextAnswerer produces one textual answer sample per call.
// Repeated calls are independent; backends that support sampling should return fresh samples.
type TextAnswerer interface {
	// Sample answers query about img.
	Sample(ctx context.Context, img Image, query string) (string, error)

	// Name returns the backend identifier.
	Name() string

	// Models returns the list of supported models.
	Models() []string
}

// BatchAnswerer is implemented by answerers that can return several samples in one call.
type BatchAnswerer interface {
	TextAnswerer

	// SampleN returns exactly n samples for query about img.
	SampleN(ctx context.Context, img Image, query string, n int) ([]string, error)
}

// ObjectLocalizer returns the boxes in img that match query.
type ObjectLocalizer interface {
	// Locate performs a single localization call.
	Locate(ctx context.Context, img Image, query string) (DetectionResult, error)

	// Name returns the backend identifier.
	Name() string

	// Models returns the list of supported models.
	Models() []string
}
