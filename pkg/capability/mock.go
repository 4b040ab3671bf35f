package capability

import (
	"context"
	"sync"
)

// MockAnswerer returns scripted samples for local runs and tests.
// Scripts are keyed by query and cycle once exhausted.
type MockAnswerer struct {
	mu              sync.Mutex
	responses       map[string][]string
	defaultResponse string
	calls           map[string]int
	total           int

	// Err, when set, fails every call.
	Err error
}

// NewMockAnswerer creates a mock answerer with a default response.
func NewMockAnswerer() *MockAnswerer {
	return NewMockAnswererWithResponses(nil, "")
}

// NewMockAnswererWithResponses creates a mock answerer with predefined sample scripts.
func NewMockAnswererWithResponses(responses map[string][]string, defaultResponse string) *MockAnswerer {
	if defaultResponse == "" {
		defaultResponse = "mock answer"
	}
	if responses == nil {
		responses = make(map[string][]string)
	}
	return &MockAnswerer{
		responses:       responses,
		defaultResponse: defaultResponse,
		calls:           make(map[string]int),
	}
}

// Name returns the backend identifier.
func (a *MockAnswerer) Name() string {
	return "mock"
}

// Models returns the list of supported mock models.
func (a *MockAnswerer) Models() []string {
	return []string{"mock-1"}
}

// Sample returns the next scripted sample for query.
func (a *MockAnswerer) Sample(_ context.Context, _ Image, query string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.total++
	if a.Err != nil {
		return "", InvocationFailed(KindTextAnswerer, a.Name(), a.Err)
	}
	script := a.responses[query]
	i := a.calls[query]
	a.calls[query] = i + 1
	if len(script) == 0 {
		return a.defaultResponse, nil
	}
	return script[i%len(script)], nil
}

// Calls returns how many samples were requested for query.
func (a *MockAnswerer) Calls(query string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[query]
}

// TotalCalls returns the number of Sample calls, failed ones included.
func (a *MockAnswerer) TotalCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total
}

// MockLocalizer returns fixed detection results for local runs and tests.
type MockLocalizer struct {
	mu            sync.Mutex
	results       map[string]DetectionResult
	defaultResult DetectionResult
	calls         int

	// Err, when set, fails every call.
	Err error
}

// NewMockLocalizer creates a mock localizer returning def for unknown queries.
func NewMockLocalizer(results map[string]DetectionResult, def DetectionResult) *MockLocalizer {
	if results == nil {
		results = make(map[string]DetectionResult)
	}
	return &MockLocalizer{results: results, defaultResult: def}
}

// Name returns the backend identifier.
func (l *MockLocalizer) Name() string {
	return "mock"
}

// Models returns the list of supported mock models.
func (l *MockLocalizer) Models() []string {
	return []string{"mock-1"}
}

// Locate returns the configured result for query.
func (l *MockLocalizer) Locate(_ context.Context, _ Image, query string) (DetectionResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls++
	if l.Err != nil {
		return DetectionResult{}, InvocationFailed(KindObjectLocalizer, l.Name(), l.Err)
	}
	if res, ok := l.results[query]; ok {
		return res.Clone(), nil
	}
	return l.defaultResult.Clone(), nil
}

// Calls returns the number of Locate calls.
func (l *MockLocalizer) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}
