package router

import (
	"slices"

	"github.com/zen-systems/visroute/pkg/capability"
)

// State is a step of the escalation state machine.
type State string

const (
	StateInit           State = "INIT"
	StateSampled        State = "SAMPLED"
	StateVoted          State = "VOTED"
	StateEscalated      State = "ESCALATED"
	StateResampledVoted State = "RESAMPLED_VOTED"
	StateDone           State = "DONE"
)

// AnswerKind tags the variant held by an Answer.
type AnswerKind string

const (
	AnswerText      AnswerKind = "text"
	AnswerDetection AnswerKind = "detection"
)

// Answer is the final answer of a route: either text or a detection result.
type Answer struct {
	Kind      AnswerKind                  `json:"kind"`
	Text      string                      `json:"text,omitempty"`
	Detection *capability.DetectionResult `json:"detection,omitempty"`
}

// TextAnswer wraps a textual answer.
func TextAnswer(text string) Answer {
	return Answer{Kind: AnswerText, Text: text}
}

// DetectionAnswer wraps a detection result.
func DetectionAnswer(res capability.DetectionResult) Answer {
	return Answer{Kind: AnswerDetection, Detection: &res}
}

// String renders the answer for display and scoring.
func (a Answer) String() string {
	if a.Kind == AnswerDetection && a.Detection != nil {
		return a.Detection.String()
	}
	return a.Text
}

// Decision is the outcome of one Route call. It is created fresh per call and owned by the caller.
type Decision struct {
	Answer       Answer            `json:"answer"`
	Capabilities []capability.Kind `json:"capabilities"`
	SamplesUsed  int               `json:"samples_used"`
	// Consistency is always the agreement of the initial batch.
	Consistency float64  `json:"consistency"`
	State       State    `json:"state"`
	Triggers    []string `json:"triggers,omitempty"`
	Samples     []string `json:"samples,omitempty"`
}

// Escalated reports whether more than one capability was used.
func (d *Decision) Escalated() bool {
	return d != nil && len(d.Capabilities) > 1
}

// Uses reports whether the capability kind took part in the decision.
func (d *Decision) Uses(kind capability.Kind) bool {
	return d != nil && slices.Contains(d.Capabilities, kind)
}
