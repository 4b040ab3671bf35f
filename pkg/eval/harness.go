// Package eval runs the router over a labeled dataset and scores its answers.
package eval

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/zen-systems/visroute/pkg/capability"
	"github.com/zen-systems/visroute/pkg/router"
)

// DefaultPredictionMaxLen is the number of runes kept from each prediction.
const DefaultPredictionMaxLen = 100

// Router is the routing surface the harness needs; *router.Router implements it.
type Router interface {
	Route(ctx context.Context, img capability.Image, query string, p router.Params) (*router.Decision, error)
}

// Observer receives per-item outcomes. Implementations must be safe for concurrent use.
type Observer interface {
	Recorded(rec Record)
	Skipped(index int, err error)
}

// Record is the scored outcome of one dataset item.
type Record struct {
	Index        int               `json:"index"`
	Query        string            `json:"query"`
	Prediction   string            `json:"prediction"`
	Correct      bool              `json:"correct"`
	Capabilities []capability.Kind `json:"capabilities"`
	SamplesUsed  int               `json:"samples_used"`
	Consistency  float64           `json:"consistency"`
	State        router.State      `json:"state"`
}

// Escalated reports whether the record used more than one capability.
func (r Record) Escalated() bool {
	return len(r.Capabilities) > 1
}

// Skip names an item that produced no record.
type Skip struct {
	Index  int    `json:"index"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

// Summary aggregates the successful records.
type Summary struct {
	Records        int     `json:"records"`
	Accuracy       float64 `json:"accuracy"`
	AvgSamples     float64 `json:"avg_samples"`
	EscalationRate float64 `json:"escalation_rate"`
}

// Report is the result of one evaluation run.
type Report struct {
	RunID      string        `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Params     router.Params `json:"params"`
	Records    []Record      `json:"records"`
	Skipped    []Skip        `json:"skipped,omitempty"`
	// Summary is nil when no item produced a record.
	Summary *Summary `json:"summary,omitempty"`
}

// Harness evaluates a router against a dataset.
type Harness struct {
	router           Router
	logger           log.FieldLogger
	parallelism      int
	predictionMaxLen int
	observers        []Observer
}

// Option configures a Harness.
type Option func(*Harness)

// WithParallelism routes up to n items concurrently. Values below 1 mean 1.
func WithParallelism(n int) Option {
	return func(h *Harness) {
		h.parallelism = n
	}
}

// WithPredictionMaxLen sets how many runes of each prediction are kept; 0 keeps everything.
func WithPredictionMaxLen(n int) Option {
	return func(h *Harness) {
		h.predictionMaxLen = n
	}
}

// WithLogger sets the logger for skipped items.
func WithLogger(logger log.FieldLogger) Option {
	return func(h *Harness) {
		h.logger = logger
	}
}

// WithObserver registers an observer for records and skips.
func WithObserver(o Observer) Option {
	return func(h *Harness) {
		if o != nil {
			h.observers = append(h.observers, o)
		}
	}
}

// New creates a harness over r.
func New(r Router, opts ...Option) *Harness {
	h := &Harness{
		router:           r,
		logger:           log.StandardLogger(),
		parallelism:      1,
		predictionMaxLen: DefaultPredictionMaxLen,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.parallelism < 1 {
		h.parallelism = 1
	}
	return h
}

type outcome struct {
	record *Record
	skip   *Skip
}

// Evaluate routes every entry with p and scores the answers against the references.
// Malformed entries and failed routes are logged and skipped; they never abort the run.
// When ctx is cancelled no further items are started and the partial report is returned with ctx.Err().
func (h *Harness) Evaluate(ctx context.Context, entries []Entry, p router.Params) (*Report, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	report := &Report{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
		Params:    p,
	}
	logger := h.logger.WithField("run_id", report.RunID)
	outcomes := make([]outcome, len(entries))

	var g errgroup.Group
	g.SetLimit(h.parallelism)
	for i, e := range entries {
		if ctx.Err() != nil {
			break
		}
		item, err := Normalize(i, e)
		if err != nil {
			outcomes[i].skip = h.skip(logger, i, err)
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			d, err := h.router.Route(ctx, item.Image, item.Query, p)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				outcomes[i].skip = h.skip(logger, i, err)
				return nil
			}
			rec := h.score(item, d)
			outcomes[i].record = &rec
			for _, o := range h.observers {
				o.Recorded(rec)
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Records = make([]Record, 0, len(entries))
	for _, o := range outcomes {
		switch {
		case o.record != nil:
			report.Records = append(report.Records, *o.record)
		case o.skip != nil:
			report.Skipped = append(report.Skipped, *o.skip)
		}
	}
	report.Summary = Summarize(report.Records)
	report.FinishedAt = time.Now()

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

func (h *Harness) skip(logger log.FieldLogger, index int, err error) *Skip {
	kind := errorKind(err)
	logger.WithFields(log.Fields{
		"index": index,
		"kind":  kind,
	}).Warnf("skipping item: %v", err)
	for _, o := range h.observers {
		o.Skipped(index, err)
	}
	return &Skip{Index: index, Kind: kind, Reason: err.Error()}
}

func (h *Harness) score(item Item, d *router.Decision) Record {
	prediction := d.Answer.String()
	correct := false
	switch d.Answer.Kind {
	case router.AnswerDetection:
		correct = d.Answer.Detection != nil && len(d.Answer.Detection.Boxes) > 0
	default:
		correct = Matches(prediction, item.References)
	}
	return Record{
		Index:        item.Index,
		Query:        item.Query,
		Prediction:   truncate(prediction, h.predictionMaxLen),
		Correct:      correct,
		Capabilities: append([]capability.Kind(nil), d.Capabilities...),
		SamplesUsed:  d.SamplesUsed,
		Consistency:  d.Consistency,
		State:        d.State,
	}
}

// Matches reports whether prediction and some non-empty reference contain one another,
// ignoring case and surrounding whitespace. An empty prediction never matches.
func Matches(prediction string, references []string) bool {
	pred := strings.ToLower(strings.TrimSpace(prediction))
	if pred == "" {
		return false
	}
	for _, ref := range references {
		r := strings.ToLower(strings.TrimSpace(ref))
		if r == "" {
			continue
		}
		if strings.Contains(pred, r) || strings.Contains(r, pred) {
			return true
		}
	}
	return false
}

// Summarize computes accuracy, average samples and escalation rate; nil for no records.
func Summarize(records []Record) *Summary {
	if len(records) == 0 {
		return nil
	}
	var correct, samples, escalated int
	for _, r := range records {
		if r.Correct {
			correct++
		}
		samples += r.SamplesUsed
		if r.Escalated() {
			escalated++
		}
	}
	n := float64(len(records))
	return &Summary{
		Records:        len(records),
		Accuracy:       float64(correct) / n,
		AvgSamples:     float64(samples) / n,
		EscalationRate: float64(escalated) / n,
	}
}

func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrMalformedItem):
		return "malformed_item"
	case errors.Is(err, capability.ErrUnavailable):
		return "capability_unavailable"
	case errors.Is(err, capability.ErrInvocationFailed):
		return "invocation_failed"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
