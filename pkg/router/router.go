// Package router implements the consistency-gated escalation state machine.
package router

import (
	"context"
	"errors"
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"

	"github.com/zen-systems/visroute/pkg/aggregate"
	"github.com/zen-systems/visroute/pkg/capability"
	"github.com/zen-systems/visroute/pkg/consistency"
	"github.com/zen-systems/visroute/pkg/intent"
)

// ErrInvalidParams is returned when route parameters are out of range.
var ErrInvalidParams = errors.New("invalid route params")

// Params bounds a single Route call.
type Params struct {
	// SampleBudget is k; each sampling round draws k/2+1 samples.
	SampleBudget int `json:"sample_budget"`
	// Threshold is τ; batches with consistency >= τ are voted without escalation.
	Threshold float64 `json:"consistency_threshold"`
}

// BatchSize returns the number of samples drawn per round, ⌊k/2⌋+1.
func (p Params) BatchSize() int {
	return p.SampleBudget/2 + 1
}

// Validate checks the parameter ranges.
func (p Params) Validate() error {
	if p.SampleBudget < 0 {
		return fmt.Errorf("%w: sample budget %d is negative", ErrInvalidParams, p.SampleBudget)
	}
	if math.IsNaN(p.Threshold) || p.Threshold < 0 || p.Threshold > 1 {
		return fmt.Errorf("%w: consistency threshold %v outside [0, 1]", ErrInvalidParams, p.Threshold)
	}
	return nil
}

// Observer is notified of every successful decision. Implementations must be safe for concurrent use.
type Observer interface {
	Routed(d *Decision)
}

// Router answers visual questions with a default TextAnswerer and escalates
// to an ObjectLocalizer when samples disagree and the query asks for a location.
// A Router has no mutable state; concurrent Route calls are independent.
type Router struct {
	answerer  capability.TextAnswerer
	localizer capability.ObjectLocalizer
	intent    *intent.Classifier
	logger    log.FieldLogger
	observers []Observer
}

// Option configures a Router.
type Option func(*Router)

// WithIntent sets the classifier used to decide on localization.
func WithIntent(c *intent.Classifier) Option {
	return func(r *Router) {
		r.intent = c
	}
}

// WithLogger sets the logger for state transitions.
func WithLogger(logger log.FieldLogger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithObserver registers an observer for decisions.
func WithObserver(o Observer) Option {
	return func(r *Router) {
		if o != nil {
			r.observers = append(r.observers, o)
		}
	}
}

// New creates a router over the two capabilities.
func New(answerer capability.TextAnswerer, localizer capability.ObjectLocalizer, opts ...Option) *Router {
	r := &Router{
		answerer:  answerer,
		localizer: localizer,
		intent:    intent.Default(),
		logger:    log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route answers query about img within the sample budget of p.
// Capability failures are returned as-is (wrapped with the stage); nothing is retried.
func (r *Router) Route(ctx context.Context, img capability.Image, query string, p Params) (*Decision, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if r.answerer == nil {
		return nil, capability.Unavailable(capability.KindTextAnswerer, "", errors.New("no text answerer configured"))
	}

	run := &routeRun{state: StateInit, logger: r.logger.WithField("query", query)}
	n := p.BatchSize()

	initial, err := r.sample(ctx, img, query, n)
	if err != nil {
		return nil, fmt.Errorf("initial sampling: %w", err)
	}
	run.to(StateSampled)

	d := &Decision{Consistency: consistency.Score(initial)}
	run.logger.WithFields(log.Fields{
		"consistency": d.Consistency,
		"threshold":   p.Threshold,
		"samples":     len(initial),
	}).Debug("initial batch scored")

	if d.Consistency >= p.Threshold {
		run.to(StateVoted)
		d.Answer = TextAnswer(aggregate.Vote(initial))
		d.Capabilities = []capability.Kind{capability.KindTextAnswerer}
		d.SamplesUsed = len(initial)
		d.Samples = initial
		return r.finish(run, d), nil
	}

	d.Triggers = r.intent.Match(query)
	if len(d.Triggers) > 0 {
		if r.localizer == nil {
			return nil, capability.Unavailable(capability.KindObjectLocalizer, "", errors.New("no object localizer configured"))
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		run.to(StateEscalated)
		res, err := r.localizer.Locate(ctx, img, query)
		if err != nil {
			return nil, fmt.Errorf("localization: %w", asCapabilityError(capability.KindObjectLocalizer, r.localizer.Name(), err))
		}
		d.Answer = DetectionAnswer(aggregate.VoteDetections([]capability.DetectionResult{res}))
		d.Capabilities = []capability.Kind{capability.KindTextAnswerer, capability.KindObjectLocalizer}
		d.SamplesUsed = len(initial)
		d.Samples = initial
		return r.finish(run, d), nil
	}

	extra, err := r.sample(ctx, img, query, n)
	if err != nil {
		return nil, fmt.Errorf("resampling: %w", err)
	}
	all := make([]string, 0, len(initial)+len(extra))
	all = append(all, initial...)
	all = append(all, extra...)

	run.to(StateResampledVoted)
	d.Answer = TextAnswer(aggregate.Vote(all))
	d.Capabilities = []capability.Kind{capability.KindTextAnswerer}
	d.SamplesUsed = len(all)
	d.Samples = all
	return r.finish(run, d), nil
}

func (r *Router) finish(run *routeRun, d *Decision) *Decision {
	d.State = run.state
	run.to(StateDone)
	for _, o := range r.observers {
		o.Routed(d)
	}
	return d
}

// sample draws one batch of n samples, in a single call when the answerer supports it.
func (r *Router) sample(ctx context.Context, img capability.Image, query string, n int) ([]string, error) {
	name := r.answerer.Name()
	if batch, ok := r.answerer.(capability.BatchAnswerer); ok {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		samples, err := batch.SampleN(ctx, img, query, n)
		if err != nil {
			return nil, asCapabilityError(capability.KindTextAnswerer, name, err)
		}
		if len(samples) != n {
			return nil, capability.InvocationFailed(capability.KindTextAnswerer, name,
				fmt.Errorf("got %d samples, want %d", len(samples), n))
		}
		return samples, nil
	}

	samples := make([]string, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s, err := r.answerer.Sample(ctx, img, query)
		if err != nil {
			return nil, asCapabilityError(capability.KindTextAnswerer, name, err)
		}
		samples = append(samples, s)
	}
	return samples, nil
}

// asCapabilityError leaves typed and context errors alone and marks anything else as an invocation failure.
func asCapabilityError(kind capability.Kind, backend string, err error) error {
	var capErr *capability.Error
	if errors.As(err, &capErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return capability.InvocationFailed(kind, backend, err)
}

type routeRun struct {
	state  State
	logger log.FieldLogger
}

func (run *routeRun) to(next State) {
	run.logger.Debugf("route %s -> %s", run.state, next)
	run.state = next
}
