package router

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/visroute/pkg/capability"
	"github.com/zen-systems/visroute/pkg/intent"
)

var stubDetection = capability.DetectionResult{Boxes: []capability.Box{{XMin: 10, YMin: 20, XMax: 30, YMax: 40, Label: "dog"}}}

type plainFailAnswerer struct{}

func (plainFailAnswerer) Sample(context.Context, capability.Image, string) (string, error) {
	return "", errors.New("socket closed")
}
func (plainFailAnswerer) Name() string     { return "plain" }
func (plainFailAnswerer) Models() []string { return nil }

type shortBatchAnswerer struct {
	*capability.MockAnswerer
}

func (a *shortBatchAnswerer) SampleN(context.Context, capability.Image, string, int) ([]string, error) {
	return []string{"only one"}, nil
}

type batchAnswerer struct {
	calls int
	out   []string
}

func (a *batchAnswerer) Sample(context.Context, capability.Image, string) (string, error) {
	return "", errors.New("Sample must not be used when SampleN is available")
}

func (a *batchAnswerer) SampleN(_ context.Context, _ capability.Image, _ string, n int) ([]string, error) {
	a.calls++
	return a.out[:n], nil
}

func (a *batchAnswerer) Name() string     { return "batch" }
func (a *batchAnswerer) Models() []string { return nil }

type recordingObserver struct {
	mu        sync.Mutex
	decisions []*Decision
}

func (o *recordingObserver) Routed(d *Decision) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.decisions = append(o.decisions, d)
}

func newTestRouter(script map[string][]string) (*Router, *capability.MockAnswerer, *capability.MockLocalizer) {
	answerer := capability.NewMockAnswererWithResponses(script, "")
	localizer := capability.NewMockLocalizer(nil, stubDetection)
	return New(answerer, localizer), answerer, localizer
}

func TestRouteScenarioA_AgreementVotes(t *testing.T) {
	q := "what animal is this?"
	r, answerer, localizer := newTestRouter(map[string][]string{q: {"cat"}})

	d, err := r.Route(context.Background(), capability.Image{}, q, Params{SampleBudget: 5, Threshold: 0.7})
	require.NoError(t, err)

	assert.Equal(t, StateVoted, d.State)
	assert.Equal(t, TextAnswer("cat"), d.Answer)
	assert.Equal(t, []capability.Kind{capability.KindTextAnswerer}, d.Capabilities)
	assert.Equal(t, 3, d.SamplesUsed)
	assert.Equal(t, 1.0, d.Consistency)
	assert.False(t, d.Escalated())
	assert.Equal(t, 3, answerer.Calls(q))
	assert.Zero(t, localizer.Calls())
}

func TestRouteScenarioB_LowAgreementEscalates(t *testing.T) {
	q := "Where is the dog?"
	r, answerer, localizer := newTestRouter(map[string][]string{q: {"red", "blue", "green"}})

	d, err := r.Route(context.Background(), capability.Image{}, q, Params{SampleBudget: 5, Threshold: 0.7})
	require.NoError(t, err)

	assert.Equal(t, StateEscalated, d.State)
	assert.Equal(t, 0.0, d.Consistency)
	assert.Equal(t, []capability.Kind{capability.KindTextAnswerer, capability.KindObjectLocalizer}, d.Capabilities)
	assert.True(t, d.Escalated())
	assert.True(t, d.Uses(capability.KindObjectLocalizer))
	assert.Equal(t, AnswerDetection, d.Answer.Kind)
	require.NotNil(t, d.Answer.Detection)
	assert.Equal(t, stubDetection, *d.Answer.Detection)
	assert.Equal(t, 3, d.SamplesUsed, "localization does not count against the sample budget")
	assert.Equal(t, []string{"where"}, d.Triggers)
	assert.Equal(t, 3, answerer.Calls(q))
	assert.Equal(t, 1, localizer.Calls())
}

func TestRouteScenarioC_LowAgreementResamples(t *testing.T) {
	q := "What color is the car?"
	r, answerer, localizer := newTestRouter(map[string][]string{q: {"red", "blue", "green", "blue", "blue", "red"}})

	d, err := r.Route(context.Background(), capability.Image{}, q, Params{SampleBudget: 5, Threshold: 0.7})
	require.NoError(t, err)

	assert.Equal(t, StateResampledVoted, d.State)
	assert.Equal(t, 6, d.SamplesUsed)
	assert.Equal(t, []string{"red", "blue", "green", "blue", "blue", "red"}, d.Samples, "initial samples come first")
	assert.Equal(t, TextAnswer("blue"), d.Answer)
	assert.Equal(t, []capability.Kind{capability.KindTextAnswerer}, d.Capabilities)
	assert.Equal(t, 0.0, d.Consistency)
	assert.Empty(t, d.Triggers)
	assert.Equal(t, 6, answerer.Calls(q))
	assert.Zero(t, localizer.Calls())
}

func TestRouteReportsInitialConsistencyAfterResampling(t *testing.T) {
	q := "name the fruit"
	// the second batch agrees perfectly; the reported score must still be the first batch's
	r, _, _ := newTestRouter(map[string][]string{q: {"apple", "pear", "apple", "apple"}})

	d, err := r.Route(context.Background(), capability.Image{}, q, Params{SampleBudget: 3, Threshold: 0.9})
	require.NoError(t, err)

	assert.Equal(t, StateResampledVoted, d.State)
	assert.Equal(t, 0.0, d.Consistency)
	assert.Equal(t, 4, d.SamplesUsed)
	assert.Equal(t, TextAnswer("apple"), d.Answer)
}

func TestRouteThresholdBoundaryTakesAgreeBranch(t *testing.T) {
	q := "where is it"
	// Score(["a b", "a"]) == 0.5 exactly
	r, _, localizer := newTestRouter(map[string][]string{q: {"a b", "a"}})

	d, err := r.Route(context.Background(), capability.Image{}, q, Params{SampleBudget: 2, Threshold: 0.5})
	require.NoError(t, err)
	assert.Equal(t, StateVoted, d.State)
	assert.Equal(t, 0.5, d.Consistency)
	assert.Empty(t, d.Triggers, "intent is only consulted after a low-consistency verdict")
	assert.Zero(t, localizer.Calls())

	r2, _, localizer2 := newTestRouter(map[string][]string{q: {"a b", "a"}})
	d, err = r2.Route(context.Background(), capability.Image{}, q, Params{SampleBudget: 2, Threshold: 0.5000001})
	require.NoError(t, err)
	assert.Equal(t, StateEscalated, d.State)
	assert.Equal(t, 1, localizer2.Calls())
}

func TestRouteSmallBudgets(t *testing.T) {
	for _, k := range []int{0, 1} {
		r, answerer, _ := newTestRouter(map[string][]string{"q": {"x", "y"}})
		d, err := r.Route(context.Background(), capability.Image{}, "q", Params{SampleBudget: k, Threshold: 0.7})
		require.NoError(t, err)
		assert.Equal(t, 1, d.SamplesUsed, "k=%d", k)
		assert.Equal(t, 1.0, d.Consistency, "single sample cannot disagree")
		assert.Equal(t, StateVoted, d.State)
		assert.Equal(t, 1, answerer.Calls("q"))
	}
}

func TestRouteRejectsInvalidParams(t *testing.T) {
	r, answerer, _ := newTestRouter(nil)
	for _, p := range []Params{
		{SampleBudget: -1, Threshold: 0.5},
		{SampleBudget: 5, Threshold: -0.1},
		{SampleBudget: 5, Threshold: 1.5},
	} {
		_, err := r.Route(context.Background(), capability.Image{}, "q", p)
		assert.ErrorIs(t, err, ErrInvalidParams)
	}
	assert.Zero(t, answerer.TotalCalls())
}

func TestRoutePropagatesSamplingFailure(t *testing.T) {
	r, answerer, _ := newTestRouter(nil)
	answerer.Err = errors.New("model offline")

	d, err := r.Route(context.Background(), capability.Image{}, "q", Params{SampleBudget: 5, Threshold: 0.5})
	assert.Nil(t, d)
	require.ErrorIs(t, err, capability.ErrInvocationFailed)
	assert.Contains(t, err.Error(), "initial sampling")
	assert.Equal(t, 1, answerer.TotalCalls(), "no retry inside the router")
}

func TestRouteWrapsUntypedErrors(t *testing.T) {
	r := New(plainFailAnswerer{}, nil)
	_, err := r.Route(context.Background(), capability.Image{}, "q", Params{SampleBudget: 1, Threshold: 0.5})
	require.ErrorIs(t, err, capability.ErrInvocationFailed)

	var capErr *capability.Error
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, capability.KindTextAnswerer, capErr.Kind)
}

func TestRoutePropagatesLocalizerFailure(t *testing.T) {
	q := "where is the cup"
	r, _, localizer := newTestRouter(map[string][]string{q: {"left", "right"}})
	localizer.Err = errors.New("detector crashed")

	d, err := r.Route(context.Background(), capability.Image{}, q, Params{SampleBudget: 3, Threshold: 0.9})
	assert.Nil(t, d)
	require.ErrorIs(t, err, capability.ErrInvocationFailed)
	assert.Contains(t, err.Error(), "localization")
}

func TestRouteWithoutLocalizerIsUnavailable(t *testing.T) {
	answerer := capability.NewMockAnswererWithResponses(map[string][]string{"where": {"a", "b"}}, "")
	r := New(answerer, nil)

	_, err := r.Route(context.Background(), capability.Image{}, "where", Params{SampleBudget: 3, Threshold: 0.9})
	assert.ErrorIs(t, err, capability.ErrUnavailable)

	_, err = New(nil, nil).Route(context.Background(), capability.Image{}, "q", Params{SampleBudget: 3, Threshold: 0.9})
	assert.ErrorIs(t, err, capability.ErrUnavailable)
}

func TestRouteUsesBatchAnswerer(t *testing.T) {
	a := &batchAnswerer{out: []string{"x", "y", "z"}}
	r := New(a, capability.NewMockLocalizer(nil, stubDetection))

	d, err := r.Route(context.Background(), capability.Image{}, "describe", Params{SampleBudget: 4, Threshold: 0.9})
	require.NoError(t, err)
	assert.Equal(t, 2, a.calls, "one SampleN call per round")
	assert.Equal(t, 6, d.SamplesUsed)
	assert.Equal(t, StateResampledVoted, d.State)
}

func TestRouteRejectsShortBatch(t *testing.T) {
	a := &shortBatchAnswerer{MockAnswerer: capability.NewMockAnswerer()}
	r := New(a, nil)

	_, err := r.Route(context.Background(), capability.Image{}, "q", Params{SampleBudget: 5, Threshold: 0.5})
	assert.ErrorIs(t, err, capability.ErrInvocationFailed)
}

func TestRouteHonorsCancellation(t *testing.T) {
	r, answerer, _ := newTestRouter(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Route(ctx, capability.Image{}, "q", Params{SampleBudget: 5, Threshold: 0.5})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, answerer.TotalCalls())
}

func TestRouteCustomIntent(t *testing.T) {
	c, err := intent.NewFromVocabulary([]string{"wo"}, nil, nil)
	require.NoError(t, err)

	q := "Wo ist der Hund?"
	answerer := capability.NewMockAnswererWithResponses(map[string][]string{q: {"links", "rechts"}}, "")
	r := New(answerer, capability.NewMockLocalizer(nil, stubDetection), WithIntent(c))

	d, err := r.Route(context.Background(), capability.Image{}, q, Params{SampleBudget: 3, Threshold: 0.5})
	require.NoError(t, err)
	assert.Equal(t, StateEscalated, d.State)
}

func TestRouteNotifiesObservers(t *testing.T) {
	obs := &recordingObserver{}
	answerer := capability.NewMockAnswererWithResponses(map[string][]string{"q": {"cat"}}, "")
	r := New(answerer, nil, WithObserver(obs), WithObserver(nil))

	d, err := r.Route(context.Background(), capability.Image{}, "q", Params{SampleBudget: 5, Threshold: 0.5})
	require.NoError(t, err)
	require.Len(t, obs.decisions, 1)
	assert.Same(t, d, obs.decisions[0])
}

func TestProperty_RouteInvariants(t *testing.T) {
	properties := gopter.NewProperties(nil)
	word := gen.OneConstOf("cat", "dog", "a cat", "two dogs")
	query := gen.OneConstOf("where is it", "what is it", "locate the bird", "count the cars")

	properties.Property("samples and capabilities stay within bounds", prop.ForAll(
		func(k int, tau float64, q string, script []string) bool {
			answerer := capability.NewMockAnswererWithResponses(map[string][]string{q: script}, "")
			r := New(answerer, capability.NewMockLocalizer(nil, stubDetection))

			d, err := r.Route(context.Background(), capability.Image{}, q, Params{SampleBudget: k, Threshold: tau})
			if err != nil {
				return false
			}
			batch := k/2 + 1
			if d.SamplesUsed < batch || d.SamplesUsed > 2*batch {
				return false
			}
			if len(d.Capabilities) < 1 || len(d.Capabilities) > 2 {
				return false
			}
			if d.Capabilities[0] != capability.KindTextAnswerer {
				return false
			}
			if d.Consistency < 0 || d.Consistency > 1 {
				return false
			}
			if d.Consistency >= tau && d.State != StateVoted {
				return false
			}
			return d.Escalated() == (d.State == StateEscalated)
		},
		gen.IntRange(0, 12),
		gen.Float64Range(0, 1),
		query,
		gen.SliceOfN(4, word),
	))

	properties.Property("routing is reproducible for reproducible capabilities", prop.ForAll(
		func(k int, script []string) bool {
			route := func() *Decision {
				answerer := capability.NewMockAnswererWithResponses(map[string][]string{"where is it": script}, "")
				d, err := New(answerer, capability.NewMockLocalizer(nil, stubDetection)).
					Route(context.Background(), capability.Image{}, "where is it", Params{SampleBudget: k, Threshold: 0.6})
				if err != nil {
					return nil
				}
				return d
			}
			a, b := route(), route()
			return a != nil && b != nil && a.Answer.String() == b.Answer.String() && a.SamplesUsed == b.SamplesUsed
		},
		gen.IntRange(0, 10),
		gen.SliceOfN(5, word),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
