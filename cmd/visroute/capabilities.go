package main

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/zen-systems/visroute/pkg/capability"
	"github.com/zen-systems/visroute/pkg/config"
)

// createCapabilities builds the answerer and localizer named in the routing config.
// A localizer that cannot be built is left nil; the router reports it as unavailable
// only for queries that need it.
func createCapabilities(ctx context.Context, cfg *config.Config, mock bool) (capability.TextAnswerer, capability.ObjectLocalizer, error) {
	rc := cfg.RoutingConfig
	answererTarget, localizerTarget := rc.Answerer, rc.Localizer
	if mock {
		answererTarget = config.RouteTarget{Adapter: "mock"}
		localizerTarget = config.RouteTarget{Adapter: "mock"}
	}

	temperature := 1.0
	if rc.Temperature != nil {
		temperature = *rc.Temperature
	}

	answerer, err := newAnswerer(ctx, cfg, answererTarget.Adapter, resolveModel(answererTarget.Model), temperature)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create answerer: %w", err)
	}

	localizer, err := newLocalizer(ctx, cfg, localizerTarget.Adapter, resolveModel(localizerTarget.Model))
	if err != nil {
		log.WithField("adapter", localizerTarget.Adapter).Warnf("localizer disabled: %v", err)
		localizer = nil
	}

	policy := rc.RetryPolicy()
	answerer = capability.WithRetry(answerer, policy, log.StandardLogger())
	if localizer != nil {
		localizer = capability.WithLocatorRetry(localizer, policy, log.StandardLogger())
	}
	return answerer, localizer, nil
}

func newAnswerer(ctx context.Context, cfg *config.Config, adapter, model string, temperature float64) (capability.TextAnswerer, error) {
	switch adapter {
	case "openai":
		return capability.NewOpenAIAnswerer(cfg.OpenAIAPIKey, model, temperature)
	case "anthropic":
		return capability.NewAnthropicAnswerer(cfg.AnthropicAPIKey, model, temperature)
	case "google":
		return capability.NewGoogleAnswerer(ctx, cfg.GoogleAPIKey, model, temperature)
	case "compat":
		return capability.NewCompatAnswerer(cfg.CompatBaseURL, cfg.CompatAPIKey, model, temperature)
	case "mock":
		return capability.NewMockAnswerer(), nil
	default:
		return nil, capability.Unavailable(capability.KindTextAnswerer, adapter, fmt.Errorf("unknown adapter %q", adapter))
	}
}

func newLocalizer(ctx context.Context, cfg *config.Config, adapter, model string) (capability.ObjectLocalizer, error) {
	switch adapter {
	case "google":
		return capability.NewGoogleLocalizer(ctx, cfg.GoogleAPIKey, model)
	case "mock":
		return capability.NewMockLocalizer(nil, capability.DetectionResult{
			Boxes: []capability.Box{{XMin: 0, YMin: 0, XMax: 1, YMax: 1, Label: "mock"}},
		}), nil
	default:
		return nil, capability.Unavailable(capability.KindObjectLocalizer, adapter, fmt.Errorf("adapter %q cannot localize objects", adapter))
	}
}

func resolveModel(model string) string {
	return catalog.Resolve(model)
}
