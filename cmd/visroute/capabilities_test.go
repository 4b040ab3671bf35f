package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/visroute/pkg/capability"
	"github.com/zen-systems/visroute/pkg/config"
	"github.com/zen-systems/visroute/pkg/router"
)

func TestCreateCapabilitiesMock(t *testing.T) {
	cfg := &config.Config{RoutingConfig: config.DefaultRoutingConfig()}

	answerer, localizer, err := createCapabilities(context.Background(), cfg, true)
	require.NoError(t, err)
	require.NotNil(t, localizer)
	assert.Equal(t, "mock", answerer.Name())

	d, err := router.New(answerer, localizer).Route(context.Background(), capability.Image{}, "what is it?", cfg.RoutingConfig.Params())
	require.NoError(t, err)
	assert.Equal(t, "mock answer", d.Answer.Text)
}

func TestCreateCapabilitiesRequiresAnswererKey(t *testing.T) {
	cfg := &config.Config{RoutingConfig: config.DefaultRoutingConfig()}

	_, _, err := createCapabilities(context.Background(), cfg, false)
	assert.ErrorIs(t, err, capability.ErrUnavailable)
}

func TestCreateCapabilitiesWithoutLocalizer(t *testing.T) {
	rc := config.DefaultRoutingConfig()
	rc.Answerer = config.RouteTarget{Adapter: "mock"}
	rc.Localizer = config.RouteTarget{Adapter: "openai"}
	cfg := &config.Config{RoutingConfig: rc}

	answerer, localizer, err := createCapabilities(context.Background(), cfg, false)
	require.NoError(t, err)
	assert.NotNil(t, answerer)
	assert.Nil(t, localizer, "openai has no localizer backend")
}

func TestNewAnswererUnknownAdapter(t *testing.T) {
	_, err := newAnswerer(context.Background(), &config.Config{}, "acme", "m", 1)
	assert.ErrorIs(t, err, capability.ErrUnavailable)
}
