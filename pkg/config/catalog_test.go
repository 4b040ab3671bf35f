package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog() *Catalog {
	return &Catalog{
		Aliases: map[string]string{
			"vision-fast": "gpt-4o-mini",
			"grounding":   "gemini-2.0-flash",
		},
		Providers: map[string][]string{
			"openai": {"gpt-4o-mini", "gpt-4o"},
			"google": {"gemini-2.0-flash"},
			"compat": {"gpt-4o"},
		},
	}
}

func TestCatalogResolve(t *testing.T) {
	c := testCatalog()

	tests := map[string]string{
		"vision-fast": "gpt-4o-mini",
		"grounding":   "gemini-2.0-flash",
		"gpt-4o":      "gpt-4o",
		"unknown":     "unknown",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, c.Resolve(in))
		})
	}
}

func TestNilCatalog(t *testing.T) {
	var c *Catalog
	assert.True(t, c.Empty())
	assert.Equal(t, "gpt-4o", c.Resolve("gpt-4o"))
	assert.NoError(t, c.Check("openai", "anything"))
	assert.Empty(t, c.Provider("gpt-4o"))
	assert.Nil(t, c.AliasNames())
}

func TestCatalogCheck(t *testing.T) {
	c := testCatalog()

	tests := []struct {
		name    string
		adapter string
		model   string
		wantErr string
	}{
		{"listed openai", "openai", "gpt-4o", ""},
		{"listed google", "google", "gemini-2.0-flash", ""},
		{"wrong provider", "google", "gpt-4o", "not in google provider list"},
		{"unknown adapter", "acme", "gpt-4o", `unknown adapter "acme"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Check(tt.adapter, tt.model)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	assert.NoError(t, (&Catalog{Aliases: map[string]string{"a": "b"}}).Check("acme", "b"), "no provider lists means no checking")
}

func TestCatalogListings(t *testing.T) {
	c := testCatalog()
	assert.Equal(t, []string{"grounding", "vision-fast"}, c.AliasNames())
	assert.Equal(t, []string{"compat", "google", "openai"}, c.ProviderNames())
	assert.Equal(t, []string{"gemini-2.0-flash"}, c.Models("google"))
	assert.Nil(t, c.Models("acme"))

	assert.Equal(t, "openai", c.Provider("gpt-4o-mini"))
	assert.Equal(t, "compat", c.Provider("gpt-4o"), "first provider in name order wins")
	assert.Empty(t, c.Provider("llava"))
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	content := "aliases:\n  vision-fast: gpt-4o-mini\nproviders:\n  openai:\n    - gpt-4o-mini\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", c.Resolve("vision-fast"))
	assert.Equal(t, "openai", c.Provider("gpt-4o-mini"))

	_, err = LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("aliases: [\n"), 0644))
	_, err = LoadCatalog(bad)
	assert.ErrorContains(t, err, "bad.yaml")
}

func TestFindCatalogUsesFallback(t *testing.T) {
	setHomeEnv(t, t.TempDir())

	fallback := filepath.Join(t.TempDir(), "models.yaml")
	require.NoError(t, os.WriteFile(fallback, []byte("aliases:\n  test-alias: test-model\n"), 0644))

	c, err := FindCatalog(fallback)
	require.NoError(t, err)
	assert.Equal(t, "test-model", c.Resolve("test-alias"))
}

func TestFindCatalogPrefersUserFile(t *testing.T) {
	home := t.TempDir()
	setHomeEnv(t, home)
	require.NoError(t, os.MkdirAll(filepath.Join(home, ".visroute"), 0700))
	require.NoError(t, os.WriteFile(filepath.Join(home, ".visroute", "models.yaml"), []byte("aliases:\n  mine: user-model\n"), 0644))

	fallback := filepath.Join(t.TempDir(), "models.yaml")
	require.NoError(t, os.WriteFile(fallback, []byte("aliases:\n  mine: shipped-model\n"), 0644))

	c, err := FindCatalog(fallback)
	require.NoError(t, err)
	assert.Equal(t, "user-model", c.Resolve("mine"))
}

func TestFindCatalogDefaults(t *testing.T) {
	home := t.TempDir()
	setHomeEnv(t, home)
	require.NoError(t, os.MkdirAll(filepath.Join(home, ".visroute"), 0700))
	require.NoError(t, os.WriteFile(filepath.Join(home, ".visroute", "models.yaml"), []byte("{}\n"), 0644))

	c, err := FindCatalog("/nonexistent/path/models.yaml")
	require.NoError(t, err)
	assert.Equal(t, DefaultCatalog(), c, "empty and missing files fall through to the defaults")
}

func TestCatalogCheckRouting(t *testing.T) {
	c := testCatalog()

	valid := &RoutingConfig{
		Answerer:  RouteTarget{Adapter: "openai", Model: "vision-fast"},
		Localizer: RouteTarget{Adapter: "google", Model: "grounding"},
	}
	assert.Empty(t, c.CheckRouting(valid))

	invalid := &RoutingConfig{
		Answerer:  RouteTarget{Adapter: "openai", Model: "gpt-9"},
		Localizer: RouteTarget{Adapter: "mock"},
	}
	errs := c.CheckRouting(invalid)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "answerer")

	both := &RoutingConfig{
		Answerer:  RouteTarget{Adapter: "openai", Model: "gemini-2.0-flash"},
		Localizer: RouteTarget{Adapter: "acme", Model: "x"},
	}
	errs = c.CheckRouting(both)
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0].Error(), "answerer")
	assert.Contains(t, errs[1].Error(), "localizer")
}

func TestDefaultCatalog(t *testing.T) {
	c := DefaultCatalog()
	assert.False(t, c.Empty())
	assert.Equal(t, "gpt-4o-mini", c.Resolve("vision-fast"))
	assert.Empty(t, c.CheckRouting(DefaultRoutingConfig()), "default routing must check against the default catalog")
}
