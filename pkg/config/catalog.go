package config

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// Catalog maps friendly model names onto provider models and records which
// models each provider serves.
type Catalog struct {
	Aliases   map[string]string   `yaml:"aliases"`
	Providers map[string][]string `yaml:"providers"`
}

// LoadCatalog reads a models.yaml file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := &Catalog{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return c, nil
}

// FindCatalog loads ~/.visroute/models.yaml, then fallback. With neither
// present it returns DefaultCatalog.
func FindCatalog(fallback string) (*Catalog, error) {
	var candidates []string
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".visroute", "models.yaml"))
	}
	if fallback != "" {
		candidates = append(candidates, fallback)
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		c, err := LoadCatalog(path)
		if err != nil {
			return nil, err
		}
		if c.Empty() {
			continue
		}
		return c, nil
	}
	return DefaultCatalog(), nil
}

// Empty reports whether the catalog knows no aliases and no providers.
func (c *Catalog) Empty() bool {
	return c == nil || len(c.Aliases) == 0 && len(c.Providers) == 0
}

// Resolve maps an alias to its model. Anything else is returned unchanged.
func (c *Catalog) Resolve(name string) string {
	if c != nil {
		if model, ok := c.Aliases[name]; ok {
			return model
		}
	}
	return name
}

// AliasNames returns the aliases in sorted order.
func (c *Catalog) AliasNames() []string {
	if c == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(c.Aliases))
}

// ProviderNames returns the providers in sorted order.
func (c *Catalog) ProviderNames() []string {
	if c == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(c.Providers))
}

// Models returns the models listed for provider.
func (c *Catalog) Models(provider string) []string {
	if c == nil {
		return nil
	}
	return c.Providers[provider]
}

// Provider returns the first provider, in name order, that lists model.
func (c *Catalog) Provider(model string) string {
	for _, p := range c.ProviderNames() {
		if slices.Contains(c.Providers[p], model) {
			return p
		}
	}
	return ""
}

// Check reports whether adapter serves model. A catalog without providers
// accepts everything.
func (c *Catalog) Check(adapter, model string) error {
	if c == nil || len(c.Providers) == 0 {
		return nil
	}
	models, ok := c.Providers[adapter]
	if !ok {
		return fmt.Errorf("unknown adapter %q", adapter)
	}
	if !slices.Contains(models, model) {
		return fmt.Errorf("model %q not in %s provider list", model, adapter)
	}
	return nil
}

// CheckRouting checks the answerer and localizer bindings. Mock bindings are skipped.
func (c *Catalog) CheckRouting(cfg *RoutingConfig) []error {
	if cfg == nil {
		return nil
	}
	var errs []error
	for _, b := range []struct {
		role   string
		target RouteTarget
	}{{"answerer", cfg.Answerer}, {"localizer", cfg.Localizer}} {
		if b.target.Adapter == "mock" {
			continue
		}
		if err := c.Check(b.target.Adapter, c.Resolve(b.target.Model)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.role, err))
		}
	}
	return errs
}

// DefaultCatalog returns the built-in vision model catalog.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Aliases: map[string]string{
			"vision-fast":    "gpt-4o-mini",
			"vision-quality": "gpt-4o",
			"vision-careful": "claude-sonnet-4-20250514",
			"vision-cheap":   "gemini-2.0-flash",
			"grounding":      "gemini-2.0-flash",
			"grounding-hq":   "gemini-2.5-pro",
			"local":          "qwen2.5-vl-7b-instruct",
		},
		Providers: map[string][]string{
			"anthropic": {"claude-sonnet-4-20250514", "claude-opus-4-20250514"},
			"openai":    {"gpt-4o-mini", "gpt-4o", "gpt-4.1"},
			"google":    {"gemini-2.0-flash", "gemini-2.5-flash", "gemini-2.5-pro"},
			"compat":    {"qwen2.5-vl-7b-instruct", "llava-v1.6-mistral-7b"},
		},
	}
}
