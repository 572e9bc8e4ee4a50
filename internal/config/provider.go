package config

import (
	"strings"

	"github.com/h1v3-io/logtriage/internal/provider"
)

// NewProvider builds a provider by configured name or by type. Empty model
// and apiKey fall back to the configured values for that provider.
func (c *Config) NewProvider(kind, model, apiKey string) (provider.Provider, error) {
	name, p, ok := c.lookupProvider(kind)
	typ := kind
	var opts []provider.Option
	if ok {
		typ = c.ProviderType(name)
		if apiKey == "" {
			apiKey = p.APIKey
		}
		if model == "" {
			model = p.Model
		}
		if p.BaseURL != "" {
			opts = append(opts, provider.WithBaseURL(p.BaseURL))
		}
		opts = append(opts, provider.WithRateLimit(p.RateLimit, p.Burst))
	}
	opts = append(opts, provider.WithModel(model))
	return provider.New(typ, apiKey, opts...)
}

func (c *Config) lookupProvider(kind string) (string, ProviderConfig, bool) {
	if p, ok := c.Providers[kind]; ok {
		return kind, p, true
	}
	for name, p := range c.Providers {
		if strings.EqualFold(c.ProviderType(name), kind) {
			return name, p, true
		}
	}
	return "", ProviderConfig{}, false
}
