package gateway

import (
	"strings"

	"github.com/studyowl/creditgate/internal/config"
	"github.com/studyowl/creditgate/internal/gateway/domain"
)

type Registry struct {
	factories map[string]domain.Factory
}

func NewRegistry(factories ...domain.Factory) *Registry {
	registry := &Registry{factories: map[string]domain.Factory{}}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		provider := strings.ToLower(strings.TrimSpace(factory.Provider()))
		if provider == "" {
			continue
		}
		registry.factories[provider] = factory
	}
	return registry
}

func (r *Registry) NewProvider(cfg config.GatewayConfig) (domain.Provider, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	factory, ok := r.factories[name]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return factory.NewProvider(cfg)
}
