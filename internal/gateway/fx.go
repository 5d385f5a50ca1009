package gateway

import (
	"github.com/studyowl/creditgate/internal/config"
	"github.com/studyowl/creditgate/internal/gateway/domain"
	"github.com/studyowl/creditgate/internal/gateway/paypal"
	"go.uber.org/fx"
)

func newProvider(cfg config.Config) (domain.Provider, error) {
	registry := NewRegistry(paypal.NewFactory())
	return registry.NewProvider(cfg.Gateway)
}

// Module builds the configured payment gateway provider. Missing
// credentials fail application startup, not the first request.
var Module = fx.Module("gateway",
	fx.Provide(newProvider),
)
