package domain

import (
	"context"
	"errors"

	"github.com/studyowl/creditgate/internal/config"
)

// Order statuses reported by gateways, normalized to the subset the
// orchestrator cares about.
const (
	StatusCompleted = "COMPLETED"
)

type CreateOrderRequest struct {
	AmountMinor int64
	Currency    string
	Description string
	// Reference is an opaque caller tag echoed back by the gateway.
	Reference string
}

type Order struct {
	OrderID string
	Status  string
}

// CaptureResult is the gateway's account of a finalized payment. The
// captured amount is what the orchestrator verifies against the intent;
// the gateway's word is never assumed to match what was ordered.
type CaptureResult struct {
	OrderID             string
	Status              string
	CaptureID           string
	CapturedAmountMinor int64
	PayerEmail          string
}

// Provider is the external payment gateway collaborator. CaptureOrder
// is idempotent per order id on the gateway side, so resubmitting after
// a timeout is safe.
type Provider interface {
	Name() string
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error)
	CaptureOrder(ctx context.Context, orderID string) (*CaptureResult, error)
}

// Factory builds a Provider from gateway configuration. Construction
// fails fast when credentials are absent.
type Factory interface {
	Provider() string
	NewProvider(cfg config.GatewayConfig) (Provider, error)
}

var (
	ErrProviderNotFound   = errors.New("gateway_provider_not_found")
	ErrMissingCredentials = errors.New("gateway_missing_credentials")
	ErrInvalidAmount      = errors.New("gateway_invalid_amount")
	ErrOrderNotFound      = errors.New("gateway_order_not_found")
	ErrUnavailable        = errors.New("gateway_unavailable")
)
