package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

type CreateOrderRequest struct {
	UserID    snowflake.ID
	PackageID string
}

type CreateOrderResult struct {
	OrderID      string
	AmountMinor  int64
	Currency     string
	Credits      int64
	PackageLabel string
}

type CaptureRequest struct {
	UserID          snowflake.ID
	ExternalOrderID string
}

// CaptureResult is what both a first capture and an idempotent replay
// return: the same credits figure, and the true current balance.
type CaptureResult struct {
	CreditsAdded     int64
	CreditsRemaining int64
	TransactionID    snowflake.ID
	Replayed         bool
}

type Service interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error)
	CaptureOrder(ctx context.Context, req CaptureRequest) (*CaptureResult, error)
}

var (
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrInvalidPackage     = errors.New("invalid_package")
	ErrIntentNotFound     = errors.New("intent_not_found")
	ErrOwnershipViolation = errors.New("ownership_violation")
	ErrOrderFailed        = errors.New("order_failed")
	ErrGatewayRejected    = errors.New("gateway_rejected")
	ErrAmountMismatch     = errors.New("amount_mismatch")
	// ErrLedgerWrite and ErrCreditApply require operator follow-up: the
	// gateway may already hold captured funds for them.
	ErrLedgerWrite = errors.New("ledger_write_error")
	ErrCreditApply = errors.New("credit_apply_error")
)

// AdmissionDeniedError reports when the caller may try again.
type AdmissionDeniedError struct {
	ResetAt time.Time
}

func (e *AdmissionDeniedError) Error() string {
	return fmt.Sprintf("admission_denied until %s", e.ResetAt.UTC().Format(time.RFC3339))
}
