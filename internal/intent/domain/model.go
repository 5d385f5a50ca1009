package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Status is the PaymentIntent lifecycle state. Transitions are
// monotonic: created may move to completed or failed exactly once.
type Status string

const (
	StatusCreated   Status = "created"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// PaymentIntent is one attempted purchase, keyed by the gateway's
// order id. ExternalOrderID is the idempotency key for the whole
// capture flow.
type PaymentIntent struct {
	ID              snowflake.ID `gorm:"primaryKey"`
	UserID          snowflake.ID `gorm:"not null;index"`
	ExternalOrderID string       `gorm:"type:text;not null;uniqueIndex:ux_payment_intents_external_order_id"`
	PackageID       string       `gorm:"type:text;not null"`
	AmountMinor     int64        `gorm:"not null"`
	Currency        string       `gorm:"type:text;not null"`
	CreditsAmount   int64        `gorm:"not null"`
	Status          Status       `gorm:"type:text;not null"`
	CreatedAt       time.Time    `gorm:"not null"`
	UpdatedAt       time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (PaymentIntent) TableName() string { return "payment_intents" }

type CreateIntentRequest struct {
	UserID          snowflake.ID
	ExternalOrderID string
	PackageID       string
	AmountMinor     int64
	Currency        string
	CreditsAmount   int64
}

type Repository interface {
	Create(ctx context.Context, db *gorm.DB, req CreateIntentRequest) (*PaymentIntent, error)
	FindByExternalOrderID(ctx context.Context, db *gorm.DB, externalOrderID string) (*PaymentIntent, error)
	// TransitionToCompleted and TransitionToFailed compare-and-swap on
	// the current status; a terminal intent returns ErrInvalidTransition.
	TransitionToCompleted(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	TransitionToFailed(ctx context.Context, db *gorm.DB, id snowflake.ID) error
}

var (
	ErrDuplicateOrder    = errors.New("duplicate_order")
	ErrNotFound          = errors.New("intent_not_found")
	ErrInvalidTransition = errors.New("invalid_transition")
	ErrInvalidRequest    = errors.New("invalid_intent_request")
)
