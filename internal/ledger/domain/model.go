package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Kind classifies a credit transaction.
type Kind string

const (
	KindPurchase Kind = "purchase"
	KindUsage    Kind = "usage"
	KindBonus    Kind = "bonus"
	KindRefund   Kind = "refund"
)

type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Transaction is one immutable ledger row. Amounts are never edited in
// place; corrections are new compensating rows. A transaction marked
// failed is the reconciliation anchor for an operator when the gateway
// captured funds but the credit could not be applied.
type Transaction struct {
	ID                snowflake.ID      `gorm:"primaryKey"`
	UserID            snowflake.ID      `gorm:"not null;index"`
	Kind              Kind              `gorm:"type:text;not null"`
	Status            Status            `gorm:"type:text;not null"`
	AmountMinor       int64             `gorm:"not null"`
	CreditsDelta      int64             `gorm:"not null"`
	ExternalPaymentID *string           `gorm:"type:text;uniqueIndex:ux_credit_transactions_external_payment_id"`
	Metadata          datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt         time.Time         `gorm:"not null;index"`
}

// TableName sets the database table name.
func (Transaction) TableName() string { return "credit_transactions" }

// CreditBalance is the per-user derived aggregate. It is mutated only
// through the ledger's atomic primitives.
type CreditBalance struct {
	UserID    snowflake.ID `gorm:"primaryKey"`
	Remaining int64        `gorm:"not null"`
	UpdatedAt time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (CreditBalance) TableName() string { return "credit_balances" }

// CreditApplication marks a transaction id as applied to the balance.
// The primary key is what makes ApplyCredit idempotent.
type CreditApplication struct {
	TransactionID snowflake.ID `gorm:"primaryKey"`
	UserID        snowflake.ID `gorm:"not null;index"`
	CreditsDelta  int64        `gorm:"not null"`
	CreatedAt     time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (CreditApplication) TableName() string { return "credit_applications" }

type CreatePurchaseRequest struct {
	UserID            snowflake.ID
	AmountMinor       int64
	CreditsDelta      int64
	ExternalPaymentID string
	Metadata          map[string]any
}

type DebitRequest struct {
	UserID  snowflake.ID
	Credits int64
	Reason  string
}

// ApplyCreditResult reports the balance after an apply, and whether this
// call performed the increment or replayed a prior one.
type ApplyCreditResult struct {
	Remaining int64
	Applied   bool
}

type Service interface {
	// CreatePurchase writes the durable intent-to-credit record before
	// any balance mutation happens.
	CreatePurchase(ctx context.Context, req CreatePurchaseRequest) (*Transaction, error)
	// MarkFailed flags a transaction for manual reconciliation.
	MarkFailed(ctx context.Context, transactionID snowflake.ID) error
	// ApplyCredit atomically increments the user's balance exactly once
	// per transaction id. A second call with the same id is a no-op that
	// returns the same balance.
	ApplyCredit(ctx context.Context, userID snowflake.ID, transactionID snowflake.ID, creditsDelta int64) (ApplyCreditResult, error)
	// ApplyDebit decrements the balance, failing with
	// ErrInsufficientBalance rather than going negative. The check and
	// decrement are a single guarded statement.
	ApplyDebit(ctx context.Context, req DebitRequest) (int64, error)
	GetBalance(ctx context.Context, userID snowflake.ID) (int64, error)
	ListTransactions(ctx context.Context, userID snowflake.ID, limit int) ([]Transaction, error)
	// FindPurchaseByExternalID resolves the purchase row linked to a
	// gateway order id, used to answer idempotent capture replays.
	FindPurchaseByExternalID(ctx context.Context, externalPaymentID string) (*Transaction, error)
}

var (
	ErrInvalidUser         = errors.New("invalid_user")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidCredits      = errors.New("invalid_credits")
	ErrInsufficientBalance = errors.New("insufficient_balance")
	ErrTransactionNotFound = errors.New("transaction_not_found")
)
