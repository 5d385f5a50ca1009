package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Action names a security-relevant event.
type Action string

const (
	ActionAuthRejected Action = "auth.rejected"

	ActionOrderCreated         Action = "order.created"
	ActionOrderCreateDenied    Action = "order.create_denied"
	ActionOrderAdmissionDenied Action = "order.admission_denied"

	ActionCaptureSucceeded         Action = "capture.succeeded"
	ActionCaptureReplayed          Action = "capture.replayed"
	ActionCaptureIntentNotFound    Action = "capture.intent_not_found"
	ActionCaptureOwnershipViolated Action = "capture.ownership_violation"
	ActionCaptureGatewayRejected   Action = "capture.gateway_rejected"
	ActionCaptureAmountMismatch    Action = "capture.amount_mismatch"
	ActionCaptureLedgerError       Action = "capture.ledger_error"

	ActionUsageDebited Action = "usage.debited"
	ActionUsageDenied  Action = "usage.denied"
)

// Severity distinguishes entries that must never be silently dropped
// from best-effort informational ones.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityCritical Severity = "critical"
)

// AuditLog is one append-only forensic record. Rows are never updated
// or deleted.
type AuditLog struct {
	ID        snowflake.ID      `gorm:"primaryKey"`
	UserID    *snowflake.ID     `gorm:"index"`
	Action    Action            `gorm:"type:text;not null;index"`
	Severity  Severity          `gorm:"type:text;not null"`
	Details   datatypes.JSONMap `gorm:"type:jsonb"`
	IPAddress *string           `gorm:"type:text"`
	UserAgent *string           `gorm:"type:text"`
	CreatedAt time.Time         `gorm:"not null;index"`
}

// TableName sets the database table name.
func (AuditLog) TableName() string { return "audit_logs" }

// Entry is the caller-facing shape of one event to record.
type Entry struct {
	UserID   *snowflake.ID
	Action   Action
	Severity Severity
	Details  map[string]any
}

type Service interface {
	// Record appends one entry. For SeverityCritical entries a sink
	// failure is returned to the caller; info entries are best-effort.
	Record(ctx context.Context, entry Entry) error
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
}

var (
	ErrInvalidAction = errors.New("invalid_action")
)
