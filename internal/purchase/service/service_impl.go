package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/studyowl/creditgate/internal/admission"
	auditdomain "github.com/studyowl/creditgate/internal/audit/domain"
	"github.com/studyowl/creditgate/internal/catalog"
	"github.com/studyowl/creditgate/internal/config"
	gatewaydomain "github.com/studyowl/creditgate/internal/gateway/domain"
	intentdomain "github.com/studyowl/creditgate/internal/intent/domain"
	ledgerdomain "github.com/studyowl/creditgate/internal/ledger/domain"
	"github.com/studyowl/creditgate/internal/metrics"
	purchasedomain "github.com/studyowl/creditgate/internal/purchase/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// amountToleranceMinor is the largest difference between the expected
// and gateway-reported amount that still credits, in minor units.
const amountToleranceMinor = 1

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Cfg       config.Config
	IntentSvc intentdomain.Repository
	LedgerSvc ledgerdomain.Service
	AuditSvc  auditdomain.Service
	Gateway   gatewaydomain.Provider
	Catalog   *catalog.Catalog
	Admission admission.Store
	Metrics   *metrics.Metrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	cfg       config.Config
	intents   intentdomain.Repository
	ledgerSvc ledgerdomain.Service
	auditSvc  auditdomain.Service
	gateway   gatewaydomain.Provider
	catalog   *catalog.Catalog
	admission admission.Store
	metrics   *metrics.Metrics
	locks     *orderLocks
}

func NewService(p Params) purchasedomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("purchase.service"),
		cfg:       p.Cfg,
		intents:   p.IntentSvc,
		ledgerSvc: p.LedgerSvc,
		auditSvc:  p.AuditSvc,
		gateway:   p.Gateway,
		catalog:   p.Catalog,
		admission: p.Admission,
		metrics:   p.Metrics,
		locks:     newOrderLocks(),
	}
}

func (s *Service) CreateOrder(ctx context.Context, req purchasedomain.CreateOrderRequest) (*purchasedomain.CreateOrderResult, error) {
	if req.UserID == 0 {
		return nil, purchasedomain.ErrInvalidRequest
	}

	pkg, err := s.catalog.Lookup(req.PackageID)
	if err != nil {
		s.audit(ctx, auditdomain.Entry{
			UserID:   &req.UserID,
			Action:   auditdomain.ActionOrderCreateDenied,
			Severity: auditdomain.SeverityInfo,
			Details:  map[string]any{"package_id": req.PackageID, "reason": "unknown_package"},
		})
		return nil, fmt.Errorf("%w: %s", purchasedomain.ErrInvalidPackage, strings.TrimSpace(req.PackageID))
	}

	decision, err := s.admission.CheckAndConsume(
		ctx,
		"orders:"+req.UserID.String(),
		s.cfg.Admission.MaxOrdersPerWindow,
		s.cfg.Admission.Window,
	)
	if err != nil {
		// The window counter is ephemeral by policy; a broken store
		// must not block purchases.
		s.log.Warn("admission check failed, allowing request", zap.Error(err))
	} else if !decision.Allowed {
		s.audit(ctx, auditdomain.Entry{
			UserID:   &req.UserID,
			Action:   auditdomain.ActionOrderAdmissionDenied,
			Severity: auditdomain.SeverityInfo,
			Details: map[string]any{
				"package_id": pkg.ID,
				"reset_at":   decision.ResetAt.UTC(),
			},
		})
		if s.metrics != nil {
			s.metrics.RecordAdmissionDenied()
		}
		return nil, &purchasedomain.AdmissionDeniedError{ResetAt: decision.ResetAt}
	}

	order, err := s.gateway.CreateOrder(ctx, gatewaydomain.CreateOrderRequest{
		AmountMinor: pkg.AmountMinor,
		Currency:    pkg.Currency,
		Description: fmt.Sprintf("%s credit package (%d credits)", pkg.Label, pkg.TotalCredits()),
		Reference:   req.UserID.String(),
	})
	if err != nil {
		s.log.Error("gateway order creation failed",
			zap.String("package_id", pkg.ID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("create gateway order: %w", err)
	}

	if _, err := s.intents.Create(ctx, s.db, intentdomain.CreateIntentRequest{
		UserID:          req.UserID,
		ExternalOrderID: order.OrderID,
		PackageID:       pkg.ID,
		AmountMinor:     pkg.AmountMinor,
		Currency:        pkg.Currency,
		CreditsAmount:   pkg.TotalCredits(),
	}); err != nil {
		return nil, fmt.Errorf("persist payment intent: %w", err)
	}

	s.audit(ctx, auditdomain.Entry{
		UserID:   &req.UserID,
		Action:   auditdomain.ActionOrderCreated,
		Severity: auditdomain.SeverityInfo,
		Details: map[string]any{
			"order_id":     order.OrderID,
			"package_id":   pkg.ID,
			"amount_minor": pkg.AmountMinor,
			"credits":      pkg.TotalCredits(),
		},
	})
	if s.metrics != nil {
		s.metrics.RecordOrderCreated()
	}

	return &purchasedomain.CreateOrderResult{
		OrderID:      order.OrderID,
		AmountMinor:  pkg.AmountMinor,
		Currency:     pkg.Currency,
		Credits:      pkg.TotalCredits(),
		PackageLabel: pkg.Label,
	}, nil
}

// CaptureOrder drives one capture attempt to a terminal outcome:
// resolve the intent, fence ownership, short-circuit replays, capture
// at the gateway, verify the captured amount, then write the
// transaction and apply the credit.
func (s *Service) CaptureOrder(ctx context.Context, req purchasedomain.CaptureRequest) (*purchasedomain.CaptureResult, error) {
	if req.UserID == 0 {
		return nil, purchasedomain.ErrInvalidRequest
	}
	orderID := strings.TrimSpace(req.ExternalOrderID)
	if orderID == "" {
		return nil, purchasedomain.ErrInvalidRequest
	}

	// Concurrent captures for one order serialize here; the status CAS
	// in the intent store is the cross-process backstop.
	release := s.locks.acquire(orderID)
	defer release()

	intent, err := s.intents.FindByExternalOrderID(ctx, s.db, orderID)
	if err != nil {
		if errors.Is(err, intentdomain.ErrNotFound) {
			// A capture for an unknown order id implies a forged or
			// stale identifier, worth keeping a trace of.
			s.audit(ctx, auditdomain.Entry{
				UserID:   &req.UserID,
				Action:   auditdomain.ActionCaptureIntentNotFound,
				Severity: auditdomain.SeverityInfo,
				Details:  map[string]any{"order_id": orderID},
			})
			return nil, purchasedomain.ErrIntentNotFound
		}
		return nil, fmt.Errorf("resolve payment intent: %w", err)
	}

	if intent.UserID != req.UserID {
		entry := auditdomain.Entry{
			UserID:   &req.UserID,
			Action:   auditdomain.ActionCaptureOwnershipViolated,
			Severity: auditdomain.SeverityCritical,
			Details: map[string]any{
				"order_id":      orderID,
				"owner_user_id": intent.UserID.String(),
				"caller_id":     req.UserID.String(),
			},
		}
		if auditErr := s.auditSvc.Record(ctx, entry); auditErr != nil {
			s.log.Error("audit sink unavailable for ownership violation", zap.Error(auditErr))
		}
		s.recordCapture("ownership_violation")
		return nil, purchasedomain.ErrOwnershipViolation
	}

	switch intent.Status {
	case intentdomain.StatusCompleted:
		return s.replayCompletedCapture(ctx, intent)
	case intentdomain.StatusFailed:
		return nil, purchasedomain.ErrOrderFailed
	}

	capture, err := s.gateway.CaptureOrder(ctx, orderID)
	if err != nil {
		// No definitive report from the gateway (timeout included):
		// fail closed without moving the intent, so a later retry can
		// resubmit the idempotent capture.
		s.audit(ctx, auditdomain.Entry{
			UserID:   &intent.UserID,
			Action:   auditdomain.ActionCaptureGatewayRejected,
			Severity: auditdomain.SeverityInfo,
			Details:  map[string]any{"order_id": orderID, "error": err.Error()},
		})
		s.recordCapture("gateway_error")
		return nil, fmt.Errorf("%w: %v", purchasedomain.ErrGatewayRejected, err)
	}

	if capture.Status != gatewaydomain.StatusCompleted {
		if err := s.intents.TransitionToFailed(ctx, s.db, intent.ID); err != nil {
			s.log.Error("failed to mark intent failed",
				zap.String("order_id", orderID),
				zap.Error(err),
			)
		}
		s.audit(ctx, auditdomain.Entry{
			UserID:   &intent.UserID,
			Action:   auditdomain.ActionCaptureGatewayRejected,
			Severity: auditdomain.SeverityInfo,
			Details: map[string]any{
				"order_id":       orderID,
				"gateway_status": capture.Status,
			},
		})
		s.recordCapture("gateway_rejected")
		return nil, purchasedomain.ErrGatewayRejected
	}

	if diff := capture.CapturedAmountMinor - intent.AmountMinor; diff > amountToleranceMinor || diff < -amountToleranceMinor {
		entry := auditdomain.Entry{
			UserID:   &intent.UserID,
			Action:   auditdomain.ActionCaptureAmountMismatch,
			Severity: auditdomain.SeverityCritical,
			Details: map[string]any{
				"order_id":       orderID,
				"expected_minor": intent.AmountMinor,
				"captured_minor": capture.CapturedAmountMinor,
			},
		}
		if auditErr := s.auditSvc.Record(ctx, entry); auditErr != nil {
			s.log.Error("audit sink unavailable for amount mismatch", zap.Error(auditErr))
		}
		s.recordCapture("amount_mismatch")
		return nil, purchasedomain.ErrAmountMismatch
	}

	txn, err := s.ledgerSvc.CreatePurchase(ctx, ledgerdomain.CreatePurchaseRequest{
		UserID:            intent.UserID,
		AmountMinor:       intent.AmountMinor,
		CreditsDelta:      intent.CreditsAmount,
		ExternalPaymentID: orderID,
		Metadata: map[string]any{
			"package_id": intent.PackageID,
			"capture_id": capture.CaptureID,
		},
	})
	if err != nil {
		s.auditLedgerFailure(ctx, intent, orderID, "transaction_write", err)
		s.recordCapture("ledger_error")
		return nil, fmt.Errorf("%w: %v", purchasedomain.ErrLedgerWrite, err)
	}

	applied, err := s.ledgerSvc.ApplyCredit(ctx, intent.UserID, txn.ID, intent.CreditsAmount)
	if err != nil {
		// Real funds are captured at the gateway; the failed row is the
		// reconciliation anchor for an operator.
		if markErr := s.ledgerSvc.MarkFailed(ctx, txn.ID); markErr != nil {
			s.log.Error("failed to mark transaction failed",
				zap.String("transaction_id", txn.ID.String()),
				zap.Error(markErr),
			)
		}
		s.auditLedgerFailure(ctx, intent, orderID, "credit_apply", err)
		s.recordCapture("credit_apply_error")
		return nil, fmt.Errorf("%w: %v", purchasedomain.ErrCreditApply, err)
	}

	if err := s.intents.TransitionToCompleted(ctx, s.db, intent.ID); err != nil {
		// Credit is applied; a lost CAS here means another process
		// finalized first, which the apply idempotency already absorbed.
		s.log.Warn("intent finalize transition lost",
			zap.String("order_id", orderID),
			zap.Error(err),
		)
	}

	s.audit(ctx, auditdomain.Entry{
		UserID:   &intent.UserID,
		Action:   auditdomain.ActionCaptureSucceeded,
		Severity: auditdomain.SeverityInfo,
		Details: map[string]any{
			"order_id":       orderID,
			"transaction_id": txn.ID.String(),
			"amount_minor":   intent.AmountMinor,
			"captured_minor": capture.CapturedAmountMinor,
			"credits_added":  intent.CreditsAmount,
		},
	})
	s.recordCapture("success")

	return &purchasedomain.CaptureResult{
		CreditsAdded:     intent.CreditsAmount,
		CreditsRemaining: applied.Remaining,
		TransactionID:    txn.ID,
	}, nil
}

// replayCompletedCapture answers a duplicate capture call without
// touching the gateway or the balance. The reported balance is the
// caller's true current balance, not a snapshot from the first capture.
func (s *Service) replayCompletedCapture(ctx context.Context, intent *intentdomain.PaymentIntent) (*purchasedomain.CaptureResult, error) {
	remaining, err := s.ledgerSvc.GetBalance(ctx, intent.UserID)
	if err != nil {
		return nil, fmt.Errorf("read balance for replay: %w", err)
	}

	var transactionID snowflake.ID
	if txn, err := s.ledgerSvc.FindPurchaseByExternalID(ctx, intent.ExternalOrderID); err == nil {
		transactionID = txn.ID
	}

	s.audit(ctx, auditdomain.Entry{
		UserID:   &intent.UserID,
		Action:   auditdomain.ActionCaptureReplayed,
		Severity: auditdomain.SeverityInfo,
		Details: map[string]any{
			"order_id":      intent.ExternalOrderID,
			"credits_added": intent.CreditsAmount,
		},
	})
	s.recordCapture("replayed")

	return &purchasedomain.CaptureResult{
		CreditsAdded:     intent.CreditsAmount,
		CreditsRemaining: remaining,
		TransactionID:    transactionID,
		Replayed:         true,
	}, nil
}

func (s *Service) auditLedgerFailure(ctx context.Context, intent *intentdomain.PaymentIntent, orderID string, stage string, cause error) {
	entry := auditdomain.Entry{
		UserID:   &intent.UserID,
		Action:   auditdomain.ActionCaptureLedgerError,
		Severity: auditdomain.SeverityCritical,
		Details: map[string]any{
			"order_id":             orderID,
			"stage":                stage,
			"error":                cause.Error(),
			"needs_reconciliation": true,
		},
	}
	if auditErr := s.auditSvc.Record(ctx, entry); auditErr != nil {
		s.log.Error("audit sink unavailable for ledger failure",
			zap.String("stage", stage),
			zap.Error(auditErr),
		)
	}
}

func (s *Service) audit(ctx context.Context, entry auditdomain.Entry) {
	if err := s.auditSvc.Record(ctx, entry); err != nil {
		s.log.Warn("audit write failed", zap.String("action", string(entry.Action)), zap.Error(err))
	}
}

func (s *Service) recordCapture(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordCapture(outcome)
	}
}
