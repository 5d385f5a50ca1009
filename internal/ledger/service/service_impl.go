package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/studyowl/creditgate/internal/ledger/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("ledger.service"),
		genID: p.GenID,
	}
}

func (s *Service) CreatePurchase(ctx context.Context, req ledgerdomain.CreatePurchaseRequest) (*ledgerdomain.Transaction, error) {
	if req.UserID == 0 {
		return nil, ledgerdomain.ErrInvalidUser
	}
	if req.AmountMinor <= 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}
	if req.CreditsDelta <= 0 {
		return nil, ledgerdomain.ErrInvalidCredits
	}

	metadata := map[string]any{}
	for key, value := range req.Metadata {
		if key == "" {
			continue
		}
		metadata[key] = value
	}

	txn := ledgerdomain.Transaction{
		ID:           s.genID.Generate(),
		UserID:       req.UserID,
		Kind:         ledgerdomain.KindPurchase,
		Status:       ledgerdomain.StatusCompleted,
		AmountMinor:  req.AmountMinor,
		CreditsDelta: req.CreditsDelta,
		Metadata:     datatypes.JSONMap(metadata),
		CreatedAt:    time.Now().UTC(),
	}
	if externalID := strings.TrimSpace(req.ExternalPaymentID); externalID != "" {
		txn.ExternalPaymentID = &externalID
	}

	if err := s.db.WithContext(ctx).Create(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (s *Service) MarkFailed(ctx context.Context, transactionID snowflake.ID) error {
	if transactionID == 0 {
		return ledgerdomain.ErrTransactionNotFound
	}
	result := s.db.WithContext(ctx).Exec(
		`UPDATE credit_transactions SET status = ? WHERE id = ?`,
		ledgerdomain.StatusFailed,
		transactionID,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ledgerdomain.ErrTransactionNotFound
	}
	return nil
}

func (s *Service) ApplyCredit(ctx context.Context, userID snowflake.ID, transactionID snowflake.ID, creditsDelta int64) (ledgerdomain.ApplyCreditResult, error) {
	if userID == 0 {
		return ledgerdomain.ApplyCreditResult{}, ledgerdomain.ErrInvalidUser
	}
	if transactionID == 0 {
		return ledgerdomain.ApplyCreditResult{}, ledgerdomain.ErrTransactionNotFound
	}
	if creditsDelta <= 0 {
		return ledgerdomain.ApplyCreditResult{}, ledgerdomain.ErrInvalidCredits
	}

	var out ledgerdomain.ApplyCreditResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		// The conflict target is what makes a replayed apply a no-op.
		result := tx.WithContext(ctx).Exec(
			`INSERT INTO credit_applications (transaction_id, user_id, credits_delta, created_at)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT (transaction_id) DO NOTHING`,
			transactionID,
			userID,
			creditsDelta,
			now,
		)
		if result.Error != nil {
			return result.Error
		}

		if result.RowsAffected > 0 {
			out.Applied = true
			if err := tx.WithContext(ctx).Exec(
				`INSERT INTO credit_balances (user_id, remaining, updated_at)
				 VALUES (?, ?, ?)
				 ON CONFLICT (user_id) DO UPDATE
				 SET remaining = credit_balances.remaining + excluded.remaining,
				     updated_at = excluded.updated_at`,
				userID,
				creditsDelta,
				now,
			).Error; err != nil {
				return err
			}
		}

		remaining, err := balanceOf(ctx, tx, userID)
		if err != nil {
			return err
		}
		out.Remaining = remaining
		return nil
	})
	if err != nil {
		return ledgerdomain.ApplyCreditResult{}, err
	}
	if !out.Applied {
		s.log.Debug("credit apply replayed",
			zap.String("transaction_id", transactionID.String()),
			zap.String("user_id", userID.String()),
		)
	}
	return out, nil
}

func (s *Service) ApplyDebit(ctx context.Context, req ledgerdomain.DebitRequest) (int64, error) {
	if req.UserID == 0 {
		return 0, ledgerdomain.ErrInvalidUser
	}
	if req.Credits <= 0 {
		return 0, ledgerdomain.ErrInvalidCredits
	}

	var remaining int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		// Guarded decrement: two concurrent debits cannot both pass a
		// stale balance check because the predicate and the write are
		// one statement.
		result := tx.WithContext(ctx).Exec(
			`UPDATE credit_balances
			 SET remaining = remaining - ?, updated_at = ?
			 WHERE user_id = ? AND remaining >= ?`,
			req.Credits,
			now,
			req.UserID,
			req.Credits,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ledgerdomain.ErrInsufficientBalance
		}

		txn := ledgerdomain.Transaction{
			ID:           s.genID.Generate(),
			UserID:       req.UserID,
			Kind:         ledgerdomain.KindUsage,
			Status:       ledgerdomain.StatusCompleted,
			CreditsDelta: -req.Credits,
			CreatedAt:    now,
		}
		if reason := strings.TrimSpace(req.Reason); reason != "" {
			txn.Metadata = datatypes.JSONMap{"reason": reason}
		}
		if err := tx.WithContext(ctx).Create(&txn).Error; err != nil {
			return err
		}

		balance, err := balanceOf(ctx, tx, req.UserID)
		if err != nil {
			return err
		}
		remaining = balance
		return nil
	})
	if err != nil {
		return 0, err
	}
	return remaining, nil
}

func (s *Service) GetBalance(ctx context.Context, userID snowflake.ID) (int64, error) {
	if userID == 0 {
		return 0, ledgerdomain.ErrInvalidUser
	}
	return balanceOf(ctx, s.db, userID)
}

func (s *Service) ListTransactions(ctx context.Context, userID snowflake.ID, limit int) ([]ledgerdomain.Transaction, error) {
	if userID == 0 {
		return nil, ledgerdomain.ErrInvalidUser
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var txns []ledgerdomain.Transaction
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc, id desc").
		Limit(limit).
		Find(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}

func (s *Service) FindPurchaseByExternalID(ctx context.Context, externalPaymentID string) (*ledgerdomain.Transaction, error) {
	externalPaymentID = strings.TrimSpace(externalPaymentID)
	if externalPaymentID == "" {
		return nil, ledgerdomain.ErrTransactionNotFound
	}

	var txn ledgerdomain.Transaction
	err := s.db.WithContext(ctx).
		Where("kind = ? AND external_payment_id = ?", ledgerdomain.KindPurchase, externalPaymentID).
		First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledgerdomain.ErrTransactionNotFound
		}
		return nil, err
	}
	return &txn, nil
}

func balanceOf(ctx context.Context, tx *gorm.DB, userID snowflake.ID) (int64, error) {
	var remaining int64
	err := tx.WithContext(ctx).Raw(
		`SELECT COALESCE(
			(SELECT remaining FROM credit_balances WHERE user_id = ?),
			0
		)`,
		userID,
	).Scan(&remaining).Error
	if err != nil {
		return 0, err
	}
	return remaining, nil
}
