package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/studyowl/creditgate/internal/intent/domain"
	"github.com/studyowl/creditgate/pkg/db"
	"gorm.io/gorm"
)

type repo struct {
	genID *snowflake.Node
}

func Provide(genID *snowflake.Node) domain.Repository {
	return &repo{genID: genID}
}

func (r *repo) Create(ctx context.Context, gdb *gorm.DB, req domain.CreateIntentRequest) (*domain.PaymentIntent, error) {
	externalOrderID := strings.TrimSpace(req.ExternalOrderID)
	if externalOrderID == "" || req.UserID == 0 || req.AmountMinor <= 0 || req.CreditsAmount <= 0 {
		return nil, domain.ErrInvalidRequest
	}

	now := time.Now().UTC()
	intent := domain.PaymentIntent{
		ID:              r.genID.Generate(),
		UserID:          req.UserID,
		ExternalOrderID: externalOrderID,
		PackageID:       strings.TrimSpace(req.PackageID),
		AmountMinor:     req.AmountMinor,
		Currency:        strings.ToUpper(strings.TrimSpace(req.Currency)),
		CreditsAmount:   req.CreditsAmount,
		Status:          domain.StatusCreated,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := gdb.WithContext(ctx).Create(&intent).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrDuplicateOrder
		}
		return nil, err
	}
	return &intent, nil
}

func (r *repo) FindByExternalOrderID(ctx context.Context, gdb *gorm.DB, externalOrderID string) (*domain.PaymentIntent, error) {
	externalOrderID = strings.TrimSpace(externalOrderID)
	if externalOrderID == "" {
		return nil, domain.ErrNotFound
	}

	var intent domain.PaymentIntent
	err := gdb.WithContext(ctx).
		Where("external_order_id = ?", externalOrderID).
		First(&intent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &intent, nil
}

func (r *repo) TransitionToCompleted(ctx context.Context, gdb *gorm.DB, id snowflake.ID) error {
	return r.transition(ctx, gdb, id, domain.StatusCompleted)
}

func (r *repo) TransitionToFailed(ctx context.Context, gdb *gorm.DB, id snowflake.ID) error {
	return r.transition(ctx, gdb, id, domain.StatusFailed)
}

// transition applies the terminal status only if the intent is still in
// created state. Two concurrent attempts cannot both win: the guarded
// UPDATE reports zero affected rows for the loser.
func (r *repo) transition(ctx context.Context, gdb *gorm.DB, id snowflake.ID, to domain.Status) error {
	result := gdb.WithContext(ctx).Exec(
		`UPDATE payment_intents
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		to,
		time.Now().UTC(),
		id,
		domain.StatusCreated,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}
