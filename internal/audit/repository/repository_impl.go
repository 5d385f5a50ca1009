package repository

import (
	"context"

	"github.com/studyowl/creditgate/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.AuditLog) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO audit_logs (
			id, user_id, action, severity, details, ip_address, user_agent, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.UserID,
		entry.Action,
		entry.Severity,
		entry.Details,
		entry.IPAddress,
		entry.UserAgent,
		entry.CreatedAt,
	).Error
}
