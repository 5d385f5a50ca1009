package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/studyowl/creditgate/internal/audit/domain"
	"github.com/studyowl/creditgate/internal/auditcontext"
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
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *Service) Record(ctx context.Context, entry auditdomain.Entry) error {
	action := auditdomain.Action(strings.TrimSpace(string(entry.Action)))
	if action == "" {
		return auditdomain.ErrInvalidAction
	}

	severity := entry.Severity
	if severity == "" {
		severity = auditdomain.SeverityInfo
	}

	details := map[string]any{}
	for key, value := range entry.Details {
		if key == "" {
			continue
		}
		details[key] = value
	}
	if requestID := auditcontext.RequestIDFromContext(ctx); requestID != "" {
		details["request_id"] = requestID
	}

	row := auditdomain.AuditLog{
		ID:        s.genID.Generate(),
		UserID:    entry.UserID,
		Action:    action,
		Severity:  severity,
		Details:   datatypes.JSONMap(details),
		CreatedAt: time.Now().UTC(),
	}
	if ip := auditcontext.IPAddressFromContext(ctx); ip != "" {
		row.IPAddress = &ip
	}
	if ua := auditcontext.UserAgentFromContext(ctx); ua != "" {
		row.UserAgent = &ua
	}

	if err := s.repo.Insert(ctx, s.db, &row); err != nil {
		if severity == auditdomain.SeverityCritical {
			// Ownership violations, amount mismatches and credit-apply
			// failures must not vanish if the sink is down.
			s.log.Error("failed to write critical audit log",
				zap.String("action", string(action)),
				zap.Error(err),
			)
			return err
		}
		s.log.Warn("failed to write audit log", zap.String("action", string(action)), zap.Error(err))
		return nil
	}
	return nil
}
