package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	authdomain "github.com/studyowl/creditgate/internal/auth/domain"
	"github.com/studyowl/creditgate/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
	Cfg config.Config
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger
	ttl time.Duration
}

func NewService(p Params) authdomain.Service {
	ttl := p.Cfg.SessionTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		db:  p.DB,
		log: p.Log.Named("auth.service"),
		ttl: ttl,
	}
}

func (s *Service) Issue(ctx context.Context, userID snowflake.ID) (*authdomain.Session, error) {
	if userID == 0 {
		return nil, authdomain.ErrInvalidUser
	}

	now := time.Now().UTC()
	session := authdomain.Session{
		Token:     uuid.NewString(),
		UserID:    userID,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *Service) Authenticate(ctx context.Context, token string) (*authdomain.Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, authdomain.ErrInvalidSession
	}

	var session authdomain.Session
	err := s.db.WithContext(ctx).Where("token = ?", token).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, authdomain.ErrInvalidSession
		}
		return nil, err
	}

	if time.Now().UTC().After(session.ExpiresAt) {
		return nil, authdomain.ErrSessionExpired
	}
	return &session, nil
}
