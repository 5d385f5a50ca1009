package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Session is one authenticated browser session.
type Session struct {
	Token     string       `gorm:"primaryKey;type:text"`
	UserID    snowflake.ID `gorm:"not null;index"`
	ExpiresAt time.Time    `gorm:"not null"`
	CreatedAt time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (Session) TableName() string { return "sessions" }

type Service interface {
	Issue(ctx context.Context, userID snowflake.ID) (*Session, error)
	Authenticate(ctx context.Context, token string) (*Session, error)
}

var (
	ErrInvalidUser    = errors.New("invalid_user")
	ErrInvalidSession = errors.New("invalid_session")
	ErrSessionExpired = errors.New("session_expired")
)
