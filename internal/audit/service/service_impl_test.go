package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/studyowl/creditgate/internal/audit/domain"
	auditrepo "github.com/studyowl/creditgate/internal/audit/repository"
	auditservice "github.com/studyowl/creditgate/internal/audit/service"
	"github.com/studyowl/creditgate/internal/auditcontext"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type failingRepo struct{}

func (failingRepo) Insert(ctx context.Context, db *gorm.DB, entry *auditdomain.AuditLog) error {
	return fmt.Errorf("sink down")
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&auditdomain.AuditLog{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newService(t *testing.T, db *gorm.DB, repo auditdomain.Repository) auditdomain.Service {
	t.Helper()

	node, err := snowflake.NewNode(40)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repo,
	})
}

func TestRecordCapturesRequestContext(t *testing.T) {
	db := setupTestDB(t)
	svc := newService(t, db, auditrepo.Provide())

	ctx := auditcontext.WithRequestID(context.Background(), "req-1")
	ctx = auditcontext.WithIPAddress(ctx, "203.0.113.7")
	ctx = auditcontext.WithUserAgent(ctx, "test-agent")

	node, _ := snowflake.NewNode(41)
	userID := node.Generate()
	err := svc.Record(ctx, auditdomain.Entry{
		UserID:   &userID,
		Action:   auditdomain.ActionCaptureSucceeded,
		Severity: auditdomain.SeverityInfo,
		Details:  map[string]any{"order_id": "ORDER-1"},
	})
	assert.NoError(t, err)

	var row auditdomain.AuditLog
	assert.NoError(t, db.First(&row).Error)
	assert.Equal(t, auditdomain.ActionCaptureSucceeded, row.Action)
	assert.Equal(t, "req-1", row.Details["request_id"])
	assert.Equal(t, "ORDER-1", row.Details["order_id"])
	if assert.NotNil(t, row.IPAddress) {
		assert.Equal(t, "203.0.113.7", *row.IPAddress)
	}
	if assert.NotNil(t, row.UserAgent) {
		assert.Equal(t, "test-agent", *row.UserAgent)
	}
}

func TestRecordDefaultsSeverityToInfo(t *testing.T) {
	db := setupTestDB(t)
	svc := newService(t, db, auditrepo.Provide())

	err := svc.Record(context.Background(), auditdomain.Entry{
		Action: auditdomain.ActionUsageDebited,
	})
	assert.NoError(t, err)

	var row auditdomain.AuditLog
	assert.NoError(t, db.First(&row).Error)
	assert.Equal(t, auditdomain.SeverityInfo, row.Severity)
	assert.Nil(t, row.UserID)
}

func TestRecordRejectsEmptyAction(t *testing.T) {
	db := setupTestDB(t)
	svc := newService(t, db, auditrepo.Provide())

	err := svc.Record(context.Background(), auditdomain.Entry{Action: "  "})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}

func TestSinkFailureSurfacesOnlyForCritical(t *testing.T) {
	db := setupTestDB(t)
	svc := newService(t, db, failingRepo{})

	err := svc.Record(context.Background(), auditdomain.Entry{
		Action:   auditdomain.ActionCaptureSucceeded,
		Severity: auditdomain.SeverityInfo,
	})
	assert.NoError(t, err)

	err = svc.Record(context.Background(), auditdomain.Entry{
		Action:   auditdomain.ActionCaptureOwnershipViolated,
		Severity: auditdomain.SeverityCritical,
	})
	assert.Error(t, err)
}
