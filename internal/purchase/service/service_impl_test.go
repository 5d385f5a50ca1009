package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/studyowl/creditgate/internal/admission"
	auditdomain "github.com/studyowl/creditgate/internal/audit/domain"
	"github.com/studyowl/creditgate/internal/catalog"
	"github.com/studyowl/creditgate/internal/clock"
	"github.com/studyowl/creditgate/internal/config"
	gatewaydomain "github.com/studyowl/creditgate/internal/gateway/domain"
	intentdomain "github.com/studyowl/creditgate/internal/intent/domain"
	intentrepo "github.com/studyowl/creditgate/internal/intent/repository"
	ledgerdomain "github.com/studyowl/creditgate/internal/ledger/domain"
	ledgerservice "github.com/studyowl/creditgate/internal/ledger/service"
	purchasedomain "github.com/studyowl/creditgate/internal/purchase/domain"
	purchaseservice "github.com/studyowl/creditgate/internal/purchase/service"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// -- Fakes --

type fakeGateway struct {
	mu sync.Mutex

	nextOrderID string
	orderErr    error

	captureResult *gatewaydomain.CaptureResult
	captureErr    error
	captureCalls  int
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) CreateOrder(ctx context.Context, req gatewaydomain.CreateOrderRequest) (*gatewaydomain.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.orderErr != nil {
		return nil, g.orderErr
	}
	return &gatewaydomain.Order{OrderID: g.nextOrderID, Status: "CREATED"}, nil
}

func (g *fakeGateway) CaptureOrder(ctx context.Context, orderID string) (*gatewaydomain.CaptureResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.captureCalls++
	if g.captureErr != nil {
		return nil, g.captureErr
	}
	result := *g.captureResult
	result.OrderID = orderID
	return &result, nil
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.captureCalls
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []auditdomain.Entry
	fail    bool
}

func (a *recordingAudit) Record(ctx context.Context, entry auditdomain.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	if a.fail && entry.Severity == auditdomain.SeverityCritical {
		return fmt.Errorf("audit sink down")
	}
	return nil
}

func (a *recordingAudit) byAction(action auditdomain.Action) []auditdomain.Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []auditdomain.Entry
	for _, entry := range a.entries {
		if entry.Action == action {
			out = append(out, entry)
		}
	}
	return out
}

// -- Harness --

type harness struct {
	db      *gorm.DB
	node    *snowflake.Node
	clk     *clock.FakeClock
	gateway *fakeGateway
	audit   *recordingAudit
	ledger  ledgerdomain.Service
	svc     purchasedomain.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&intentdomain.PaymentIntent{},
		&ledgerdomain.Transaction{},
		&ledgerdomain.CreditBalance{},
		&ledgerdomain.CreditApplication{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(30)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	gw := &fakeGateway{nextOrderID: "ORDER-1"}
	audit := &recordingAudit{}
	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
	})

	cfg := config.Config{
		Admission: config.AdmissionConfig{
			MaxOrdersPerWindow: 5,
			Window:             time.Hour,
		},
	}

	svc := purchaseservice.NewService(purchaseservice.Params{
		DB:        db,
		Log:       zap.NewNop(),
		Cfg:       cfg,
		IntentSvc: intentrepo.Provide(node),
		LedgerSvc: ledgerSvc,
		AuditSvc:  audit,
		Gateway:   gw,
		Catalog:   catalog.Default(),
		Admission: admission.NewLocalStore(clk),
	})

	return &harness{
		db:      db,
		node:    node,
		clk:     clk,
		gateway: gw,
		audit:   audit,
		ledger:  ledgerSvc,
		svc:     svc,
	}
}

func (h *harness) completedCapture(amountMinor int64) {
	h.gateway.captureResult = &gatewaydomain.CaptureResult{
		Status:              gatewaydomain.StatusCompleted,
		CaptureID:           "CAP-1",
		CapturedAmountMinor: amountMinor,
	}
}

// -- Tests --

func TestCaptureCreditsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	userID := h.node.Generate()

	order, err := h.svc.CreateOrder(ctx, purchasedomain.CreateOrderRequest{UserID: userID, PackageID: "standard"})
	assert.NoError(t, err)
	assert.Equal(t, "ORDER-1", order.OrderID)
	assert.Equal(t, int64(1000), order.AmountMinor)
	assert.Equal(t, int64(10), order.Credits)

	h.completedCapture(1000)
	first, err := h.svc.CaptureOrder(ctx, purchasedomain.CaptureRequest{UserID: userID, ExternalOrderID: "ORDER-1"})
	assert.NoError(t, err)
	assert.False(t, first.Replayed)
	assert.Equal(t, int64(10), first.CreditsAdded)
	assert.Equal(t, int64(10), first.CreditsRemaining)

	// The duplicate call reports the same grant without touching the
	// gateway or the balance again.
	second, err := h.svc.CaptureOrder(ctx, purchasedomain.CaptureRequest{UserID: userID, ExternalOrderID: "ORDER-1"})
	assert.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, int64(10), second.CreditsAdded)
	assert.Equal(t, int64(10), second.CreditsRemaining)
	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.Equal(t, 1, h.gateway.calls())

	var txns int64
	assert.NoError(t, h.db.Model(&ledgerdomain.Transaction{}).Count(&txns).Error)
	assert.Equal(t, int64(1), txns)

	assert.Len(t, h.audit.byAction(auditdomain.ActionCaptureSucceeded), 1)
	assert.Len(t, h.audit.byAction(auditdomain.ActionCaptureReplayed), 1)
}

func TestReplayReportsCurrentBalance(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	userID := h.node.Generate()

	_, err := h.svc.CreateOrder(ctx, purchasedomain.CreateOrderRequest{UserID: userID, PackageID: "standard"})
	assert.NoError(t, err)

	h.completedCapture(1000)
	_, err = h.svc.CaptureOrder(ctx, purchasedomain.CaptureRequest{UserID: userID, ExternalOrderID: "ORDER-1"})
	assert.NoError(t, err)

	// Credits spent between the first capture and the replay show up in
	// the replayed balance.
	_, err = h.ledger.ApplyDebit(ctx, ledgerdomain.DebitRequest{UserID: userID, Credits: 4})
	assert.NoError(t, err)

	replay, err := h.svc.CaptureOrder(ctx, purchasedomain.CaptureRequest{UserID: userID, ExternalOrderID: "ORDER-1"})
	assert.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, int64(10), replay.CreditsAdded)
	assert.Equal(t, int64(6), replay.CreditsRemaining)
}

func TestCaptureFencesOwnership(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	owner := h.node.Generate()
	attacker := h.node.Generate()

	_, err := h.svc.CreateOrder(ctx, purchasedomain.CreateOrderRequest{UserID: owner, PackageID: "standard"})
	assert.NoError(t, err)

	h.completedCapture(1000)
	_, err = h.svc.CaptureOrder(ctx, purchasedomain.CaptureRequest{UserID: attacker, ExternalOrderID: "ORDER-1"})
	assert.ErrorIs(t, err, purchasedomain.ErrOwnershipViolation)
	assert.Equal(t, 0, h.gateway.calls())

	violations := h.audit.byAction(auditdomain.ActionCaptureOwnershipViolated)
	if assert.Len(t, violations, 1) {
		assert.Equal(t, auditdomain.SeverityCritical, violations[0].Severity)
		assert.Equal(t, attacker, *violations[0].UserID)
	}

	// Neither side gets credited.
	var txns int64
	assert.NoError(t, h.db.Model(&ledgerdomain.Transaction{}).Count(&txns).Error)
	assert.Equal(t, int64(0), txns)
}

func TestOwnershipViolationSurvivesAuditOutage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.audit.fail = true
	owner := h.node.Generate()
	attacker := h.node.Generate()

	_, err := h.svc.CreateOrder(ctx, purchasedomain.CreateOrderRequest{UserID: owner, PackageID: "standard"})
	assert.NoError(t, err)

	h.completedCapture(1000)
	_, err = h.svc.CaptureOrder(ctx, purchasedomain.CaptureRequest{UserID: attacker, ExternalOrderID: "ORDER-1"})
	assert.ErrorIs(t, err, purchasedomain.ErrOwnershipViolation)
}

func TestCaptureUnknownOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	userID := h.node.Generate()

	_, err := h.svc.CaptureOrder(ctx, purchasedomain.CaptureRequest{UserID: userID, ExternalOrderID: "ORDER-FORGED"})
	assert.ErrorIs(t, err, purchasedomain.ErrIntentNotFound)
	assert.Len(t, h.audit.byAction(auditdomain.ActionCaptureIntentNotFound), 1)
}

func TestCaptureToleratesOneMinorUnit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	userID := h.node.Generate()

	_, err := h.svc.CreateOrder(ctx, purchasedomain.CreateOrderRequest{UserID: userID, PackageID: "standard"})
	assert.NoError(t, err)

	h.completedCapture(1001)
	result, err := h.svc.CaptureOrder(ctx, purchasedomain.CaptureRequest{UserID: userID, ExternalOrderID: "ORDER-1"})
	assert.NoError(t, err)
	assert.Equal(t, int64(10), result.CreditsAdded)
}

func TestCaptureRejectsAmountMismatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	userID := h.node.Generate()

	_, err := h.svc.CreateOrder(ctx, purchasedomain.CreateOrderRequest{UserID: userID, PackageID: "standard"})
	assert.NoError(t, err)

	h.completedCapture(900)
	_, err = h.svc.CaptureOrder(ctx, purchasedomain.CaptureRequest{UserID: userID, ExternalOrderID: "ORDER-1"})
	assert.ErrorIs(t, err, purchasedomain.ErrAmountMismatch)

	mismatches := h.audit.byAction(auditdomain.ActionCaptureAmountMismatch)
	if assert.Len(t, mismatches, 1) {
		assert.Equal(t, auditdomain.SeverityCritical, mismatches[0].Severity)
	}

	balance, err := h.ledger.GetBalance(ctx, userID)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestGatewayErrorLeavesIntentRetryable(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	userID := h.node.Generate()

	_, err := h.svc.CreateOrder(ctx, purchasedomain.CreateOrderRequest{UserID: userID, PackageID: "standard"})
	assert.NoError(t, err)

	h.gateway.captureErr = fmt.Errorf("connect timeout")
	_, err = h.svc.CaptureOrder(ctx, purchasedomain.CaptureRequest{UserID: userID, ExternalOrderID: "ORDER-1"})
	assert.ErrorIs(t, err, purchasedomain.ErrGatewayRejected)

	// No definitive gateway answer, so the retry still goes through.
	h.gateway.captureErr = nil
	h.completedCapture(1000)
	result, err := h.svc.CaptureOrder(ctx, purchasedomain.CaptureRequest{UserID: userID, ExternalOrderID: "ORDER-1"})
	assert.NoError(t, err)
	assert.Equal(t, int64(10), result.CreditsRemaining)
}

func TestGatewayDeclineMarksIntentFailed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	userID := h.node.Generate()

	_, err := h.svc.CreateOrder(ctx, purchasedomain.CreateOrderRequest{UserID: userID, PackageID: "standard"})
	assert.NoError(t, err)

	h.gateway.captureResult = &gatewaydomain.CaptureResult{Status: "DECLINED"}
	_, err = h.svc.CaptureOrder(ctx, purchasedomain.CaptureRequest{UserID: userID, ExternalOrderID: "ORDER-1"})
	assert.ErrorIs(t, err, purchasedomain.ErrGatewayRejected)

	// The decline is terminal; later attempts fail without reaching the
	// gateway again.
	h.completedCapture(1000)
	_, err = h.svc.CaptureOrder(ctx, purchasedomain.CaptureRequest{UserID: userID, ExternalOrderID: "ORDER-1"})
	assert.ErrorIs(t, err, purchasedomain.ErrOrderFailed)
	assert.Equal(t, 1, h.gateway.calls())
}

func TestCreateOrderRejectsUnknownPackage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.svc.CreateOrder(ctx, purchasedomain.CreateOrderRequest{
		UserID:    h.node.Generate(),
		PackageID: "enterprise",
	})
	assert.ErrorIs(t, err, purchasedomain.ErrInvalidPackage)
	assert.Len(t, h.audit.byAction(auditdomain.ActionOrderCreateDenied), 1)
}

func TestCreateOrderAdmissionWindow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	userID := h.node.Generate()

	for i := 0; i < 5; i++ {
		h.gateway.nextOrderID = fmt.Sprintf("ORDER-%d", i+1)
		_, err := h.svc.CreateOrder(ctx, purchasedomain.CreateOrderRequest{UserID: userID, PackageID: "starter"})
		assert.NoError(t, err)
	}

	_, err := h.svc.CreateOrder(ctx, purchasedomain.CreateOrderRequest{UserID: userID, PackageID: "starter"})
	var denied *purchasedomain.AdmissionDeniedError
	assert.ErrorAs(t, err, &denied)
	assert.Equal(t, h.clk.Now().Add(time.Hour), denied.ResetAt)
	assert.Len(t, h.audit.byAction(auditdomain.ActionOrderAdmissionDenied), 1)

	// The window reopens at the reset instant.
	h.clk.Advance(time.Hour)
	h.gateway.nextOrderID = "ORDER-6"
	_, err = h.svc.CreateOrder(ctx, purchasedomain.CreateOrderRequest{UserID: userID, PackageID: "starter"})
	assert.NoError(t, err)
}

func TestConcurrentCapturesCreditOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	userID := h.node.Generate()

	_, err := h.svc.CreateOrder(ctx, purchasedomain.CreateOrderRequest{UserID: userID, PackageID: "standard"})
	assert.NoError(t, err)
	h.completedCapture(1000)

	const attempts = 4
	results := make([]*purchasedomain.CaptureResult, attempts)
	errs := make([]error, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.svc.CaptureOrder(ctx, purchasedomain.CaptureRequest{
				UserID:          userID,
				ExternalOrderID: "ORDER-1",
			})
		}(i)
	}
	wg.Wait()

	replays := 0
	for i := 0; i < attempts; i++ {
		assert.NoError(t, errs[i])
		assert.Equal(t, int64(10), results[i].CreditsAdded)
		assert.Equal(t, int64(10), results[i].CreditsRemaining)
		if results[i].Replayed {
			replays++
		}
	}
	assert.Equal(t, attempts-1, replays)
	assert.Equal(t, 1, h.gateway.calls())

	balance, err := h.ledger.GetBalance(ctx, userID)
	assert.NoError(t, err)
	assert.Equal(t, int64(10), balance)

	var txns int64
	assert.NoError(t, h.db.Model(&ledgerdomain.Transaction{}).Count(&txns).Error)
	assert.Equal(t, int64(1), txns)
}
