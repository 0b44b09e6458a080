package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/studio_go_server/config"
	"github.com/qs3c/studio_go_server/internal/model"
	"github.com/qs3c/studio_go_server/internal/pkg/email"
	"github.com/qs3c/studio_go_server/internal/pkg/gateway"
	"github.com/qs3c/studio_go_server/internal/pkg/pubsub"
	"github.com/qs3c/studio_go_server/internal/repository"
	"github.com/qs3c/studio_go_server/internal/testutil"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []*NotificationEvent
}

func (n *recordingNotifier) Notify(ctx context.Context, event *NotificationEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) kinds() []email.Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	kinds := make([]email.Kind, 0, len(n.events))
	for _, e := range n.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

func (n *recordingNotifier) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []*pubsub.AvailabilityMessage
}

func (p *recordingPublisher) PublishAvailability(ctx context.Context, msg *pubsub.AvailabilityMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return nil
}

func (p *recordingPublisher) last() *pubsub.AvailabilityMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.messages) == 0 {
		return nil
	}
	return p.messages[len(p.messages)-1]
}

type fakeGateway struct {
	mu       sync.Mutex
	err      error
	requests []*gateway.CheckoutRequest
}

func (g *fakeGateway) CreateCheckoutSession(ctx context.Context, req *gateway.CheckoutRequest) (*gateway.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	g.requests = append(g.requests, req)
	n := len(g.requests)
	return &gateway.CheckoutSession{
		SessionID:       fmt.Sprintf("cs_test_%d", n),
		RedirectURL:     fmt.Sprintf("https://checkout.example.com/cs_test_%d", n),
		PaymentIntentID: fmt.Sprintf("pi_test_%d", n),
	}, nil
}

type fakeArchiver struct {
	mu      sync.Mutex
	uploads map[string][]byte
	err     error
}

func (a *fakeArchiver) UploadReceipt(ctx context.Context, reference string, completedAt time.Time, data []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return "", a.err
	}
	if a.uploads == nil {
		a.uploads = make(map[string][]byte)
	}
	a.uploads[reference] = data
	return "https://receipts.example.com/" + reference + ".json", nil
}

type testEnv struct {
	db        *gorm.DB
	cfg       *config.Config
	notifier  *recordingNotifier
	publisher *recordingPublisher
	gateway   *fakeGateway
	archiver  *fakeArchiver
	catalog   *CatalogService
	ledger    *MembershipService
	booking   *BookingService
	payments  *PaymentService
	auth      *AuthService
}

func testConfig() *config.Config {
	return &config.Config{
		JWT: config.JWTConfig{
			Secret:      "test-secret-key-for-testing",
			ExpireHours: 24,
		},
		Studio: config.StudioConfig{Name: "FramboyanScheduler"},
		Notification: config.NotificationConfig{
			Enabled:     true,
			MaxAttempts: 3,
		},
		Booking: config.BookingConfig{
			CancelCutoffHours:    2,
			CheckInWindowMinutes: 30,
		},
		Payment: config.PaymentConfig{
			Enabled:                 true,
			Currency:                "usd",
			SuccessURL:              "https://studio.example.com/success",
			CancelURL:               "https://studio.example.com/cancel",
			ProcessingFeePercentage: 2.9,
			ProcessingFeeFixed:      0.30,
			CheckoutExpiryHours:     24,
		},
	}
}

func setupServices(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.SetupTestDB(t)
	cfg := testConfig()

	userRepo := repository.NewUserRepository(db)
	classRepo := repository.NewClassRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	typeRepo := repository.NewMembershipTypeRepository(db)
	membershipRepo := repository.NewMembershipRepository(db)
	passRepo := repository.NewClassPassRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)

	env := &testEnv{
		db:        db,
		cfg:       cfg,
		notifier:  &recordingNotifier{},
		publisher: &recordingPublisher{},
		gateway:   &fakeGateway{},
		archiver:  &fakeArchiver{},
	}
	env.catalog = NewCatalogService(db, classRepo, attendanceRepo, typeRepo)
	env.ledger = NewMembershipService(db, membershipRepo, typeRepo, passRepo, userRepo, env.notifier, cfg)
	env.booking = NewBookingService(db, classRepo, attendanceRepo, userRepo, env.ledger, env.notifier, env.publisher, cfg)
	env.payments = NewPaymentService(db, paymentRepo, classRepo, typeRepo, userRepo, env.ledger, env.booking, env.gateway, env.notifier, cfg).
		WithReceiptArchiver(env.archiver)
	env.auth = NewAuthService(userRepo, env.notifier, cfg)

	return env
}

// setNow 固定所有服务的当前时间
func (e *testEnv) setNow(now time.Time) {
	clock := func() time.Time { return now }
	e.catalog.now = clock
	e.ledger.now = clock
	e.booking.now = clock
	e.payments.now = clock
}

func principalOf(u *model.User) *Principal {
	return &Principal{UserID: u.ID, Role: u.Role}
}

func (e *testEnv) ownerPrincipal(t *testing.T) *Principal {
	t.Helper()
	return principalOf(testutil.TestUser(t, e.db, testutil.WithRole(model.RoleOwner)))
}

func assertKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	var svcErr *Error
	if !errors.As(err, &svcErr) {
		t.Fatalf("expected service error of kind %s, got %v", kind, err)
	}
	if svcErr.Kind != kind {
		t.Fatalf("expected kind %s, got %s (%v)", kind, svcErr.Kind, err)
	}
}

func intPtr(v int) *int {
	return &v
}
