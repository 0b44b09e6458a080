package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/studio_go_server/config"
	"github.com/qs3c/studio_go_server/internal/api/middleware"
	"github.com/qs3c/studio_go_server/internal/model"
	"github.com/qs3c/studio_go_server/internal/pkg/gateway"
	"github.com/qs3c/studio_go_server/internal/pkg/jwt"
	"github.com/qs3c/studio_go_server/internal/pkg/response"
	"github.com/qs3c/studio_go_server/internal/repository"
	"github.com/qs3c/studio_go_server/internal/service"
	"github.com/qs3c/studio_go_server/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testJWTSecret = "test-secret-key"

type noopNotifier struct{}

func (noopNotifier) Notify(ctx context.Context, event *service.NotificationEvent) {}

type stubGateway struct {
	mu sync.Mutex
	n  int
}

func (g *stubGateway) CreateCheckoutSession(ctx context.Context, req *gateway.CheckoutRequest) (*gateway.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return &gateway.CheckoutSession{
		SessionID:       fmt.Sprintf("cs_test_%d", g.n),
		RedirectURL:     fmt.Sprintf("https://checkout.example.com/cs_test_%d", g.n),
		PaymentIntentID: fmt.Sprintf("pi_test_%d", g.n),
	}, nil
}

// stubVerifier 签名为 "valid" 时返回预设事件
type stubVerifier struct {
	event *gateway.WebhookEvent
}

func (v *stubVerifier) VerifyWebhook(payload []byte, signature string) (*gateway.WebhookEvent, error) {
	if signature != "valid" {
		return nil, gateway.ErrInvalidSignature
	}
	return v.event, nil
}

type handlerEnv struct {
	db       *gorm.DB
	cfg      *config.Config
	router   *gin.Engine
	verifier *stubVerifier
}

func setupHandlers(t *testing.T) *handlerEnv {
	t.Helper()

	db := testutil.SetupTestDB(t)
	cfg := &config.Config{
		JWT:    config.JWTConfig{Secret: testJWTSecret, ExpireHours: 24},
		Studio: config.StudioConfig{Name: "FramboyanScheduler"},
		Booking: config.BookingConfig{
			CancelCutoffHours:    2,
			CheckInWindowMinutes: 30,
		},
		Payment: config.PaymentConfig{
			Enabled:                 true,
			Currency:                "usd",
			ProcessingFeePercentage: 2.9,
			ProcessingFeeFixed:      0.30,
			CheckoutExpiryHours:     24,
		},
	}

	userRepo := repository.NewUserRepository(db)
	classRepo := repository.NewClassRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	typeRepo := repository.NewMembershipTypeRepository(db)
	notifier := noopNotifier{}

	catalog := service.NewCatalogService(db, classRepo, attendanceRepo, typeRepo)
	ledger := service.NewMembershipService(db, repository.NewMembershipRepository(db), typeRepo,
		repository.NewClassPassRepository(db), userRepo, notifier, cfg)
	booking := service.NewBookingService(db, classRepo, attendanceRepo, userRepo, ledger, notifier, nil, cfg)
	payments := service.NewPaymentService(db, repository.NewPaymentRepository(db), classRepo, typeRepo, userRepo,
		ledger, booking, &stubGateway{}, notifier, cfg)
	notifications := service.NewNotificationService(repository.NewEmailLogRepository(db), nil, nil, cfg)

	env := &handlerEnv{db: db, cfg: cfg, verifier: &stubVerifier{}}

	authHandler := NewAuthHandler(service.NewAuthService(userRepo, notifier, cfg))
	classHandler := NewClassHandler(catalog, booking)
	membershipHandler := NewMembershipHandler(catalog, ledger)
	paymentHandler := NewPaymentHandler(payments, env.verifier)
	notificationHandler := NewNotificationHandler(notifications)
	userHandler := NewUserHandler(service.NewUserService(userRepo))

	router := gin.New()
	api := router.Group("/api/v1")
	api.POST("/auth/register", authHandler.Register)
	api.POST("/auth/login", authHandler.Login)
	api.POST("/payments/webhook", paymentHandler.Webhook)

	public := api.Group("")
	public.Use(middleware.OptionalAuth(testJWTSecret))
	public.GET("/classes/calendar", classHandler.Calendar)
	public.GET("/classes/:id", classHandler.Get)
	public.GET("/memberships/types", membershipHandler.ListTypes)

	authed := api.Group("")
	authed.Use(middleware.Auth(testJWTSecret))
	authed.POST("/classes", classHandler.Create)
	authed.PUT("/classes/:id", classHandler.Update)
	authed.DELETE("/classes/:id", classHandler.Delete)
	authed.POST("/classes/:id/book", classHandler.Book)
	authed.POST("/classes/:id/checkin", classHandler.CheckIn)
	authed.DELETE("/classes/:id/cancel", classHandler.Cancel)
	authed.GET("/classes/my-bookings", classHandler.MyBookings)
	authed.GET("/classes/:id/bookings", classHandler.ClassBookings)
	authed.POST("/memberships/types", membershipHandler.CreateType)
	authed.DELETE("/memberships/types/:id", membershipHandler.DeleteType)
	authed.POST("/memberships/assign", membershipHandler.Assign)
	authed.GET("/memberships/mine", membershipHandler.Mine)
	authed.PUT("/memberships/:id/suspend", membershipHandler.Suspend)
	authed.POST("/payments/checkout", paymentHandler.Checkout)
	authed.GET("/payments/transactions", paymentHandler.Transactions)
	authed.GET("/payments/my-transactions", paymentHandler.MyTransactions)
	authed.GET("/notifications/logs", notificationHandler.Logs)
	authed.GET("/notifications/stats", notificationHandler.Stats)
	authed.POST("/notifications/logs/:id/resend", notificationHandler.Resend)
	authed.POST("/notifications/test", notificationHandler.SendTest)
	authed.GET("/users", userHandler.FindByEmail)
	authed.GET("/users/students", userHandler.Students)

	env.router = router
	return env
}

func tokenFor(t *testing.T, user *model.User) string {
	t.Helper()
	token, err := jwt.GenerateToken(user.ID, string(user.Role), testJWTSecret, 24)
	require.NoError(t, err)
	return token
}

func (e *handlerEnv) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	var resp response.Response
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	return resp
}

func dataMap(t *testing.T, resp response.Response) map[string]interface{} {
	t.Helper()
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok, "data should be an object: %#v", resp.Data)
	return data
}
