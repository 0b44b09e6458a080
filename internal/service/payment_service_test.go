package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/studio_go_server/config"
	"github.com/qs3c/studio_go_server/internal/model"
	"github.com/qs3c/studio_go_server/internal/pkg/email"
	"github.com/qs3c/studio_go_server/internal/pkg/gateway"
	"github.com/qs3c/studio_go_server/internal/testutil"
)

func loadTransaction(t *testing.T, env *testEnv, id int64) *model.PaymentTransaction {
	t.Helper()
	var txn model.PaymentTransaction
	require.NoError(t, env.db.First(&txn, id).Error)
	return &txn
}

func completedEvent(txn *model.PaymentTransaction) *gateway.WebhookEvent {
	return &gateway.WebhookEvent{
		ID:              "evt_" + txn.Reference,
		Type:            gateway.EventCheckoutCompleted,
		PaymentStatus:   gateway.PaymentStatusPaid,
		SessionID:       *txn.GatewaySessionID,
		PaymentIntentID: txn.PaymentIntentID,
		Metadata:        map[string]string{"transaction_ref": txn.Reference},
	}
}

func TestCalculateFees(t *testing.T) {
	cfg := config.PaymentConfig{ProcessingFeePercentage: 2.9, ProcessingFeeFixed: 0.30}

	fees := CalculateFees(decimal.NewFromInt(50), cfg)
	assert.Equal(t, "1.75", fees.Processing.StringFixed(2))
	assert.Equal(t, "0.00", fees.Additional.StringFixed(2))
	assert.Equal(t, "51.75", fees.Total.StringFixed(2))

	cfg.AdditionalFeePercentage = 1
	cfg.AdditionalFeeFixed = 0.05
	fees = CalculateFees(decimal.RequireFromString("19.99"), cfg)
	// 19.99 * 2.9% = 0.57971 + 0.30 = 0.88
	assert.Equal(t, "0.88", fees.Processing.StringFixed(2))
	// 19.99 * 1% = 0.1999 + 0.05 = 0.25
	assert.Equal(t, "0.25", fees.Additional.StringFixed(2))
	assert.Equal(t, "21.12", fees.Total.StringFixed(2))
}

func TestPaymentService_CreateCheckout_Membership(t *testing.T) {
	env := setupServices(t)
	user := testutil.TestUser(t, env.db)
	mt := testutil.TestMembershipType(t, env.db)

	resp, err := env.payments.CreateCheckout(context.Background(), principalOf(user), model.PaymentTypeMembership, mt.ID)
	require.NoError(t, err)
	assert.Equal(t, "51.75", resp.Total.StringFixed(2))
	assert.Equal(t, "1.75", resp.ProcessingFee.StringFixed(2))
	assert.Equal(t, "50.00", resp.Subtotal.StringFixed(2))
	assert.Equal(t, "cs_test_1", resp.SessionID)
	assert.NotEmpty(t, resp.RedirectURL)

	txn := loadTransaction(t, env, resp.TransactionID)
	assert.Equal(t, model.PaymentStatusPending, txn.Status)
	assert.Equal(t, "51.75", txn.Amount.StringFixed(2))
	assert.Equal(t, "50.00", txn.NetAmount.StringFixed(2))
	assert.Equal(t, "USD", txn.Currency)
	require.NotNil(t, txn.GatewaySessionID)
	assert.Equal(t, "cs_test_1", *txn.GatewaySessionID)
	assert.Equal(t, "pi_test_1", txn.PaymentIntentID)
	assert.Equal(t, "cs_test_1", txn.Metadata["session_id"])
	assert.Equal(t, txn.Reference, txn.Metadata["transaction_ref"])

	require.Len(t, env.gateway.requests, 1)
	req := env.gateway.requests[0]
	assert.Equal(t, user.Email, req.CustomerEmail)
	assert.Equal(t, "51.75", req.LineItem.Amount.StringFixed(2))
	assert.Equal(t, "Membership", req.Metadata["payment_type"])
	assert.Equal(t, txn.Reference, req.Metadata["transaction_ref"])
	assert.Len(t, req.Metadata, 4)
}

func TestPaymentService_CreateCheckout_Rejections(t *testing.T) {
	env := setupServices(t)
	env.setNow(fixedNow)
	user := testutil.TestUser(t, env.db)
	p := principalOf(user)
	start := fixedNow.Add(24 * time.Hour)

	mt := testutil.TestMembershipType(t, env.db)
	testutil.TestMembership(t, env.db, user, mt)
	_, err := env.payments.CreateCheckout(context.Background(), p, model.PaymentTypeMembership, mt.ID)
	assert.ErrorIs(t, err, ErrMembershipActiveExists)

	inactiveType := testutil.TestMembershipType(t, env.db, testutil.WithTypeInactive())
	_, err = env.payments.CreateCheckout(context.Background(), p, model.PaymentTypeMembership, inactiveType.ID)
	assert.ErrorIs(t, err, ErrMembershipTypeInactive)

	_, err = env.payments.CreateCheckout(context.Background(), p, model.PaymentTypeMembership, 99999)
	assert.ErrorIs(t, err, ErrMembershipTypeNotFound)

	noDropIn := testutil.TestClass(t, env.db, testutil.WithStart(start))
	_, err = env.payments.CreateCheckout(context.Background(), p, model.PaymentTypeDropIn, noDropIn.ID)
	assert.ErrorIs(t, err, ErrPaymentNotAllowed)

	_, err = env.payments.CreateCheckout(context.Background(), p, model.PaymentTypePackage, noDropIn.ID)
	assert.ErrorIs(t, err, ErrPaymentNotAllowed)

	full := testutil.TestClass(t, env.db, testutil.WithStart(start), testutil.WithCapacity(1), testutil.WithDropIn(decimal.NewFromInt(15)))
	testutil.TestAttendance(t, env.db, testutil.TestUser(t, env.db), full)
	_, err = env.payments.CreateCheckout(context.Background(), p, model.PaymentTypeDropIn, full.ID)
	assert.ErrorIs(t, err, ErrClassFull)

	booked := testutil.TestClass(t, env.db, testutil.WithStart(start), testutil.WithDropIn(decimal.NewFromInt(15)))
	testutil.TestAttendance(t, env.db, user, booked)
	_, err = env.payments.CreateCheckout(context.Background(), p, model.PaymentTypeDropIn, booked.ID)
	assert.ErrorIs(t, err, ErrAlreadyBooked)

	started := testutil.TestClass(t, env.db, testutil.WithStart(fixedNow.Add(-time.Minute)), testutil.WithDropIn(decimal.NewFromInt(15)))
	_, err = env.payments.CreateCheckout(context.Background(), p, model.PaymentTypeDropIn, started.ID)
	assert.ErrorIs(t, err, ErrClassStarted)

	_, err = env.payments.CreateCheckout(context.Background(), p, model.PaymentType("Gift"), 1)
	assert.ErrorIs(t, err, ErrInvalidPaymentType)

	env.cfg.Payment.Enabled = false
	_, err = env.payments.CreateCheckout(context.Background(), p, model.PaymentTypeDropIn, booked.ID)
	assert.ErrorIs(t, err, ErrPaymentsDisabled)

	assert.Empty(t, env.gateway.requests)
	var count int64
	env.db.Model(&model.PaymentTransaction{}).Count(&count)
	assert.Zero(t, count)
}

func TestPaymentService_CreateCheckout_GatewayFailure(t *testing.T) {
	env := setupServices(t)
	env.gateway.err = errors.New("stripe unavailable")
	user := testutil.TestUser(t, env.db)
	mt := testutil.TestMembershipType(t, env.db)

	_, err := env.payments.CreateCheckout(context.Background(), principalOf(user), model.PaymentTypeMembership, mt.ID)
	assertKind(t, err, KindGateway)

	var txn model.PaymentTransaction
	require.NoError(t, env.db.Where("user_id = ?", user.ID).First(&txn).Error)
	assert.Equal(t, model.PaymentStatusFailed, txn.Status)
	assert.Contains(t, txn.FailureReason, "stripe unavailable")
}

func TestPaymentService_Webhook_Membership(t *testing.T) {
	env := setupServices(t)
	user := testutil.TestUser(t, env.db)
	mt := testutil.TestMembershipType(t, env.db)

	resp, err := env.payments.CreateCheckout(context.Background(), principalOf(user), model.PaymentTypeMembership, mt.ID)
	require.NoError(t, err)
	txn := loadTransaction(t, env, resp.TransactionID)

	event := completedEvent(txn)
	require.NoError(t, env.payments.OnWebhookEvent(context.Background(), event))

	txn = loadTransaction(t, env, resp.TransactionID)
	assert.Equal(t, model.PaymentStatusCompleted, txn.Status)
	require.NotNil(t, txn.CompletedAt)
	assert.Equal(t, "pi_test_1", txn.ChargeID)
	require.NotNil(t, txn.MembershipID)
	assert.Equal(t, "https://receipts.example.com/"+txn.Reference+".json", txn.ReceiptURL)
	assert.Contains(t, string(env.archiver.uploads[txn.Reference]), `"amount":"51.75"`)

	var m model.Membership
	require.NoError(t, env.db.First(&m, *txn.MembershipID).Error)
	assert.True(t, m.IsActive)
	assert.Equal(t, "50.00", m.BalanceDue.StringFixed(2))
	require.NotNil(t, m.PurchaseDate)
	assert.Equal(t, txn.ID, *m.PaymentTransactionID)

	assert.ElementsMatch(t, []email.Kind{email.KindPaymentConfirmed, email.KindMembershipActivated}, env.notifier.kinds())

	// 重复回调不会重复开通
	env.notifier.reset()
	require.NoError(t, env.payments.OnWebhookEvent(context.Background(), event))
	var count int64
	env.db.Model(&model.Membership{}).Where("user_id = ?", user.ID).Count(&count)
	assert.Equal(t, int64(1), count)
	assert.Empty(t, env.notifier.kinds())
}

func TestPaymentService_Webhook_ConcurrentDuplicates(t *testing.T) {
	env := setupServices(t)
	user := testutil.TestUser(t, env.db)
	mt := testutil.TestMembershipType(t, env.db)

	resp, err := env.payments.CreateCheckout(context.Background(), principalOf(user), model.PaymentTypeMembership, mt.ID)
	require.NoError(t, err)
	txn := loadTransaction(t, env, resp.TransactionID)
	env.notifier.reset()

	const deliveries = 8
	var wg sync.WaitGroup
	errs := make(chan error, deliveries)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- env.payments.OnWebhookEvent(context.Background(), completedEvent(txn))
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	var memberships int64
	env.db.Model(&model.Membership{}).Where("user_id = ?", user.ID).Count(&memberships)
	assert.Equal(t, int64(1), memberships)
	assert.Equal(t, model.PaymentStatusCompleted, loadTransaction(t, env, txn.ID).Status)

	confirmed := 0
	for _, kind := range env.notifier.kinds() {
		if kind == email.KindPaymentConfirmed {
			confirmed++
		}
	}
	assert.Equal(t, 1, confirmed)
}

func TestPaymentService_Webhook_CompletedUnpaidWaitsForSettlement(t *testing.T) {
	env := setupServices(t)
	user := testutil.TestUser(t, env.db)
	mt := testutil.TestMembershipType(t, env.db)

	resp, err := env.payments.CreateCheckout(context.Background(), principalOf(user), model.PaymentTypeMembership, mt.ID)
	require.NoError(t, err)
	txn := loadTransaction(t, env, resp.TransactionID)

	unpaid := completedEvent(txn)
	unpaid.PaymentStatus = gateway.PaymentStatusUnpaid
	require.NoError(t, env.payments.OnWebhookEvent(context.Background(), unpaid))

	txn = loadTransaction(t, env, txn.ID)
	assert.Equal(t, model.PaymentStatusPending, txn.Status)
	assert.True(t, txn.AwaitingSettlement)
	var memberships int64
	env.db.Model(&model.Membership{}).Where("user_id = ?", user.ID).Count(&memberships)
	assert.Zero(t, memberships)

	// 等待到账的交易不会被超时清理
	env.setNow(time.Now().UTC().Add(48 * time.Hour))
	count, err := env.payments.ExpireStaleCheckouts(context.Background(), false)
	require.NoError(t, err)
	assert.Zero(t, count)

	paid := completedEvent(txn)
	paid.ID = "evt_async_paid"
	paid.Type = gateway.EventCheckoutAsyncPaid
	require.NoError(t, env.payments.OnWebhookEvent(context.Background(), paid))

	txn = loadTransaction(t, env, txn.ID)
	assert.Equal(t, model.PaymentStatusCompleted, txn.Status)
	require.NotNil(t, txn.MembershipID)
}

func TestPaymentService_Webhook_CompletedUnpaidThenAsyncFailed(t *testing.T) {
	env := setupServices(t)
	user := testutil.TestUser(t, env.db)
	mt := testutil.TestMembershipType(t, env.db)

	resp, err := env.payments.CreateCheckout(context.Background(), principalOf(user), model.PaymentTypeMembership, mt.ID)
	require.NoError(t, err)
	txn := loadTransaction(t, env, resp.TransactionID)

	unpaid := completedEvent(txn)
	unpaid.PaymentStatus = gateway.PaymentStatusUnpaid
	require.NoError(t, env.payments.OnWebhookEvent(context.Background(), unpaid))

	require.NoError(t, env.payments.OnWebhookEvent(context.Background(), &gateway.WebhookEvent{
		ID:            "evt_async_failed",
		Type:          gateway.EventCheckoutAsyncFailed,
		SessionID:     *txn.GatewaySessionID,
		PaymentStatus: gateway.PaymentStatusUnpaid,
	}))

	txn = loadTransaction(t, env, txn.ID)
	assert.Equal(t, model.PaymentStatusFailed, txn.Status)
	assert.Nil(t, txn.MembershipID)
	var memberships int64
	env.db.Model(&model.Membership{}).Where("user_id = ?", user.ID).Count(&memberships)
	assert.Zero(t, memberships)
}

func TestPaymentService_Webhook_MembershipConflict(t *testing.T) {
	env := setupServices(t)
	owner := env.ownerPrincipal(t)
	user := testutil.TestUser(t, env.db)
	mt := testutil.TestMembershipType(t, env.db)

	resp, err := env.payments.CreateCheckout(context.Background(), principalOf(user), model.PaymentTypeMembership, mt.ID)
	require.NoError(t, err)

	// 支付期间馆主已手动开通
	_, err = env.ledger.AssignMembership(context.Background(), owner, user.ID, mt.ID)
	require.NoError(t, err)

	txn := loadTransaction(t, env, resp.TransactionID)
	require.NoError(t, env.payments.OnWebhookEvent(context.Background(), completedEvent(txn)))

	txn = loadTransaction(t, env, resp.TransactionID)
	assert.Equal(t, model.PaymentStatusFailed, txn.Status)
	assert.Contains(t, txn.FailureReason, ErrMembershipActiveExists.Message)
	assert.Nil(t, txn.MembershipID)
}

func TestPaymentService_Webhook_DropIn(t *testing.T) {
	env := setupServices(t)
	env.setNow(fixedNow)
	user := testutil.TestUser(t, env.db)
	class := testutil.TestClass(t, env.db, testutil.WithStart(fixedNow.Add(24*time.Hour)), testutil.WithDropIn(decimal.NewFromInt(20)))

	resp, err := env.payments.CreateCheckout(context.Background(), principalOf(user), model.PaymentTypeDropIn, class.ID)
	require.NoError(t, err)
	assert.Equal(t, "20.88", resp.Total.StringFixed(2))

	txn := loadTransaction(t, env, resp.TransactionID)
	require.NoError(t, env.payments.OnWebhookEvent(context.Background(), completedEvent(txn)))

	txn = loadTransaction(t, env, resp.TransactionID)
	assert.Equal(t, model.PaymentStatusCompleted, txn.Status)
	require.NotNil(t, txn.ClassID)
	assert.Equal(t, class.ID, *txn.ClassID)

	var attendance model.Attendance
	require.NoError(t, env.db.Where("user_id = ? AND class_id = ?", user.ID, class.ID).First(&attendance).Error)
	assert.Equal(t, model.SourceDropIn, attendance.Source)
	require.NotNil(t, attendance.PaymentTransactionID)
	assert.Equal(t, txn.ID, *attendance.PaymentTransactionID)
	assert.Nil(t, attendance.MembershipID)

	assert.ElementsMatch(t, []email.Kind{email.KindPaymentConfirmed, email.KindBookingConfirmed}, env.notifier.kinds())
	require.NotNil(t, env.publisher.last())
	assert.Equal(t, class.ID, env.publisher.last().ClassID)
}

func TestPaymentService_Webhook_DropInClassFilled(t *testing.T) {
	env := setupServices(t)
	env.setNow(fixedNow)
	user := testutil.TestUser(t, env.db)
	class := testutil.TestClass(t, env.db,
		testutil.WithStart(fixedNow.Add(24*time.Hour)),
		testutil.WithCapacity(1),
		testutil.WithDropIn(decimal.NewFromInt(20)))

	resp, err := env.payments.CreateCheckout(context.Background(), principalOf(user), model.PaymentTypeDropIn, class.ID)
	require.NoError(t, err)

	_, err = env.booking.Book(context.Background(), principalOf(testutil.TestUser(t, env.db)), class.ID)
	require.NoError(t, err)
	env.notifier.reset()

	txn := loadTransaction(t, env, resp.TransactionID)
	require.NoError(t, env.payments.OnWebhookEvent(context.Background(), completedEvent(txn)))

	txn = loadTransaction(t, env, resp.TransactionID)
	assert.Equal(t, model.PaymentStatusFailed, txn.Status)
	assert.Contains(t, txn.FailureReason, ErrClassFull.Message)
	assert.Equal(t, int64(1), countAttendances(t, env, class.ID))
	assert.Empty(t, env.notifier.kinds())
}

func TestPaymentService_Webhook_Package(t *testing.T) {
	env := setupServices(t)
	env.setNow(fixedNow)
	user := testutil.TestUser(t, env.db)
	class := testutil.TestClass(t, env.db,
		testutil.WithStart(fixedNow.Add(24*time.Hour)),
		testutil.WithPackage(decimal.NewFromInt(90), 5))

	resp, err := env.payments.CreateCheckout(context.Background(), principalOf(user), model.PaymentTypePackage, class.ID)
	require.NoError(t, err)

	txn := loadTransaction(t, env, resp.TransactionID)
	event := completedEvent(txn)
	require.NoError(t, env.payments.OnWebhookEvent(context.Background(), event))

	var pass model.ClassPass
	require.NoError(t, env.db.Where("payment_transaction_id = ?", txn.ID).First(&pass).Error)
	assert.Equal(t, 5, pass.TotalClasses)
	assert.Equal(t, 4, pass.RemainingClasses)

	var attendance model.Attendance
	require.NoError(t, env.db.Where("user_id = ? AND class_id = ?", user.ID, class.ID).First(&attendance).Error)
	assert.Equal(t, model.SourcePackage, attendance.Source)
	require.NotNil(t, attendance.ClassPassID)
	assert.Equal(t, pass.ID, *attendance.ClassPassID)

	require.NoError(t, env.payments.OnWebhookEvent(context.Background(), event))
	var passes int64
	env.db.Model(&model.ClassPass{}).Where("user_id = ?", user.ID).Count(&passes)
	assert.Equal(t, int64(1), passes)
}

func TestPaymentService_Webhook_FailureEvents(t *testing.T) {
	env := setupServices(t)
	user := testutil.TestUser(t, env.db)
	mt := testutil.TestMembershipType(t, env.db)

	resp, err := env.payments.CreateCheckout(context.Background(), principalOf(user), model.PaymentTypeMembership, mt.ID)
	require.NoError(t, err)
	txn := loadTransaction(t, env, resp.TransactionID)

	require.NoError(t, env.payments.OnWebhookEvent(context.Background(), &gateway.WebhookEvent{
		ID:   "evt_ignored",
		Type: "payment_intent.created",
	}))
	assert.Equal(t, model.PaymentStatusPending, loadTransaction(t, env, txn.ID).Status)

	require.NoError(t, env.payments.OnWebhookEvent(context.Background(), &gateway.WebhookEvent{
		ID:        "evt_expired",
		Type:      gateway.EventCheckoutExpired,
		SessionID: *txn.GatewaySessionID,
	}))
	txn = loadTransaction(t, env, txn.ID)
	assert.Equal(t, model.PaymentStatusFailed, txn.Status)
	assert.NotEmpty(t, txn.FailureReason)

	// 已失败的交易不会再被完成
	require.NoError(t, env.payments.OnWebhookEvent(context.Background(), completedEvent(txn)))
	assert.Equal(t, model.PaymentStatusFailed, loadTransaction(t, env, txn.ID).Status)
}

func TestPaymentService_Webhook_LookupFallbackAndUnknown(t *testing.T) {
	env := setupServices(t)
	user := testutil.TestUser(t, env.db)
	mt := testutil.TestMembershipType(t, env.db)

	resp, err := env.payments.CreateCheckout(context.Background(), principalOf(user), model.PaymentTypeMembership, mt.ID)
	require.NoError(t, err)

	require.NoError(t, env.payments.OnWebhookEvent(context.Background(), &gateway.WebhookEvent{
		ID:        "evt_unknown",
		Type:          gateway.EventCheckoutCompleted,
		SessionID:     "cs_missing",
		PaymentStatus: gateway.PaymentStatusPaid,
	}))
	assert.Equal(t, model.PaymentStatusPending, loadTransaction(t, env, resp.TransactionID).Status)

	require.NoError(t, env.payments.OnWebhookEvent(context.Background(), &gateway.WebhookEvent{
		ID:            "evt_by_ref",
		Type:          gateway.EventCheckoutCompleted,
		PaymentStatus: gateway.PaymentStatusPaid,
		Metadata:      map[string]string{"transaction_ref": resp.Reference},
	}))
	assert.Equal(t, model.PaymentStatusCompleted, loadTransaction(t, env, resp.TransactionID).Status)
}

func TestPaymentService_ExpireStaleCheckouts(t *testing.T) {
	env := setupServices(t)
	user := testutil.TestUser(t, env.db)
	mt := testutil.TestMembershipType(t, env.db)

	resp, err := env.payments.CreateCheckout(context.Background(), principalOf(user), model.PaymentTypeMembership, mt.ID)
	require.NoError(t, err)

	count, err := env.payments.ExpireStaleCheckouts(context.Background(), false)
	require.NoError(t, err)
	assert.Zero(t, count)

	env.setNow(time.Now().UTC().Add(25 * time.Hour))
	count, err = env.payments.ExpireStaleCheckouts(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, model.PaymentStatusPending, loadTransaction(t, env, resp.TransactionID).Status)

	count, err = env.payments.ExpireStaleCheckouts(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	txn := loadTransaction(t, env, resp.TransactionID)
	assert.Equal(t, model.PaymentStatusFailed, txn.Status)
	assert.Equal(t, "checkout expired", txn.FailureReason)
}

func TestPaymentService_ListTransactions(t *testing.T) {
	env := setupServices(t)
	owner := env.ownerPrincipal(t)
	user := testutil.TestUser(t, env.db)
	mt := testutil.TestMembershipType(t, env.db)

	_, err := env.payments.CreateCheckout(context.Background(), principalOf(user), model.PaymentTypeMembership, mt.ID)
	require.NoError(t, err)

	mine, err := env.payments.ListMyTransactions(context.Background(), principalOf(user))
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "Pending", mine[0].Status)

	all, total, err := env.payments.ListTransactions(context.Background(), owner, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, all, 1)
	assert.Equal(t, user.Email, all[0].UserEmail)

	_, _, err = env.payments.ListTransactions(context.Background(), principalOf(user), 1, 20)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestPaymentService_ArchiveMissingReceipts(t *testing.T) {
	env := setupServices(t)
	env.archiver.err = errors.New("oss unavailable")
	user := testutil.TestUser(t, env.db)
	mt := testutil.TestMembershipType(t, env.db)

	resp, err := env.payments.CreateCheckout(context.Background(), principalOf(user), model.PaymentTypeMembership, mt.ID)
	require.NoError(t, err)
	require.NoError(t, env.payments.OnWebhookEvent(context.Background(), completedEvent(loadTransaction(t, env, resp.TransactionID))))

	txn := loadTransaction(t, env, resp.TransactionID)
	assert.Equal(t, model.PaymentStatusCompleted, txn.Status)
	assert.Empty(t, txn.ReceiptURL)

	archived, err := env.payments.ArchiveMissingReceipts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, archived)

	env.archiver.mu.Lock()
	env.archiver.err = nil
	env.archiver.mu.Unlock()

	archived, err = env.payments.ArchiveMissingReceipts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, archived)

	txn = loadTransaction(t, env, resp.TransactionID)
	assert.Equal(t, "https://receipts.example.com/"+txn.Reference+".json", txn.ReceiptURL)

	archived, err = env.payments.ArchiveMissingReceipts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, archived)
}
