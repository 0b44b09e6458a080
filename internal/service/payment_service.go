package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/qs3c/studio_go_server/config"
	"github.com/qs3c/studio_go_server/internal/model"
	"github.com/qs3c/studio_go_server/internal/model/dto"
	"github.com/qs3c/studio_go_server/internal/pkg/email"
	"github.com/qs3c/studio_go_server/internal/pkg/gateway"
	"github.com/qs3c/studio_go_server/internal/repository"
)

const (
	metaUserID         = "user_id"
	metaPaymentType    = "payment_type"
	metaTargetID       = "target_id"
	metaTransactionRef = "transaction_ref"
	metaSessionID      = "session_id"

	staleCheckoutBatch = 500
	reasonExpired      = "checkout expired"
)

// errAlreadyProcessed 条件更新未命中，交易已被并发处理
var errAlreadyProcessed = errors.New("transaction already processed")

// PaymentGateway 外部支付网关
type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, req *gateway.CheckoutRequest) (*gateway.CheckoutSession, error)
}

// ReceiptArchiver 收据归档
type ReceiptArchiver interface {
	UploadReceipt(ctx context.Context, reference string, completedAt time.Time, data []byte) (string, error)
}

// PaymentService 支付会话与网关回调对账，所有交易记录的写入都经过这里
type PaymentService struct {
	db          *gorm.DB
	paymentRepo *repository.PaymentRepository
	classRepo   *repository.ClassRepository
	typeRepo    *repository.MembershipTypeRepository
	userRepo    *repository.UserRepository
	ledger      *MembershipService
	booking     *BookingService
	gateway     PaymentGateway
	receipts    ReceiptArchiver
	notifier    EventNotifier
	cfg         *config.Config
	now         func() time.Time
}

// NewPaymentService gw 为 nil 时在线支付不可用
func NewPaymentService(
	db *gorm.DB,
	paymentRepo *repository.PaymentRepository,
	classRepo *repository.ClassRepository,
	typeRepo *repository.MembershipTypeRepository,
	userRepo *repository.UserRepository,
	ledger *MembershipService,
	booking *BookingService,
	gw PaymentGateway,
	notifier EventNotifier,
	cfg *config.Config,
) *PaymentService {
	return &PaymentService{
		db:          db,
		paymentRepo: paymentRepo,
		classRepo:   classRepo,
		typeRepo:    typeRepo,
		userRepo:    userRepo,
		ledger:      ledger,
		booking:     booking,
		gateway:     gw,
		notifier:    notifier,
		cfg:         cfg,
		now:         time.Now,
	}
}

// WithReceiptArchiver 设置收据归档，未设置时不归档
func (s *PaymentService) WithReceiptArchiver(archiver ReceiptArchiver) *PaymentService {
	s.receipts = archiver
	return s
}

// FeeBreakdown 金额明细
type FeeBreakdown struct {
	Subtotal   decimal.Decimal
	Processing decimal.Decimal
	Additional decimal.Decimal
	Total      decimal.Decimal
}

// CalculateFees 手续费 = 小计 * 百分比 / 100 + 固定费用，保留两位小数
func CalculateFees(subtotal decimal.Decimal, cfg config.PaymentConfig) FeeBreakdown {
	hundred := decimal.NewFromInt(100)
	fee := func(pct, fixed float64) decimal.Decimal {
		return subtotal.Mul(decimal.NewFromFloat(pct)).Div(hundred).
			Add(decimal.NewFromFloat(fixed)).Round(2)
	}

	subtotal = subtotal.Round(2)
	processing := fee(cfg.ProcessingFeePercentage, cfg.ProcessingFeeFixed)
	additional := fee(cfg.AdditionalFeePercentage, cfg.AdditionalFeeFixed)
	return FeeBreakdown{
		Subtotal:   subtotal,
		Processing: processing,
		Additional: additional,
		Total:      subtotal.Add(processing).Add(additional),
	}
}

type checkoutItem struct {
	subtotal    decimal.Decimal
	name        string
	description string
}

// CreateCheckout 创建待支付交易并打开网关支付会话
func (s *PaymentService) CreateCheckout(ctx context.Context, p *Principal, kind model.PaymentType, targetID int64) (*dto.CheckoutResponse, error) {
	if err := requireAuthenticated(p); err != nil {
		return nil, err
	}
	if !s.cfg.Payment.Enabled || s.gateway == nil {
		return nil, ErrPaymentsDisabled
	}
	if !kind.Valid() {
		return nil, ErrInvalidPaymentType
	}

	user, err := s.userRepo.GetByID(ctx, p.UserID)
	if err != nil {
		return nil, notFoundOr(err, ErrUserNotFound)
	}

	item, err := s.priceCheckout(ctx, user.ID, kind, targetID)
	if err != nil {
		return nil, err
	}
	if !item.subtotal.IsPositive() {
		return nil, ErrInvalidPaymentAmount
	}

	fees := CalculateFees(item.subtotal, s.cfg.Payment)
	currency := strings.ToLower(s.cfg.Payment.Currency)
	txn := &model.PaymentTransaction{
		Reference:     uuid.NewString(),
		UserID:        user.ID,
		Amount:        fees.Total,
		ProcessingFee: fees.Processing.Add(fees.Additional),
		NetAmount:     fees.Subtotal,
		Currency:      strings.ToUpper(currency),
		PaymentType:   kind,
		TargetID:      targetID,
		Status:        model.PaymentStatusPending,
		Description:   item.name,
	}
	if err := s.paymentRepo.Create(ctx, txn); err != nil {
		return nil, persistence(err)
	}

	metadata := map[string]string{
		metaUserID:         strconv.FormatInt(user.ID, 10),
		metaPaymentType:    string(kind),
		metaTargetID:       strconv.FormatInt(targetID, 10),
		metaTransactionRef: txn.Reference,
	}
	session, err := s.gateway.CreateCheckoutSession(ctx, &gateway.CheckoutRequest{
		LineItem: gateway.LineItem{
			Name:        item.name,
			Description: item.description,
			Amount:      fees.Total,
			Currency:    currency,
		},
		SuccessURL:        s.cfg.Payment.SuccessURL,
		CancelURL:         s.cfg.Payment.CancelURL,
		CustomerEmail:     user.Email,
		ClientReferenceID: txn.Reference,
		Metadata:          metadata,
	})
	if err != nil {
		log.Printf("Failed to create checkout session for transaction %s: %v", txn.Reference, err)
		if _, uerr := s.paymentRepo.UpdateStatusIfCurrent(ctx, txn.ID, model.PaymentStatusPending, model.PaymentStatusFailed,
			map[string]interface{}{"failure_reason": truncate(err.Error(), 500)}); uerr != nil {
			log.Printf("Failed to mark transaction %s failed: %v", txn.Reference, uerr)
		}
		return nil, gatewayError(err)
	}

	stored := datatypes.JSONMap{metaSessionID: session.SessionID}
	for key, value := range metadata {
		stored[key] = value
	}
	err = s.paymentRepo.UpdateFields(ctx, txn.ID, map[string]interface{}{
		"gateway_session_id": session.SessionID,
		"payment_intent_id":  session.PaymentIntentID,
		"metadata":           stored,
	})
	if err != nil {
		return nil, persistence(err)
	}

	return &dto.CheckoutResponse{
		TransactionID: txn.ID,
		Reference:     txn.Reference,
		SessionID:     session.SessionID,
		RedirectURL:   session.RedirectURL,
		Subtotal:      fees.Subtotal,
		ProcessingFee: txn.ProcessingFee,
		Total:         fees.Total,
		Currency:      txn.Currency,
	}, nil
}

// priceCheckout 校验购买对象并计算小计
func (s *PaymentService) priceCheckout(ctx context.Context, userID int64, kind model.PaymentType, targetID int64) (*checkoutItem, error) {
	if kind == model.PaymentTypeMembership {
		mt, err := s.typeRepo.GetByID(ctx, targetID)
		if err != nil {
			return nil, notFoundOr(err, ErrMembershipTypeNotFound)
		}
		if !mt.IsActive {
			return nil, ErrMembershipTypeInactive
		}
		exists, err := s.ledger.HasActiveMembership(ctx, userID, mt.ID)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, ErrMembershipActiveExists
		}
		return &checkoutItem{
			subtotal:    mt.Price.Add(mt.SetupFee),
			name:        fmt.Sprintf("%s Membership", mt.Name),
			description: mt.Description,
		}, nil
	}

	class, err := s.classRepo.GetByID(ctx, targetID)
	if err != nil {
		return nil, notFoundOr(err, ErrClassNotFound)
	}
	if !class.IsActive {
		return nil, ErrClassInactive
	}
	if class.HasStarted(s.now().UTC()) {
		return nil, ErrClassStarted
	}

	booked, count, err := s.booking.seatStatus(ctx, userID, class)
	if err != nil {
		return nil, err
	}
	if booked {
		return nil, ErrAlreadyBooked
	}

	if kind == model.PaymentTypeDropIn {
		if !class.AllowDropIn {
			return nil, ErrPaymentNotAllowed
		}
		if count >= int64(class.MaxCapacity) {
			return nil, ErrClassFull
		}
		return &checkoutItem{
			subtotal:    class.DropInPrice,
			name:        fmt.Sprintf("Drop-in: %s", class.Name),
			description: email.FormatClassStart(class.StartTime),
		}, nil
	}

	if !class.AllowPackagePurchase || class.PackageClassCount < 1 {
		return nil, ErrPaymentNotAllowed
	}
	return &checkoutItem{
		subtotal:    class.PackagePrice,
		name:        fmt.Sprintf("Class Package: %s (%d classes)", class.Name, class.PackageClassCount),
		description: class.Description,
	}, nil
}

// fulfillment 对账结果
type fulfillment struct {
	txn        *model.PaymentTransaction
	user       *model.User
	grant      *membershipGrant
	class      *model.ClassSession
	attendance *model.Attendance
	pass       *model.ClassPass
	failed     bool
}

// OnWebhookEvent 处理已验签的网关事件，重复或未知的事件直接忽略
func (s *PaymentService) OnWebhookEvent(ctx context.Context, event *gateway.WebhookEvent) error {
	switch event.Type {
	case gateway.EventCheckoutCompleted:
		if !event.IsPaid() {
			return s.awaitSettlement(ctx, event)
		}
		return s.completeCheckout(ctx, event)
	case gateway.EventCheckoutAsyncPaid:
		return s.completeCheckout(ctx, event)
	case gateway.EventCheckoutExpired:
		return s.failCheckout(ctx, event, "checkout session expired")
	case gateway.EventCheckoutAsyncFailed:
		return s.failCheckout(ctx, event, "asynchronous payment failed")
	default:
		log.Printf("Ignoring webhook event %s (%s)", event.ID, event.Type)
		return nil
	}
}

func (s *PaymentService) completeCheckout(ctx context.Context, event *gateway.WebhookEvent) error {
	var result *fulfillment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payments := s.paymentRepo.WithTx(tx)

		txn, err := s.lockTransaction(ctx, payments, event)
		if err != nil || txn == nil {
			return err
		}

		var done *fulfillment
		ferr := tx.Transaction(func(ftx *gorm.DB) error {
			var err error
			done, err = s.fulfill(ctx, ftx, txn)
			return err
		})
		if ferr != nil {
			if !isBusinessError(ferr) {
				return ferr
			}
			log.Printf("Fulfilment of transaction %s rejected: %v", txn.Reference, ferr)
			ok, err := payments.UpdateStatusIfCurrent(ctx, txn.ID, model.PaymentStatusPending, model.PaymentStatusFailed, map[string]interface{}{
				"failure_reason":    truncate(ferr.Error(), 500),
				"payment_intent_id": event.PaymentIntentID,
			})
			if err != nil {
				return persistence(err)
			}
			if !ok {
				return errAlreadyProcessed
			}
			result = &fulfillment{txn: txn, failed: true}
			return nil
		}

		completedAt := s.now().UTC()
		fields := map[string]interface{}{
			"completed_at":      completedAt,
			"charge_id":         event.PaymentIntentID,
			"payment_intent_id": event.PaymentIntentID,
		}
		if done.grant != nil {
			fields["membership_id"] = done.grant.membership.ID
			txn.MembershipID = &done.grant.membership.ID
		}
		if done.class != nil {
			fields["class_id"] = done.class.ID
			txn.ClassID = &done.class.ID
		}
		ok, err := payments.UpdateStatusIfCurrent(ctx, txn.ID, model.PaymentStatusPending, model.PaymentStatusCompleted, fields)
		if err != nil {
			return persistence(err)
		}
		if !ok {
			return errAlreadyProcessed
		}

		txn.Status = model.PaymentStatusCompleted
		txn.CompletedAt = &completedAt
		txn.ChargeID = event.PaymentIntentID
		done.txn = txn
		result = done
		return nil
	})
	if errors.Is(err, errAlreadyProcessed) {
		log.Printf("Webhook %s: transaction already processed", event.ID)
		return nil
	}
	if err != nil {
		return err
	}

	if result != nil && !result.failed {
		s.afterFulfillment(ctx, result)
	}
	return nil
}

// lockTransaction 按会话 ID 查找，找不到时用元数据中的交易号；不存在或非待支付返回 nil
func (s *PaymentService) lockTransaction(ctx context.Context, payments *repository.PaymentRepository, event *gateway.WebhookEvent) (*model.PaymentTransaction, error) {
	var txn *model.PaymentTransaction
	var err error
	if event.SessionID != "" {
		txn, err = payments.GetBySessionIDForUpdate(ctx, event.SessionID)
	} else {
		err = gorm.ErrRecordNotFound
	}
	if errors.Is(err, gorm.ErrRecordNotFound) && event.Metadata[metaTransactionRef] != "" {
		txn, err = payments.GetByReferenceForUpdate(ctx, event.Metadata[metaTransactionRef])
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("Webhook %s: no transaction for session %s", event.ID, event.SessionID)
		return nil, nil
	}
	if err != nil {
		return nil, persistence(err)
	}

	if txn.Status != model.PaymentStatusPending {
		log.Printf("Webhook %s: transaction %s already %s", event.ID, txn.Reference, txn.Status)
		return nil, nil
	}
	return txn, nil
}

// fulfill 按支付类型发放权益
func (s *PaymentService) fulfill(ctx context.Context, tx *gorm.DB, txn *model.PaymentTransaction) (*fulfillment, error) {
	switch txn.PaymentType {
	case model.PaymentTypeMembership:
		grant, err := s.ledger.activateFromPaymentTx(ctx, tx, txn.UserID, txn.TargetID, txn.ID)
		if err != nil {
			return nil, err
		}
		return &fulfillment{user: grant.user, grant: grant}, nil
	case model.PaymentTypeDropIn:
		class, attendance, err := s.booking.fulfillDropIn(ctx, tx, txn.UserID, txn.TargetID, txn.ID)
		if err != nil {
			return nil, err
		}
		return &fulfillment{class: class, attendance: attendance}, nil
	case model.PaymentTypePackage:
		class, attendance, pass, err := s.booking.fulfillPackage(ctx, tx, txn.UserID, txn.TargetID, txn.ID)
		if err != nil {
			return nil, err
		}
		return &fulfillment{class: class, attendance: attendance, pass: pass}, nil
	default:
		return nil, ErrInvalidPaymentType
	}
}

// awaitSettlement 会话完成但未到账，交易保持待支付，等待 async_payment 事件
func (s *PaymentService) awaitSettlement(ctx context.Context, event *gateway.WebhookEvent) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payments := s.paymentRepo.WithTx(tx)

		txn, err := s.lockTransaction(ctx, payments, event)
		if err != nil || txn == nil {
			return err
		}
		log.Printf("Webhook %s: transaction %s awaiting settlement (%s)", event.ID, txn.Reference, event.PaymentStatus)

		fields := map[string]interface{}{"awaiting_settlement": true}
		if event.PaymentIntentID != "" {
			fields["payment_intent_id"] = event.PaymentIntentID
		}
		_, err = payments.UpdateStatusIfCurrent(ctx, txn.ID, model.PaymentStatusPending, model.PaymentStatusPending, fields)
		return persistence(err)
	})
}

func (s *PaymentService) failCheckout(ctx context.Context, event *gateway.WebhookEvent, reason string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payments := s.paymentRepo.WithTx(tx)

		txn, err := s.lockTransaction(ctx, payments, event)
		if err != nil || txn == nil {
			return err
		}
		_, err = payments.UpdateStatusIfCurrent(ctx, txn.ID, model.PaymentStatusPending, model.PaymentStatusFailed,
			map[string]interface{}{"failure_reason": reason})
		return persistence(err)
	})
	return err
}

// afterFulfillment 提交后的通知、收据归档与余位广播，失败只记日志
func (s *PaymentService) afterFulfillment(ctx context.Context, result *fulfillment) {
	txn := result.txn

	user := result.user
	if user == nil {
		var err error
		user, err = s.userRepo.GetByID(ctx, txn.UserID)
		if err != nil {
			log.Printf("Failed to load user %d for transaction %s: %v", txn.UserID, txn.Reference, err)
		}
	}

	if user != nil && s.notifier != nil {
		s.notifier.Notify(ctx, paymentConfirmedEvent(user, txn))
		if result.grant != nil {
			s.notifier.Notify(ctx, membershipEvent(email.KindMembershipActivated, user, result.grant.membership, result.grant.membershipType))
		}
		if result.attendance != nil && result.class != nil {
			s.notifier.Notify(ctx, bookingConfirmedEvent(user, result.class))
		}
	}

	if result.attendance != nil {
		s.booking.publishAvailability(ctx, result.class)
	}

	s.archiveReceipt(ctx, txn)
}

type receipt struct {
	Reference     string          `json:"reference"`
	Description   string          `json:"description"`
	PaymentType   string          `json:"payment_type"`
	UserID        int64           `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	ProcessingFee decimal.Decimal `json:"processing_fee"`
	NetAmount     decimal.Decimal `json:"net_amount"`
	Currency      string          `json:"currency"`
	ChargeID      string          `json:"charge_id"`
	CompletedAt   time.Time       `json:"completed_at"`
}

// archiveReceipt 上传收据并记录地址，返回是否成功
func (s *PaymentService) archiveReceipt(ctx context.Context, txn *model.PaymentTransaction) bool {
	if s.receipts == nil || txn.CompletedAt == nil {
		return false
	}

	data, err := json.Marshal(&receipt{
		Reference:     txn.Reference,
		Description:   txn.Description,
		PaymentType:   string(txn.PaymentType),
		UserID:        txn.UserID,
		Amount:        txn.Amount,
		ProcessingFee: txn.ProcessingFee,
		NetAmount:     txn.NetAmount,
		Currency:      txn.Currency,
		ChargeID:      txn.ChargeID,
		CompletedAt:   *txn.CompletedAt,
	})
	if err != nil {
		log.Printf("Failed to encode receipt %s: %v", txn.Reference, err)
		return false
	}

	url, err := s.receipts.UploadReceipt(ctx, txn.Reference, *txn.CompletedAt, data)
	if err != nil {
		log.Printf("Failed to archive receipt %s: %v", txn.Reference, err)
		return false
	}
	if err := s.paymentRepo.UpdateFields(ctx, txn.ID, map[string]interface{}{"receipt_url": url}); err != nil {
		log.Printf("Failed to store receipt url for %s: %v", txn.Reference, err)
		return false
	}
	txn.ReceiptURL = url
	return true
}

// ArchiveMissingReceipts 为已完成但没有收据的交易补传收据，返回成功条数
func (s *PaymentService) ArchiveMissingReceipts(ctx context.Context) (int, error) {
	if s.receipts == nil {
		return 0, nil
	}

	txns, err := s.paymentRepo.ListMissingReceipts(ctx, staleCheckoutBatch)
	if err != nil {
		return 0, persistence(err)
	}

	archived := 0
	for _, txn := range txns {
		if s.archiveReceipt(ctx, txn) {
			archived++
		}
	}
	return archived, nil
}

// ExpireStaleCheckouts 将超时未支付的交易标记为失败
func (s *PaymentService) ExpireStaleCheckouts(ctx context.Context, dryRun bool) (int, error) {
	hours := s.cfg.Payment.CheckoutExpiryHours
	if hours <= 0 {
		hours = 24
	}
	before := s.now().UTC().Add(-time.Duration(hours) * time.Hour)

	stale, err := s.paymentRepo.ListStalePending(ctx, before, staleCheckoutBatch)
	if err != nil {
		return 0, persistence(err)
	}
	if dryRun {
		return len(stale), nil
	}

	expired := 0
	for _, txn := range stale {
		ok, err := s.paymentRepo.UpdateStatusIfCurrent(ctx, txn.ID, model.PaymentStatusPending, model.PaymentStatusFailed,
			map[string]interface{}{"failure_reason": reasonExpired})
		if err != nil {
			return expired, persistence(err)
		}
		if ok {
			expired++
		}
	}
	if expired > 0 {
		log.Printf("Expired %d stale checkouts", expired)
	}
	return expired, nil
}

// ListTransactions 全部交易（仅馆主）
func (s *PaymentService) ListTransactions(ctx context.Context, p *Principal, page, pageSize int) ([]*dto.TransactionItem, int64, error) {
	if err := requireOwner(p); err != nil {
		return nil, 0, err
	}

	txns, total, err := s.paymentRepo.List(ctx, page, pageSize)
	if err != nil {
		return nil, 0, persistence(err)
	}
	return toTransactionItems(txns), total, nil
}

// ListMyTransactions 当前用户的交易
func (s *PaymentService) ListMyTransactions(ctx context.Context, p *Principal) ([]*dto.TransactionItem, error) {
	if err := requireAuthenticated(p); err != nil {
		return nil, err
	}

	txns, err := s.paymentRepo.ListByUser(ctx, p.UserID)
	if err != nil {
		return nil, persistence(err)
	}
	return toTransactionItems(txns), nil
}

func toTransactionItems(txns []*model.PaymentTransaction) []*dto.TransactionItem {
	items := make([]*dto.TransactionItem, 0, len(txns))
	for _, txn := range txns {
		item := &dto.TransactionItem{
			ID:            txn.ID,
			Reference:     txn.Reference,
			UserID:        txn.UserID,
			PaymentType:   string(txn.PaymentType),
			TargetID:      txn.TargetID,
			Description:   txn.Description,
			Amount:        txn.Amount,
			ProcessingFee: txn.ProcessingFee,
			NetAmount:     txn.NetAmount,
			Currency:      txn.Currency,
			Status:        string(txn.Status),
			MembershipID:  txn.MembershipID,
			ClassID:       txn.ClassID,
			ReceiptURL:    txn.ReceiptURL,
			FailureReason: txn.FailureReason,
			CreatedAt:     txn.CreatedAt,
			CompletedAt:   txn.CompletedAt,
		}
		if txn.User != nil {
			item.UserEmail = txn.User.Email
		}
		items = append(items, item)
	}
	return items
}
