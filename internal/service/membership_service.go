package service

import (
	"context"
	"errors"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/studio_go_server/config"
	"github.com/qs3c/studio_go_server/internal/model"
	"github.com/qs3c/studio_go_server/internal/model/dto"
	"github.com/qs3c/studio_go_server/internal/pkg/email"
	"github.com/qs3c/studio_go_server/internal/repository"
)

// MembershipService 会员与课次账本，所有会员余额的写入都经过这里
type MembershipService struct {
	db             *gorm.DB
	membershipRepo *repository.MembershipRepository
	typeRepo       *repository.MembershipTypeRepository
	passRepo       *repository.ClassPassRepository
	userRepo       *repository.UserRepository
	notifier       EventNotifier
	cfg            *config.Config
	now            func() time.Time
}

func NewMembershipService(
	db *gorm.DB,
	membershipRepo *repository.MembershipRepository,
	typeRepo *repository.MembershipTypeRepository,
	passRepo *repository.ClassPassRepository,
	userRepo *repository.UserRepository,
	notifier EventNotifier,
	cfg *config.Config,
) *MembershipService {
	return &MembershipService{
		db:             db,
		membershipRepo: membershipRepo,
		typeRepo:       typeRepo,
		passRepo:       passRepo,
		userRepo:       userRepo,
		notifier:       notifier,
		cfg:            cfg,
		now:            time.Now,
	}
}

// entitlementUse 一次预约消耗的权益
type entitlementUse struct {
	membershipID *int64
	classPassID  *int64
}

type membershipGrant struct {
	user           *model.User
	membership     *model.Membership
	membershipType *model.MembershipType
}

// AssignMembership 馆主为学员开通会员
func (s *MembershipService) AssignMembership(ctx context.Context, p *Principal, userID, typeID int64) (*model.Membership, error) {
	if err := requireOwner(p); err != nil {
		return nil, err
	}

	var grant *membershipGrant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		grant, err = s.createInTx(ctx, tx, userID, typeID, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, membershipEvent(email.KindMembershipAssigned, grant.user, grant.membership, grant.membershipType))
	return grant.membership, nil
}

// ApplyMembership 学员自助开通，需配置允许
func (s *MembershipService) ApplyMembership(ctx context.Context, p *Principal, typeID int64) (*model.Membership, error) {
	if err := requireAuthenticated(p); err != nil {
		return nil, err
	}
	if !s.cfg.Membership.AllowSelfApply {
		return nil, ErrSelfApplyDisabled
	}

	var grant *membershipGrant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		grant, err = s.createInTx(ctx, tx, p.UserID, typeID, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, membershipEvent(email.KindMembershipActivated, grant.user, grant.membership, grant.membershipType))
	return grant.membership, nil
}

// ActivateFromPayment 支付完成后开通会员，同一交易重复调用返回已有会员
func (s *MembershipService) ActivateFromPayment(ctx context.Context, userID, typeID, transactionID int64) (*model.Membership, error) {
	var grant *membershipGrant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		grant, err = s.activateFromPaymentTx(ctx, tx, userID, typeID, transactionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return grant.membership, nil
}

func (s *MembershipService) activateFromPaymentTx(ctx context.Context, tx *gorm.DB, userID, typeID, transactionID int64) (*membershipGrant, error) {
	memberships := s.membershipRepo.WithTx(tx)

	existing, err := memberships.GetByPaymentTransactionID(ctx, transactionID)
	if err == nil {
		user, err := s.userRepo.WithTx(tx).GetByID(ctx, userID)
		if err != nil {
			return nil, notFoundOr(err, ErrUserNotFound)
		}
		return &membershipGrant{user: user, membership: existing, membershipType: existing.MembershipType}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, persistence(err)
	}

	return s.createInTx(ctx, tx, userID, typeID, &transactionID)
}

// createInTx 锁定用户行后检查重复再写入，保证同类型只有一条有效会员
func (s *MembershipService) createInTx(ctx context.Context, tx *gorm.DB, userID, typeID int64, transactionID *int64) (*membershipGrant, error) {
	user, err := s.userRepo.WithTx(tx).LockByID(ctx, userID)
	if err != nil {
		return nil, notFoundOr(err, ErrUserNotFound)
	}

	mt, err := s.typeRepo.WithTx(tx).GetByID(ctx, typeID)
	if err != nil {
		return nil, notFoundOr(err, ErrMembershipTypeNotFound)
	}
	// 已付款的开通不受停用影响
	if !mt.IsActive && transactionID == nil {
		return nil, ErrMembershipTypeInactive
	}

	memberships := s.membershipRepo.WithTx(tx)
	exists, err := memberships.ExistsActive(ctx, userID, typeID, 0)
	if err != nil {
		return nil, persistence(err)
	}
	if exists {
		return nil, ErrMembershipActiveExists
	}

	now := s.now().UTC()
	m := &model.Membership{
		UserID:           userID,
		MembershipTypeID: mt.ID,
		StartDate:        now,
		BalanceDue:       mt.Price,
		IsActive:         true,
	}
	if mt.ClassCount != nil {
		remaining := *mt.ClassCount
		m.RemainingClasses = &remaining
	}
	if mt.DurationDays != nil {
		end := now.AddDate(0, 0, *mt.DurationDays)
		m.EndDate = &end
	}
	if transactionID != nil {
		m.PurchaseDate = &now
		m.PaymentTransactionID = transactionID
	}

	if err := memberships.Create(ctx, m); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrMembershipActiveExists
		}
		return nil, persistence(err)
	}
	m.MembershipType = mt

	return &membershipGrant{user: user, membership: m, membershipType: mt}, nil
}

// SuspendMembership 暂停会员
func (s *MembershipService) SuspendMembership(ctx context.Context, p *Principal, membershipID int64) (*model.Membership, error) {
	if err := requireOwner(p); err != nil {
		return nil, err
	}

	m, err := s.membershipRepo.GetByID(ctx, membershipID)
	if err != nil {
		return nil, notFoundOr(err, ErrMembershipNotFound)
	}
	if !m.IsActive {
		return m, nil
	}

	if err := s.membershipRepo.SetActive(ctx, m.ID, false); err != nil {
		return nil, persistence(err)
	}
	m.IsActive = false
	return m, nil
}

// ReactivateMembership 恢复会员，已过期或同类型已有有效会员时拒绝
func (s *MembershipService) ReactivateMembership(ctx context.Context, p *Principal, membershipID int64) (*model.Membership, error) {
	if err := requireOwner(p); err != nil {
		return nil, err
	}

	var m *model.Membership
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		memberships := s.membershipRepo.WithTx(tx)

		var err error
		m, err = memberships.GetByID(ctx, membershipID)
		if err != nil {
			return notFoundOr(err, ErrMembershipNotFound)
		}
		if m.IsActive {
			return nil
		}
		if m.IsExpired(s.now().UTC()) {
			return ErrMembershipExpired
		}

		if _, err := s.userRepo.WithTx(tx).LockByID(ctx, m.UserID); err != nil {
			return notFoundOr(err, ErrUserNotFound)
		}
		exists, err := memberships.ExistsActive(ctx, m.UserID, m.MembershipTypeID, m.ID)
		if err != nil {
			return persistence(err)
		}
		if exists {
			return ErrMembershipActiveExists
		}

		if err := memberships.SetActive(ctx, m.ID, true); err != nil {
			return persistence(err)
		}
		m.IsActive = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ConsumeOneClass 扣减一次课次，不限次会员不扣减
func (s *MembershipService) ConsumeOneClass(ctx context.Context, membershipID int64) error {
	m, err := s.membershipRepo.GetByID(ctx, membershipID)
	if err != nil {
		return notFoundOr(err, ErrMembershipNotFound)
	}
	return s.consumeMembership(ctx, s.membershipRepo, m, s.now().UTC())
}

func (s *MembershipService) consumeMembership(ctx context.Context, memberships *repository.MembershipRepository, m *model.Membership, now time.Time) error {
	if !m.IsActive || m.IsExpired(now) {
		return ErrEntitlementExhausted
	}
	if m.IsUnlimited() {
		return nil
	}

	ok, err := memberships.DecrementRemaining(ctx, m.ID)
	if err != nil {
		return persistence(err)
	}
	if !ok {
		return ErrEntitlementExhausted
	}
	return nil
}

// consumeEntitlement 为需要会员的课程扣减权益：不限次会员优先，其次最早到期的计次会员，最后是课包
func (s *MembershipService) consumeEntitlement(ctx context.Context, tx *gorm.DB, userID int64, now time.Time) (*entitlementUse, error) {
	memberships := s.membershipRepo.WithTx(tx)

	usable, err := memberships.ListUsable(ctx, userID, now)
	if err != nil {
		return nil, persistence(err)
	}
	for _, m := range usable {
		if m.IsUnlimited() {
			id := m.ID
			return &entitlementUse{membershipID: &id}, nil
		}
	}
	for _, m := range usable {
		ok, err := memberships.DecrementRemaining(ctx, m.ID)
		if err != nil {
			return nil, persistence(err)
		}
		if ok {
			id := m.ID
			return &entitlementUse{membershipID: &id}, nil
		}
	}

	pass, err := s.passRepo.WithTx(tx).FirstUsable(ctx, userID)
	if err != nil {
		return nil, notFoundOr(err, ErrNoEntitlement)
	}
	return s.consumeClassPass(ctx, tx, pass.ID)
}

func (s *MembershipService) consumeClassPass(ctx context.Context, tx *gorm.DB, passID int64) (*entitlementUse, error) {
	ok, err := s.passRepo.WithTx(tx).DecrementRemaining(ctx, passID)
	if err != nil {
		return nil, persistence(err)
	}
	if !ok {
		return nil, ErrEntitlementExhausted
	}
	id := passID
	return &entitlementUse{classPassID: &id}, nil
}

// restoreOneClass 归还一次课次，不限次会员不变
func (s *MembershipService) restoreOneClass(ctx context.Context, tx *gorm.DB, membershipID int64) error {
	memberships := s.membershipRepo.WithTx(tx)
	if _, err := memberships.GetByID(ctx, membershipID); err != nil {
		return notFoundOr(err, ErrMembershipNotFound)
	}
	return persistence(memberships.IncrementRemaining(ctx, membershipID))
}

// restoreEntitlement 取消预约时归还消耗的课次
func (s *MembershipService) restoreEntitlement(ctx context.Context, tx *gorm.DB, attendance *model.Attendance) error {
	if attendance.MembershipID != nil {
		if err := s.restoreOneClass(ctx, tx, *attendance.MembershipID); err != nil {
			return err
		}
	}
	if attendance.ClassPassID != nil {
		if err := s.passRepo.WithTx(tx).IncrementRemaining(ctx, *attendance.ClassPassID); err != nil {
			return persistence(err)
		}
	}
	return nil
}

// grantClassPass 课包支付完成后发放课次，同一交易只发放一次
func (s *MembershipService) grantClassPass(ctx context.Context, tx *gorm.DB, userID, classID int64, count int, transactionID int64) (*model.ClassPass, error) {
	passes := s.passRepo.WithTx(tx)

	existing, err := passes.GetByPaymentTransactionID(ctx, transactionID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, persistence(err)
	}
	if count < 1 {
		return nil, ErrPaymentNotAllowed
	}

	pass := &model.ClassPass{
		UserID:               userID,
		SourceClassID:        classID,
		TotalClasses:         count,
		RemainingClasses:     count,
		PaymentTransactionID: transactionID,
	}
	if err := passes.Create(ctx, pass); err != nil {
		return nil, persistence(err)
	}
	return pass, nil
}

// HasActiveMembership 用户是否已有该类型的有效会员
func (s *MembershipService) HasActiveMembership(ctx context.Context, userID, typeID int64) (bool, error) {
	exists, err := s.membershipRepo.ExistsActive(ctx, userID, typeID, 0)
	if err != nil {
		return false, persistence(err)
	}
	return exists, nil
}

// ExpireMemberships 停用已过期会员，dryRun 时只统计
func (s *MembershipService) ExpireMemberships(ctx context.Context, dryRun bool) (int64, error) {
	now := s.now().UTC()
	if dryRun {
		count, err := s.membershipRepo.CountExpired(ctx, now)
		return count, persistence(err)
	}

	count, err := s.membershipRepo.DeactivateExpired(ctx, now)
	if err != nil {
		return 0, persistence(err)
	}
	if count > 0 {
		log.Printf("Deactivated %d expired memberships", count)
	}
	return count, nil
}

// ListMyMemberships 当前用户的会员
func (s *MembershipService) ListMyMemberships(ctx context.Context, p *Principal) ([]*dto.MembershipItem, error) {
	if err := requireAuthenticated(p); err != nil {
		return nil, err
	}

	memberships, err := s.membershipRepo.ListByUser(ctx, p.UserID)
	if err != nil {
		return nil, persistence(err)
	}
	return toMembershipItems(memberships), nil
}

// ListMemberships 全部会员（仅馆主）
func (s *MembershipService) ListMemberships(ctx context.Context, p *Principal) ([]*dto.MembershipItem, error) {
	if err := requireOwner(p); err != nil {
		return nil, err
	}

	memberships, err := s.membershipRepo.List(ctx)
	if err != nil {
		return nil, persistence(err)
	}
	return toMembershipItems(memberships), nil
}

// ListMyClassPasses 当前用户的课包
func (s *MembershipService) ListMyClassPasses(ctx context.Context, p *Principal) ([]*model.ClassPass, error) {
	if err := requireAuthenticated(p); err != nil {
		return nil, err
	}

	passes, err := s.passRepo.ListByUser(ctx, p.UserID)
	if err != nil {
		return nil, persistence(err)
	}
	return passes, nil
}

func (s *MembershipService) notify(ctx context.Context, event *NotificationEvent) {
	if s.notifier != nil {
		s.notifier.Notify(ctx, event)
	}
}

// ToMembershipItem 转换为接口返回结构
func ToMembershipItem(m *model.Membership) *dto.MembershipItem {
	item := &dto.MembershipItem{
		ID:               m.ID,
		UserID:           m.UserID,
		MembershipTypeID: m.MembershipTypeID,
		StartDate:        m.StartDate,
		EndDate:          m.EndDate,
		BalanceDue:       m.BalanceDue,
		RemainingClasses: m.RemainingClasses,
		IsActive:         m.IsActive,
		PurchaseDate:     m.PurchaseDate,
	}
	if m.MembershipType != nil {
		item.MembershipTypeName = m.MembershipType.Name
	}
	if m.User != nil {
		item.UserName = m.User.FullName
		item.UserEmail = m.User.Email
	}
	return item
}

func toMembershipItems(memberships []*model.Membership) []*dto.MembershipItem {
	items := make([]*dto.MembershipItem, 0, len(memberships))
	for _, m := range memberships {
		items = append(items, ToMembershipItem(m))
	}
	return items
}
