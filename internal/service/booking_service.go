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
	"github.com/qs3c/studio_go_server/internal/pkg/pubsub"
	"github.com/qs3c/studio_go_server/internal/repository"
)

// AvailabilityPublisher 课程余位变化的广播
type AvailabilityPublisher interface {
	PublishAvailability(ctx context.Context, msg *pubsub.AvailabilityMessage) error
}

// BookingService 预约、签到与取消，所有出勤记录的写入都经过这里
type BookingService struct {
	db             *gorm.DB
	classRepo      *repository.ClassRepository
	attendanceRepo *repository.AttendanceRepository
	userRepo       *repository.UserRepository
	ledger         *MembershipService
	notifier       EventNotifier
	publisher      AvailabilityPublisher
	cfg            *config.Config
	now            func() time.Time
}

// NewBookingService publisher 可以为 nil
func NewBookingService(
	db *gorm.DB,
	classRepo *repository.ClassRepository,
	attendanceRepo *repository.AttendanceRepository,
	userRepo *repository.UserRepository,
	ledger *MembershipService,
	notifier EventNotifier,
	publisher AvailabilityPublisher,
	cfg *config.Config,
) *BookingService {
	return &BookingService{
		db:             db,
		classRepo:      classRepo,
		attendanceRepo: attendanceRepo,
		userRepo:       userRepo,
		ledger:         ledger,
		notifier:       notifier,
		publisher:      publisher,
		cfg:            cfg,
		now:            time.Now,
	}
}

type bookOptions struct {
	source        model.AttendanceSource
	transactionID *int64
	// 已单次付费，不扣减会员权益
	paid        bool
	classPassID *int64
}

// Book 预约课程
func (s *BookingService) Book(ctx context.Context, p *Principal, classID int64) (*model.Attendance, error) {
	if err := requireAuthenticated(p); err != nil {
		return nil, err
	}

	var class *model.ClassSession
	var attendance *model.Attendance
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		class, attendance, err = s.bookInTx(ctx, tx, p.UserID, classID, bookOptions{source: model.SourceBooking})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publishAvailability(ctx, class)
	s.notifyBooked(ctx, p.UserID, class)
	return attendance, nil
}

// bookInTx 锁定课程行后重新计数再插入，同一课程的预约串行执行
func (s *BookingService) bookInTx(ctx context.Context, tx *gorm.DB, userID, classID int64, opts bookOptions) (*model.ClassSession, *model.Attendance, error) {
	now := s.now().UTC()

	class, err := s.classRepo.WithTx(tx).LockByID(ctx, classID)
	if err != nil {
		return nil, nil, notFoundOr(err, ErrClassNotFound)
	}
	if !class.IsActive {
		return nil, nil, ErrClassInactive
	}
	if class.HasStarted(now) {
		return nil, nil, ErrClassStarted
	}

	attendances := s.attendanceRepo.WithTx(tx)
	if err := s.ensureNotBooked(ctx, attendances, userID, classID); err != nil {
		return nil, nil, err
	}
	if err := s.ensureCapacity(ctx, attendances, class); err != nil {
		return nil, nil, err
	}

	attendance := &model.Attendance{
		UserID:               userID,
		ClassID:              class.ID,
		BookedAt:             now,
		IsConfirmed:          true,
		Source:               opts.source,
		PaymentTransactionID: opts.transactionID,
	}
	if err := s.consume(ctx, tx, class, attendance, opts, now); err != nil {
		return nil, nil, err
	}

	if err := attendances.Create(ctx, attendance); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, nil, ErrAlreadyBooked
		}
		return nil, nil, persistence(err)
	}
	return class, attendance, nil
}

func (s *BookingService) ensureNotBooked(ctx context.Context, attendances *repository.AttendanceRepository, userID, classID int64) error {
	_, err := attendances.GetConfirmed(ctx, userID, classID)
	if err == nil {
		return ErrAlreadyBooked
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return persistence(err)
	}
	return nil
}

func (s *BookingService) ensureCapacity(ctx context.Context, attendances *repository.AttendanceRepository, class *model.ClassSession) error {
	count, err := attendances.CountConfirmed(ctx, class.ID)
	if err != nil {
		return persistence(err)
	}
	if count >= int64(class.MaxCapacity) {
		return ErrClassFull
	}
	return nil
}

// consume 按来源扣减权益并记录在出勤上
func (s *BookingService) consume(ctx context.Context, tx *gorm.DB, class *model.ClassSession, attendance *model.Attendance, opts bookOptions, now time.Time) error {
	var use *entitlementUse
	var err error
	switch {
	case opts.classPassID != nil:
		use, err = s.ledger.consumeClassPass(ctx, tx, *opts.classPassID)
	case opts.paid || !class.RequiresMembership:
		return nil
	default:
		use, err = s.ledger.consumeEntitlement(ctx, tx, attendance.UserID, now)
	}
	if err != nil {
		return err
	}
	attendance.MembershipID = use.membershipID
	attendance.ClassPassID = use.classPassID
	return nil
}

// CheckIn 签到，未预约时作为现场签到
func (s *BookingService) CheckIn(ctx context.Context, p *Principal, classID int64) (*model.Attendance, error) {
	if err := requireAuthenticated(p); err != nil {
		return nil, err
	}

	var class *model.ClassSession
	var attendance *model.Attendance
	walkIn := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now().UTC()

		var err error
		class, err = s.classRepo.WithTx(tx).LockByID(ctx, classID)
		if err != nil {
			return notFoundOr(err, ErrClassNotFound)
		}
		window := s.cfg.Booking.CheckInWindow()
		if now.Before(class.StartTime.Add(-window)) || now.After(class.StartTime.Add(window)) {
			return ErrOutsideCheckInWindow
		}

		attendances := s.attendanceRepo.WithTx(tx)
		attendance, err = attendances.GetConfirmed(ctx, p.UserID, classID)
		if err == nil {
			if attendance.CheckedIn {
				return ErrAlreadyCheckedIn
			}
			attendance.CheckedIn = true
			attendance.CheckedInAt = &now
			return persistence(attendances.Update(ctx, attendance))
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return persistence(err)
		}

		walkIn = true
		if err := s.ensureCapacity(ctx, attendances, class); err != nil {
			return err
		}
		attendance = &model.Attendance{
			UserID:      p.UserID,
			ClassID:     class.ID,
			BookedAt:    now,
			IsConfirmed: true,
			CheckedIn:   true,
			CheckedInAt: &now,
			Source:      model.SourceWalkIn,
		}
		if err := s.consume(ctx, tx, class, attendance, bookOptions{source: model.SourceWalkIn}, now); err != nil {
			return err
		}
		if err := attendances.Create(ctx, attendance); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAlreadyCheckedIn
			}
			return persistence(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if walkIn {
		s.publishAvailability(ctx, class)
	}
	return attendance, nil
}

// Cancel 取消预约并归还消耗的课次
func (s *BookingService) Cancel(ctx context.Context, p *Principal, classID int64) error {
	if err := requireAuthenticated(p); err != nil {
		return err
	}

	var class *model.ClassSession
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now().UTC()

		var err error
		class, err = s.classRepo.WithTx(tx).LockByID(ctx, classID)
		if err != nil {
			return notFoundOr(err, ErrClassNotFound)
		}

		attendances := s.attendanceRepo.WithTx(tx)
		attendance, err := attendances.GetConfirmed(ctx, p.UserID, classID)
		if err != nil {
			return notFoundOr(err, ErrBookingNotFound)
		}
		if attendance.CheckedIn {
			return ErrCheckedInCannotCancel
		}
		if !now.Before(class.StartTime.Add(-s.cfg.Booking.CancelCutoff())) {
			return ErrCancelCutoff
		}

		if err := attendances.Delete(ctx, attendance.ID); err != nil {
			return persistence(err)
		}
		return s.ledger.restoreEntitlement(ctx, tx, attendance)
	})
	if err != nil {
		return err
	}

	s.publishAvailability(ctx, class)
	return nil
}

// ListMyBookings 当前用户的预约，按开课时间排序
func (s *BookingService) ListMyBookings(ctx context.Context, p *Principal) ([]*dto.BookingItem, error) {
	if err := requireAuthenticated(p); err != nil {
		return nil, err
	}

	attendances, err := s.attendanceRepo.ListByUser(ctx, p.UserID)
	if err != nil {
		return nil, persistence(err)
	}
	return toBookingItems(attendances), nil
}

// ListClassBookings 某节课的预约名单（仅馆主），按预约时间排序
func (s *BookingService) ListClassBookings(ctx context.Context, p *Principal, classID int64) ([]*dto.BookingItem, error) {
	if err := requireOwner(p); err != nil {
		return nil, err
	}

	class, err := s.classRepo.GetByID(ctx, classID)
	if err != nil {
		return nil, notFoundOr(err, ErrClassNotFound)
	}

	attendances, err := s.attendanceRepo.ListByClass(ctx, classID)
	if err != nil {
		return nil, persistence(err)
	}
	for _, a := range attendances {
		a.Class = class
	}
	return toBookingItems(attendances), nil
}

// seatStatus 下单前的预检：是否已预约、当前人数
func (s *BookingService) seatStatus(ctx context.Context, userID int64, class *model.ClassSession) (bool, int64, error) {
	err := s.ensureNotBooked(ctx, s.attendanceRepo, userID, class.ID)
	if err != nil {
		if errors.Is(err, ErrAlreadyBooked) {
			return true, 0, nil
		}
		return false, 0, err
	}

	count, err := s.attendanceRepo.CountConfirmed(ctx, class.ID)
	if err != nil {
		return false, 0, persistence(err)
	}
	return false, count, nil
}

// fulfillDropIn 单次付费到账后预约，已预约时只关联交易
func (s *BookingService) fulfillDropIn(ctx context.Context, tx *gorm.DB, userID, classID, transactionID int64) (*model.ClassSession, *model.Attendance, error) {
	class, attendance, err := s.bookInTx(ctx, tx, userID, classID, bookOptions{
		source:        model.SourceDropIn,
		transactionID: &transactionID,
		paid:          true,
	})
	if !errors.Is(err, ErrAlreadyBooked) {
		return class, attendance, err
	}

	attendances := s.attendanceRepo.WithTx(tx)
	attendance, err = attendances.GetConfirmed(ctx, userID, classID)
	if err != nil {
		return nil, nil, persistence(err)
	}
	if attendance.PaymentTransactionID == nil {
		attendance.PaymentTransactionID = &transactionID
		if err := attendances.Update(ctx, attendance); err != nil {
			return nil, nil, persistence(err)
		}
	}
	class, err = s.classRepo.WithTx(tx).GetByID(ctx, classID)
	if err != nil {
		return nil, nil, notFoundOr(err, ErrClassNotFound)
	}
	return class, attendance, nil
}

// fulfillPackage 课包到账：发放课次，再用其中一次预约目标课程
// 预约失败时课次全部保留，交易仍然完成
func (s *BookingService) fulfillPackage(ctx context.Context, tx *gorm.DB, userID, classID, transactionID int64) (*model.ClassSession, *model.Attendance, *model.ClassPass, error) {
	class, err := s.classRepo.WithTx(tx).GetByID(ctx, classID)
	if err != nil {
		return nil, nil, nil, notFoundOr(err, ErrClassNotFound)
	}

	pass, err := s.ledger.grantClassPass(ctx, tx, userID, class.ID, class.PackageClassCount, transactionID)
	if err != nil {
		return nil, nil, nil, err
	}

	var attendance *model.Attendance
	err = tx.Transaction(func(btx *gorm.DB) error {
		var err error
		_, attendance, err = s.bookInTx(ctx, btx, userID, class.ID, bookOptions{
			source:        model.SourcePackage,
			transactionID: &transactionID,
			classPassID:   &pass.ID,
		})
		return err
	})
	if err != nil {
		if !isBusinessError(err) {
			return nil, nil, nil, err
		}
		log.Printf("Package %d granted but class %d not booked: %v", pass.ID, class.ID, err)
		attendance = nil
	}
	return class, attendance, pass, nil
}

func (s *BookingService) notifyBooked(ctx context.Context, userID int64, class *model.ClassSession) {
	if s.notifier == nil {
		return
	}
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		log.Printf("Failed to load user %d for booking notification: %v", userID, err)
		return
	}
	s.notifier.Notify(ctx, bookingConfirmedEvent(user, class))
}

// publishAvailability 提交后广播最新余位，失败只记日志
func (s *BookingService) publishAvailability(ctx context.Context, class *model.ClassSession) {
	if s.publisher == nil || class == nil {
		return
	}

	count, err := s.attendanceRepo.CountConfirmed(ctx, class.ID)
	if err != nil {
		log.Printf("Failed to count attendances for class %d: %v", class.ID, err)
		return
	}
	msg := &pubsub.AvailabilityMessage{
		ClassID:     class.ID,
		BookedCount: count,
		MaxCapacity: class.MaxCapacity,
	}
	if err := s.publisher.PublishAvailability(ctx, msg); err != nil {
		log.Printf("Failed to publish availability for class %d: %v", class.ID, err)
	}
}

func toBookingItems(attendances []*model.Attendance) []*dto.BookingItem {
	items := make([]*dto.BookingItem, 0, len(attendances))
	for _, a := range attendances {
		item := &dto.BookingItem{
			ID:          a.ID,
			ClassID:     a.ClassID,
			UserID:      a.UserID,
			BookedAt:    a.BookedAt,
			CheckedIn:   a.CheckedIn,
			CheckedInAt: a.CheckedInAt,
			Source:      string(a.Source),
		}
		if a.Class != nil {
			item.ClassName = a.Class.Name
			item.InstructorName = a.Class.InstructorName
			item.StartTime = a.Class.StartTime
			item.EndTime = a.Class.EndTime
		}
		if a.User != nil {
			item.UserName = a.User.FullName
			item.UserEmail = a.User.Email
		}
		items = append(items, item)
	}
	return items
}
