package service

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/studio_go_server/internal/model"
	"github.com/qs3c/studio_go_server/internal/model/dto"
	"github.com/qs3c/studio_go_server/internal/repository"
)

const (
	defaultClassCapacity = 10
	maxClassCapacity     = 100
	calendarDefaultDays  = 30
)

// CatalogService 课程与会员类型的维护
type CatalogService struct {
	db             *gorm.DB
	classRepo      *repository.ClassRepository
	attendanceRepo *repository.AttendanceRepository
	typeRepo       *repository.MembershipTypeRepository
	now            func() time.Time
}

func NewCatalogService(
	db *gorm.DB,
	classRepo *repository.ClassRepository,
	attendanceRepo *repository.AttendanceRepository,
	typeRepo *repository.MembershipTypeRepository,
) *CatalogService {
	return &CatalogService{
		db:             db,
		classRepo:      classRepo,
		attendanceRepo: attendanceRepo,
		typeRepo:       typeRepo,
		now:            time.Now,
	}
}

// CreateClass 创建课程
func (s *CatalogService) CreateClass(ctx context.Context, p *Principal, req *dto.ClassRequest) (*model.ClassSession, error) {
	if err := requireOwner(p); err != nil {
		return nil, err
	}
	if err := normalizeClassRequest(req); err != nil {
		return nil, err
	}

	class := &model.ClassSession{IsActive: true}
	applyClassRequest(class, req)

	if err := s.classRepo.Create(ctx, class); err != nil {
		return nil, persistence(err)
	}
	return class, nil
}

// UpdateClass 更新课程，容量不能低于已确认人数
func (s *CatalogService) UpdateClass(ctx context.Context, p *Principal, id int64, req *dto.ClassRequest) (*model.ClassSession, error) {
	if err := requireOwner(p); err != nil {
		return nil, err
	}
	if err := normalizeClassRequest(req); err != nil {
		return nil, err
	}

	var class *model.ClassSession
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		classes := s.classRepo.WithTx(tx)

		var err error
		class, err = classes.LockByID(ctx, id)
		if err != nil {
			return notFoundOr(err, ErrClassNotFound)
		}

		confirmed, err := s.attendanceRepo.WithTx(tx).CountConfirmed(ctx, id)
		if err != nil {
			return persistence(err)
		}
		if int64(req.MaxCapacity) < confirmed {
			return ErrCapacityBelowBooked
		}
		applyClassRequest(class, req)
		return persistence(classes.Update(ctx, class))
	})
	if err != nil {
		return nil, err
	}
	return class, nil
}

// DeleteClass 删除课程，有出勤记录时拒绝
func (s *CatalogService) DeleteClass(ctx context.Context, p *Principal, id int64) error {
	if err := requireOwner(p); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		classes := s.classRepo.WithTx(tx)
		if _, err := classes.LockByID(ctx, id); err != nil {
			return notFoundOr(err, ErrClassNotFound)
		}

		count, err := s.attendanceRepo.WithTx(tx).CountByClass(ctx, id)
		if err != nil {
			return persistence(err)
		}
		if count > 0 {
			return ErrClassHasAttendances
		}
		return persistence(classes.Delete(ctx, id))
	})
}

// GetClass 课程详情及余量，停用课程只对馆主可见
func (s *CatalogService) GetClass(ctx context.Context, p *Principal, id int64) (*dto.CalendarItem, error) {
	class, err := s.classRepo.GetByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, ErrClassNotFound)
	}
	if !class.IsActive && !p.IsOwner() {
		return nil, ErrClassNotFound
	}

	count, err := s.attendanceRepo.CountConfirmed(ctx, id)
	if err != nil {
		return nil, persistence(err)
	}
	booked := map[int64]bool{}
	if p != nil && p.UserID != 0 {
		booked, err = s.attendanceRepo.BookedClassIDs(ctx, p.UserID, []int64{id})
		if err != nil {
			return nil, persistence(err)
		}
	}
	return calendarItem(class, count, booked[id]), nil
}

func normalizeClassRequest(req *dto.ClassRequest) error {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return invalidf("课程名称不能为空")
	}
	if req.MaxCapacity == 0 {
		req.MaxCapacity = defaultClassCapacity
	}
	if req.MaxCapacity < 1 || req.MaxCapacity > maxClassCapacity {
		return invalidf("课程容量必须在 1 到 %d 之间", maxClassCapacity)
	}
	if !req.EndTime.After(req.StartTime) {
		return invalidf("结束时间必须晚于开始时间")
	}
	if req.DropInPrice.IsNegative() || req.PackagePrice.IsNegative() {
		return invalidf("价格不能为负数")
	}
	if req.AllowPackagePurchase && req.PackageClassCount < 1 {
		return invalidf("课包次数必须大于 0")
	}
	if req.PackageClassCount < 0 {
		return invalidf("课包次数不能为负数")
	}
	return nil
}

func applyClassRequest(class *model.ClassSession, req *dto.ClassRequest) {
	class.Name = req.Name
	class.Description = req.Description
	class.InstructorName = req.InstructorName
	class.StartTime = req.StartTime.UTC()
	class.EndTime = req.EndTime.UTC()
	class.MaxCapacity = req.MaxCapacity
	class.DropInPrice = req.DropInPrice.Round(2)
	class.PackagePrice = req.PackagePrice.Round(2)
	class.PackageClassCount = req.PackageClassCount
	class.AllowDropIn = req.AllowDropIn
	class.AllowPackagePurchase = req.AllowPackagePurchase
	class.RequiresMembership = req.RequiresMembership
	if req.IsActive != nil {
		class.IsActive = *req.IsActive
	}
}

// CreateMembershipType 创建会员类型
func (s *CatalogService) CreateMembershipType(ctx context.Context, p *Principal, req *dto.MembershipTypeRequest) (*model.MembershipType, error) {
	if err := requireOwner(p); err != nil {
		return nil, err
	}
	if err := normalizeMembershipTypeRequest(req); err != nil {
		return nil, err
	}

	mt := &model.MembershipType{IsActive: true}
	applyMembershipTypeRequest(mt, req)

	if err := s.typeRepo.Create(ctx, mt); err != nil {
		return nil, persistence(err)
	}
	return mt, nil
}

// UpdateMembershipType 更新会员类型，已开通的会员不受影响
func (s *CatalogService) UpdateMembershipType(ctx context.Context, p *Principal, id int64, req *dto.MembershipTypeRequest) (*model.MembershipType, error) {
	if err := requireOwner(p); err != nil {
		return nil, err
	}
	if err := normalizeMembershipTypeRequest(req); err != nil {
		return nil, err
	}

	mt, err := s.typeRepo.GetByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, ErrMembershipTypeNotFound)
	}
	applyMembershipTypeRequest(mt, req)

	if err := s.typeRepo.Update(ctx, mt); err != nil {
		return nil, persistence(err)
	}
	return mt, nil
}

// DeleteMembershipType 删除会员类型，被引用时改为停用，返回是否真正删除
func (s *CatalogService) DeleteMembershipType(ctx context.Context, p *Principal, id int64) (bool, error) {
	if err := requireOwner(p); err != nil {
		return false, err
	}

	deleted := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		types := s.typeRepo.WithTx(tx)
		mt, err := types.GetByID(ctx, id)
		if err != nil {
			return notFoundOr(err, ErrMembershipTypeNotFound)
		}

		referenced, err := types.IsReferenced(ctx, id)
		if err != nil {
			return persistence(err)
		}
		if referenced {
			mt.IsActive = false
			return persistence(types.Update(ctx, mt))
		}

		deleted = true
		return persistence(types.Delete(ctx, id))
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// ListMembershipTypes 会员类型列表，非馆主只能看到启用中的类型
func (s *CatalogService) ListMembershipTypes(ctx context.Context, p *Principal, activeOnly bool) ([]*model.MembershipType, error) {
	types, err := s.typeRepo.List(ctx, activeOnly || !p.IsOwner())
	if err != nil {
		return nil, persistence(err)
	}
	return types, nil
}

func normalizeMembershipTypeRequest(req *dto.MembershipTypeRequest) error {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return invalidf("会员类型名称不能为空")
	}
	if req.Price.IsNegative() || req.SetupFee.IsNegative() {
		return invalidf("价格不能为负数")
	}
	if req.ClassCount != nil && *req.ClassCount < 1 {
		return invalidf("课次必须大于 0")
	}
	if req.DurationDays != nil && *req.DurationDays < 1 {
		return invalidf("有效天数必须大于 0")
	}
	return nil
}

func applyMembershipTypeRequest(mt *model.MembershipType, req *dto.MembershipTypeRequest) {
	mt.Name = req.Name
	mt.Description = req.Description
	mt.Price = req.Price.Round(2)
	mt.SetupFee = req.SetupFee.Round(2)
	mt.ClassCount = req.ClassCount
	mt.DurationDays = req.DurationDays
	if req.IsActive != nil {
		mt.IsActive = *req.IsActive
	}
}

// Calendar 时间窗口内的课程及余位，p 为空时不返回本人预约状态
func (s *CatalogService) Calendar(ctx context.Context, p *Principal, start, end *time.Time) ([]*dto.CalendarItem, error) {
	now := s.now().UTC()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if start != nil {
		from = start.UTC()
	}
	to := from.AddDate(0, 0, calendarDefaultDays)
	if end != nil {
		to = end.UTC()
	}
	if to.Before(from) {
		return nil, invalidf("结束时间不能早于开始时间")
	}

	classes, err := s.classRepo.ListBetween(ctx, from, to)
	if err != nil {
		return nil, persistence(err)
	}

	visible := make([]*model.ClassSession, 0, len(classes))
	ids := make([]int64, 0, len(classes))
	for _, class := range classes {
		if !class.IsActive && !p.IsOwner() {
			continue
		}
		visible = append(visible, class)
		ids = append(ids, class.ID)
	}

	counts, err := s.attendanceRepo.CountConfirmedByClasses(ctx, ids)
	if err != nil {
		return nil, persistence(err)
	}
	booked := map[int64]bool{}
	if p != nil && p.UserID != 0 {
		booked, err = s.attendanceRepo.BookedClassIDs(ctx, p.UserID, ids)
		if err != nil {
			return nil, persistence(err)
		}
	}

	items := make([]*dto.CalendarItem, 0, len(visible))
	for _, class := range visible {
		items = append(items, calendarItem(class, counts[class.ID], booked[class.ID]))
	}
	return items, nil
}

func calendarItem(class *model.ClassSession, count int64, bookedByMe bool) *dto.CalendarItem {
	available := int64(class.MaxCapacity) - count
	if available < 0 {
		available = 0
	}
	return &dto.CalendarItem{
		ID:                   class.ID,
		Name:                 class.Name,
		Description:          class.Description,
		InstructorName:       class.InstructorName,
		StartTime:            class.StartTime,
		EndTime:              class.EndTime,
		MaxCapacity:          class.MaxCapacity,
		BookedCount:          count,
		AvailableSpots:       available,
		IsFull:               available == 0,
		IsBookedByMe:         bookedByMe,
		DropInPrice:          class.DropInPrice,
		PackagePrice:         class.PackagePrice,
		PackageClassCount:    class.PackageClassCount,
		AllowDropIn:          class.AllowDropIn,
		AllowPackagePurchase: class.AllowPackagePurchase,
		RequiresMembership:   class.RequiresMembership,
	}
}
