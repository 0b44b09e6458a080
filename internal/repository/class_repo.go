package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/studio_go_server/internal/model"
)

type ClassRepository struct {
	db *gorm.DB
}

func NewClassRepository(db *gorm.DB) *ClassRepository {
	return &ClassRepository{db: db}
}

func (r *ClassRepository) WithTx(tx *gorm.DB) *ClassRepository {
	return &ClassRepository{db: tx}
}

func (r *ClassRepository) Create(ctx context.Context, class *model.ClassSession) error {
	return r.db.WithContext(ctx).Create(class).Error
}

func (r *ClassRepository) Update(ctx context.Context, class *model.ClassSession) error {
	return r.db.WithContext(ctx).Save(class).Error
}

func (r *ClassRepository) Delete(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Delete(&model.ClassSession{}, id).Error
}

func (r *ClassRepository) GetByID(ctx context.Context, id int64) (*model.ClassSession, error) {
	var class model.ClassSession
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&class).Error
	if err != nil {
		return nil, err
	}
	return &class, nil
}

// LockByID 锁定课程行，预约/签到在同一课程上串行执行
func (r *ClassRepository) LockByID(ctx context.Context, id int64) (*model.ClassSession, error) {
	var class model.ClassSession
	err := forUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&class).Error
	if err != nil {
		return nil, err
	}
	return &class, nil
}

// ListBetween 查询时间窗口内的课程（含边界）
func (r *ClassRepository) ListBetween(ctx context.Context, start, end time.Time) ([]*model.ClassSession, error) {
	var classes []*model.ClassSession
	err := r.db.WithContext(ctx).
		Where("start_time >= ? AND start_time <= ?", start, end).
		Order("start_time ASC").
		Find(&classes).Error
	return classes, err
}
