package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/qs3c/studio_go_server/internal/model"
)

type AttendanceRepository struct {
	db *gorm.DB
}

func NewAttendanceRepository(db *gorm.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

func (r *AttendanceRepository) WithTx(tx *gorm.DB) *AttendanceRepository {
	return &AttendanceRepository{db: tx}
}

func (r *AttendanceRepository) Create(ctx context.Context, attendance *model.Attendance) error {
	return r.db.WithContext(ctx).Create(attendance).Error
}

func (r *AttendanceRepository) Update(ctx context.Context, attendance *model.Attendance) error {
	return r.db.WithContext(ctx).Save(attendance).Error
}

func (r *AttendanceRepository) Delete(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Delete(&model.Attendance{}, id).Error
}

func (r *AttendanceRepository) GetConfirmed(ctx context.Context, userID, classID int64) (*model.Attendance, error) {
	var attendance model.Attendance
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND class_id = ? AND is_confirmed = ?", userID, classID, true).
		First(&attendance).Error
	if err != nil {
		return nil, err
	}
	return &attendance, nil
}

func (r *AttendanceRepository) CountConfirmed(ctx context.Context, classID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Attendance{}).
		Where("class_id = ? AND is_confirmed = ?", classID, true).
		Count(&count).Error
	return count, err
}

func (r *AttendanceRepository) CountByClass(ctx context.Context, classID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Attendance{}).Where("class_id = ?", classID).Count(&count).Error
	return count, err
}

// CountConfirmedByClasses 批量统计每节课的已确认人数
func (r *AttendanceRepository) CountConfirmedByClasses(ctx context.Context, classIDs []int64) (map[int64]int64, error) {
	counts := make(map[int64]int64, len(classIDs))
	if len(classIDs) == 0 {
		return counts, nil
	}

	var rows []struct {
		ClassID int64
		Total   int64
	}
	err := r.db.WithContext(ctx).Model(&model.Attendance{}).
		Select("class_id, COUNT(*) AS total").
		Where("class_id IN ? AND is_confirmed = ?", classIDs, true).
		Group("class_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		counts[row.ClassID] = row.Total
	}
	return counts, nil
}

// BookedClassIDs 返回用户在给定课程中已预约的课程 ID
func (r *AttendanceRepository) BookedClassIDs(ctx context.Context, userID int64, classIDs []int64) (map[int64]bool, error) {
	booked := make(map[int64]bool)
	if len(classIDs) == 0 {
		return booked, nil
	}

	var ids []int64
	err := r.db.WithContext(ctx).Model(&model.Attendance{}).
		Where("user_id = ? AND class_id IN ? AND is_confirmed = ?", userID, classIDs, true).
		Pluck("class_id", &ids).Error
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		booked[id] = true
	}
	return booked, nil
}

// ListByUser 按课程开始时间排序
func (r *AttendanceRepository) ListByUser(ctx context.Context, userID int64) ([]*model.Attendance, error) {
	var attendances []*model.Attendance
	err := r.db.WithContext(ctx).
		Joins("Class").
		Where("attendances.user_id = ? AND attendances.is_confirmed = ?", userID, true).
		Order("Class.start_time ASC").
		Find(&attendances).Error
	return attendances, err
}

// ListByClass 按预约时间排序
func (r *AttendanceRepository) ListByClass(ctx context.Context, classID int64) ([]*model.Attendance, error) {
	var attendances []*model.Attendance
	err := r.db.WithContext(ctx).
		Preload("User").
		Where("class_id = ? AND is_confirmed = ?", classID, true).
		Order("booked_at ASC").
		Find(&attendances).Error
	return attendances, err
}
