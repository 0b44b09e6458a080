package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/studio_go_server/internal/model"
)

type EmailLogRepository struct {
	db *gorm.DB
}

func NewEmailLogRepository(db *gorm.DB) *EmailLogRepository {
	return &EmailLogRepository{db: db}
}

func (r *EmailLogRepository) Create(ctx context.Context, log *model.EmailLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

func (r *EmailLogRepository) GetByID(ctx context.Context, id int64) (*model.EmailLog, error) {
	var entry model.EmailLog
	if err := r.db.WithContext(ctx).First(&entry, id).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *EmailLogRepository) List(ctx context.Context, page, pageSize int) ([]*model.EmailLog, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&model.EmailLog{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var logs []*model.EmailLog
	err := r.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Scopes(paginate(page, pageSize)).
		Find(&logs).Error
	return logs, total, err
}

func (r *EmailLogRepository) Stats(ctx context.Context) (total, sent int64, err error) {
	if err = r.db.WithContext(ctx).Model(&model.EmailLog{}).Count(&total).Error; err != nil {
		return
	}
	err = r.db.WithContext(ctx).Model(&model.EmailLog{}).Where("was_sent = ?", true).Count(&sent).Error
	return
}

// EmailPeriodStats 按时间段和类型的发送统计
type EmailPeriodStats struct {
	SentToday     int64
	SentThisWeek  int64
	SentThisMonth int64
	FailedToday   int64
	SentByKind    map[string]int64
}

// PeriodStats 以 today 为当天零点，本周、本月分别取最近 7 天和 30 天
func (r *EmailLogRepository) PeriodStats(ctx context.Context, today time.Time) (*EmailPeriodStats, error) {
	stats := &EmailPeriodStats{SentByKind: make(map[string]int64)}
	sentSince := func(since time.Time, out *int64) error {
		return r.db.WithContext(ctx).Model(&model.EmailLog{}).
			Where("was_sent = ? AND sent_at >= ?", true, since).
			Count(out).Error
	}

	if err := sentSince(today, &stats.SentToday); err != nil {
		return nil, err
	}
	if err := sentSince(today.AddDate(0, 0, -7), &stats.SentThisWeek); err != nil {
		return nil, err
	}
	if err := sentSince(today.AddDate(0, 0, -30), &stats.SentThisMonth); err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Model(&model.EmailLog{}).
		Where("was_sent = ? AND created_at >= ?", false, today).
		Count(&stats.FailedToday).Error; err != nil {
		return nil, err
	}

	var rows []struct {
		Kind  string
		Count int64
	}
	if err := r.db.WithContext(ctx).Model(&model.EmailLog{}).
		Select("kind, COUNT(*) AS count").
		Where("was_sent = ?", true).
		Group("kind").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		stats.SentByKind[row.Kind] = row.Count
	}
	return stats, nil
}

// ListRetryable 发送失败、尚未被重试且未超过最大尝试次数的记录，skipErrors 中的失败原因不重试
func (r *EmailLogRepository) ListRetryable(ctx context.Context, maxAttempts, limit int, skipErrors ...string) ([]*model.EmailLog, error) {
	var logs []*model.EmailLog
	query := r.db.WithContext(ctx).
		Where("was_sent = ? AND attempt < ?", false, maxAttempts).
		Where("NOT EXISTS (SELECT 1 FROM email_logs AS r WHERE r.retry_of_id = email_logs.id)")
	if len(skipErrors) > 0 {
		query = query.Where("error_message NOT IN ?", skipErrors)
	}
	err := query.
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}
