package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/studio_go_server/internal/model"
)

type MembershipRepository struct {
	db *gorm.DB
}

func NewMembershipRepository(db *gorm.DB) *MembershipRepository {
	return &MembershipRepository{db: db}
}

func (r *MembershipRepository) WithTx(tx *gorm.DB) *MembershipRepository {
	return &MembershipRepository{db: tx}
}

func (r *MembershipRepository) Create(ctx context.Context, m *model.Membership) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *MembershipRepository) GetByID(ctx context.Context, id int64) (*model.Membership, error) {
	var m model.Membership
	err := r.db.WithContext(ctx).Preload("MembershipType").Where("id = ?", id).First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *MembershipRepository) GetByPaymentTransactionID(ctx context.Context, transactionID int64) (*model.Membership, error) {
	var m model.Membership
	err := r.db.WithContext(ctx).Preload("MembershipType").
		Where("payment_transaction_id = ?", transactionID).First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ExistsActive 用户是否已有该类型的有效会员，excludeID 为 0 表示不排除
func (r *MembershipRepository) ExistsActive(ctx context.Context, userID, typeID, excludeID int64) (bool, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&model.Membership{}).
		Where("user_id = ? AND membership_type_id = ? AND is_active = ?", userID, typeID, true)
	if excludeID > 0 {
		query = query.Where("id <> ?", excludeID)
	}
	err := query.Count(&count).Error
	return count > 0, err
}

func (r *MembershipRepository) SetActive(ctx context.Context, id int64, active bool) error {
	return r.db.WithContext(ctx).Model(&model.Membership{}).Where("id = ?", id).Update("is_active", active).Error
}

// ListUsable 用户当前可用于上课的会员：有效、未过期、不限次或仍有剩余
func (r *MembershipRepository) ListUsable(ctx context.Context, userID int64, now time.Time) ([]*model.Membership, error) {
	var memberships []*model.Membership
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Where("end_date IS NULL OR end_date > ?", now).
		Where("remaining_classes IS NULL OR remaining_classes > 0").
		Order("end_date IS NULL ASC, end_date ASC, id ASC").
		Find(&memberships).Error
	return memberships, err
}

// DecrementRemaining 条件扣减剩余次数，返回是否扣减成功
func (r *MembershipRepository) DecrementRemaining(ctx context.Context, id int64) (bool, error) {
	result := r.db.WithContext(ctx).Model(&model.Membership{}).
		Where("id = ? AND remaining_classes > 0", id).
		Update("remaining_classes", gorm.Expr("remaining_classes - 1"))
	return result.RowsAffected == 1, result.Error
}

func (r *MembershipRepository) IncrementRemaining(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Model(&model.Membership{}).
		Where("id = ? AND remaining_classes IS NOT NULL", id).
		Update("remaining_classes", gorm.Expr("remaining_classes + 1")).Error
}

func (r *MembershipRepository) ListByUser(ctx context.Context, userID int64) ([]*model.Membership, error) {
	var memberships []*model.Membership
	err := r.db.WithContext(ctx).Preload("MembershipType").
		Where("user_id = ?", userID).
		Order("is_active DESC, start_date DESC").
		Find(&memberships).Error
	return memberships, err
}

func (r *MembershipRepository) List(ctx context.Context) ([]*model.Membership, error) {
	var memberships []*model.Membership
	err := r.db.WithContext(ctx).Preload("MembershipType").Preload("User").
		Order("start_date DESC").
		Find(&memberships).Error
	return memberships, err
}

// DeactivateExpired 停用已过期的会员，返回影响行数
func (r *MembershipRepository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&model.Membership{}).
		Where("is_active = ? AND end_date IS NOT NULL AND end_date <= ?", true, now).
		Update("is_active", false)
	return result.RowsAffected, result.Error
}

func (r *MembershipRepository) CountExpired(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Membership{}).
		Where("is_active = ? AND end_date IS NOT NULL AND end_date <= ?", true, now).
		Count(&count).Error
	return count, err
}
