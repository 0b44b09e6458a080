package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/qs3c/studio_go_server/internal/model"
)

type MembershipTypeRepository struct {
	db *gorm.DB
}

func NewMembershipTypeRepository(db *gorm.DB) *MembershipTypeRepository {
	return &MembershipTypeRepository{db: db}
}

func (r *MembershipTypeRepository) WithTx(tx *gorm.DB) *MembershipTypeRepository {
	return &MembershipTypeRepository{db: tx}
}

func (r *MembershipTypeRepository) Create(ctx context.Context, t *model.MembershipType) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *MembershipTypeRepository) Update(ctx context.Context, t *model.MembershipType) error {
	return r.db.WithContext(ctx).Save(t).Error
}

func (r *MembershipTypeRepository) Delete(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Delete(&model.MembershipType{}, id).Error
}

func (r *MembershipTypeRepository) GetByID(ctx context.Context, id int64) (*model.MembershipType, error) {
	var t model.MembershipType
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *MembershipTypeRepository) List(ctx context.Context, activeOnly bool) ([]*model.MembershipType, error) {
	var types []*model.MembershipType
	query := r.db.WithContext(ctx)
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	err := query.Order("price ASC, id ASC").Find(&types).Error
	return types, err
}

// IsReferenced 是否已有会员使用该类型
func (r *MembershipTypeRepository) IsReferenced(ctx context.Context, id int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Membership{}).Where("membership_type_id = ?", id).Count(&count).Error
	return count > 0, err
}
