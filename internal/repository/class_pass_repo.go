package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/qs3c/studio_go_server/internal/model"
)

type ClassPassRepository struct {
	db *gorm.DB
}

func NewClassPassRepository(db *gorm.DB) *ClassPassRepository {
	return &ClassPassRepository{db: db}
}

func (r *ClassPassRepository) WithTx(tx *gorm.DB) *ClassPassRepository {
	return &ClassPassRepository{db: tx}
}

func (r *ClassPassRepository) Create(ctx context.Context, pass *model.ClassPass) error {
	return r.db.WithContext(ctx).Create(pass).Error
}

func (r *ClassPassRepository) GetByPaymentTransactionID(ctx context.Context, transactionID int64) (*model.ClassPass, error) {
	var pass model.ClassPass
	err := r.db.WithContext(ctx).Where("payment_transaction_id = ?", transactionID).First(&pass).Error
	if err != nil {
		return nil, err
	}
	return &pass, nil
}

// FirstUsable 最早购买且仍有剩余次数的课包
func (r *ClassPassRepository) FirstUsable(ctx context.Context, userID int64) (*model.ClassPass, error) {
	var pass model.ClassPass
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND remaining_classes > 0", userID).
		Order("created_at ASC, id ASC").
		First(&pass).Error
	if err != nil {
		return nil, err
	}
	return &pass, nil
}

func (r *ClassPassRepository) DecrementRemaining(ctx context.Context, id int64) (bool, error) {
	result := r.db.WithContext(ctx).Model(&model.ClassPass{}).
		Where("id = ? AND remaining_classes > 0", id).
		Update("remaining_classes", gorm.Expr("remaining_classes - 1"))
	return result.RowsAffected == 1, result.Error
}

func (r *ClassPassRepository) IncrementRemaining(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Model(&model.ClassPass{}).
		Where("id = ? AND remaining_classes < total_classes", id).
		Update("remaining_classes", gorm.Expr("remaining_classes + 1")).Error
}

func (r *ClassPassRepository) ListByUser(ctx context.Context, userID int64) ([]*model.ClassPass, error) {
	var passes []*model.ClassPass
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&passes).Error
	return passes, err
}
