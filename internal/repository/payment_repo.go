package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/studio_go_server/internal/model"
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) WithTx(tx *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: tx}
}

func (r *PaymentRepository) Create(ctx context.Context, txn *model.PaymentTransaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *PaymentRepository) UpdateFields(ctx context.Context, id int64, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&model.PaymentTransaction{}).Where("id = ?", id).Updates(fields).Error
}

func (r *PaymentRepository) GetByID(ctx context.Context, id int64) (*model.PaymentTransaction, error) {
	var txn model.PaymentTransaction
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// GetBySessionIDForUpdate 按网关会话 ID 查询并加锁
func (r *PaymentRepository) GetBySessionIDForUpdate(ctx context.Context, sessionID string) (*model.PaymentTransaction, error) {
	var txn model.PaymentTransaction
	err := forUpdate(r.db.WithContext(ctx)).Where("gateway_session_id = ?", sessionID).First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// GetByReferenceForUpdate 按交易流水号查询并加锁
func (r *PaymentRepository) GetByReferenceForUpdate(ctx context.Context, reference string) (*model.PaymentTransaction, error) {
	var txn model.PaymentTransaction
	err := forUpdate(r.db.WithContext(ctx)).Where("reference = ?", reference).First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// UpdateStatusIfCurrent 仅当状态仍为 current 时更新，返回是否更新成功
func (r *PaymentRepository) UpdateStatusIfCurrent(ctx context.Context, id int64, current, next model.PaymentStatus, fields map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"status": next}
	for k, v := range fields {
		updates[k] = v
	}
	result := r.db.WithContext(ctx).Model(&model.PaymentTransaction{}).
		Where("id = ? AND status = ?", id, current).
		Updates(updates)
	return result.RowsAffected == 1, result.Error
}

func (r *PaymentRepository) List(ctx context.Context, page, pageSize int) ([]*model.PaymentTransaction, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&model.PaymentTransaction{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var txns []*model.PaymentTransaction
	err := r.db.WithContext(ctx).Preload("User").
		Order("created_at DESC, id DESC").
		Scopes(paginate(page, pageSize)).
		Find(&txns).Error
	return txns, total, err
}

func (r *PaymentRepository) ListByUser(ctx context.Context, userID int64) ([]*model.PaymentTransaction, error) {
	var txns []*model.PaymentTransaction
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC, id DESC").Find(&txns).Error
	return txns, err
}

// ListStalePending 创建时间早于 before 仍未完成的交易，等待到账的不算
func (r *PaymentRepository) ListStalePending(ctx context.Context, before time.Time, limit int) ([]*model.PaymentTransaction, error) {
	var txns []*model.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND awaiting_settlement = ? AND created_at < ?", model.PaymentStatusPending, false, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&txns).Error
	return txns, err
}

// ListMissingReceipts 已完成但尚未归档收据的交易
func (r *PaymentRepository) ListMissingReceipts(ctx context.Context, limit int) ([]*model.PaymentTransaction, error) {
	var txns []*model.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND completed_at IS NOT NULL AND (receipt_url = '' OR receipt_url IS NULL)", model.PaymentStatusCompleted).
		Order("completed_at ASC").
		Limit(limit).
		Find(&txns).Error
	return txns, err
}
