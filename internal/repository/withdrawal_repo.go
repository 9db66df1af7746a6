package repository

import (
	"context"
	"errors"
	"time"

	"ledgerpay/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrWithdrawalNotFound = errors.New("提现申请不存在")

type WithdrawalRepository struct {
	db *gorm.DB
}

func NewWithdrawalRepository(db *gorm.DB) *WithdrawalRepository {
	return &WithdrawalRepository{db: db}
}

func (r *WithdrawalRepository) Create(ctx context.Context, tx *gorm.DB, w *model.Withdrawal) error {
	return conn(r.db, tx).WithContext(ctx).Create(w).Error
}

func (r *WithdrawalRepository) GetByID(ctx context.Context, id int64) (*model.Withdrawal, error) {
	var w model.Withdrawal
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&w).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWithdrawalNotFound
		}
		return nil, err
	}
	return &w, nil
}

func (r *WithdrawalRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.Withdrawal, error) {
	var w model.Withdrawal
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&w).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWithdrawalNotFound
		}
		return nil, err
	}
	return &w, nil
}

// FinishAudit 待审核 -> 已通过/已拒绝
func (r *WithdrawalRepository) FinishAudit(ctx context.Context, tx *gorm.DB, id int64, status, auditor, remark string) error {
	now := time.Now()
	result := tx.WithContext(ctx).
		Model(&model.Withdrawal{}).
		Where("id = ? AND status IN ?", id, []string{model.WithdrawalStatusPendingAuto, model.WithdrawalStatusPendingManual}).
		Updates(map[string]interface{}{
			"status":       status,
			"auditor":      auditor,
			"audit_remark": remark,
			"processed_at": &now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOrderStatusInvalid
	}
	return nil
}

func (r *WithdrawalRepository) List(ctx context.Context, userID int64, status string, limit int) ([]*model.Withdrawal, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := r.db.WithContext(ctx).Model(&model.Withdrawal{})
	if userID > 0 {
		query = query.Where("user_id = ?", userID)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var list []*model.Withdrawal
	err := query.Order("id DESC").Limit(limit).Find(&list).Error
	return list, err
}
