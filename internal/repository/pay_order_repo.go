package repository

import (
	"context"
	"errors"
	"time"

	"ledgerpay/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrPayOrderNotFound = errors.New("支付单不存在")

// PayOrderRepository 收银台支付单
type PayOrderRepository struct {
	db *gorm.DB
}

func NewPayOrderRepository(db *gorm.DB) *PayOrderRepository {
	return &PayOrderRepository{db: db}
}

func (r *PayOrderRepository) Create(ctx context.Context, tx *gorm.DB, order *model.PayOrder) error {
	return conn(r.db, tx).WithContext(ctx).Create(order).Error
}

func (r *PayOrderRepository) GetByOrderNo(ctx context.Context, tx *gorm.DB, orderNo string) (*model.PayOrder, error) {
	var order model.PayOrder
	err := conn(r.db, tx).WithContext(ctx).Where("order_no = ?", orderNo).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPayOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *PayOrderRepository) GetByOrderNoForUpdate(ctx context.Context, tx *gorm.DB, orderNo string) (*model.PayOrder, error) {
	var order model.PayOrder
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_no = ?", orderNo).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPayOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// MarkPaid PENDING_PAY -> PAID
//
// 返回 false 表示支付单已不在待支付状态（重复回调或已关闭），调用方应视为无操作。
func (r *PayOrderRepository) MarkPaid(ctx context.Context, tx *gorm.DB, orderNo, transactionID string, paidAt time.Time) (bool, error) {
	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.PayOrder{}).
		Where("order_no = ? AND status = ?", orderNo, model.PayOrderStatusPendingPay).
		Updates(map[string]interface{}{
			"status":         model.PayOrderStatusPaid,
			"transaction_id": transactionID,
			"paid_at":        paidAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// RecordLatePayment 已关闭的支付单收到支付成功回调，记下交易号与支付时间，状态保持 CLOSED
//
// 只在尚未记录交易号时生效，返回 false 表示该笔迟到支付已记录过。
func (r *PayOrderRepository) RecordLatePayment(ctx context.Context, tx *gorm.DB, orderNo, transactionID string, paidAt time.Time) (bool, error) {
	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.PayOrder{}).
		Where("order_no = ? AND status = ? AND (transaction_id = '' OR transaction_id IS NULL)", orderNo, model.PayOrderStatusClosed).
		Updates(map[string]interface{}{
			"transaction_id": transactionID,
			"paid_at":        paidAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Close 关闭超时未支付的支付单
func (r *PayOrderRepository) Close(ctx context.Context, orderNo string) (bool, error) {
	if !model.CanTransitionTo(model.PayOrderStatusPendingPay, model.PayOrderStatusClosed) {
		return false, ErrOrderStatusInvalid
	}
	result := r.db.WithContext(ctx).
		Model(&model.PayOrder{}).
		Where("order_no = ? AND status = ?", orderNo, model.PayOrderStatusPendingPay).
		Update("status", model.PayOrderStatusClosed)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *PayOrderRepository) GetExpiredOrders(ctx context.Context, now time.Time, limit int) ([]*model.PayOrder, error) {
	var orders []*model.PayOrder
	err := r.db.WithContext(ctx).
		Where("status = ? AND expired_at < ?", model.PayOrderStatusPendingPay, now).
		Order("id ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}
