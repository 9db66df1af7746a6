package repository

import (
	"context"
	"errors"
	"time"

	"ledgerpay/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrOrderNotFound      = errors.New("订单不存在")
	ErrOrderStatusInvalid = errors.New("订单状态不合法")
)

// OrderRepository 结算订单
type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create 写入订单及订单明细
func (r *OrderRepository) Create(ctx context.Context, tx *gorm.DB, order *model.Order, item *model.OrderItem) error {
	db := conn(r.db, tx).WithContext(ctx)
	if err := db.Create(order).Error; err != nil {
		return err
	}
	item.OrderID = order.ID
	return db.Create(item).Error
}

func (r *OrderRepository) ExistsByNumber(ctx context.Context, tx *gorm.DB, orderNumber string) (bool, error) {
	var count int64
	err := conn(r.db, tx).WithContext(ctx).
		Model(&model.Order{}).
		Where("order_number = ?", orderNumber).
		Count(&count).Error
	return count > 0, err
}

func (r *OrderRepository) GetByNumber(ctx context.Context, tx *gorm.DB, orderNumber string) (*model.Order, error) {
	var order model.Order
	err := conn(r.db, tx).WithContext(ctx).Where("order_number = ?", orderNumber).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *OrderRepository) GetByNumberForUpdate(ctx context.Context, tx *gorm.DB, orderNumber string) (*model.Order, error) {
	var order model.Order
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_number = ?", orderNumber).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// CountMemberOrdersSince 统计时间窗口内未退款的会员商品订单
func (r *OrderRepository) CountMemberOrdersSince(ctx context.Context, tx *gorm.DB, userID int64, since time.Time) (int64, error) {
	var count int64
	err := conn(r.db, tx).WithContext(ctx).
		Model(&model.Order{}).
		Where("user_id = ? AND is_member_order = ? AND status <> ? AND created_at >= ?",
			userID, true, model.OrderStatusRefunded, since).
		Count(&count).Error
	return count, err
}

// MarkRefunded completed -> refunded，条件更新保证只生效一次
func (r *OrderRepository) MarkRefunded(ctx context.Context, tx *gorm.DB, orderID int64) error {
	now := time.Now()
	result := tx.WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ? AND status = ?", orderID, model.OrderStatusCompleted).
		Updates(map[string]interface{}{
			"status":      model.OrderStatusRefunded,
			"refunded_at": &now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOrderStatusInvalid
	}
	return nil
}

func (r *OrderRepository) GetItems(ctx context.Context, orderID int64) ([]*model.OrderItem, error) {
	var items []*model.OrderItem
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("id ASC").Find(&items).Error
	return items, err
}

func (r *OrderRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.Order, int64, error) {
	var orders []*model.Order
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Order{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err = query.Order("id DESC").Offset(offset).Limit(pageSize).Find(&orders).Error
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// PointsDiscountTotals 积分抵扣订单汇总
type PointsDiscountTotals struct {
	Orders         int64           `json:"total_orders"`
	PointsUsed     decimal.Decimal `json:"total_points_used"`
	DiscountAmount decimal.Decimal `json:"total_discount_amount"`
}

// ListPointsDiscounted 时间段内使用积分抵扣的订单，分页返回明细与全量汇总
func (r *OrderRepository) ListPointsDiscounted(ctx context.Context, start, end time.Time, page, pageSize int) ([]*model.Order, *PointsDiscountTotals, error) {
	query := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("points_discount > 0 AND created_at >= ? AND created_at < ?", start, end)

	var all []*model.Order
	if err := query.Select("points_used", "points_discount").Find(&all).Error; err != nil {
		return nil, nil, err
	}
	totals := &PointsDiscountTotals{Orders: int64(len(all)), PointsUsed: decimal.Zero, DiscountAmount: decimal.Zero}
	for _, o := range all {
		totals.PointsUsed = totals.PointsUsed.Add(o.PointsUsed)
		totals.DiscountAmount = totals.DiscountAmount.Add(o.PointsDiscount)
	}

	var orders []*model.Order
	err := r.db.WithContext(ctx).
		Where("points_discount > 0 AND created_at >= ? AND created_at < ?", start, end).
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&orders).Error
	return orders, totals, err
}
