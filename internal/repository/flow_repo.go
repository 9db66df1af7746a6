package repository

import (
	"context"
	"errors"
	"time"

	"ledgerpay/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// FlowRepository 资金流水与积分流水，两张表都只追加
type FlowRepository struct {
	db *gorm.DB
}

func NewFlowRepository(db *gorm.DB) *FlowRepository {
	return &FlowRepository{db: db}
}

func (r *FlowRepository) CreateFlow(ctx context.Context, tx *gorm.DB, flow *model.AccountFlow) error {
	return conn(r.db, tx).WithContext(ctx).Create(flow).Error
}

func (r *FlowRepository) CreatePointsLog(ctx context.Context, tx *gorm.DB, log *model.PointsLog) error {
	return conn(r.db, tx).WithContext(ctx).Create(log).Error
}

// HasOrderReversal 订单是否已经做过回冲
func (r *FlowRepository) HasOrderReversal(ctx context.Context, tx *gorm.DB, orderID int64) (bool, error) {
	db := conn(r.db, tx).WithContext(ctx)

	var flows int64
	if err := db.Model(&model.AccountFlow{}).
		Where("order_id = ? AND is_reversal = ?", orderID, true).
		Count(&flows).Error; err != nil {
		return false, err
	}
	if flows > 0 {
		return true, nil
	}

	var logs int64
	if err := db.Model(&model.PointsLog{}).
		Where("related_order = ? AND is_reversal = ?", orderID, true).
		Count(&logs).Error; err != nil {
		return false, err
	}
	return logs > 0, nil
}

// ListOrderFlows 订单产生的原始资金流水（不含回冲与优惠券叙事流水）
func (r *FlowRepository) ListOrderFlows(ctx context.Context, tx *gorm.DB, orderID int64) ([]*model.AccountFlow, error) {
	var flows []*model.AccountFlow
	err := conn(r.db, tx).WithContext(ctx).
		Where("order_id = ? AND is_reversal = ? AND flow_type <> ?", orderID, false, model.FlowTypeCoupon).
		Order("id ASC").
		Find(&flows).Error
	return flows, err
}

// ListOrderPointsLogs 订单产生的原始积分流水
func (r *FlowRepository) ListOrderPointsLogs(ctx context.Context, tx *gorm.DB, orderID int64) ([]*model.PointsLog, error) {
	var logs []*model.PointsLog
	err := conn(r.db, tx).WithContext(ctx).
		Where("related_order = ? AND is_reversal = ?", orderID, false).
		Order("id ASC").
		Find(&logs).Error
	return logs, err
}

// FindWithdrawalFreeze 查询提现申请时的冻结流水，不存在时返回 nil
func (r *FlowRepository) FindWithdrawalFreeze(ctx context.Context, tx *gorm.DB, withdrawalID int64, accountType string) (*model.AccountFlow, error) {
	var flow model.AccountFlow
	err := conn(r.db, tx).WithContext(ctx).
		Where("withdrawal_id = ? AND account_type = ? AND change_amount < 0", withdrawalID, accountType).
		First(&flow).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &flow, nil
}

type FlowFilter struct {
	AccountType string
	UserID      int64
	OrderID     int64
	Start       *time.Time
	End         *time.Time
	Page        int
	PageSize    int
}

func (f *FlowFilter) normalize() {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 || f.PageSize > 200 {
		f.PageSize = 20
	}
}

func (r *FlowRepository) ListFlows(ctx context.Context, f FlowFilter) ([]*model.AccountFlow, int64, error) {
	f.normalize()

	query := r.db.WithContext(ctx).Model(&model.AccountFlow{})
	if f.AccountType != "" {
		query = query.Where("account_type = ?", f.AccountType)
	}
	if f.UserID > 0 {
		query = query.Where("related_user = ?", f.UserID)
	}
	if f.OrderID > 0 {
		query = query.Where("order_id = ?", f.OrderID)
	}
	if f.Start != nil {
		query = query.Where("created_at >= ?", *f.Start)
	}
	if f.End != nil {
		query = query.Where("created_at < ?", *f.End)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var flows []*model.AccountFlow
	err := query.Order("id DESC").
		Offset((f.Page - 1) * f.PageSize).
		Limit(f.PageSize).
		Find(&flows).Error
	return flows, total, err
}

type PointsFilter struct {
	UserID   int64
	Type     string
	OrderID  int64
	Page     int
	PageSize int
}

func (r *FlowRepository) ListPointsLogs(ctx context.Context, f PointsFilter) ([]*model.PointsLog, int64, error) {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 || f.PageSize > 200 {
		f.PageSize = 20
	}

	query := r.db.WithContext(ctx).Model(&model.PointsLog{})
	if f.UserID > 0 {
		query = query.Where("user_id = ?", f.UserID)
	}
	if f.Type != "" {
		query = query.Where("type = ?", f.Type)
	}
	if f.OrderID > 0 {
		query = query.Where("related_order = ?", f.OrderID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var logs []*model.PointsLog
	err := query.Order("id DESC").
		Offset((f.Page - 1) * f.PageSize).
		Limit(f.PageSize).
		Find(&logs).Error
	return logs, total, err
}

// FlowTotals 一段时间内某账户的收支合计
type FlowTotals struct {
	Income  decimal.Decimal `json:"income"`
	Expense decimal.Decimal `json:"expense"`
	Count   int64           `json:"count"`
}

func (r *FlowRepository) SumByAccount(ctx context.Context, accountType string, start, end time.Time) (*FlowTotals, error) {
	var flows []*model.AccountFlow
	err := r.db.WithContext(ctx).
		Select("change_amount").
		Where("account_type = ? AND created_at >= ? AND created_at < ?", accountType, start, end).
		Find(&flows).Error
	if err != nil {
		return nil, err
	}

	totals := &FlowTotals{Income: decimal.Zero, Expense: decimal.Zero}
	for _, f := range flows {
		if f.ChangeAmount.IsPositive() {
			totals.Income = totals.Income.Add(f.ChangeAmount)
		} else {
			totals.Expense = totals.Expense.Add(f.ChangeAmount.Neg())
		}
		totals.Count++
	}
	return totals, nil
}
