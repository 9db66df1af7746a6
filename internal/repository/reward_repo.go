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

var ErrCouponNotAvailable = errors.New("优惠券不可用")

type RewardRepository struct {
	db *gorm.DB
}

func NewRewardRepository(db *gorm.DB) *RewardRepository {
	return &RewardRepository{db: db}
}

func (r *RewardRepository) Create(ctx context.Context, tx *gorm.DB, reward *model.PendingReward) error {
	return conn(r.db, tx).WithContext(ctx).Create(reward).Error
}

// LockPendingByIDs 锁定给定 id 中仍处于 pending 状态的奖励，其余 id 忽略
func (r *RewardRepository) LockPendingByIDs(ctx context.Context, tx *gorm.DB, ids []int64) ([]*model.PendingReward, error) {
	var rewards []*model.PendingReward
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ? AND status = ?", ids, model.RewardStatusPending).
		Order("id ASC").
		Find(&rewards).Error
	return rewards, err
}

func (r *RewardRepository) MarkApproved(ctx context.Context, tx *gorm.DB, id, couponID int64, auditor string) error {
	now := time.Now()
	result := tx.WithContext(ctx).
		Model(&model.PendingReward{}).
		Where("id = ? AND status = ?", id, model.RewardStatusPending).
		Updates(map[string]interface{}{
			"status":     model.RewardStatusApproved,
			"coupon_id":  couponID,
			"auditor":    auditor,
			"audited_at": &now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOrderStatusInvalid
	}
	return nil
}

// RejectPending 批量拒绝，返回实际变更条数
func (r *RewardRepository) RejectPending(ctx context.Context, tx *gorm.DB, ids []int64, auditor string) (int64, error) {
	now := time.Now()
	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.PendingReward{}).
		Where("id IN ? AND status = ?", ids, model.RewardStatusPending).
		Updates(map[string]interface{}{
			"status":     model.RewardStatusRejected,
			"auditor":    auditor,
			"audited_at": &now,
		})
	return result.RowsAffected, result.Error
}

// ListByOrder status 为空时返回该订单全部奖励
func (r *RewardRepository) ListByOrder(ctx context.Context, tx *gorm.DB, orderID int64, status string) ([]*model.PendingReward, error) {
	query := conn(r.db, tx).WithContext(ctx).Where("order_id = ?", orderID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var rewards []*model.PendingReward
	err := query.Order("id ASC").Find(&rewards).Error
	return rewards, err
}

func (r *RewardRepository) List(ctx context.Context, status, rewardType string, userID int64, limit int) ([]*model.PendingReward, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := r.db.WithContext(ctx).Model(&model.PendingReward{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if rewardType != "" {
		query = query.Where("reward_type = ?", rewardType)
	}
	if userID > 0 {
		query = query.Where("user_id = ?", userID)
	}
	var rewards []*model.PendingReward
	err := query.Order("id DESC").Limit(limit).Find(&rewards).Error
	return rewards, err
}

// ==================== 优惠券 ====================

func (r *RewardRepository) CreateCoupon(ctx context.Context, tx *gorm.DB, coupon *model.Coupon) error {
	return conn(r.db, tx).WithContext(ctx).Create(coupon).Error
}

// SumUnusedCoupons 用户未使用优惠券面额合计
func (r *RewardRepository) SumUnusedCoupons(ctx context.Context, tx *gorm.DB, userID int64) (decimal.Decimal, error) {
	var coupons []*model.Coupon
	err := conn(r.db, tx).WithContext(ctx).
		Select("amount").
		Where("user_id = ? AND status = ?", userID, model.CouponStatusUnused).
		Find(&coupons).Error
	if err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, c := range coupons {
		sum = sum.Add(c.Amount)
	}
	return sum, nil
}

// CountUnusedCoupons 全平台未使用优惠券
func (r *RewardRepository) CountUnusedCoupons(ctx context.Context) (int64, decimal.Decimal, error) {
	var coupons []*model.Coupon
	err := r.db.WithContext(ctx).
		Select("amount").
		Where("status = ?", model.CouponStatusUnused).
		Find(&coupons).Error
	if err != nil {
		return 0, decimal.Zero, err
	}
	sum := decimal.Zero
	for _, c := range coupons {
		sum = sum.Add(c.Amount)
	}
	return int64(len(coupons)), sum, nil
}

// UseCoupon unused -> used，只在有效期内生效
//
// valid_from / valid_to 为日期，today 是当天零点。
func (r *RewardRepository) UseCoupon(ctx context.Context, userID, couponID int64, now, today time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&model.Coupon{}).
		Where("id = ? AND user_id = ? AND status = ? AND valid_from <= ? AND valid_to >= ?",
			couponID, userID, model.CouponStatusUnused, today, today).
		Updates(map[string]interface{}{
			"status":  model.CouponStatusUsed,
			"used_at": &now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCouponNotAvailable
	}
	return nil
}

func (r *RewardRepository) ListCoupons(ctx context.Context, userID int64, status string) ([]*model.Coupon, error) {
	query := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var coupons []*model.Coupon
	err := query.Order("id DESC").Find(&coupons).Error
	return coupons, err
}

// ==================== 周补贴 ====================

func (r *RewardRepository) CreateSubsidyRecord(ctx context.Context, tx *gorm.DB, record *model.WeeklySubsidyRecord) error {
	return conn(r.db, tx).WithContext(ctx).Create(record).Error
}

func (r *RewardRepository) ListSubsidyRecords(ctx context.Context, weekStart time.Time) ([]*model.WeeklySubsidyRecord, error) {
	var records []*model.WeeklySubsidyRecord
	err := r.db.WithContext(ctx).
		Where("week_start = ?", weekStart).
		Order("id ASC").
		Find(&records).Error
	return records, err
}
