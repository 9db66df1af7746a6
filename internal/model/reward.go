package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RewardTypeReferral = "referral"
	RewardTypeTeam     = "team"
)

const (
	RewardStatusPending  = "pending"
	RewardStatusApproved = "approved"
	RewardStatusRejected = "rejected"
)

// PendingReward 待审核奖励。创建时不占用任何余额，审核通过后转换为优惠券
type PendingReward struct {
	ID         int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID     int64           `gorm:"index;not null" json:"user_id"`
	RewardType string          `gorm:"type:varchar(20);not null" json:"reward_type"`
	Amount     decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"amount"`
	OrderID    int64           `gorm:"index;not null" json:"order_id"`
	Layer      *int            `json:"layer"`
	Status     string          `gorm:"type:varchar(20);index;not null" json:"status"`
	CouponID   *int64          `json:"coupon_id"`
	Auditor    string          `gorm:"type:varchar(64)" json:"auditor"`
	AuditedAt  *time.Time      `json:"audited_at"`
	CreatedAt  time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (PendingReward) TableName() string {
	return "pending_rewards"
}

const (
	CouponTypeUser     = "user"
	CouponTypeMerchant = "merchant"
)

const (
	CouponStatusUnused = "unused"
	CouponStatusUsed   = "used"
)

const (
	CouponSourceReward  = "reward"
	CouponSourceSubsidy = "subsidy"
)

// Coupon 优惠券，只由奖励审核和周补贴产生
type Coupon struct {
	ID         int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID     int64           `gorm:"index;not null" json:"user_id"`
	CouponType string          `gorm:"type:varchar(20);not null" json:"coupon_type"`
	Amount     decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"amount"`
	Source     string          `gorm:"type:varchar(20);not null" json:"source"`
	ValidFrom  time.Time       `gorm:"not null" json:"valid_from"`
	ValidTo    time.Time       `gorm:"not null" json:"valid_to"`
	Status     string          `gorm:"type:varchar(20);index;not null" json:"status"`
	UsedAt     *time.Time      `json:"used_at"`
	CreatedAt  time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (Coupon) TableName() string {
	return "coupons"
}

// WeeklySubsidyRecord 周补贴发放记录，points_before 与 points_deducted 可能因舍入不同
type WeeklySubsidyRecord struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID         int64           `gorm:"index;not null" json:"user_id"`
	PointsType     string          `gorm:"type:varchar(20);not null" json:"points_type"`
	WeekStart      time.Time       `gorm:"index;not null" json:"week_start"`
	SubsidyAmount  decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"subsidy_amount"`
	PointsValue    decimal.Decimal `gorm:"type:decimal(18,8);not null" json:"points_value"`
	PointsBefore   decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"points_before"`
	PointsDeducted decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"points_deducted"`
	CouponID       int64           `gorm:"not null" json:"coupon_id"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (WeeklySubsidyRecord) TableName() string {
	return "weekly_subsidy_records"
}
