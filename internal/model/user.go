package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	UserStatusNormal        int8 = 0
	UserStatusFrozen        int8 = 1
	UserStatusDeleted       int8 = 2
	UserStatusHonorDirector int8 = 9
)

// User 用户表，同时承载会员积分、商家积分与可提现余额
type User struct {
	ID               int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Mobile           string          `gorm:"type:varchar(20);uniqueIndex;not null" json:"mobile"`
	PasswordHash     string          `gorm:"type:varchar(100);not null;default:''" json:"-"`
	Name             string          `gorm:"type:varchar(50);not null;default:''" json:"name"`
	ReferralCode     string          `gorm:"type:varchar(16);index" json:"referral_code"`
	MemberLevel      int             `gorm:"not null;default:0" json:"member_level"`
	MemberPoints     decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0" json:"member_points"`
	MerchantPoints   decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0" json:"merchant_points"`
	PromotionBalance decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0" json:"promotion_balance"` // 可提现余额
	MerchantBalance  decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0" json:"merchant_balance"`
	Status           int8            `gorm:"not null;default:0" json:"status"`
	LevelChangedAt   *time.Time      `json:"level_changed_at"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// UserReferral 推荐关系，每个用户最多一条，写入后不可修改
type UserReferral struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID     int64     `gorm:"uniqueIndex;not null" json:"user_id"`
	ReferrerID int64     `gorm:"index;not null" json:"referrer_id"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (UserReferral) TableName() string {
	return "user_referrals"
}
