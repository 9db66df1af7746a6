package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	FlowTypeIncome  = "income"
	FlowTypeExpense = "expense"
	FlowTypeCoupon  = "coupon"
)

const (
	PointsTypeMember   = "member"
	PointsTypeMerchant = "merchant"
)

// AccountFlowCoupon 优惠券发放叙事流水使用的账户类型
const AccountFlowCoupon = "coupon"

// AccountFlow 资金流水表
//
// 只追加，不修改，不删除。balance_after 为本次变动后立即读取的余额。
// order_id / withdrawal_id 显式关联来源单据，退款回冲据此定位原始分账。
type AccountFlow struct {
	ID           int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	FlowNo       string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"flow_no"`
	AccountType  string          `gorm:"type:varchar(50);index;not null" json:"account_type"`
	RelatedUser  *int64          `gorm:"index" json:"related_user"`
	OrderID      *int64          `gorm:"index" json:"order_id"`
	WithdrawalID *int64          `gorm:"index" json:"withdrawal_id"`
	ChangeAmount decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"change_amount"`
	BalanceAfter decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"balance_after"`
	FlowType     string          `gorm:"type:varchar(20);not null" json:"flow_type"`
	IsReversal   bool            `gorm:"not null;default:false" json:"is_reversal"`
	Remark       string          `gorm:"type:varchar(256)" json:"remark"`
	CreatedAt    time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (AccountFlow) TableName() string {
	return "account_flow"
}

// PointsLog 积分流水表，精度为小数点后4位
type PointsLog struct {
	ID           int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID       int64           `gorm:"index;not null" json:"user_id"`
	ChangeAmount decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"change_amount"`
	BalanceAfter decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"balance_after"`
	Type         string          `gorm:"type:varchar(20);not null" json:"type"`
	Reason       string          `gorm:"type:varchar(128)" json:"reason"`
	RelatedOrder *int64          `gorm:"index" json:"related_order"`
	IsReversal   bool            `gorm:"not null;default:false" json:"is_reversal"`
	CreatedAt    time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (PointsLog) TableName() string {
	return "points_log"
}
