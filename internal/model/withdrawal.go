package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	WithdrawalTypeUser     = "user"
	WithdrawalTypeMerchant = "merchant"
)

const (
	WithdrawalStatusPendingAuto   = "pending_auto"
	WithdrawalStatusPendingManual = "pending_manual"
	WithdrawalStatusApproved      = "approved"
	WithdrawalStatusRejected      = "rejected"
)

// Withdrawal 提现申请。余额在申请时即冻结（扣减），拒绝时退回
type Withdrawal struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	WithdrawalNo   string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"withdrawal_no"`
	UserID         int64           `gorm:"index;not null" json:"user_id"`
	WithdrawalType string          `gorm:"type:varchar(20);not null" json:"withdrawal_type"`
	Amount         decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"amount"`
	TaxAmount      decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"tax_amount"`
	ActualAmount   decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"actual_amount"`
	Status         string          `gorm:"type:varchar(20);index;not null" json:"status"`
	Auditor        string          `gorm:"type:varchar(64)" json:"auditor"`
	AuditRemark    string          `gorm:"type:varchar(256)" json:"audit_remark"`
	ProcessedAt    *time.Time      `json:"processed_at"`
	CreatedAt      time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Withdrawal) TableName() string {
	return "withdrawals"
}

// IsPending 是否处于待审核状态
func (w *Withdrawal) IsPending() bool {
	return w.Status == WithdrawalStatusPendingAuto || w.Status == WithdrawalStatusPendingManual
}
