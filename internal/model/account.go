package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PoolType 资金池账户类型
type PoolType string

const (
	PoolPlatformRevenue PoolType = "platform_revenue_pool" // 平台收入池
	PoolPublicWelfare   PoolType = "public_welfare"        // 公益基金
	PoolMaintain        PoolType = "maintain_pool"         // 平台维护
	PoolSubsidy         PoolType = "subsidy_pool"          // 周补贴池
	PoolDirector        PoolType = "director_pool"         // 荣誉董事分红
	PoolShop            PoolType = "shop_pool"             // 社区店
	PoolCity            PoolType = "city_pool"             // 城市运营中心
	PoolBranch          PoolType = "branch_pool"           // 大区分公司
	PoolFund            PoolType = "fund_pool"             // 事业发展基金
	PoolCompanyPoints   PoolType = "company_points"        // 公司积分
	PoolCompanyBalance  PoolType = "company_balance"       // 公司余额（提现个税）
	PoolWithdrawalPaid  PoolType = "withdrawal_paid"       // 提现已出款累计
)

// PoolNames 初始化时写入的资金池名称
var PoolNames = map[PoolType]string{
	PoolPlatformRevenue: "平台收入池",
	PoolPublicWelfare:   "公益基金",
	PoolMaintain:        "平台维护",
	PoolSubsidy:         "周补贴池",
	PoolDirector:        "荣誉董事分红",
	PoolShop:            "社区店",
	PoolCity:            "城市运营中心",
	PoolBranch:          "大区分公司",
	PoolFund:            "事业发展基金",
	PoolCompanyPoints:   "公司积分",
	PoolCompanyBalance:  "公司余额",
	PoolWithdrawalPaid:  "提现出款",
}

// SeedPools 启动时确保存在的资金池，顺序即报表展示顺序
var SeedPools = []PoolType{
	PoolPlatformRevenue, PoolPublicWelfare, PoolMaintain, PoolSubsidy, PoolDirector,
	PoolShop, PoolCity, PoolBranch, PoolFund, PoolCompanyPoints, PoolCompanyBalance, PoolWithdrawalPaid,
}

func PoolName(p PoolType) string {
	if name, ok := PoolNames[p]; ok {
		return name
	}
	return string(p)
}

// FinanceAccount 资金池账户表，每个 account_type 只有一行
type FinanceAccount struct {
	ID          int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountName string          `gorm:"type:varchar(64);not null" json:"account_name"`
	AccountType string          `gorm:"type:varchar(50);uniqueIndex;not null" json:"account_type"`
	Balance     decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0" json:"balance"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (FinanceAccount) TableName() string {
	return "finance_accounts"
}
