package service

import (
	"fmt"
	"testing"

	"ledgerpay/internal/config"
	"ledgerpay/internal/infrastructure/database"
	"ledgerpay/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testMerchantID = 0

func testFinance(t *testing.T) *config.Finance {
	t.Helper()
	fc := config.FinanceConfig{
		PlatformMerchantID:      testMerchantID,
		MemberProductPrice:      "100",
		TaxRate:                 "0.06",
		MaxPointsValue:          "0.02",
		PointsDiscountRate:      "0.1",
		MaxDiscountRatio:        "0.5",
		MerchantShare:           "0.8",
		MerchantPointsRate:      "0.2",
		CompanyPointsRate:       "0.2",
		RewardRate:              "0.5",
		WithdrawManualThreshold: "5000",
		CouponValidDays:         30,
		MaxTeamLayer:            6,
		MaxMemberLevel:          6,
		MaxPurchasePerDay:       2,
		DirectorDirectThreshold: 3,
		DirectorTeamThreshold:   10,
		Allocations: map[string]string{
			"platform_revenue_pool": "0.80",
			"public_welfare":        "0.01",
			"maintain_pool":         "0.01",
			"subsidy_pool":          "0.12",
			"director_pool":         "0.02",
			"shop_pool":             "0.01",
			"city_pool":             "0.01",
			"branch_pool":           "0.005",
			"fund_pool":             "0.015",
		},
	}
	fin, err := fc.ParseFinance()
	require.NoError(t, err)
	return fin
}

// newTestDeps 每个测试独占一个内存库，单连接保证事务内外看到同一份数据
func newTestDeps(t *testing.T) Deps {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return Deps{
		DB:      db,
		Finance: testFinance(t),
		Topics: config.KafkaTopicConfig{
			OrderSettled:      "ledger.order.settled",
			OrderRefunded:     "ledger.order.refunded",
			WithdrawalAudited: "ledger.withdrawal.audited",
			PaymentLate:       "ledger.payment.late",
		},
		Logger: zap.NewNop(),
	}
}

var mobileSeq int

func createUser(t *testing.T, db *gorm.DB, level int, memberPoints string) *model.User {
	t.Helper()
	mobileSeq++
	u := &model.User{
		Mobile:       fmt.Sprintf("139%08d", mobileSeq),
		Name:         fmt.Sprintf("user%d", mobileSeq),
		ReferralCode: fmt.Sprintf("R%05d", mobileSeq),
		MemberLevel:  level,
		MemberPoints: dec(memberPoints),
	}
	require.NoError(t, db.Create(u).Error)
	return u
}

func setReferrer(t *testing.T, db *gorm.DB, userID, referrerID int64) {
	t.Helper()
	require.NoError(t, db.Create(&model.UserReferral{UserID: userID, ReferrerID: referrerID}).Error)
}

func createProduct(t *testing.T, db *gorm.DB, merchantID int64, price string, member bool) *model.Product {
	t.Helper()
	p := &model.Product{
		Name:            "测试商品",
		UserID:          merchantID,
		Price:           decimal.NullDecimal{Decimal: dec(price), Valid: true},
		Stock:           100,
		IsMemberProduct: member,
		Status:          model.ProductStatusListed,
	}
	require.NoError(t, db.Create(p).Error)
	return p
}

func reloadUser(t *testing.T, db *gorm.DB, id int64) *model.User {
	t.Helper()
	var u model.User
	require.NoError(t, db.First(&u, id).Error)
	return &u
}

func poolBalance(t *testing.T, db *gorm.DB, pool model.PoolType) decimal.Decimal {
	t.Helper()
	var acc model.FinanceAccount
	require.NoError(t, db.Where("account_type = ?", string(pool)).First(&acc).Error)
	return acc.Balance
}

func setPoolBalance(t *testing.T, db *gorm.DB, pool model.PoolType, amount string) {
	t.Helper()
	require.NoError(t, db.Model(&model.FinanceAccount{}).
		Where("account_type = ?", string(pool)).
		Update("balance", dec(amount)).Error)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// assertDec 按4位小数比较，屏蔽 sqlite 浮点存储带来的尾差
func assertDec(t *testing.T, expected string, actual decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	require.Equal(t, dec(expected).StringFixed(4), actual.Round(4).StringFixed(4), msgAndArgs...)
}
