package service

import (
	"context"
	"testing"
	"time"

	"ledgerpay/internal/model"
	"ledgerpay/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createPendingReward(t *testing.T, d Deps, userID int64, rewardType, amount string) *model.PendingReward {
	t.Helper()
	r := &model.PendingReward{
		UserID:     userID,
		RewardType: rewardType,
		Amount:     dec(amount),
		OrderID:    1,
		Status:     model.RewardStatusPending,
	}
	if rewardType == model.RewardTypeTeam {
		layer := 2
		r.Layer = &layer
	}
	require.NoError(t, d.DB.Create(r).Error)
	return r
}

func TestAuditRewards_Approve(t *testing.T) {
	d := newTestDeps(t)
	svc := NewRewardService(d)
	ctx := context.Background()

	u := createUser(t, d.DB, 1, "0")
	r1 := createPendingReward(t, d, u.ID, model.RewardTypeReferral, "50")
	r2 := createPendingReward(t, d, u.ID, model.RewardTypeTeam, "50")

	n, err := svc.AuditRewards(ctx, []int64{r1.ID, r2.ID}, true, "admin:1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	coupons, err := svc.ListCoupons(ctx, u.ID, model.CouponStatusUnused)
	require.NoError(t, err)
	require.Len(t, coupons, 2)
	for _, c := range coupons {
		assert.Equal(t, model.CouponSourceReward, c.Source)
		assert.Equal(t, model.CouponTypeUser, c.CouponType)
		assertDec(t, "50", c.Amount)
		assert.InDelta(t, 30*24, c.ValidTo.Sub(c.ValidFrom).Hours(), 1)
	}

	var approved model.PendingReward
	require.NoError(t, d.DB.First(&approved, r1.ID).Error)
	assert.Equal(t, model.RewardStatusApproved, approved.Status)
	assert.Equal(t, "admin:1", approved.Auditor)
	require.NotNil(t, approved.CouponID)

	var flows []model.AccountFlow
	require.NoError(t, d.DB.Where("flow_type = ?", model.FlowTypeCoupon).Order("id ASC").Find(&flows).Error)
	require.Len(t, flows, 2)
	assertDec(t, "0", flows[1].ChangeAmount)
	assertDec(t, "100", flows[1].BalanceAfter)

	// 奖励不涉及可提现余额
	assertDec(t, "0", reloadUser(t, d.DB, u.ID).PromotionBalance)

	_, err = svc.AuditRewards(ctx, []int64{r1.ID}, true, "admin:1")
	assert.ErrorIs(t, err, ErrRewardNotFound)
}

func TestAuditRewards_Reject(t *testing.T) {
	d := newTestDeps(t)
	svc := NewRewardService(d)
	ctx := context.Background()

	u := createUser(t, d.DB, 1, "0")
	r1 := createPendingReward(t, d, u.ID, model.RewardTypeReferral, "50")

	n, err := svc.AuditRewards(ctx, []int64{r1.ID, 9999}, false, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var rejected model.PendingReward
	require.NoError(t, d.DB.First(&rejected, r1.ID).Error)
	assert.Equal(t, model.RewardStatusRejected, rejected.Status)
	assert.Equal(t, "admin", rejected.Auditor)

	coupons, err := svc.ListCoupons(ctx, u.ID, "")
	require.NoError(t, err)
	assert.Empty(t, coupons)

	_, err = svc.AuditRewards(ctx, nil, true, "admin")
	assert.ErrorIs(t, err, ErrInvalidParam)
}

func fixedClock(d *Deps, at time.Time) {
	d.Now = func() time.Time { return at }
}

func TestDistributeWeeklySubsidy(t *testing.T) {
	d := newTestDeps(t)
	fixedClock(&d, time.Date(2026, 10, 14, 10, 0, 0, 0, time.Local))
	svc := NewRewardService(d)
	ctx := context.Background()

	member := createUser(t, d.DB, 1, "3000")
	merchant := createUser(t, d.DB, 0, "0")
	require.NoError(t, d.DB.Model(merchant).Update("merchant_points", dec("1000")).Error)
	setPoolBalance(t, d.DB, model.PoolSubsidy, "100")
	setPoolBalance(t, d.DB, model.PoolCompanyPoints, "1000")

	done, err := svc.SubsidyDistributed(ctx)
	require.NoError(t, err)
	assert.False(t, done)

	result, err := svc.DistributeWeeklySubsidy(ctx)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 12, 0, 0, 0, 0, time.Local), result.WeekStart)
	assertDec(t, "5000", result.TotalPoints)
	assertDec(t, "0.02", result.PointsValue)
	assert.Equal(t, 2, result.CouponCount)
	assertDec(t, "80", result.TotalDistributed)
	assertDec(t, "0", result.CompanyPointsDeducted)

	assertDec(t, "0", reloadUser(t, d.DB, member.ID).MemberPoints)
	assertDec(t, "0", reloadUser(t, d.DB, merchant.ID).MerchantPoints)
	// 补贴池不扣减，公司积分默认不核销
	assertDec(t, "100", poolBalance(t, d.DB, model.PoolSubsidy))
	assertDec(t, "1000", poolBalance(t, d.DB, model.PoolCompanyPoints))

	coupons, err := svc.ListCoupons(ctx, merchant.ID, "")
	require.NoError(t, err)
	require.Len(t, coupons, 1)
	assert.Equal(t, model.CouponTypeMerchant, coupons[0].CouponType)
	assertDec(t, "20", coupons[0].Amount)

	var records []model.WeeklySubsidyRecord
	require.NoError(t, d.DB.Order("id ASC").Find(&records).Error)
	require.Len(t, records, 2)
	assert.Equal(t, model.PointsTypeMember, records[0].PointsType)
	assertDec(t, "3000", records[0].PointsDeducted)

	done, err = svc.SubsidyDistributed(ctx)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestDistributeWeeklySubsidy_ValueCapAndCompanyDeduction(t *testing.T) {
	d := newTestDeps(t)
	d.Finance.SubsidyDeductCompanyPts = true
	svc := NewRewardService(d)

	u := createUser(t, d.DB, 1, "7")
	setPoolBalance(t, d.DB, model.PoolSubsidy, "1")
	setPoolBalance(t, d.DB, model.PoolCompanyPoints, "3")

	result, err := svc.DistributeWeeklySubsidy(context.Background())
	require.NoError(t, err)
	// 1 / 10 = 0.1，超过单分上限
	assertDec(t, "0.02", result.PointsValue)
	assertDec(t, "0.14", result.TotalDistributed)
	assertDec(t, "3", result.CompanyPointsDeducted)

	assertDec(t, "0", reloadUser(t, d.DB, u.ID).MemberPoints)
	assertDec(t, "0", poolBalance(t, d.DB, model.PoolCompanyPoints))
}

func TestDistributeWeeklySubsidy_Aborts(t *testing.T) {
	d := newTestDeps(t)
	svc := NewRewardService(d)
	ctx := context.Background()

	createUser(t, d.DB, 1, "100")
	_, err := svc.DistributeWeeklySubsidy(ctx)
	assert.ErrorIs(t, err, ErrSubsidyPoolEmpty)

	require.NoError(t, d.DB.Model(&model.User{}).Where("1 = 1").Update("member_points", dec("0")).Error)
	setPoolBalance(t, d.DB, model.PoolSubsidy, "100")
	_, err = svc.DistributeWeeklySubsidy(ctx)
	assert.ErrorIs(t, err, ErrNoPointsOutstanding)

	var coupons int64
	require.NoError(t, d.DB.Model(&model.Coupon{}).Count(&coupons).Error)
	assert.Zero(t, coupons)
}

func TestUseCoupon(t *testing.T) {
	d := newTestDeps(t)
	svc := NewRewardService(d)
	ctx := context.Background()

	u := createUser(t, d.DB, 1, "0")
	r := createPendingReward(t, d, u.ID, model.RewardTypeReferral, "50")
	_, err := svc.AuditRewards(ctx, []int64{r.ID}, true, "admin")
	require.NoError(t, err)

	coupons, err := svc.ListCoupons(ctx, u.ID, "")
	require.NoError(t, err)
	require.Len(t, coupons, 1)

	other := createUser(t, d.DB, 0, "0")
	assert.ErrorIs(t, svc.UseCoupon(ctx, other.ID, coupons[0].ID), repository.ErrCouponNotAvailable)

	require.NoError(t, svc.UseCoupon(ctx, u.ID, coupons[0].ID))
	assert.ErrorIs(t, svc.UseCoupon(ctx, u.ID, coupons[0].ID), repository.ErrCouponNotAvailable)

	used, err := svc.ListCoupons(ctx, u.ID, model.CouponStatusUsed)
	require.NoError(t, err)
	require.Len(t, used, 1)
	assert.NotNil(t, used[0].UsedAt)
}

func TestWeekStart(t *testing.T) {
	sunday := time.Date(2026, 10, 18, 23, 0, 0, 0, time.Local)
	assert.Equal(t, time.Date(2026, 10, 12, 0, 0, 0, 0, time.Local), weekStart(sunday))
	monday := time.Date(2026, 10, 12, 0, 30, 0, 0, time.Local)
	assert.Equal(t, time.Date(2026, 10, 12, 0, 0, 0, 0, time.Local), weekStart(monday))
}
