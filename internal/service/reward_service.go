package service

import (
	"context"
	"fmt"
	"time"

	"ledgerpay/internal/config"
	"ledgerpay/internal/ledger"
	"ledgerpay/internal/model"
	"ledgerpay/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RewardService 奖励审核、周补贴与优惠券
type RewardService struct {
	db       *gorm.DB
	fin      *config.Finance
	log      *zap.Logger
	now      func() time.Time
	ledger   *ledger.Accessor
	users    *repository.UserRepository
	rewards  *repository.RewardRepository
	accounts *repository.AccountRepository
}

func NewRewardService(d Deps) *RewardService {
	return &RewardService{
		db:       d.DB,
		fin:      d.Finance,
		log:      d.logger(),
		now:      d.clock(),
		ledger:   ledger.NewAccessor(d.DB),
		users:    repository.NewUserRepository(d.DB),
		rewards:  repository.NewRewardRepository(d.DB),
		accounts: repository.NewAccountRepository(d.DB),
	}
}

// AuditRewards 批量审核奖励，只处理仍为 pending 的记录，返回处理条数
//
// 通过：每条奖励发放一张优惠券并写优惠券叙事流水；拒绝：直接置为 rejected，不涉及任何余额。
func (s *RewardService) AuditRewards(ctx context.Context, ids []int64, approve bool, auditor string) (int, error) {
	if len(ids) == 0 {
		return 0, fmt.Errorf("%w: 奖励ID列表不能为空", ErrInvalidParam)
	}
	if auditor == "" {
		auditor = "admin"
	}

	processed := 0
	err := withTxRetry(ctx, s.db, s.log, func(tx *gorm.DB) error {
		processed = 0
		rewards, err := s.rewards.LockPendingByIDs(ctx, tx, ids)
		if err != nil {
			return fmt.Errorf("查询待审核奖励失败: %w", err)
		}
		if len(rewards) == 0 {
			return ErrRewardNotFound
		}

		if !approve {
			pendingIDs := make([]int64, 0, len(rewards))
			for _, r := range rewards {
				pendingIDs = append(pendingIDs, r.ID)
			}
			n, err := s.rewards.RejectPending(ctx, tx, pendingIDs, auditor)
			if err != nil {
				return fmt.Errorf("拒绝奖励失败: %w", err)
			}
			processed = int(n)
			return nil
		}

		for _, r := range rewards {
			coupon := s.newCoupon(r.UserID, model.CouponTypeUser, r.Amount.Round(2), model.CouponSourceReward)
			if err := s.rewards.CreateCoupon(ctx, tx, coupon); err != nil {
				return fmt.Errorf("发放优惠券失败: %w", err)
			}
			if err := s.rewards.MarkApproved(ctx, tx, r.ID, coupon.ID, auditor); err != nil {
				return fmt.Errorf("更新奖励状态失败: %w", err)
			}

			desc := "推荐"
			if r.RewardType == model.RewardTypeTeam && r.Layer != nil {
				desc = fmt.Sprintf("团队L%d", *r.Layer)
			}
			if err := s.ledger.RecordCoupon(ctx, tx, r.UserID, coupon.ID, coupon.Amount, r.OrderID, desc+"奖励发放"); err != nil {
				return err
			}
			processed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.log.Info("奖励审核完成",
		zap.Bool("approve", approve),
		zap.Int("processed", processed),
		zap.String("auditor", auditor))
	return processed, nil
}

func (s *RewardService) newCoupon(userID int64, couponType string, amount decimal.Decimal, source string) *model.Coupon {
	today := truncateDay(s.now())
	return &model.Coupon{
		UserID:     userID,
		CouponType: couponType,
		Amount:     amount,
		Source:     source,
		ValidFrom:  today,
		ValidTo:    today.AddDate(0, 0, s.fin.CouponValidDays),
		Status:     model.CouponStatusUnused,
	}
}

// SubsidyResult 周补贴发放结果
type SubsidyResult struct {
	WeekStart             time.Time       `json:"week_start"`
	PoolBalance           decimal.Decimal `json:"pool_balance"`
	TotalPoints           decimal.Decimal `json:"total_points"`
	PointsValue           decimal.Decimal `json:"points_value"`
	CouponCount           int             `json:"coupon_count"`
	TotalDistributed      decimal.Decimal `json:"total_distributed"`
	CompanyPoints         decimal.Decimal `json:"company_points"`
	CompanyPointsDeducted decimal.Decimal `json:"company_points_deducted"`
}

// DistributeWeeklySubsidy 按积分价值把会员积分与商家积分兑换为优惠券
//
// 积分价值 = min(补贴池余额 / 全平台积分, 单分上限)，公司积分参与分母。
// 补贴池余额本身不扣减；公司积分是否扣减由配置决定。
func (s *RewardService) DistributeWeeklySubsidy(ctx context.Context) (*SubsidyResult, error) {
	week := weekStart(s.now())
	var result *SubsidyResult

	err := withTxRetry(ctx, s.db, s.log, func(tx *gorm.DB) error {
		result = &SubsidyResult{
			WeekStart:             week,
			TotalDistributed:      decimal.Zero,
			CompanyPointsDeducted: decimal.Zero,
		}
		pool, err := s.ledger.Get(ctx, tx, ledger.Pool(model.PoolSubsidy))
		if err != nil {
			return err
		}
		if !pool.IsPositive() {
			return ErrSubsidyPoolEmpty
		}

		holders, err := s.users.ListPointHolders(ctx, tx)
		if err != nil {
			return fmt.Errorf("查询积分用户失败: %w", err)
		}
		companyPoints, err := s.ledger.GetForUpdate(ctx, tx, ledger.Pool(model.PoolCompanyPoints))
		if err != nil {
			return err
		}

		total := decimal.Zero
		for _, u := range holders {
			if u.MemberPoints.IsPositive() {
				total = total.Add(u.MemberPoints)
			}
			if u.MerchantPoints.IsPositive() {
				total = total.Add(u.MerchantPoints)
			}
		}
		if companyPoints.IsPositive() {
			total = total.Add(companyPoints)
		}
		if !total.IsPositive() {
			return ErrNoPointsOutstanding
		}

		value := pool.DivRound(total, 8)
		if value.GreaterThan(s.fin.MaxPointsValue) {
			value = s.fin.MaxPointsValue
		}
		result.PoolBalance = pool
		result.TotalPoints = total
		result.PointsValue = value
		result.CompanyPoints = companyPoints
		if !value.IsPositive() {
			return nil
		}

		for _, u := range holders {
			if u.MemberPoints.IsPositive() {
				if err := s.convertPoints(ctx, tx, u.ID, ledger.FieldMemberPoints, u.MemberPoints, value, result); err != nil {
					return err
				}
			}
			if u.MerchantPoints.IsPositive() {
				if err := s.convertPoints(ctx, tx, u.ID, ledger.FieldMerchantPoints, u.MerchantPoints, value, result); err != nil {
					return err
				}
			}
		}

		if s.fin.SubsidyDeductCompanyPts && companyPoints.IsPositive() {
			if _, err := s.ledger.Add(ctx, tx, ledger.Pool(model.PoolCompanyPoints), companyPoints.Neg(), ledger.Entry{
				Remark: fmt.Sprintf("周补贴 %s 公司积分核销", result.WeekStart.Format("2006-01-02")),
			}); err != nil {
				return fmt.Errorf("扣减公司积分失败: %w", err)
			}
			result.CompanyPointsDeducted = companyPoints
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("周补贴发放完成",
		zap.String("pool_balance", result.PoolBalance.String()),
		zap.String("total_points", result.TotalPoints.String()),
		zap.String("points_value", result.PointsValue.String()),
		zap.Int("coupons", result.CouponCount),
		zap.String("distributed", result.TotalDistributed.String()),
		zap.String("company_points_deducted", result.CompanyPointsDeducted.String()))
	return result, nil
}

// convertPoints 单个积分账户兑换：优惠券面额保留两位，扣减积分 = 面额 / 积分价值，不超过持有量
func (s *RewardService) convertPoints(ctx context.Context, tx *gorm.DB, userID int64, field ledger.Field, points, value decimal.Decimal, result *SubsidyResult) error {
	amount := points.Mul(value).Round(2)
	if !amount.IsPositive() {
		return nil
	}
	deducted := amount.DivRound(value, 4)
	if deducted.GreaterThan(points) {
		deducted = points
	}

	couponType, pointsType := model.CouponTypeUser, model.PointsTypeMember
	if field == ledger.FieldMerchantPoints {
		couponType, pointsType = model.CouponTypeMerchant, model.PointsTypeMerchant
	}

	coupon := s.newCoupon(userID, couponType, amount, model.CouponSourceSubsidy)
	if err := s.rewards.CreateCoupon(ctx, tx, coupon); err != nil {
		return fmt.Errorf("发放补贴优惠券失败: %w", err)
	}

	week := result.WeekStart.Format("2006-01-02")
	if _, err := s.ledger.Add(ctx, tx, ledger.UserAccount(userID, field), deducted.Neg(), ledger.Entry{
		Remark: fmt.Sprintf("周补贴 %s 兑换优惠券#%d", week, coupon.ID),
	}); err != nil {
		return fmt.Errorf("扣减积分失败: %w", err)
	}

	record := &model.WeeklySubsidyRecord{
		UserID:         userID,
		PointsType:     pointsType,
		WeekStart:      result.WeekStart,
		SubsidyAmount:  amount,
		PointsValue:    value,
		PointsBefore:   points,
		PointsDeducted: deducted,
		CouponID:       coupon.ID,
	}
	if err := s.rewards.CreateSubsidyRecord(ctx, tx, record); err != nil {
		return fmt.Errorf("写入补贴记录失败: %w", err)
	}
	if err := s.ledger.RecordCoupon(ctx, tx, userID, coupon.ID, amount, 0, "周补贴发放"); err != nil {
		return err
	}

	result.CouponCount++
	result.TotalDistributed = result.TotalDistributed.Add(amount)
	return nil
}

// SubsidyDistributed 本周是否已发放过补贴
func (s *RewardService) SubsidyDistributed(ctx context.Context) (bool, error) {
	records, err := s.rewards.ListSubsidyRecords(ctx, weekStart(s.now()))
	if err != nil {
		return false, err
	}
	return len(records) > 0, nil
}

func (s *RewardService) ListRewards(ctx context.Context, status, rewardType string, userID int64, limit int) ([]*model.PendingReward, error) {
	return s.rewards.List(ctx, status, rewardType, userID, limit)
}

func (s *RewardService) ListCoupons(ctx context.Context, userID int64, status string) ([]*model.Coupon, error) {
	return s.rewards.ListCoupons(ctx, userID, status)
}

// UseCoupon 核销优惠券，只有有效期内未使用的券可以核销
func (s *RewardService) UseCoupon(ctx context.Context, userID, couponID int64) error {
	if err := s.rewards.UseCoupon(ctx, userID, couponID, s.now(), truncateDay(s.now())); err != nil {
		return err
	}
	s.log.Info("优惠券已核销", zap.Int64("user_id", userID), zap.Int64("coupon_id", couponID))
	return nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// weekStart 所在周的周一零点
func weekStart(t time.Time) time.Time {
	day := truncateDay(t)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}
