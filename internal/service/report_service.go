package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledgerpay/internal/config"
	"ledgerpay/internal/model"
	"ledgerpay/internal/repository"

	"github.com/shopspring/decimal"
)

// ReportService 只读报表，供后台接口使用
type ReportService struct {
	fin      *config.Finance
	users    *repository.UserRepository
	accounts *repository.AccountRepository
	flows    *repository.FlowRepository
	orders   *repository.OrderRepository
	rewards  *repository.RewardRepository
}

func NewReportService(d Deps) *ReportService {
	return &ReportService{
		fin:      d.Finance,
		users:    repository.NewUserRepository(d.DB),
		accounts: repository.NewAccountRepository(d.DB),
		flows:    repository.NewFlowRepository(d.DB),
		orders:   repository.NewOrderRepository(d.DB),
		rewards:  repository.NewRewardRepository(d.DB),
	}
}

type AssetTotals struct {
	Points  decimal.Decimal `json:"total_points"`
	Balance decimal.Decimal `json:"total_balance"`
}

type PoolBalance struct {
	Name    string          `json:"name"`
	Type    string          `json:"type"`
	Balance decimal.Decimal `json:"balance"`
}

type CouponTotals struct {
	UnusedCount int64           `json:"unused_count"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

type FinanceSummary struct {
	UserAssets     AssetTotals     `json:"user_assets"`
	MerchantAssets AssetTotals     `json:"merchant_assets"`
	Pools          []*PoolBalance  `json:"platform_pools"`
	PublicWelfare  decimal.Decimal `json:"public_welfare_balance"`
	Coupons        CouponTotals    `json:"coupons_summary"`
}

// FinanceSummary 用户/商家资产、资金池余额与未使用优惠券
func (s *ReportService) FinanceSummary(ctx context.Context) (*FinanceSummary, error) {
	assets, err := s.users.SumAssets(ctx)
	if err != nil {
		return nil, fmt.Errorf("汇总用户资产失败: %w", err)
	}
	accounts, err := s.accounts.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询资金池失败: %w", err)
	}
	count, amount, err := s.rewards.CountUnusedCoupons(ctx)
	if err != nil {
		return nil, fmt.Errorf("统计优惠券失败: %w", err)
	}

	summary := &FinanceSummary{
		UserAssets:     AssetTotals{Points: assets.MemberPoints, Balance: assets.PromotionBalance},
		MerchantAssets: AssetTotals{Points: assets.MerchantPoints, Balance: assets.MerchantBalance},
		Pools:          make([]*PoolBalance, 0, len(accounts)),
		PublicWelfare:  decimal.Zero,
		Coupons:        CouponTotals{UnusedCount: count, TotalAmount: amount},
	}
	for _, a := range accounts {
		if a.AccountType == string(model.PoolPublicWelfare) {
			summary.PublicWelfare = a.Balance
		}
		summary.Pools = append(summary.Pools, &PoolBalance{
			Name:    a.AccountName,
			Type:    a.AccountType,
			Balance: a.Balance,
		})
	}
	return summary, nil
}

func (s *ReportService) ListAccountFlows(ctx context.Context, f repository.FlowFilter) ([]*model.AccountFlow, int64, error) {
	return s.flows.ListFlows(ctx, f)
}

func (s *ReportService) ListPointsLogs(ctx context.Context, f repository.PointsFilter) ([]*model.PointsLog, int64, error) {
	return s.flows.ListPointsLogs(ctx, f)
}

type WelfareReport struct {
	Start   time.Time              `json:"start"`
	End     time.Time              `json:"end"`
	Totals  *repository.FlowTotals `json:"summary"`
	Net     decimal.Decimal        `json:"net_balance"`
	Details []*model.AccountFlow   `json:"details"`
	Total   int64                  `json:"total"`
}

// PublicWelfareReport 公益基金在 [start, end) 内的收支
func (s *ReportService) PublicWelfareReport(ctx context.Context, start, end time.Time, page, pageSize int) (*WelfareReport, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("%w: 结束时间必须晚于开始时间", ErrInvalidParam)
	}
	account := string(model.PoolPublicWelfare)
	totals, err := s.flows.SumByAccount(ctx, account, start, end)
	if err != nil {
		return nil, fmt.Errorf("汇总公益基金流水失败: %w", err)
	}
	details, total, err := s.flows.ListFlows(ctx, repository.FlowFilter{
		AccountType: account,
		Start:       &start,
		End:         &end,
		Page:        page,
		PageSize:    pageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("查询公益基金流水失败: %w", err)
	}
	return &WelfareReport{
		Start:   start,
		End:     end,
		Totals:  totals,
		Net:     totals.Income.Sub(totals.Expense),
		Details: details,
		Total:   total,
	}, nil
}

type PointsDeductionReport struct {
	Totals   *repository.PointsDiscountTotals `json:"summary"`
	Records  []*model.Order                   `json:"records"`
	Page     int                              `json:"page"`
	PageSize int                              `json:"page_size"`
}

// PointsDeductionReport 积分抵扣订单报表
func (s *ReportService) PointsDeductionReport(ctx context.Context, start, end time.Time, page, pageSize int) (*PointsDeductionReport, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 20
	}
	orders, totals, err := s.orders.ListPointsDiscounted(ctx, start, end, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("查询积分抵扣订单失败: %w", err)
	}
	return &PointsDeductionReport{Totals: totals, Records: orders, Page: page, PageSize: pageSize}, nil
}

type ChainNode struct {
	Layer       int                    `json:"layer"`
	UserID      int64                  `json:"user_id"`
	Name        string                 `json:"name"`
	MemberLevel int                    `json:"member_level"`
	IsReferrer  bool                   `json:"is_referrer"`
	ReferrerID  int64                  `json:"referrer_id"`
	Rewards     []*model.PendingReward `json:"rewards"`
}

type TransactionChain struct {
	OrderID        int64           `json:"order_id"`
	OrderNumber    string          `json:"order_number"`
	IsMemberOrder  bool            `json:"is_member_order"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	OriginalAmount decimal.Decimal `json:"original_amount"`
	ReferralTotal  decimal.Decimal `json:"total_referral_reward"`
	TeamTotal      decimal.Decimal `json:"total_team_reward"`
	Chain          []*ChainNode    `json:"chain"`
}

// TransactionChain 订单的推荐链与各层奖励；orderNumber 为空时取用户最近一笔订单
func (s *ReportService) TransactionChain(ctx context.Context, userID int64, orderNumber string) (*TransactionChain, error) {
	order, err := s.findUserOrder(ctx, userID, orderNumber)
	if err != nil {
		return nil, err
	}

	rewards, err := s.rewards.ListByOrder(ctx, nil, order.ID, "")
	if err != nil {
		return nil, fmt.Errorf("查询订单奖励失败: %w", err)
	}
	byUser := make(map[int64][]*model.PendingReward)
	for _, r := range rewards {
		byUser[r.UserID] = append(byUser[r.UserID], r)
	}

	report := &TransactionChain{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		IsMemberOrder:  order.IsMemberOrder,
		TotalAmount:    order.TotalAmount,
		OriginalAmount: order.OriginalAmount,
		ReferralTotal:  decimal.Zero,
		TeamTotal:      decimal.Zero,
		Chain:          []*ChainNode{},
	}
	// 只统计已通过审核的奖励
	for _, r := range rewards {
		if r.Status != model.RewardStatusApproved {
			continue
		}
		if r.RewardType == model.RewardTypeReferral {
			report.ReferralTotal = report.ReferralTotal.Add(r.Amount)
		} else {
			report.TeamTotal = report.TeamTotal.Add(r.Amount)
		}
	}

	current := order.UserID
	for layer := 1; layer <= s.fin.MaxTeamLayer; layer++ {
		up, err := s.users.GetReferrerID(ctx, nil, current)
		if err != nil {
			return nil, fmt.Errorf("查询推荐人失败: %w", err)
		}
		if up == 0 {
			break
		}
		u, err := s.users.GetByID(ctx, nil, up)
		if err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				break
			}
			return nil, err
		}
		next, err := s.users.GetReferrerID(ctx, nil, up)
		if err != nil {
			return nil, fmt.Errorf("查询推荐人失败: %w", err)
		}
		report.Chain = append(report.Chain, &ChainNode{
			Layer:       layer,
			UserID:      u.ID,
			Name:        u.Name,
			MemberLevel: u.MemberLevel,
			IsReferrer:  layer == 1,
			ReferrerID:  next,
			Rewards:     byUser[u.ID],
		})
		current = up
	}
	return report, nil
}

func (s *ReportService) findUserOrder(ctx context.Context, userID int64, orderNumber string) (*model.Order, error) {
	if orderNumber != "" {
		order, err := s.orders.GetByNumber(ctx, nil, orderNumber)
		if err != nil {
			if errors.Is(err, repository.ErrOrderNotFound) {
				return nil, orderErrorf("未找到订单: %s", orderNumber)
			}
			return nil, err
		}
		if order.UserID != userID {
			return nil, orderErrorf("未找到订单: %s", orderNumber)
		}
		return order, nil
	}

	orders, _, err := s.orders.ListByUserID(ctx, userID, 1, 1)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, orderErrorf("用户%d没有订单", userID)
	}
	return orders[0], nil
}

type UserInfo struct {
	*model.User
	Roles     []string     `json:"roles"`
	StarLevel string       `json:"star_level"`
	Coupons   CouponTotals `json:"coupons"`
}

func (s *ReportService) UserInfo(ctx context.Context, userID int64) (*UserInfo, error) {
	user, err := s.users.GetByID(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	coupons, err := s.rewards.ListCoupons(ctx, userID, model.CouponStatusUnused)
	if err != nil {
		return nil, fmt.Errorf("查询优惠券失败: %w", err)
	}

	info := &UserInfo{User: user, Roles: []string{}, Coupons: CouponTotals{TotalAmount: decimal.Zero}}
	for _, c := range coupons {
		info.Coupons.UnusedCount++
		info.Coupons.TotalAmount = info.Coupons.TotalAmount.Add(c.Amount)
	}
	if user.MemberPoints.IsPositive() || user.PromotionBalance.IsPositive() {
		info.Roles = append(info.Roles, "普通用户")
	}
	if user.MerchantPoints.IsPositive() || user.MerchantBalance.IsPositive() {
		info.Roles = append(info.Roles, "商家")
	}
	switch {
	case user.Status == model.UserStatusHonorDirector:
		info.StarLevel = "荣誉董事"
	case user.MemberLevel > 0:
		info.StarLevel = fmt.Sprintf("%d星级会员", user.MemberLevel)
	default:
		info.StarLevel = "非会员"
	}
	return info, nil
}
