package service

import (
	"context"
	"errors"
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

// SettlementService 订单结算：定价、积分抵扣、建单、分账、积分发放、奖励生成
type SettlementService struct {
	db      *gorm.DB
	fin     *config.Finance
	topics  config.KafkaTopicConfig
	log     *zap.Logger
	now     func() time.Time
	ledger  *ledger.Accessor
	users   *repository.UserRepository
	product *repository.ProductRepository
	orders  *repository.OrderRepository
	rewards *repository.RewardRepository
	outbox  *repository.OutboxRepository
}

func NewSettlementService(d Deps) *SettlementService {
	return &SettlementService{
		db:      d.DB,
		fin:     d.Finance,
		topics:  d.Topics,
		log:     d.logger(),
		now:     d.clock(),
		ledger:  ledger.NewAccessor(d.DB),
		users:   repository.NewUserRepository(d.DB),
		product: repository.NewProductRepository(d.DB),
		orders:  repository.NewOrderRepository(d.DB),
		rewards: repository.NewRewardRepository(d.DB),
		outbox:  repository.NewOutboxRepository(d.DB),
	}
}

type SettleRequest struct {
	OrderNumber string          `json:"order_number" binding:"required"`
	UserID      int64           `json:"user_id" binding:"required"`
	ProductID   int64           `json:"product_id" binding:"required"`
	Quantity    int             `json:"quantity"`
	PointsToUse decimal.Decimal `json:"points_to_use"`
}

// SettleOrder 在一个事务内完成结算，返回订单ID
func (s *SettlementService) SettleOrder(ctx context.Context, req *SettleRequest) (int64, error) {
	var orderID int64
	err := withTxRetry(ctx, s.db, s.log, func(tx *gorm.DB) error {
		id, err := s.SettleOrderTx(ctx, tx, req)
		if err != nil {
			return err
		}
		orderID = id
		return nil
	})
	if err != nil {
		s.log.Warn("订单结算失败", zap.String("order_number", req.OrderNumber), zap.Error(err))
		return 0, err
	}
	return orderID, nil
}

// SettleOrderTx 在调用方事务中结算，支付回调与状态迁移共用同一事务
func (s *SettlementService) SettleOrderTx(ctx context.Context, tx *gorm.DB, req *SettleRequest) (int64, error) {
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if req.Quantity < 0 {
		return 0, orderErrorf("购买数量必须大于0")
	}
	if req.PointsToUse.IsNegative() {
		return 0, orderErrorf("抵扣积分不能为负数")
	}

	exists, err := s.orders.ExistsByNumber(ctx, tx, req.OrderNumber)
	if err != nil {
		return 0, fmt.Errorf("查询订单失败: %w", err)
	}
	if exists {
		return 0, ErrDuplicateOrder
	}

	product, price, err := s.product.GetSalePrice(ctx, tx, req.ProductID)
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			return 0, ErrOrderNotAvailable
		}
		return 0, fmt.Errorf("查询商品失败: %w", err)
	}
	if product.Status != model.ProductStatusListed || !price.Valid || !price.Decimal.IsPositive() {
		return 0, ErrOrderNotAvailable
	}

	merchantID := product.UserID
	isPlatform := merchantID == s.fin.PlatformMerchantID
	if !isPlatform {
		if _, err := s.users.GetByID(ctx, tx, merchantID); err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				return 0, orderErrorf("商家不存在: %d", merchantID)
			}
			return 0, fmt.Errorf("查询商家失败: %w", err)
		}
	}

	// 锁定买家，同一用户的并发结算在此串行
	buyer, err := s.users.GetByIDForUpdate(ctx, tx, req.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return 0, orderErrorf("用户不存在: %d", req.UserID)
		}
		return 0, fmt.Errorf("锁定用户失败: %w", err)
	}

	if product.IsMemberProduct {
		count, err := s.orders.CountMemberOrdersSince(ctx, tx, req.UserID, s.now().Add(-24*time.Hour))
		if err != nil {
			return 0, fmt.Errorf("查询购买记录失败: %w", err)
		}
		if count >= s.fin.MaxPurchasePerDay {
			return 0, ErrRateLimitExceeded
		}
	}

	unitPrice := price.Decimal
	originalAmount := unitPrice.Mul(decimal.NewFromInt(int64(req.Quantity)))
	finalAmount := originalAmount
	pointsDiscount := decimal.Zero
	pointsUsed := decimal.Zero

	if !product.IsMemberProduct && req.PointsToUse.IsPositive() {
		if buyer.MemberPoints.LessThan(req.PointsToUse) {
			return 0, orderErrorf("积分不足，当前%s分", buyer.MemberPoints.StringFixed(4))
		}
		pointsDiscount = req.PointsToUse.Mul(s.fin.PointsDiscountRate)
		maxDiscount := originalAmount.Mul(s.fin.MaxDiscountRatio)
		if pointsDiscount.GreaterThan(maxDiscount) {
			maxPoints := maxDiscount.Div(s.fin.PointsDiscountRate)
			return 0, orderErrorf("积分抵扣不能超过订单金额的%s%%（最多%s分）",
				s.fin.MaxDiscountRatio.Mul(decimal.NewFromInt(100)).String(), maxPoints.StringFixed(4))
		}
		pointsUsed = req.PointsToUse
		finalAmount = originalAmount.Sub(pointsDiscount)
	}

	order := &model.Order{
		OrderNumber:    req.OrderNumber,
		UserID:         req.UserID,
		MerchantID:     merchantID,
		ProductID:      req.ProductID,
		TotalAmount:    finalAmount,
		OriginalAmount: originalAmount,
		PointsDiscount: pointsDiscount,
		PointsUsed:     pointsUsed,
		IsMemberOrder:  product.IsMemberProduct,
		Status:         model.OrderStatusCompleted,
	}
	item := &model.OrderItem{
		ProductID:  req.ProductID,
		Quantity:   req.Quantity,
		UnitPrice:  unitPrice,
		TotalPrice: originalAmount,
	}
	if err := s.orders.Create(ctx, tx, order, item); err != nil {
		return 0, fmt.Errorf("创建订单失败: %w", err)
	}

	if pointsUsed.IsPositive() {
		if err := s.applyPointsDiscount(ctx, tx, order, pointsUsed); err != nil {
			return 0, err
		}
	}

	if product.IsMemberProduct {
		if err := s.processMemberOrder(ctx, tx, order, buyer, unitPrice, req.Quantity); err != nil {
			return 0, err
		}
	} else {
		if err := s.processNormalOrder(ctx, tx, order, buyer, isPlatform); err != nil {
			return 0, err
		}
	}

	event := map[string]interface{}{
		"order_id":        order.ID,
		"order_number":    order.OrderNumber,
		"user_id":         order.UserID,
		"merchant_id":     order.MerchantID,
		"total_amount":    order.TotalAmount.String(),
		"original_amount": order.OriginalAmount.String(),
		"is_member_order": order.IsMemberOrder,
	}
	if err := s.outbox.Enqueue(ctx, tx, model.EventOrderSettled, s.topics.OrderSettled, order.OrderNumber, event); err != nil {
		return 0, fmt.Errorf("写入结算事件失败: %w", err)
	}

	s.log.Info("订单结算成功",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Bool("member_order", order.IsMemberOrder),
		zap.String("final_amount", finalAmount.String()))
	return order.ID, nil
}

// applyPointsDiscount 扣用户积分，等量原始积分记入公司积分池
func (s *SettlementService) applyPointsDiscount(ctx context.Context, tx *gorm.DB, order *model.Order, points decimal.Decimal) error {
	buyerPoints := ledger.UserAccount(order.UserID, ledger.FieldMemberPoints)
	if err := s.ledger.Check(ctx, tx, buyerPoints, points); err != nil {
		return orderErrorf("积分不足: %v", err)
	}
	entry := ledger.Entry{
		Remark:      fmt.Sprintf("订单%s 积分抵扣", order.OrderNumber),
		RelatedUser: order.UserID,
		OrderID:     order.ID,
	}
	if _, err := s.ledger.Add(ctx, tx, buyerPoints, points.Neg(), entry); err != nil {
		return fmt.Errorf("扣减积分失败: %w", err)
	}
	if _, err := s.ledger.Add(ctx, tx, ledger.Pool(model.PoolCompanyPoints), points, entry); err != nil {
		return fmt.Errorf("记入公司积分失败: %w", err)
	}
	return nil
}

func (s *SettlementService) processMemberOrder(ctx context.Context, tx *gorm.DB, order *model.Order, buyer *model.User, unitPrice decimal.Decimal, quantity int) error {
	total := unitPrice.Mul(decimal.NewFromInt(int64(quantity)))

	if err := s.allocateToPools(ctx, tx, order, total); err != nil {
		return err
	}

	points := ledger.UserAccount(buyer.ID, ledger.FieldMemberPoints)
	if _, err := s.ledger.Add(ctx, tx, points, total, ledger.Entry{
		Remark:  "购买会员商品获得积分",
		OrderID: order.ID,
	}); err != nil {
		return fmt.Errorf("发放会员积分失败: %w", err)
	}

	oldLevel := buyer.MemberLevel
	newLevel := oldLevel + quantity
	if newLevel > s.fin.MaxMemberLevel {
		newLevel = s.fin.MaxMemberLevel
	}
	if err := s.users.UpdateLevel(ctx, tx, buyer.ID, newLevel); err != nil {
		return fmt.Errorf("更新会员等级失败: %w", err)
	}
	s.log.Info("用户升级",
		zap.Int64("user_id", buyer.ID),
		zap.Int("old_level", oldLevel),
		zap.Int("new_level", newLevel))

	chain := newRewardChain(s.users, s.rewards, s.fin, s.log)
	if _, err := chain.createPendingRewards(ctx, tx, order.ID, buyer.ID, oldLevel, newLevel); err != nil {
		return fmt.Errorf("生成待审核奖励失败: %w", err)
	}

	companyPoints := total.Mul(s.fin.CompanyPointsRate)
	if _, err := s.ledger.Add(ctx, tx, ledger.Pool(model.PoolCompanyPoints), companyPoints, ledger.Entry{
		Remark:      fmt.Sprintf("订单%s 公司积分分配", order.OrderNumber),
		RelatedUser: buyer.ID,
		OrderID:     order.ID,
	}); err != nil {
		return fmt.Errorf("分配公司积分失败: %w", err)
	}
	return nil
}

func (s *SettlementService) processNormalOrder(ctx context.Context, tx *gorm.DB, order *model.Order, buyer *model.User, isPlatform bool) error {
	finalAmount := order.TotalAmount
	share := finalAmount.Mul(s.fin.MerchantShare)

	if isPlatform {
		if err := s.allocateToPools(ctx, tx, order, share); err != nil {
			return err
		}
	} else {
		if _, err := s.ledger.Add(ctx, tx, ledger.UserAccount(order.MerchantID, ledger.FieldMerchantBalance), share, ledger.Entry{
			Remark:  fmt.Sprintf("普通商品收益 订单%s", order.OrderNumber),
			OrderID: order.ID,
		}); err != nil {
			return fmt.Errorf("商家分账失败: %w", err)
		}
	}

	if buyer.MemberLevel >= 1 && finalAmount.IsPositive() {
		if _, err := s.ledger.Add(ctx, tx, ledger.UserAccount(buyer.ID, ledger.FieldMemberPoints), finalAmount, ledger.Entry{
			Remark:  "购买获得积分",
			OrderID: order.ID,
		}); err != nil {
			return fmt.Errorf("发放会员积分失败: %w", err)
		}
	}

	if !isPlatform {
		merchantPoints := finalAmount.Mul(s.fin.MerchantPointsRate)
		if merchantPoints.IsPositive() {
			if _, err := s.ledger.Add(ctx, tx, ledger.UserAccount(order.MerchantID, ledger.FieldMerchantPoints), merchantPoints, ledger.Entry{
				Remark:  "销售获得积分",
				OrderID: order.ID,
			}); err != nil {
				return fmt.Errorf("发放商家积分失败: %w", err)
			}
		}
	}
	return nil
}

// allocateToPools 按分配表把 base 拆到各资金池：其余各池为 base × 比例四舍五入到4位，
// 平台收入池取余数，各池合计恰好等于 base
func (s *SettlementService) allocateToPools(ctx context.Context, tx *gorm.DB, order *model.Order, base decimal.Decimal) error {
	base = base.Round(4)
	amounts := make([]decimal.Decimal, len(s.fin.Allocations))
	rest := base
	for i, alloc := range s.fin.Allocations {
		if alloc.Pool == config.PlatformRevenuePool {
			continue
		}
		amounts[i] = base.Mul(alloc.Ratio).Round(4)
		rest = rest.Sub(amounts[i])
	}

	for i, alloc := range s.fin.Allocations {
		amount := amounts[i]
		if alloc.Pool == config.PlatformRevenuePool {
			amount = rest
		}
		if amount.IsZero() {
			continue
		}
		pool := model.PoolType(alloc.Pool)
		remark := fmt.Sprintf("订单%s 分配到%s", order.OrderNumber, model.PoolName(pool))
		if alloc.Pool == config.PlatformRevenuePool {
			remark = fmt.Sprintf("订单%s 平台收入", order.OrderNumber)
		}
		if _, err := s.ledger.Add(ctx, tx, ledger.Pool(pool), amount, ledger.Entry{
			Remark:      remark,
			RelatedUser: order.UserID,
			OrderID:     order.ID,
		}); err != nil {
			return fmt.Errorf("资金池 %s 分配失败: %w", alloc.Pool, err)
		}
	}
	return nil
}
