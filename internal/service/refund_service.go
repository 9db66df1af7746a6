package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"ledgerpay/internal/config"
	"ledgerpay/internal/infrastructure/lock"
	"ledgerpay/internal/ledger"
	"ledgerpay/internal/model"
	"ledgerpay/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RefundService 订单退款：按 order_id 关联的原始流水逐账户回冲
type RefundService struct {
	db      *gorm.DB
	fin     *config.Finance
	topics  config.KafkaTopicConfig
	log     *zap.Logger
	locker  lock.Locker
	ledger  *ledger.Accessor
	users   *repository.UserRepository
	orders  *repository.OrderRepository
	rewards *repository.RewardRepository
	flows   *repository.FlowRepository
	outbox  *repository.OutboxRepository
}

// NewRefundService locker 为空时只依赖数据库行锁
func NewRefundService(d Deps, locker lock.Locker) *RefundService {
	return &RefundService{
		db:      d.DB,
		fin:     d.Finance,
		topics:  d.Topics,
		log:     d.logger(),
		locker:  locker,
		ledger:  ledger.NewAccessor(d.DB),
		users:   repository.NewUserRepository(d.DB),
		orders:  repository.NewOrderRepository(d.DB),
		rewards: repository.NewRewardRepository(d.DB),
		flows:   repository.NewFlowRepository(d.DB),
		outbox:  repository.NewOutboxRepository(d.DB),
	}
}

// ReversalLine 一个账户的回冲结果
type ReversalLine struct {
	Account string          `json:"account"`
	Amount  decimal.Decimal `json:"amount"`
}

type RefundResult struct {
	OrderID         int64           `json:"order_id"`
	OrderNumber     string          `json:"order_number"`
	AlreadyReversed bool            `json:"already_reversed"`
	Reversals       []ReversalLine  `json:"reversals"`
	ClawedBack      decimal.Decimal `json:"clawed_back"`
	RejectedRewards int64           `json:"rejected_rewards"`
}

func (s *RefundService) RefundOrder(ctx context.Context, orderNumber string) (*RefundResult, error) {
	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, "refund:order:"+orderNumber, 30*time.Second)
		if err != nil {
			return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
		}
		defer release()
	}

	var result *RefundResult
	err := withTxRetry(ctx, s.db, s.log, func(tx *gorm.DB) error {
		result = &RefundResult{OrderNumber: orderNumber, ClawedBack: decimal.Zero}
		order, err := s.orders.GetByNumberForUpdate(ctx, tx, orderNumber)
		if err != nil {
			if errors.Is(err, repository.ErrOrderNotFound) {
				return orderErrorf("订单不存在: %s", orderNumber)
			}
			return err
		}
		if order.Status == model.OrderStatusRefunded {
			return orderErrorf("订单已退款: %s", orderNumber)
		}
		result.OrderID = order.ID

		buyer, err := s.users.GetByIDForUpdate(ctx, tx, order.UserID)
		if err != nil && !errors.Is(err, repository.ErrUserNotFound) {
			return err
		}

		// 回冲流水先于奖励收回检查，收回奖励本身也会写回冲流水
		reversed, err := s.flows.HasOrderReversal(ctx, tx, order.ID)
		if err != nil {
			return fmt.Errorf("查询回冲记录失败: %w", err)
		}

		// 会员订单只追回本单产生的奖励：已审核的从 promotion_balance 扣回，待审核的直接驳回。
		// 不再按推荐人 promotion_balance 的 50% 无条件扣减，推荐人名下其他订单的奖励不受影响。
		if order.IsMemberOrder {
			if err := s.reverseRewards(ctx, tx, order, result); err != nil {
				return err
			}
		}

		if reversed {
			result.AlreadyReversed = true
			s.log.Warn("订单已存在回冲流水，跳过资金回冲", zap.String("order_number", orderNumber))
		} else {
			if err := s.reversePoints(ctx, tx, order, result); err != nil {
				return err
			}
			if err := s.reverseFunds(ctx, tx, order, result); err != nil {
				return err
			}
		}

		if order.IsMemberOrder && buyer != nil {
			level := buyer.MemberLevel - 1
			if level < 0 {
				level = 0
			}
			if err := s.users.UpdateLevel(ctx, tx, buyer.ID, level); err != nil {
				return fmt.Errorf("会员降级失败: %w", err)
			}
		}

		if err := s.orders.MarkRefunded(ctx, tx, order.ID); err != nil {
			return fmt.Errorf("更新订单状态失败: %w", err)
		}

		event := map[string]interface{}{
			"order_id":     order.ID,
			"order_number": order.OrderNumber,
			"user_id":      order.UserID,
			"total_amount": order.TotalAmount.String(),
			"refunded_at":  time.Now().Format(time.RFC3339),
		}
		return s.outbox.Enqueue(ctx, tx, model.EventOrderRefunded, s.topics.OrderRefunded, order.OrderNumber, event)
	})
	if err != nil {
		var reversalErr *ledger.ReversalInsufficientError
		if errors.As(err, &reversalErr) {
			// 账本偏差，需要人工处理
			s.log.Error("退款回冲余额不足",
				zap.String("order_number", orderNumber),
				zap.String("account", reversalErr.Account),
				zap.String("required", reversalErr.Required.String()),
				zap.String("available", reversalErr.Available.String()))
		}
		return nil, err
	}

	s.log.Info("订单退款成功",
		zap.String("order_number", orderNumber),
		zap.Int("reversals", len(result.Reversals)),
		zap.String("clawed_back", result.ClawedBack.String()))
	return result, nil
}

// reverseRewards 已兑现的奖励尽力从可提现余额收回，余额不足时不收回；待审核的奖励直接拒绝
func (s *RefundService) reverseRewards(ctx context.Context, tx *gorm.DB, order *model.Order, result *RefundResult) error {
	approved, err := s.rewards.ListByOrder(ctx, tx, order.ID, model.RewardStatusApproved)
	if err != nil {
		return fmt.Errorf("查询已发放奖励失败: %w", err)
	}
	for _, r := range approved {
		amount := r.Amount
		if r.RewardType == model.RewardTypeReferral {
			amount = order.OriginalAmount.Mul(s.fin.RewardRate)
		}
		account := ledger.UserAccount(r.UserID, ledger.FieldPromotionBalance)
		balance, err := s.ledger.GetForUpdate(ctx, tx, account)
		if err != nil {
			return err
		}
		if balance.LessThan(amount) {
			s.log.Info("奖励已被使用，跳过收回",
				zap.Int64("reward_id", r.ID),
				zap.Int64("user_id", r.UserID),
				zap.String("amount", amount.String()))
			continue
		}
		if _, err := s.ledger.Add(ctx, tx, account, amount.Neg(), ledger.Entry{
			Remark:   fmt.Sprintf("退款收回%s奖励 订单%s", r.RewardType, order.OrderNumber),
			OrderID:  order.ID,
			Reversal: true,
		}); err != nil {
			return fmt.Errorf("收回奖励失败: %w", err)
		}
		result.ClawedBack = result.ClawedBack.Add(amount)
	}

	pending, err := s.rewards.ListByOrder(ctx, tx, order.ID, model.RewardStatusPending)
	if err != nil {
		return fmt.Errorf("查询待审核奖励失败: %w", err)
	}
	if len(pending) > 0 {
		ids := make([]int64, 0, len(pending))
		for _, r := range pending {
			ids = append(ids, r.ID)
		}
		n, err := s.rewards.RejectPending(ctx, tx, ids, "refund")
		if err != nil {
			return fmt.Errorf("拒绝待审核奖励失败: %w", err)
		}
		result.RejectedRewards = n
	}
	return nil
}

// reversePoints 积分回冲：发放的积分扣回（不低于0），抵扣的积分退还
func (s *RefundService) reversePoints(ctx context.Context, tx *gorm.DB, order *model.Order, result *RefundResult) error {
	logs, err := s.flows.ListOrderPointsLogs(ctx, tx, order.ID)
	if err != nil {
		return fmt.Errorf("查询积分流水失败: %w", err)
	}

	for _, l := range logs {
		field := ledger.FieldMemberPoints
		if l.Type == model.PointsTypeMerchant {
			field = ledger.FieldMerchantPoints
		}
		account := ledger.UserAccount(l.UserID, field)

		delta := l.ChangeAmount.Neg()
		if delta.IsNegative() {
			balance, err := s.ledger.GetForUpdate(ctx, tx, account)
			if err != nil {
				return err
			}
			if balance.LessThan(delta.Neg()) {
				delta = balance.Neg()
			}
		}
		if delta.IsZero() {
			continue
		}
		if _, err := s.ledger.Add(ctx, tx, account, delta, ledger.Entry{
			Remark:   fmt.Sprintf("退款回冲积分 订单%s", order.OrderNumber),
			OrderID:  order.ID,
			Reversal: true,
		}); err != nil {
			return fmt.Errorf("回冲积分失败: %w", err)
		}
		result.Reversals = append(result.Reversals, ReversalLine{Account: account.String(), Amount: delta})
	}
	return nil
}

type flowKey struct {
	accountType string
	userID      int64
}

// reverseFunds 按账户汇总订单的原始资金流水并整体冲回，任一账户不足以冲回时整体失败
func (s *RefundService) reverseFunds(ctx context.Context, tx *gorm.DB, order *model.Order, result *RefundResult) error {
	flows, err := s.flows.ListOrderFlows(ctx, tx, order.ID)
	if err != nil {
		return fmt.Errorf("查询订单流水失败: %w", err)
	}

	sums := make(map[flowKey]decimal.Decimal)
	var keys []flowKey
	for _, f := range flows {
		key := flowKey{accountType: f.AccountType}
		if isUserField(f.AccountType) && f.RelatedUser != nil {
			key.userID = *f.RelatedUser
		}
		if _, ok := sums[key]; !ok {
			keys = append(keys, key)
			sums[key] = decimal.Zero
		}
		sums[key] = sums[key].Add(f.ChangeAmount)
	}
	sort.SliceStable(keys, func(i, j int) bool {
		if keys[i].accountType != keys[j].accountType {
			return keys[i].accountType < keys[j].accountType
		}
		return keys[i].userID < keys[j].userID
	})

	for _, key := range keys {
		sum := sums[key]
		if sum.IsZero() {
			continue
		}
		account := ledger.Pool(model.PoolType(key.accountType))
		if key.userID > 0 {
			account = ledger.UserAccount(key.userID, ledger.Field(key.accountType))
		}

		if sum.IsPositive() {
			balance, err := s.ledger.GetForUpdate(ctx, tx, account)
			if err != nil {
				return err
			}
			if balance.LessThan(sum) {
				return &ledger.ReversalInsufficientError{
					OrderNumber: order.OrderNumber,
					Account:     account.String(),
					Required:    sum,
					Available:   balance,
				}
			}
		}

		if _, err := s.ledger.Add(ctx, tx, account, sum.Neg(), ledger.Entry{
			Remark:      fmt.Sprintf("退款回冲 订单%s", order.OrderNumber),
			RelatedUser: order.UserID,
			OrderID:     order.ID,
			Reversal:    true,
		}); err != nil {
			return fmt.Errorf("回冲 %s 失败: %w", account.String(), err)
		}
		result.Reversals = append(result.Reversals, ReversalLine{Account: account.String(), Amount: sum.Neg()})
	}
	return nil
}

func isUserField(accountType string) bool {
	switch ledger.Field(accountType) {
	case ledger.FieldPromotionBalance, ledger.FieldMerchantBalance:
		return true
	}
	return false
}
