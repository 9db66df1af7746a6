package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ledgerpay/internal/config"
	"ledgerpay/internal/model"
	"ledgerpay/internal/payment"
	"ledgerpay/internal/repository"
	"ledgerpay/pkg/idgen"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrAmountMismatch = errors.New("回调金额与支付单金额不一致")

// PaymentService 收银台下单与支付回调
type PaymentService struct {
	db         *gorm.DB
	fin        *config.Finance
	topics     config.KafkaTopicConfig
	log        *zap.Logger
	now        func() time.Time
	timeout    time.Duration
	gateway    payment.Gateway
	settlement *SettlementService
	payOrders  *repository.PayOrderRepository
	product    *repository.ProductRepository
	users      *repository.UserRepository
	outbox     *repository.OutboxRepository
}

func NewPaymentService(d Deps, settlement *SettlementService, gateway payment.Gateway, orderTimeout time.Duration) *PaymentService {
	if orderTimeout <= 0 {
		orderTimeout = 30 * time.Minute
	}
	return &PaymentService{
		db:         d.DB,
		fin:        d.Finance,
		topics:     d.Topics,
		log:        d.logger(),
		now:        d.clock(),
		timeout:    orderTimeout,
		gateway:    gateway,
		settlement: settlement,
		payOrders:  repository.NewPayOrderRepository(d.DB),
		product:    repository.NewProductRepository(d.DB),
		users:      repository.NewUserRepository(d.DB),
		outbox:     repository.NewOutboxRepository(d.DB),
	}
}

type CreatePayOrderRequest struct {
	UserID      int64           `json:"-"`
	ProductID   int64           `json:"product_id" binding:"required"`
	Quantity    int             `json:"quantity"`
	PointsToUse decimal.Decimal `json:"points_to_use"`
}

// CreatePayOrder 创建待支付单，金额为预估应付，最终以结算时的校验为准
func (s *PaymentService) CreatePayOrder(ctx context.Context, req *CreatePayOrderRequest) (*model.PayOrder, error) {
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if req.Quantity < 0 {
		return nil, orderErrorf("购买数量必须大于0")
	}
	if req.PointsToUse.IsNegative() {
		return nil, orderErrorf("抵扣积分不能为负数")
	}
	if _, err := s.users.GetByID(ctx, nil, req.UserID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, orderErrorf("用户不存在: %d", req.UserID)
		}
		return nil, err
	}

	product, price, err := s.product.GetSalePrice(ctx, nil, req.ProductID)
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			return nil, ErrOrderNotAvailable
		}
		return nil, fmt.Errorf("查询商品失败: %w", err)
	}
	if product.Status != model.ProductStatusListed || !price.Valid || !price.Decimal.IsPositive() {
		return nil, ErrOrderNotAvailable
	}

	amount := price.Decimal.Mul(decimal.NewFromInt(int64(req.Quantity)))
	points := decimal.Zero
	if !product.IsMemberProduct && req.PointsToUse.IsPositive() {
		discount := req.PointsToUse.Mul(s.fin.PointsDiscountRate)
		if discount.GreaterThan(amount.Mul(s.fin.MaxDiscountRatio)) {
			return nil, orderErrorf("积分抵扣不能超过订单金额的%s%%",
				s.fin.MaxDiscountRatio.Mul(decimal.NewFromInt(100)).String())
		}
		amount = amount.Sub(discount)
		points = req.PointsToUse
	}

	po := &model.PayOrder{
		OrderNo:     idgen.GeneratePayOrderNo(),
		UserID:      req.UserID,
		ProductID:   req.ProductID,
		Quantity:    req.Quantity,
		PointsToUse: points,
		Amount:      amount,
		Status:      model.PayOrderStatusPendingPay,
		ExpiredAt:   s.now().Add(s.timeout),
	}
	if err := s.payOrders.Create(ctx, nil, po); err != nil {
		return nil, fmt.Errorf("创建支付单失败: %w", err)
	}
	s.log.Info("支付单已创建",
		zap.String("order_no", po.OrderNo),
		zap.Int64("user_id", po.UserID),
		zap.String("amount", po.Amount.String()))
	return po, nil
}

func (s *PaymentService) GetPayOrder(ctx context.Context, orderNo string) (*model.PayOrder, error) {
	return s.payOrders.GetByOrderNo(ctx, nil, orderNo)
}

// NotifyResult 回调处理结果
//
// Duplicate 表示重复投递，已忽略；LatePayment 表示支付单超时关闭后才收到支付成功，
// 资金已到账但不结算，需要退款或人工对账。
type NotifyResult struct {
	OrderNo     string `json:"order_no"`
	OrderID     int64  `json:"order_id"`
	Settled     bool   `json:"settled"`
	Duplicate   bool   `json:"duplicate"`
	LatePayment bool   `json:"late_payment"`
}

// HandleNotify 网关验签解密后交给 HandlePaymentSuccess
func (s *PaymentService) HandleNotify(ctx context.Context, header http.Header, body []byte) (*NotifyResult, error) {
	n, err := s.gateway.ParseNotify(ctx, header, body)
	if err != nil {
		s.log.Warn("支付回调解析失败", zap.String("gateway", s.gateway.Name()), zap.Error(err))
		return nil, err
	}
	return s.HandlePaymentSuccess(ctx, n)
}

// HandlePaymentSuccess PENDING_PAY -> PAID 与订单结算在同一事务内完成
//
// 条件更新影响行数为0说明已处理过或已关闭，直接返回，不重复结算。
func (s *PaymentService) HandlePaymentSuccess(ctx context.Context, n *payment.Notification) (*NotifyResult, error) {
	result := &NotifyResult{OrderNo: n.OutTradeNo}
	if !n.Succeeded() {
		s.log.Info("支付未成功，忽略回调", zap.String("order_no", n.OutTradeNo), zap.String("trade_state", n.TradeState))
		return result, nil
	}

	err := withTxRetry(ctx, s.db, s.log, func(tx *gorm.DB) error {
		*result = NotifyResult{OrderNo: n.OutTradeNo}
		po, err := s.payOrders.GetByOrderNoForUpdate(ctx, tx, n.OutTradeNo)
		if err != nil {
			return err
		}
		if po.Status == model.PayOrderStatusClosed {
			return s.recordLatePayment(ctx, tx, po, n, result)
		}
		if po.Status != model.PayOrderStatusPendingPay {
			result.Duplicate = true
			return nil
		}
		if !n.Amount.IsZero() && !n.Amount.Equal(po.Amount.Round(2)) {
			return fmt.Errorf("%w: 回调%s，支付单%s", ErrAmountMismatch, n.Amount.String(), po.Amount.StringFixed(2))
		}

		updated, err := s.payOrders.MarkPaid(ctx, tx, po.OrderNo, n.TransactionID, n.SuccessTime)
		if err != nil {
			return fmt.Errorf("更新支付单状态失败: %w", err)
		}
		if !updated {
			result.Duplicate = true
			return nil
		}

		orderID, err := s.settlement.SettleOrderTx(ctx, tx, &SettleRequest{
			OrderNumber: po.OrderNo,
			UserID:      po.UserID,
			ProductID:   po.ProductID,
			Quantity:    po.Quantity,
			PointsToUse: po.PointsToUse,
		})
		if err != nil {
			return err
		}
		result.OrderID = orderID
		result.Settled = true
		return nil
	})
	if err != nil {
		s.log.Error("支付回调处理失败", zap.String("order_no", n.OutTradeNo), zap.Error(err))
		return nil, err
	}

	switch {
	case result.LatePayment:
		s.log.Error("支付单已关闭但收到支付成功，需要退款或人工对账",
			zap.String("order_no", n.OutTradeNo),
			zap.String("transaction_id", n.TransactionID),
			zap.String("amount", n.Amount.String()))
	case result.Duplicate:
		s.log.Info("重复的支付回调，已忽略", zap.String("order_no", n.OutTradeNo))
	default:
		s.log.Info("支付成功并完成结算",
			zap.String("order_no", n.OutTradeNo),
			zap.String("transaction_id", n.TransactionID),
			zap.Int64("order_id", result.OrderID))
	}
	return result, nil
}

// recordLatePayment 记录迟到支付并写入对账事件，同一笔迟到支付只记录一次
func (s *PaymentService) recordLatePayment(ctx context.Context, tx *gorm.DB, po *model.PayOrder, n *payment.Notification, result *NotifyResult) error {
	recorded, err := s.payOrders.RecordLatePayment(ctx, tx, po.OrderNo, n.TransactionID, n.SuccessTime)
	if err != nil {
		return fmt.Errorf("记录迟到支付失败: %w", err)
	}
	if !recorded {
		result.Duplicate = true
		return nil
	}
	result.LatePayment = true

	event := map[string]interface{}{
		"order_no":       po.OrderNo,
		"user_id":        po.UserID,
		"transaction_id": n.TransactionID,
		"paid_amount":    n.Amount.String(),
		"order_amount":   po.Amount.String(),
		"paid_at":        n.SuccessTime.Format(time.RFC3339),
	}
	return s.outbox.Enqueue(ctx, tx, model.EventPaymentLate, s.topics.PaymentLate, po.OrderNo, event)
}

// CloseExpired 关闭超时未支付的支付单，返回关闭数量
func (s *PaymentService) CloseExpired(ctx context.Context, limit int) (int, error) {
	orders, err := s.payOrders.GetExpiredOrders(ctx, s.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("查询超时支付单失败: %w", err)
	}

	closed := 0
	for _, po := range orders {
		ok, err := s.payOrders.Close(ctx, po.OrderNo)
		if err != nil {
			s.log.Warn("关闭支付单失败", zap.String("order_no", po.OrderNo), zap.Error(err))
			continue
		}
		if ok {
			closed++
			s.log.Info("支付单已超时关闭",
				zap.String("order_no", po.OrderNo),
				zap.Int64("user_id", po.UserID),
				zap.String("amount", po.Amount.String()))
		}
	}
	return closed, nil
}
