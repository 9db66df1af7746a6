package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"ledgerpay/internal/model"
	"ledgerpay/internal/payment"
	"ledgerpay/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPaymentService(d Deps) *PaymentService {
	return NewPaymentService(d, NewSettlementService(d), payment.NewSimulatedGateway(), 30*time.Minute)
}

func notifyBody(orderNo, amount string) []byte {
	return []byte(fmt.Sprintf(`{"out_trade_no":%q,"transaction_id":"TX%s","trade_state":"SUCCESS","amount":%s}`, orderNo, orderNo, amount))
}

func TestCreatePayOrder(t *testing.T) {
	d := newTestDeps(t)
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.Local)
	fixedClock(&d, now)
	svc := newTestPaymentService(d)
	ctx := context.Background()

	buyer := createUser(t, d.DB, 1, "1000")
	product := createProduct(t, d.DB, testMerchantID, "200", false)

	po, err := svc.CreatePayOrder(ctx, &CreatePayOrderRequest{UserID: buyer.ID, ProductID: product.ID, PointsToUse: dec("100")})
	require.NoError(t, err)
	assert.Equal(t, model.PayOrderStatusPendingPay, po.Status)
	assertDec(t, "190", po.Amount)
	assertDec(t, "100", po.PointsToUse)
	assert.Equal(t, 1, po.Quantity)
	assert.Equal(t, now.Add(30*time.Minute), po.ExpiredAt)

	got, err := svc.GetPayOrder(ctx, po.OrderNo)
	require.NoError(t, err)
	assert.Equal(t, po.ID, got.ID)

	_, err = svc.CreatePayOrder(ctx, &CreatePayOrderRequest{UserID: buyer.ID, ProductID: product.ID, PointsToUse: dec("1001")})
	var orderErr *OrderError
	assert.ErrorAs(t, err, &orderErr)

	_, err = svc.CreatePayOrder(ctx, &CreatePayOrderRequest{UserID: buyer.ID, ProductID: 999})
	assert.ErrorIs(t, err, ErrOrderNotAvailable)

	_, err = svc.CreatePayOrder(ctx, &CreatePayOrderRequest{UserID: 999, ProductID: product.ID})
	assert.ErrorAs(t, err, &orderErr)
}

func TestHandleNotify_SettlesOnceUnderDuplicateDelivery(t *testing.T) {
	d := newTestDeps(t)
	svc := newTestPaymentService(d)
	ctx := context.Background()

	buyer := createUser(t, d.DB, 0, "0")
	product := createProduct(t, d.DB, testMerchantID, "100", true)
	po, err := svc.CreatePayOrder(ctx, &CreatePayOrderRequest{UserID: buyer.ID, ProductID: product.ID})
	require.NoError(t, err)

	first, err := svc.HandleNotify(ctx, nil, notifyBody(po.OrderNo, "100.00"))
	require.NoError(t, err)
	assert.True(t, first.Settled)
	assert.False(t, first.Duplicate)
	assert.NotZero(t, first.OrderID)

	second, err := svc.HandleNotify(ctx, nil, notifyBody(po.OrderNo, "100.00"))
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.False(t, second.Settled)

	var orders []model.Order
	require.NoError(t, d.DB.Find(&orders).Error)
	require.Len(t, orders, 1)
	assert.Equal(t, po.OrderNo, orders[0].OrderNumber)

	paid, err := svc.GetPayOrder(ctx, po.OrderNo)
	require.NoError(t, err)
	assert.Equal(t, model.PayOrderStatusPaid, paid.Status)
	assert.Equal(t, "TX"+po.OrderNo, paid.TransactionID)
	assert.NotNil(t, paid.PaidAt)

	assert.Equal(t, 1, reloadUser(t, d.DB, buyer.ID).MemberLevel)
	assertDec(t, "80", poolBalance(t, d.DB, model.PoolPlatformRevenue))
}

func TestHandleNotify_AmountMismatch(t *testing.T) {
	d := newTestDeps(t)
	svc := newTestPaymentService(d)
	ctx := context.Background()

	buyer := createUser(t, d.DB, 0, "0")
	product := createProduct(t, d.DB, testMerchantID, "100", false)
	po, err := svc.CreatePayOrder(ctx, &CreatePayOrderRequest{UserID: buyer.ID, ProductID: product.ID})
	require.NoError(t, err)

	_, err = svc.HandleNotify(ctx, nil, notifyBody(po.OrderNo, "1.00"))
	assert.ErrorIs(t, err, ErrAmountMismatch)

	got, err := svc.GetPayOrder(ctx, po.OrderNo)
	require.NoError(t, err)
	assert.Equal(t, model.PayOrderStatusPendingPay, got.Status)
}

// 结算失败时状态迁移一并回滚，平台重试时可以再次处理
func TestHandleNotify_SettlementFailureRollsBack(t *testing.T) {
	d := newTestDeps(t)
	svc := newTestPaymentService(d)
	ctx := context.Background()

	buyer := createUser(t, d.DB, 0, "0")
	product := createProduct(t, d.DB, testMerchantID, "100", true)

	var orderNos []string
	for i := 0; i < 3; i++ {
		po, err := svc.CreatePayOrder(ctx, &CreatePayOrderRequest{UserID: buyer.ID, ProductID: product.ID})
		require.NoError(t, err)
		orderNos = append(orderNos, po.OrderNo)
	}
	for _, no := range orderNos[:2] {
		_, err := svc.HandleNotify(ctx, nil, notifyBody(no, "100"))
		require.NoError(t, err)
	}

	_, err := svc.HandleNotify(ctx, nil, notifyBody(orderNos[2], "100"))
	assert.ErrorIs(t, err, ErrRateLimitExceeded)

	got, err := svc.GetPayOrder(ctx, orderNos[2])
	require.NoError(t, err)
	assert.Equal(t, model.PayOrderStatusPendingPay, got.Status)
	assert.Empty(t, got.TransactionID)
}

func TestHandleNotify_IgnoredAndUnknown(t *testing.T) {
	d := newTestDeps(t)
	svc := newTestPaymentService(d)
	ctx := context.Background()

	result, err := svc.HandleNotify(ctx, nil, []byte(`{"out_trade_no":"P1","trade_state":"CLOSED"}`))
	require.NoError(t, err)
	assert.False(t, result.Settled)
	assert.False(t, result.Duplicate)

	_, err = svc.HandleNotify(ctx, nil, notifyBody("UNKNOWN", "1"))
	assert.ErrorIs(t, err, repository.ErrPayOrderNotFound)

	_, err = svc.HandleNotify(ctx, nil, []byte(`not json`))
	assert.ErrorIs(t, err, payment.ErrMalformedNotify)
}

func TestCloseExpired(t *testing.T) {
	d := newTestDeps(t)
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.Local)
	d.Now = func() time.Time { return now }
	svc := newTestPaymentService(d)
	ctx := context.Background()

	buyer := createUser(t, d.DB, 0, "0")
	product := createProduct(t, d.DB, testMerchantID, "100", false)
	po, err := svc.CreatePayOrder(ctx, &CreatePayOrderRequest{UserID: buyer.ID, ProductID: product.ID})
	require.NoError(t, err)

	closed, err := svc.CloseExpired(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, closed)

	now = now.Add(31 * time.Minute)
	closed, err = svc.CloseExpired(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	// 已关闭的支付单收到支付成功：不结算，记录交易号并写入对账事件
	result, err := svc.HandleNotify(ctx, nil, notifyBody(po.OrderNo, "100"))
	require.NoError(t, err)
	assert.True(t, result.LatePayment)
	assert.False(t, result.Duplicate)
	assert.False(t, result.Settled)

	var orders int64
	require.NoError(t, d.DB.Model(&model.Order{}).Count(&orders).Error)
	assert.Zero(t, orders)

	var closedOrder model.PayOrder
	require.NoError(t, d.DB.Where("order_no = ?", po.OrderNo).First(&closedOrder).Error)
	assert.Equal(t, model.PayOrderStatusClosed, closedOrder.Status)
	assert.Equal(t, "TX"+po.OrderNo, closedOrder.TransactionID)
	require.NotNil(t, closedOrder.PaidAt)

	var events []model.OutboxMessage
	require.NoError(t, d.DB.Where("event_type = ?", model.EventPaymentLate).Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, "ledger.payment.late", events[0].Topic)
	assert.Equal(t, po.OrderNo, events[0].MessageKey)

	// 同一笔迟到支付重复投递只记录一次
	result, err = svc.HandleNotify(ctx, nil, notifyBody(po.OrderNo, "100"))
	require.NoError(t, err)
	assert.True(t, result.Duplicate)
	assert.False(t, result.LatePayment)
	require.NoError(t, d.DB.Model(&model.OutboxMessage{}).Where("event_type = ?", model.EventPaymentLate).Count(&orders).Error)
	assert.Equal(t, int64(1), orders)
}
