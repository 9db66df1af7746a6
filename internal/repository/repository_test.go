package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"ledgerpay/internal/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&model.User{}, &model.UserReferral{}, &model.PayOrder{}, &model.OutboxMessage{}, &model.Coupon{}))
	return db
}

func setupMock(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

var markPaidSQL = regexp.QuoteMeta("UPDATE `pay_order` SET")

func TestPayOrderRepository_MarkPaidIsGuarded(t *testing.T) {
	db, mock := setupMock(t)
	repo := NewPayOrderRepository(db)
	ctx := context.Background()

	mock.ExpectExec(markPaidSQL + ".*order_no = \\? AND status = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := repo.MarkPaid(ctx, nil, "PAY001", "TX001", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	// 已不是 PENDING_PAY，条件更新不命中
	mock.ExpectExec(markPaidSQL).WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = repo.MarkPaid(ctx, nil, "PAY001", "TX001", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectExec(markPaidSQL).WillReturnError(errors.New("connection reset"))
	_, err = repo.MarkPaid(ctx, nil, "PAY001", "TX001", time.Now())
	assert.Error(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPayOrderRepository_Lifecycle(t *testing.T) {
	db := setupSQLite(t)
	repo := NewPayOrderRepository(db)
	ctx := context.Background()

	now := time.Now()
	po := &model.PayOrder{
		OrderNo:   "PAY002",
		UserID:    1,
		ProductID: 1,
		Quantity:  1,
		Status:    model.PayOrderStatusPendingPay,
		ExpiredAt: now.Add(-time.Minute),
	}
	require.NoError(t, repo.Create(ctx, nil, po))

	expired, err := repo.GetExpiredOrders(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)

	closed, err := repo.Close(ctx, "PAY002")
	require.NoError(t, err)
	assert.True(t, closed)

	paid, err := repo.MarkPaid(ctx, nil, "PAY002", "TX002", now)
	require.NoError(t, err)
	assert.False(t, paid)

	_, err = repo.GetByOrderNo(ctx, nil, "NOPE")
	assert.ErrorIs(t, err, ErrPayOrderNotFound)
}

func TestUserRepository_ReferralIsImmutable(t *testing.T) {
	db := setupSQLite(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.CreateReferral(ctx, nil, 2, 1))
	assert.ErrorIs(t, repo.CreateReferral(ctx, nil, 2, 3), ErrReferrerExists)

	id, err := repo.GetReferrerID(ctx, nil, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	id, err = repo.GetReferrerID(ctx, nil, 1)
	require.NoError(t, err)
	assert.Zero(t, id)
}

func TestOutboxRepository_RetryAndRequeue(t *testing.T) {
	db := setupSQLite(t)
	repo := NewOutboxRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Enqueue(ctx, nil, model.EventOrderSettled, "ledger.order.settled", "M1", map[string]interface{}{"order_id": 1}))

	pending, err := repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.JSONEq(t, `{"order_id":1}`, pending[0].Payload)

	id := pending[0].ID
	require.NoError(t, repo.RecordFailure(ctx, id, errors.New("broker down"), false))
	require.NoError(t, repo.RecordFailure(ctx, id, errors.New("broker down"), true))

	failed, err := repo.GetFailedMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 2, failed[0].RetryCount)
	assert.Equal(t, "broker down", failed[0].LastError)

	ok, err := repo.Requeue(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
	pending, err = repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Zero(t, pending[0].RetryCount)

	require.NoError(t, repo.MarkAsSent(ctx, id))
	pending, err = repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// 已发送的消息不能重新投递
	ok, err = repo.Requeue(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}
