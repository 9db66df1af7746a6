package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"ledgerpay/internal/model"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestWithTxRetry_RetriesLockContentionOnce(t *testing.T) {
	d := newTestDeps(t)
	ctx := context.Background()

	for _, number := range []uint16{1205, 1213} {
		calls := 0
		err := withTxRetry(ctx, d.DB, zap.NewNop(), func(tx *gorm.DB) error {
			calls++
			if err := tx.Create(&model.User{Mobile: fmt.Sprintf("1370000%04d", int(number)*10+calls), ReferralCode: fmt.Sprintf("R%d%d", number, calls)}).Error; err != nil {
				return err
			}
			if calls == 1 {
				return fmt.Errorf("锁定用户失败: %w", &mysql.MySQLError{Number: number, Message: "lock contention"})
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	}

	// 第一次尝试的写入已回滚
	var count int64
	require.NoError(t, d.DB.Model(&model.User{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestWithTxRetry_GivesUpAfterSecondFailure(t *testing.T) {
	d := newTestDeps(t)
	calls := 0
	deadlock := &mysql.MySQLError{Number: 1213, Message: "Deadlock found when trying to get lock"}
	err := withTxRetry(context.Background(), d.DB, zap.NewNop(), func(tx *gorm.DB) error {
		calls++
		return deadlock
	})
	assert.ErrorIs(t, err, deadlock)
	assert.Equal(t, 2, calls)
}

func TestWithTxRetry_OtherErrorsNotRetried(t *testing.T) {
	d := newTestDeps(t)
	for _, cause := range []error{
		ErrRateLimitExceeded,
		&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"},
		errors.New("connection refused"),
	} {
		calls := 0
		err := withTxRetry(context.Background(), d.DB, zap.NewNop(), func(tx *gorm.DB) error {
			calls++
			return cause
		})
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, 1, calls)
	}
}
