package service

import (
	"context"
	"errors"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MySQL 锁等待超时与死锁
const (
	mysqlErrLockWaitTimeout uint16 = 1205
	mysqlErrDeadlock        uint16 = 1213
)

func isLockContention(err error) bool {
	var mysqlErr *mysql.MySQLError
	if !errors.As(err, &mysqlErr) {
		return false
	}
	return mysqlErr.Number == mysqlErrLockWaitTimeout || mysqlErr.Number == mysqlErrDeadlock
}

// withTxRetry 执行事务，遇到锁等待超时或死锁时整体重试一次
//
// fn 可能执行两次，闭包内对外部结果的写入必须在开头重置。
func withTxRetry(ctx context.Context, db *gorm.DB, log *zap.Logger, fn func(tx *gorm.DB) error) error {
	err := db.WithContext(ctx).Transaction(fn)
	if !isLockContention(err) {
		return err
	}
	log.Warn("事务锁冲突，重试一次", zap.Error(err))
	return db.WithContext(ctx).Transaction(fn)
}
