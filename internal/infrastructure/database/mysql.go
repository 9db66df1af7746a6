package database

import (
	"context"
	"fmt"
	"time"

	"ledgerpay/internal/config"
	"ledgerpay/internal/model"
	"ledgerpay/internal/repository"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitMySQL 初始化 MySQL 连接，迁移表结构并初始化资金池
func InitMySQL(cfg *config.MySQLConfig, log *zap.Logger) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("连接 MySQL 失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 DB 失败: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := Migrate(db); err != nil {
		return nil, err
	}

	log.Info("MySQL 连接成功", zap.String("host", cfg.Host), zap.String("database", cfg.Database))
	return db, nil
}

// Migrate 迁移账本表结构并确保资金池账户存在
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&model.User{},
		&model.UserReferral{},
		&model.FinanceAccount{},
		&model.Product{},
		&model.ProductSku{},
		&model.Order{},
		&model.OrderItem{},
		&model.PayOrder{},
		&model.PendingReward{},
		&model.Coupon{},
		&model.AccountFlow{},
		&model.PointsLog{},
		&model.Withdrawal{},
		&model.WeeklySubsidyRecord{},
		&model.OutboxMessage{},
	)
	if err != nil {
		return fmt.Errorf("自动迁移表结构失败: %w", err)
	}

	if err := repository.NewAccountRepository(db).EnsurePools(context.Background(), model.SeedPools); err != nil {
		return fmt.Errorf("初始化资金池失败: %w", err)
	}
	return nil
}
