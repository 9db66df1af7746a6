package service

import (
	"time"

	"ledgerpay/internal/config"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Deps 各服务共享的依赖
type Deps struct {
	DB      *gorm.DB
	Finance *config.Finance
	Topics  config.KafkaTopicConfig
	Logger  *zap.Logger
	// Now 为空时使用 time.Now
	Now func() time.Time
}

func (d Deps) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

func (d Deps) clock() func() time.Time {
	if d.Now == nil {
		return time.Now
	}
	return d.Now
}
