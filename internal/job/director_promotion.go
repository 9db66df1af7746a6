package job

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DirectorPromotionJob 定期审核荣誉董事晋升
type DirectorPromotionJob struct {
	checker  DirectorChecker
	locker   Locker
	log      *zap.Logger
	stopCh   chan struct{}
	interval time.Duration
}

func NewDirectorPromotionJob(checker DirectorChecker, locker Locker, intervalMinutes int, log *zap.Logger) *DirectorPromotionJob {
	if intervalMinutes <= 0 {
		intervalMinutes = 60
	}
	return &DirectorPromotionJob{
		checker:  checker,
		locker:   locker,
		log:      log.Named("director_promotion"),
		stopCh:   make(chan struct{}),
		interval: time.Duration(intervalMinutes) * time.Minute,
	}
}

func (j *DirectorPromotionJob) Start(ctx context.Context) {
	j.log.Info("荣誉董事审核任务启动", zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info("收到停止信号，任务退出")
			return
		case <-j.stopCh:
			j.log.Info("任务停止")
			return
		case <-ticker.C:
			j.check(ctx)
		}
	}
}

func (j *DirectorPromotionJob) Stop() {
	close(j.stopCh)
}

func (j *DirectorPromotionJob) check(ctx context.Context) {
	_, err := withLock(ctx, j.locker, "job:director_promotion", j.interval, func() {
		if _, err := j.checker.CheckDirectorPromotion(ctx); err != nil {
			j.log.Error("荣誉董事审核失败", zap.Error(err))
		}
	})
	if err != nil {
		j.log.Warn("获取任务锁失败", zap.Error(err))
	}
}
