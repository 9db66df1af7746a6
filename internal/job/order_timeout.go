package job

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// OrderTimeoutJob 关闭超时未支付的支付单
type OrderTimeoutJob struct {
	closer    ExpiredOrderCloser
	locker    Locker
	log       *zap.Logger
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
}

func NewOrderTimeoutJob(closer ExpiredOrderCloser, locker Locker, log *zap.Logger) *OrderTimeoutJob {
	return &OrderTimeoutJob{
		closer:    closer,
		locker:    locker,
		log:       log.Named("order_timeout"),
		stopCh:    make(chan struct{}),
		interval:  10 * time.Second,
		batchSize: 100,
	}
}

func (j *OrderTimeoutJob) Start(ctx context.Context) {
	j.log.Info("订单超时任务启动")

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
			j.closeExpiredOrders(ctx)
		}
	}
}

func (j *OrderTimeoutJob) Stop() {
	close(j.stopCh)
}

func (j *OrderTimeoutJob) closeExpiredOrders(ctx context.Context) {
	_, err := withLock(ctx, j.locker, "job:order_timeout", j.interval, func() {
		closed, err := j.closer.CloseExpired(ctx, j.batchSize)
		if err != nil {
			j.log.Error("关闭超时支付单失败", zap.Error(err))
			return
		}
		if closed > 0 {
			j.log.Info("本次关闭超时支付单", zap.Int("count", closed))
		}
	})
	if err != nil {
		j.log.Warn("获取任务锁失败", zap.Error(err))
	}
}
