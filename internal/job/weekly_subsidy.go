package job

import (
	"context"
	"errors"
	"time"

	"ledgerpay/internal/service"

	"go.uber.org/zap"
)

// WeeklySubsidyJob 每周指定星期与小时发放周补贴，每周最多一次
type WeeklySubsidyJob struct {
	distributor SubsidyDistributor
	locker      Locker
	log         *zap.Logger
	weekday     time.Weekday
	hour        int
	now         func() time.Time
	stopCh      chan struct{}
	interval    time.Duration
}

func NewWeeklySubsidyJob(distributor SubsidyDistributor, locker Locker, weekday, hour int, log *zap.Logger) *WeeklySubsidyJob {
	return &WeeklySubsidyJob{
		distributor: distributor,
		locker:      locker,
		log:         log.Named("weekly_subsidy"),
		weekday:     time.Weekday(weekday % 7),
		hour:        hour,
		now:         time.Now,
		stopCh:      make(chan struct{}),
		interval:    time.Minute,
	}
}

func (j *WeeklySubsidyJob) Start(ctx context.Context) {
	j.log.Info("周补贴任务启动", zap.Stringer("weekday", j.weekday), zap.Int("hour", j.hour))

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
			j.runOnce(ctx)
		}
	}
}

func (j *WeeklySubsidyJob) Stop() {
	close(j.stopCh)
}

func (j *WeeklySubsidyJob) due() bool {
	now := j.now()
	return now.Weekday() == j.weekday && now.Hour() == j.hour
}

// runOnce 到点且本周未发放时执行一次发放，返回是否实际发放
func (j *WeeklySubsidyJob) runOnce(ctx context.Context) bool {
	if !j.due() {
		return false
	}

	distributed := false
	_, err := withLock(ctx, j.locker, "job:weekly_subsidy", 10*time.Minute, func() {
		done, err := j.distributor.SubsidyDistributed(ctx)
		if err != nil {
			j.log.Error("查询本周发放记录失败", zap.Error(err))
			return
		}
		if done {
			return
		}

		result, err := j.distributor.DistributeWeeklySubsidy(ctx)
		if err != nil {
			if errors.Is(err, service.ErrSubsidyPoolEmpty) || errors.Is(err, service.ErrNoPointsOutstanding) {
				j.log.Info("本周无需发放补贴", zap.Error(err))
				return
			}
			j.log.Error("周补贴发放失败", zap.Error(err))
			return
		}
		distributed = true
		j.log.Info("周补贴发放成功",
			zap.Int("coupons", result.CouponCount),
			zap.String("distributed", result.TotalDistributed.String()))
	})
	if err != nil {
		j.log.Warn("获取任务锁失败", zap.Error(err))
	}
	return distributed
}
