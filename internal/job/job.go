package job

import (
	"context"
	"time"

	"ledgerpay/internal/service"
)

// Locker 多实例部署时保证同一任务只有一个实例执行，为 nil 时不加锁
type Locker interface {
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
}

type SubsidyDistributor interface {
	SubsidyDistributed(ctx context.Context) (bool, error)
	DistributeWeeklySubsidy(ctx context.Context) (*service.SubsidyResult, error)
}

type DirectorChecker interface {
	CheckDirectorPromotion(ctx context.Context) (int, error)
}

type ExpiredOrderCloser interface {
	CloseExpired(ctx context.Context, limit int) (int, error)
}

// withLock 获取锁后执行 fn；未拿到锁返回 false
func withLock(ctx context.Context, locker Locker, name string, ttl time.Duration, fn func()) (bool, error) {
	if locker == nil {
		fn()
		return true, nil
	}
	release, ok, err := locker.TryAcquire(ctx, name, ttl)
	if err != nil || !ok {
		return false, err
	}
	defer release()
	fn()
	return true, nil
}
