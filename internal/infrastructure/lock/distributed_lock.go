package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var ErrLockFailed = errors.New("获取分布式锁失败")

// 只删除自己持有的锁
const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// DistributedLock 基于 SET NX EX 的 Redis 锁，value 为持有者标识
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 非阻塞获取锁
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

func (l *DistributedLock) Unlock(ctx context.Context) error {
	return l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Err()
}

// Locker 按名称加锁，返回释放函数
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(), err error)
}

// RedisLocker 每次加锁生成新的持有者标识
type RedisLocker struct {
	client        *redis.Client
	prefix        string
	retryInterval time.Duration
	maxRetries    int
}

func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{
		client:        client,
		prefix:        prefix,
		retryInterval: 100 * time.Millisecond,
		maxRetries:    30,
	}
}

func (r *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	l := NewDistributedLock(r.client, fmt.Sprintf("%s:lock:%s", r.prefix, name), uuid.NewString(), ttl)
	if err := l.Lock(ctx, r.retryInterval, r.maxRetries); err != nil {
		return nil, err
	}
	return func() {
		// 释放使用独立的 context，请求取消后仍能解锁
		unlockCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = l.Unlock(unlockCtx)
	}, nil
}

// TryAcquire 非阻塞获取，定时任务多实例部署时只有一个实例执行
func (r *RedisLocker) TryAcquire(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	l := NewDistributedLock(r.client, fmt.Sprintf("%s:lock:%s", r.prefix, name), uuid.NewString(), ttl)
	ok, err := l.TryLock(ctx)
	if err != nil || !ok {
		return nil, false, err
	}
	return func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = l.Unlock(unlockCtx)
	}, true, nil
}
