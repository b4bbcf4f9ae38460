package data

import (
	"context"
	"fmt"
	"time"

	"credit-service/internal/biz"
	"credit-service/internal/constants"
	"credit-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redsync/redsync/v4"
)

// userLocker 基于 redsync 的用户级分布式锁
type userLocker struct {
	sync    *redsync.Redsync
	metrics *metrics.CreditMetrics
	log     *log.Helper
}

// NewUserLocker 创建用户锁（返回 biz.UserLocker 接口）
func NewUserLocker(sync *redsync.Redsync, m *metrics.CreditMetrics, logger log.Logger) biz.UserLocker {
	return &userLocker{
		sync:    sync,
		metrics: m,
		log:     log.NewHelper(logger),
	}
}

// Lock 加锁，返回解锁函数
func (l *userLocker) Lock(ctx context.Context, userID string) (func(), error) {
	if l.sync == nil {
		return func() {}, nil
	}
	lockKey := fmt.Sprintf("%s%s", constants.RedisKeyBalanceLock, userID)
	lockStartTime := time.Now()
	mutex := l.sync.NewMutex(lockKey, redsync.WithExpiry(5*time.Second))
	if err := mutex.LockContext(ctx); err != nil {
		l.observe(constants.ResultFailed, lockStartTime)
		return nil, err
	}
	l.observe(constants.ResultSuccess, lockStartTime)
	return func() {
		unlockCtx, cancel := cacheContext(ctx)
		defer cancel()
		if _, err := mutex.UnlockContext(unlockCtx); err != nil {
			l.log.Warnf("failed to release lock: key=%s, error=%v", lockKey, err)
		}
	}, nil
}

func (l *userLocker) observe(result string, startTime time.Time) {
	if l.metrics == nil {
		return
	}
	l.metrics.LockAcquireTotal.WithLabelValues(result).Inc()
	l.metrics.LockAcquireDuration.Observe(time.Since(startTime).Seconds())
}
