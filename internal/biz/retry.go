package biz

import (
	"context"
	"errors"
	"math/rand"
	"time"

	creditErrors "credit-service/internal/errors"

	kerrors "github.com/go-kratos/kratos/v2/errors"
)

// Backoff 第 attempt 次冲突后的等待时长：指数增长并带抖动，落在 [MinBackoff, MaxBackoff]
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.MaxBackoff <= p.MinBackoff {
		return p.MinBackoff
	}
	ceiling := p.MinBackoff << (attempt - 1)
	if ceiling > p.MaxBackoff || ceiling <= 0 {
		ceiling = p.MaxBackoff
	}
	if ceiling <= p.MinBackoff {
		return p.MinBackoff
	}
	return p.MinBackoff + time.Duration(rand.Int63n(int64(ceiling-p.MinBackoff)+1))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func isBizError(err error) bool {
	var ke *kerrors.Error
	return errors.As(err, &ke)
}

// wrapInternal 业务错误原样返回，其余包装为内部错误
func wrapInternal(err error, msg string) error {
	if err == nil {
		return nil
	}
	if isBizError(err) {
		return err
	}
	return creditErrors.ErrorInternal("%s", msg).WithCause(err)
}
