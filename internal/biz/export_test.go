package biz

import (
	"context"
	"time"
)

// SetClock 替换时钟，重试等待直接返回
func (uc *UserBalanceUseCase) SetClock(now func() time.Time) {
	uc.now = now
	uc.sleep = func(context.Context, time.Duration) error { return nil }
}

// SetClock 替换时钟
func (uc *StatsUseCase) SetClock(now func() time.Time) {
	uc.now = now
}

// SetClock 替换时钟
func (uc *ReconcileUseCase) SetClock(now func() time.Time) {
	uc.now = now
}
