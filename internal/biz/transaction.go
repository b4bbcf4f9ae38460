package biz

import (
	"context"
	"errors"
)

// Transaction 事务接口，由数据层实现。fn 内通过 ctx 复用同一事务
type Transaction interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// UserLocker 按用户加分布式锁，降低同一用户并发变更时的版本冲突
type UserLocker interface {
	Lock(ctx context.Context, userID string) (unlock func(), err error)
}

// ErrVersionConflict 乐观锁版本冲突，可重试
var ErrVersionConflict = errors.New("balance version conflict")

// ErrDuplicateEntry 流水幂等键冲突
var ErrDuplicateEntry = errors.New("duplicate ledger entry")
