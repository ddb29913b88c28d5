package port

import "context"

// SweepLock 让多个副本错开过期扫描。它只是一个优化:
// 即使两个副本同时扫描，带条件的状态变更也保证每个预占只会被终结一次。
type SweepLock interface {
	// TryAcquire 非阻塞，拿不到锁时返回 false。
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}
