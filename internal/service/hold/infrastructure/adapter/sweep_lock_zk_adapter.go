package adapter

import (
	"context"

	"sabzar/internal/pkg/zookeeper"
)

// SweepLockZKAdapter 是 port.SweepLock 的 ZooKeeper 实现。
type SweepLockZKAdapter struct {
	lock *zookeeper.DistributedLock
}

func NewSweepLockZKAdapter(conn zookeeper.Conn, resourceID string) (*SweepLockZKAdapter, error) {
	lock, err := zookeeper.NewDistributedLock(conn, resourceID)
	if err != nil {
		return nil, err
	}
	return &SweepLockZKAdapter{lock: lock}, nil
}

func (a *SweepLockZKAdapter) TryAcquire(_ context.Context) (bool, error) {
	return a.lock.TryLock()
}

func (a *SweepLockZKAdapter) Release(_ context.Context) error {
	return a.lock.Unlock()
}
