package adapter

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sabzar/internal/pkg/redis"
	"sabzar/internal/service/hold/domain"
)

func newRedisLedger(t *testing.T) *RedisStockLedger {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	ledger, err := NewRedisStockLedger(redis.Wrap(rdb))
	require.NoError(t, err)
	return ledger
}

func TestRedisStockLedger(t *testing.T) {
	ctx := context.Background()
	ledger := newRedisLedger(t)
	require.NoError(t, ledger.SetStock(ctx, "p1", 3))

	ok, err := ledger.TryReserve(ctx, "p1", 2)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ledger.TryReserve(ctx, "p1", 2)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, ledger.Commit(ctx, "p1", 2))
	lvl, err := ledger.Level(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.StockLevel{ProductID: "p1", StockQuantity: 1, ReservedQuantity: 0}, lvl)

	assert.ErrorIs(t, ledger.Commit(ctx, "p1", 1), domain.ErrLedgerInconsistent)

	ok, err = ledger.TryReserve(ctx, "p1", 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, ledger.Release(ctx, "p1", 10))
	avail, err := ledger.Available(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, avail)
}

func TestRedisStockLedgerMissingProduct(t *testing.T) {
	ctx := context.Background()
	ledger := newRedisLedger(t)

	_, err := ledger.TryReserve(ctx, "ghost", 1)
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
	assert.ErrorIs(t, ledger.Release(ctx, "ghost", 1), domain.ErrProductNotFound)
	assert.ErrorIs(t, ledger.Commit(ctx, "ghost", 1), domain.ErrProductNotFound)
	_, err = ledger.Available(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestRedisStockLedgerSetStockBelowReserved(t *testing.T) {
	ctx := context.Background()
	ledger := newRedisLedger(t)
	require.NoError(t, ledger.SetStock(ctx, "p1", 5))
	ok, err := ledger.TryReserve(ctx, "p1", 4)
	require.NoError(t, err)
	require.True(t, ok)

	assert.ErrorIs(t, ledger.SetStock(ctx, "p1", 3), domain.ErrLedgerInconsistent)
	require.NoError(t, ledger.SetStock(ctx, "p1", 4))
	avail, err := ledger.Available(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, avail)
}

func TestRedisStockLedgerConcurrentReserve(t *testing.T) {
	ctx := context.Background()
	ledger := newRedisLedger(t)
	require.NoError(t, ledger.SetStock(ctx, "p1", 3))

	var (
		wg  sync.WaitGroup
		won atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := ledger.TryReserve(ctx, "p1", 1)
			assert.NoError(t, err)
			if ok {
				won.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(3), won.Load())

	lvl, err := ledger.Level(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, lvl.ReservedQuantity)
	assert.Equal(t, 3, lvl.StockQuantity)
}
