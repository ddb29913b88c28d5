package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sabzar/internal/service/hold/domain"
	"sabzar/internal/service/hold/infrastructure/memory"
)

// cancelOnTransitionRepo 在状态落库后立刻取消调用方的 ctx，模拟客户端断开或进程关停。
type cancelOnTransitionRepo struct {
	domain.HoldRepository
	cancel context.CancelFunc
}

func (r *cancelOnTransitionRepo) Transition(ctx context.Context, id string, to domain.Status, now time.Time, requireUnexpired bool) (bool, error) {
	won, err := r.HoldRepository.Transition(ctx, id, to, now, requireUnexpired)
	r.cancel()
	return won, err
}

// ctxAwareLedger 像真实存储一样在 ctx 取消后拒绝写入。
type ctxAwareLedger struct {
	*memory.StockLedger
}

func (l ctxAwareLedger) Release(ctx context.Context, productID string, qty int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.StockLedger.Release(ctx, productID, qty)
}

func (l ctxAwareLedger) Commit(ctx context.Context, productID string, qty int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.StockLedger.Commit(ctx, productID, qty)
}

func TestFinalizeSettlesStockAfterCallerCancels(t *testing.T) {
	tests := []struct {
		outcome   domain.Status
		wantStock int
	}{
		{domain.StatusCancelled, 3},
		{domain.StatusExpired, 3},
		{domain.StatusPaid, 1},
	}
	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			f := newFixture()
			f.addProduct("apple", "10.00", 3)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			repo := &cancelOnTransitionRepo{HoldRepository: f.repo, cancel: cancel}
			svc := NewHoldService(repo, ctxAwareLedger{f.ledger}, f.catalog, 15*time.Minute, "INR", WithClock(f.clock.Now))

			hold, err := svc.CreateHold(context.Background(), holdRequest(line("apple", 2)))
			require.NoError(t, err)

			got, err := svc.Finalize(ctx, hold.LocalOrderID, tt.outcome)
			require.NoError(t, err)
			assert.Equal(t, tt.outcome, got.Status)
			require.Error(t, ctx.Err())

			lvl, err := f.ledger.Level(context.Background(), "apple")
			require.NoError(t, err)
			assert.Equal(t, tt.wantStock, lvl.StockQuantity)
			assert.Equal(t, 0, lvl.ReservedQuantity, "reserved stock must not leak")
		})
	}
}

func TestCreateHoldUsesTTLSource(t *testing.T) {
	ttl := 5 * time.Minute
	f := newFixture(WithTTLSource(func() time.Duration { return ttl }))
	f.addProduct("apple", "10.00", 3)

	h, err := f.holds.CreateHold(context.Background(), holdRequest(line("apple", 1)))
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now().Add(5*time.Minute), h.ExpiresAt)

	// 非法值回退到构造时的 ttl
	ttl = 0
	h, err = f.holds.CreateHold(context.Background(), holdRequest(line("apple", 1)))
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now().Add(15*time.Minute), h.ExpiresAt)
}
