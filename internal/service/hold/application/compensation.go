// internal/service/hold/application/compensation.go
package application

import (
	"context"
	"sync"

	"sabzar/internal/pkg/logger"
)

// reservation 记录一次结账中已经成功执行的预占步骤，失败时按相反顺序补偿。
type reservation struct {
	holdID        string
	compensations []func(ctx context.Context)
	mu            sync.Mutex
}

func newReservation(holdID string) *reservation {
	return &reservation{holdID: holdID}
}

// AddCompensation 把补偿动作压到队首，保证后执行的步骤先回滚。
func (r *reservation) AddCompensation(comp func(ctx context.Context)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.compensations = append([]func(context.Context){comp}, r.compensations...)
}

// TriggerCompensation 执行并清空所有补偿动作，重复调用是安全的。
func (r *reservation) TriggerCompensation(ctx context.Context) {
	r.mu.Lock()
	comps := r.compensations
	r.compensations = nil
	r.mu.Unlock()

	if len(comps) == 0 {
		return
	}
	logger.Ctx(ctx).Info().Str("local_order_id", r.holdID).Int("steps", len(comps)).Msg("executing reservation compensations")
	for _, comp := range comps {
		comp(ctx)
	}
}
