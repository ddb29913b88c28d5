package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"sabzar/internal/service/hold/domain"
)

type HoldRepository struct {
	mu    sync.Mutex
	holds map[string]*domain.Hold
}

func NewHoldRepository() *HoldRepository {
	return &HoldRepository{holds: make(map[string]*domain.Hold)}
}

// clone 保证调用方拿到的是快照，不会绕过 Transition 修改状态。
func clone(h *domain.Hold) *domain.Hold {
	c := *h
	c.Lines = append([]domain.Line(nil), h.Lines...)
	return &c
}

func (r *HoldRepository) Create(_ context.Context, hold *domain.Hold) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.holds[hold.LocalOrderID]; exists {
		return fmt.Errorf("hold %s already exists", hold.LocalOrderID)
	}
	r.holds[hold.LocalOrderID] = clone(hold)
	return nil
}

func (r *HoldRepository) FindByID(_ context.Context, id string) (*domain.Hold, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.holds[id]
	if !ok {
		return nil, domain.ErrHoldNotFound
	}
	return clone(h), nil
}

func (r *HoldRepository) FindByGatewayOrderID(_ context.Context, gatewayOrderID string) (*domain.Hold, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.holds {
		if gatewayOrderID != "" && h.GatewayOrderID == gatewayOrderID {
			return clone(h), nil
		}
	}
	return nil, domain.ErrHoldNotFound
}

func (r *HoldRepository) Transition(_ context.Context, id string, to domain.Status, now time.Time, requireUnexpired bool) (bool, error) {
	if !to.IsTerminal() {
		return false, domain.ErrInvalidOutcome
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.holds[id]
	if !ok || h.Status != domain.StatusActive {
		return false, nil
	}
	if requireUnexpired && !now.Before(h.ExpiresAt) {
		return false, nil
	}
	h.Status = to
	h.UpdatedAt = now
	return true, nil
}

func (r *HoldRepository) SetGatewayOrder(_ context.Context, id, gatewayOrderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.holds[id]
	if !ok {
		return domain.ErrHoldNotFound
	}
	if h.GatewayOrderID != "" {
		return domain.ErrGatewayOrderAlreadySet
	}
	h.GatewayOrderID = gatewayOrderID
	return nil
}

func (r *HoldRepository) SetGatewayPayment(_ context.Context, id, gatewayPaymentID string) error {
	if gatewayPaymentID == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.holds[id]
	if !ok {
		return domain.ErrHoldNotFound
	}
	switch h.GatewayPaymentID {
	case "":
		for otherID, other := range r.holds {
			if otherID != id && other.GatewayPaymentID == gatewayPaymentID {
				return domain.ErrPaymentConflict
			}
		}
		h.GatewayPaymentID = gatewayPaymentID
		return nil
	case gatewayPaymentID:
		return nil
	default:
		return domain.ErrPaymentConflict
	}
}

func (r *HoldRepository) FindExpired(_ context.Context, now time.Time, limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired []*domain.Hold
	for _, h := range r.holds {
		if h.Status == domain.StatusActive && !now.Before(h.ExpiresAt) {
			expired = append(expired, h)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ExpiresAt.Before(expired[j].ExpiresAt) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	ids := make([]string, 0, len(expired))
	for _, h := range expired {
		ids = append(ids, h.LocalOrderID)
	}
	return ids, nil
}
