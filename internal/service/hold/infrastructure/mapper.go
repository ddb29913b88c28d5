package infrastructure

import (
	"sabzar/internal/service/hold/domain"
)

// toDomainHold 将数据库模型转换为领域模型
func toDomainHold(m *HoldModel) *domain.Hold {
	if m == nil {
		return nil
	}
	lines := make([]domain.Line, 0, len(m.Lines))
	for _, l := range m.Lines {
		lines = append(lines, domain.Line{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	return &domain.Hold{
		LocalOrderID:     m.LocalOrderID,
		UserID:           m.UserID,
		Lines:            lines,
		Address:          m.Address,
		CouponCode:       m.CouponCode,
		TotalAmount:      m.TotalAmount,
		Currency:         m.Currency,
		Status:           m.Status,
		ExpiresAt:        m.ExpiresAt.UTC(),
		GatewayOrderID:   deref(m.GatewayOrderID),
		GatewayPaymentID: deref(m.GatewayPaymentID),
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

// fromDomainHold 将领域模型转换为数据库模型 (用于插入)。
// 时间统一以 UTC 存储，保证 expires_at 的比较在所有方言下一致。
func fromDomainHold(h *domain.Hold) *HoldModel {
	lines := make([]HoldLineModel, 0, len(h.Lines))
	for _, l := range h.Lines {
		lines = append(lines, HoldLineModel{
			LocalOrderID: h.LocalOrderID,
			ProductID:    l.ProductID,
			Quantity:     l.Quantity,
			UnitPrice:    l.UnitPrice,
		})
	}
	return &HoldModel{
		LocalOrderID:     h.LocalOrderID,
		UserID:           h.UserID,
		Status:           h.Status,
		ExpiresAt:        h.ExpiresAt.UTC(),
		Address:          h.Address,
		CouponCode:       h.CouponCode,
		TotalAmount:      h.TotalAmount,
		Currency:         h.Currency,
		GatewayOrderID:   ref(h.GatewayOrderID),
		GatewayPaymentID: ref(h.GatewayPaymentID),
		CreatedAt:        h.CreatedAt.UTC(),
		UpdatedAt:        h.UpdatedAt.UTC(),
		Lines:            lines,
	}
}

func ref(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
