package port

import (
	"context"

	"sabzar/internal/service/hold/domain"
)

// PurchasePolicy 在预占库存之前对购物车做业务规则校验 (例如限购)。
// 违反规则时返回 *domain.PolicyViolationError。
type PurchasePolicy interface {
	Check(ctx context.Context, userID string, lines []domain.Line) error
}
