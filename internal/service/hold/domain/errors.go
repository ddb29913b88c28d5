// internal/service/hold/domain/errors.go
package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidQuantity             = errors.New("invalid quantity")
	ErrInvalidLine                 = errors.New("invalid line item")
	ErrInvalidAddress              = errors.New("invalid delivery address")
	ErrProductNotFound             = errors.New("product not found")
	ErrInsufficientStock           = errors.New("insufficient stock")
	ErrPolicyViolation             = errors.New("purchase policy violation")
	ErrHoldNotFound                = errors.New("hold not found")
	ErrHoldAlreadyFinalized        = errors.New("hold already finalized")
	ErrExpiredHold                 = errors.New("hold expired")
	ErrInvalidOutcome              = errors.New("invalid finalize outcome")
	ErrSignatureVerificationFailed = errors.New("signature verification failed")
	ErrGatewayUnavailable          = errors.New("payment gateway unavailable")
	ErrGatewayRejected             = errors.New("payment gateway rejected request")
	ErrGatewayOrderAlreadySet      = errors.New("gateway order already set")
	ErrPaymentConflict             = errors.New("a different payment is already recorded")
	ErrLedgerInconsistent          = errors.New("stock ledger inconsistent")
)

// ShortLine 描述一条库存不足的明细，供前端提示具体是哪件商品不足。
type ShortLine struct {
	ProductID string `json:"productId"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// InsufficientStockError 携带所有库存不足的明细。
type InsufficientStockError struct {
	Lines []ShortLine
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Lines))
	for _, l := range e.Lines {
		parts = append(parts, fmt.Sprintf("%s (requested %d, available %d)", l.ProductID, l.Requested, l.Available))
	}
	return "insufficient stock: " + strings.Join(parts, ", ")
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// PolicyViolationError 表示某条限购规则没有通过。
type PolicyViolationError struct {
	Rule      string
	ProductID string
}

func (e *PolicyViolationError) Error() string {
	if e.ProductID != "" {
		return fmt.Sprintf("purchase policy violation: rule %q failed for product %s", e.Rule, e.ProductID)
	}
	return fmt.Sprintf("purchase policy violation: rule %q failed", e.Rule)
}

func (e *PolicyViolationError) Is(target error) bool {
	return target == ErrPolicyViolation
}
