// internal/service/hold/domain/repository.go
package domain

import (
	"context"
	"time"
)

// HoldRepository 定义了 Hold 聚合的持久化接口。
// 它位于领域层，但由基础设施层实现。状态字段只能通过 Transition 修改。
type HoldRepository interface {
	// Create 持久化一个新的 active 状态的 Hold（包含所有明细行）。
	Create(ctx context.Context, hold *Hold) error

	// FindByID 根据 localOrderId 查找，不存在时返回 ErrHoldNotFound。
	FindByID(ctx context.Context, id string) (*Hold, error)

	// FindByGatewayOrderID 根据支付网关订单号查找，不存在时返回 ErrHoldNotFound。
	FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*Hold, error)

	// Transition 是带条件的原子状态变更: 只有当前状态仍为 active 时才会写入 to。
	// requireUnexpired 为 true 时额外要求 expires_at > now。
	// 返回 false 表示条件不满足（被其他终结者抢先，或已过期），没有任何修改。
	Transition(ctx context.Context, id string, to Status, now time.Time, requireUnexpired bool) (bool, error)

	// SetGatewayOrder 只在尚未设置时写入网关订单号，否则返回 ErrGatewayOrderAlreadySet。
	SetGatewayOrder(ctx context.Context, id, gatewayOrderID string) error

	// SetGatewayPayment 记录网关支付号。重复写入相同的值是幂等的；
	// 已经记录了不同的支付号时返回 ErrPaymentConflict。空支付号视为未设置，不做任何修改。
	SetGatewayPayment(ctx context.Context, id, gatewayPaymentID string) error

	// FindExpired 返回 active 且 expires_at <= now 的 Hold ID，按过期时间排序。
	FindExpired(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// StockLedger 是唯一允许修改 stockQuantity / reservedQuantity 的组件。
// 每个操作都必须是存储层的一次原子条件更新，不能先读后写。
type StockLedger interface {
	// TryReserve 当 stock - reserved >= qty 时原子地 reserved += qty。
	// 库存不足返回 (false, nil)，商品不存在返回 ErrProductNotFound。
	TryReserve(ctx context.Context, productID string, qty int) (bool, error)

	// Release 原子地 reserved -= qty，下限为 0。
	Release(ctx context.Context, productID string, qty int) error

	// Commit 原子地同时扣减 stock 和 reserved（预占转为实际售出）。
	Commit(ctx context.Context, productID string, qty int) error

	// Available 返回 stock - reserved，仅用于展示和诊断。
	Available(ctx context.Context, productID string) (int, error)
}

// StockAdmin 是运维用的库存设置接口，新库存不能小于当前的预占量。
type StockAdmin interface {
	SetStock(ctx context.Context, productID string, stock int) error
}

// StockLevel 是某个商品计数器的快照。
type StockLevel struct {
	ProductID        string
	StockQuantity    int
	ReservedQuantity int
}

func (s StockLevel) Available() int {
	return s.StockQuantity - s.ReservedQuantity
}
