// Package memory 提供进程内的库存账本、预占存储和商品目录实现。
// 它们用互斥锁模拟数据库条件更新的语义，用于单元测试和本地演示。
package memory

import (
	"context"
	"fmt"
	"sync"

	"sabzar/internal/service/hold/domain"
)

type stockRow struct {
	stock    int
	reserved int
}

type StockLedger struct {
	mu   sync.Mutex
	rows map[string]*stockRow
}

func NewStockLedger() *StockLedger {
	return &StockLedger{rows: make(map[string]*stockRow)}
}

// SetStock 设置商品的库存总量，不能小于当前的预占量。
func (l *StockLedger) SetStock(_ context.Context, productID string, stock int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[productID]
	if !ok {
		row = &stockRow{}
		l.rows[productID] = row
	}
	if stock < row.reserved {
		return fmt.Errorf("%w: stock %d below reserved %d for %s", domain.ErrLedgerInconsistent, stock, row.reserved, productID)
	}
	row.stock = stock
	return nil
}

func (l *StockLedger) TryReserve(_ context.Context, productID string, qty int) (bool, error) {
	if qty <= 0 {
		return false, domain.ErrInvalidQuantity
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[productID]
	if !ok {
		return false, domain.ErrProductNotFound
	}
	if row.stock-row.reserved < qty {
		return false, nil
	}
	row.reserved += qty
	return true, nil
}

func (l *StockLedger) Release(_ context.Context, productID string, qty int) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[productID]
	if !ok {
		return domain.ErrProductNotFound
	}
	row.reserved -= qty
	if row.reserved < 0 {
		row.reserved = 0
	}
	return nil
}

func (l *StockLedger) Commit(_ context.Context, productID string, qty int) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[productID]
	if !ok {
		return domain.ErrProductNotFound
	}
	if row.reserved < qty || row.stock < qty {
		return fmt.Errorf("%w: commit %d of %s with stock=%d reserved=%d", domain.ErrLedgerInconsistent, qty, productID, row.stock, row.reserved)
	}
	row.stock -= qty
	row.reserved -= qty
	return nil
}

func (l *StockLedger) Available(_ context.Context, productID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[productID]
	if !ok {
		return 0, domain.ErrProductNotFound
	}
	return row.stock - row.reserved, nil
}

// Level 返回计数器快照，测试中用来检查 reserved <= stock 等不变量。
func (l *StockLedger) Level(_ context.Context, productID string) (domain.StockLevel, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[productID]
	if !ok {
		return domain.StockLevel{}, domain.ErrProductNotFound
	}
	return domain.StockLevel{ProductID: productID, StockQuantity: row.stock, ReservedQuantity: row.reserved}, nil
}
