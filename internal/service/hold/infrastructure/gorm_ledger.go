package infrastructure

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"sabzar/internal/service/hold/domain"
)

// GormStockLedger 是 domain.StockLedger 的关系型实现。
// 每个操作都是一条带条件的 UPDATE，由数据库行锁串行化，从不先读后写。
type GormStockLedger struct {
	db *gorm.DB
}

func NewGormStockLedger(db *gorm.DB) *GormStockLedger {
	return &GormStockLedger{db: db}
}

// TryReserve 执行:
// UPDATE products SET reserved_quantity = reserved_quantity + ? WHERE id = ? AND stock_quantity - reserved_quantity >= ?
func (l *GormStockLedger) TryReserve(ctx context.Context, productID string, qty int) (bool, error) {
	if qty <= 0 {
		return false, domain.ErrInvalidQuantity
	}
	res := l.db.WithContext(ctx).Model(&ProductModel{}).
		Where("id = ? AND stock_quantity - reserved_quantity >= ?", productID, qty).
		Update("reserved_quantity", gorm.Expr("reserved_quantity + ?", qty))
	if res.Error != nil {
		return false, errors.Wrapf(res.Error, "reserve %d of %s", qty, productID)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	if err := l.mustExist(ctx, productID); err != nil {
		return false, err
	}
	return false, nil
}

// Release 把预占量减去 qty，下限为 0。
func (l *GormStockLedger) Release(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	res := l.db.WithContext(ctx).Model(&ProductModel{}).
		Where("id = ?", productID).
		Update("reserved_quantity", gorm.Expr("CASE WHEN reserved_quantity >= ? THEN reserved_quantity - ? ELSE 0 END", qty, qty))
	if res.Error != nil {
		return errors.Wrapf(res.Error, "release %d of %s", qty, productID)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", domain.ErrProductNotFound, productID)
	}
	return nil
}

// Commit 在一条语句中同时扣减库存和预占量。
func (l *GormStockLedger) Commit(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	res := l.db.WithContext(ctx).Model(&ProductModel{}).
		Where("id = ? AND reserved_quantity >= ? AND stock_quantity >= ?", productID, qty, qty).
		Updates(map[string]interface{}{
			"stock_quantity":    gorm.Expr("stock_quantity - ?", qty),
			"reserved_quantity": gorm.Expr("reserved_quantity - ?", qty),
		})
	if res.Error != nil {
		return errors.Wrapf(res.Error, "commit %d of %s", qty, productID)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if err := l.mustExist(ctx, productID); err != nil {
		return err
	}
	return fmt.Errorf("%w: commit %d of %s", domain.ErrLedgerInconsistent, qty, productID)
}

func (l *GormStockLedger) Available(ctx context.Context, productID string) (int, error) {
	lvl, err := l.Level(ctx, productID)
	if err != nil {
		return 0, err
	}
	return lvl.Available(), nil
}

// Level 读取计数器快照，用于诊断和运维命令。
func (l *GormStockLedger) Level(ctx context.Context, productID string) (domain.StockLevel, error) {
	var m ProductModel
	err := l.db.WithContext(ctx).Select("id", "stock_quantity", "reserved_quantity").
		Where("id = ?", productID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.StockLevel{}, fmt.Errorf("%w: %s", domain.ErrProductNotFound, productID)
	}
	if err != nil {
		return domain.StockLevel{}, errors.Wrapf(err, "read stock of %s", productID)
	}
	return domain.StockLevel{ProductID: m.ID, StockQuantity: m.StockQuantity, ReservedQuantity: m.ReservedQuantity}, nil
}

// SetStock 设置库存总量。新值小于当前预占量时拒绝，保持 reserved <= stock。
func (l *GormStockLedger) SetStock(ctx context.Context, productID string, stock int) error {
	if stock < 0 {
		return domain.ErrInvalidQuantity
	}
	res := l.db.WithContext(ctx).Model(&ProductModel{}).
		Where("id = ? AND reserved_quantity <= ?", productID, stock).
		Update("stock_quantity", stock)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "set stock of %s", productID)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if err := l.mustExist(ctx, productID); err != nil {
		return err
	}
	return fmt.Errorf("%w: stock %d below reserved quantity of %s", domain.ErrLedgerInconsistent, stock, productID)
}

func (l *GormStockLedger) mustExist(ctx context.Context, productID string) error {
	var n int64
	if err := l.db.WithContext(ctx).Model(&ProductModel{}).Where("id = ?", productID).Count(&n).Error; err != nil {
		return errors.Wrapf(err, "lookup product %s", productID)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrProductNotFound, productID)
	}
	return nil
}
