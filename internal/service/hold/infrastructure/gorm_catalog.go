package infrastructure

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"sabzar/internal/service/hold/domain"
	"sabzar/internal/service/hold/domain/port"
)

// GormCatalog 是 port.Catalog 的 GORM 实现，读取 products 表。
type GormCatalog struct {
	db *gorm.DB
}

func NewGormCatalog(db *gorm.DB) *GormCatalog {
	return &GormCatalog{db: db}
}

func (c *GormCatalog) GetProduct(ctx context.Context, productID string) (*port.Product, error) {
	var m ProductModel
	err := c.db.WithContext(ctx).Select("id", "name", "price").Where("id = ?", productID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrProductNotFound, productID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get product %s", productID)
	}
	return &port.Product{ID: m.ID, Name: m.Name, Price: m.Price}, nil
}

// Upsert 写入商品名称和价格，供运维和初始化数据使用。
// stock 只在新建时生效，已存在商品的库存要通过 GormStockLedger.SetStock 修改。
func (c *GormCatalog) Upsert(ctx context.Context, p port.Product, stock int) error {
	m := ProductModel{ID: p.ID, Name: p.Name, Price: p.Price, StockQuantity: stock}
	err := c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "price", "updated_at"}),
	}).Create(&m).Error
	return errors.Wrapf(err, "upsert product %s", p.ID)
}
