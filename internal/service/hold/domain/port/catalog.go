package port

import (
	"context"

	"github.com/shopspring/decimal"
)

// Product 是商品目录中与结账相关的只读视图。
type Product struct {
	ID    string
	Name  string
	Price decimal.Decimal
}

// Catalog 是商品目录的出站端口，用于校验商品存在并取价格快照。
type Catalog interface {
	// GetProduct 不存在时返回 domain.ErrProductNotFound。
	GetProduct(ctx context.Context, productID string) (*Product, error)
}
