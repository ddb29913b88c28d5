package infrastructure

import (
	"time"

	"github.com/shopspring/decimal"

	"sabzar/internal/service/hold/domain"
)

// ProductModel 对应数据库中的 products 表，同时承载库存计数器。
// stock_quantity / reserved_quantity 只能由 GormStockLedger 的条件更新修改。
type ProductModel struct {
	ID               string          `gorm:"primaryKey;type:varchar(64)"`
	Name             string          `gorm:"type:varchar(255)"`
	Price            decimal.Decimal `gorm:"type:decimal(12,2)"`
	StockQuantity    int             `gorm:"not null;default:0"`
	ReservedQuantity int             `gorm:"not null;default:0"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TableName 指定 GORM 应该使用的表名
func (ProductModel) TableName() string {
	return "products"
}

// HoldModel 对应数据库中的 holds 表。记录永不删除，作为审计轨迹保留。
// 网关订单号和支付号允许为 NULL，唯一索引只约束已经设置的值。
type HoldModel struct {
	LocalOrderID     string          `gorm:"primaryKey;type:varchar(64)"`
	UserID           string          `gorm:"type:varchar(64);index"`
	Status           domain.Status   `gorm:"type:varchar(16);not null;index:idx_holds_status_expires,priority:1"`
	ExpiresAt        time.Time       `gorm:"not null;index:idx_holds_status_expires,priority:2"`
	Address          domain.Address  `gorm:"type:text;serializer:json"`
	CouponCode       string          `gorm:"type:varchar(64)"`
	TotalAmount      decimal.Decimal `gorm:"type:decimal(12,2)"`
	Currency         string          `gorm:"type:varchar(8)"`
	GatewayOrderID   *string         `gorm:"type:varchar(64);uniqueIndex"`
	GatewayPaymentID *string         `gorm:"type:varchar(64);uniqueIndex"`
	CreatedAt        time.Time
	UpdatedAt        time.Time

	Lines []HoldLineModel `gorm:"foreignKey:LocalOrderID;references:LocalOrderID"`
}

func (HoldModel) TableName() string {
	return "holds"
}

// HoldLineModel 对应 hold_lines 表，保存每一行的数量和价格快照。
type HoldLineModel struct {
	ID           uint            `gorm:"primaryKey"`
	LocalOrderID string          `gorm:"type:varchar(64);index"`
	ProductID    string          `gorm:"type:varchar(64)"`
	Quantity     int             `gorm:"not null"`
	UnitPrice    decimal.Decimal `gorm:"type:decimal(12,2)"`
}

func (HoldLineModel) TableName() string {
	return "hold_lines"
}
