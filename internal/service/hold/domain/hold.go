// internal/service/hold/domain/hold.go
package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Line 是预占中的一行商品。数量必须为正整数，创建后不可变。
type Line struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"` // 下单时的价格快照
}

// Subtotal 返回该行小计。
func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Address 是收货地址快照，对核心流程不透明，只做必填校验。
type Address struct {
	Name          string `json:"name"`
	PhoneNumber   string `json:"phoneNumber"`
	Pincode       string `json:"pincode"`
	HouseNumber   string `json:"houseNumber"`
	StreetAddress string `json:"streetAddress"`
	Landmark      string `json:"landmark,omitempty"`
	City          string `json:"city"`
	State         string `json:"state"`
}

// Validate 检查必填字段，Landmark 是可选的。
func (a Address) Validate() error {
	required := map[string]string{
		"name":          a.Name,
		"phoneNumber":   a.PhoneNumber,
		"pincode":       a.Pincode,
		"houseNumber":   a.HouseNumber,
		"streetAddress": a.StreetAddress,
		"city":          a.City,
		"state":         a.State,
	}
	var missing []string
	for field, v := range required {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: missing %s", ErrInvalidAddress, strings.Join(missing, ", "))
	}
	return nil
}

// Hold 是一次结账尝试的聚合根 (HoldRecord)。
// 除了状态和支付网关字段，其余字段在创建后都不可变。
type Hold struct {
	LocalOrderID string
	UserID       string
	Lines        []Line
	Address      Address
	CouponCode   string
	TotalAmount  decimal.Decimal
	Currency     string
	Status       Status
	ExpiresAt    time.Time

	GatewayOrderID   string
	GatewayPaymentID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NormalizeLines 校验并规整购物车明细：
// 数量必须为正，同一商品的多行会被合并，结果按商品ID排序，
// 这样并发的多行预占总是以相同的顺序访问商品。
func NormalizeLines(lines []Line) ([]Line, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: no lines", ErrInvalidLine)
	}
	merged := make(map[string]int, len(lines))
	for i, l := range lines {
		id := strings.TrimSpace(l.ProductID)
		if id == "" {
			return nil, fmt.Errorf("%w: line %d has empty productId", ErrInvalidLine, i)
		}
		if l.Quantity <= 0 {
			return nil, fmt.Errorf("%w: line %d (%s) has quantity %d", ErrInvalidQuantity, i, id, l.Quantity)
		}
		merged[id] += l.Quantity
	}

	out := make([]Line, 0, len(merged))
	for id, qty := range merged {
		out = append(out, Line{ProductID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

// NewHold 是创建 Hold 的工厂函数，lines 应当已经过 NormalizeLines 处理并带上价格。
func NewHold(id, userID string, lines []Line, address Address, couponCode, currency string, now time.Time, ttl time.Duration) (*Hold, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", ErrInvalidLine)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: no lines", ErrInvalidLine)
	}
	total := decimal.Zero
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		total = total.Add(l.Subtotal())
	}
	if total.IsNegative() {
		return nil, fmt.Errorf("%w: negative total", ErrInvalidLine)
	}

	owned := make([]Line, len(lines))
	copy(owned, lines)
	return &Hold{
		LocalOrderID: id,
		UserID:       userID,
		Lines:        owned,
		Address:      address,
		CouponCode:   couponCode,
		TotalAmount:  total,
		Currency:     currency,
		Status:       StatusActive,
		ExpiresAt:    now.Add(ttl),
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// IsExpiredAt 判断在 now 时刻该预占是否已经超过有效期。
func (h *Hold) IsExpiredAt(now time.Time) bool {
	return !now.Before(h.ExpiresAt)
}

// AmountMinor 返回以最小货币单位 (例如 paise) 表示的总金额，支付网关要求整数金额。
func (h *Hold) AmountMinor() int64 {
	return h.TotalAmount.Shift(2).Round(0).IntPart()
}

// TotalQuantity 返回所有行的数量之和。
func (h *Hold) TotalQuantity() int {
	n := 0
	for _, l := range h.Lines {
		n += l.Quantity
	}
	return n
}
