// internal/service/hold/domain/state.go
package domain

// Status 定义了一次结账预占 (Hold) 的生命周期状态。
// active 是唯一的非终态，三个终态互斥，并且只能进入一次。
type Status string

const (
	StatusActive    Status = "active"    // 已预占库存，等待支付
	StatusPaid      Status = "paid"      // 支付成功，库存已扣减
	StatusCancelled Status = "cancelled" // 用户主动取消，库存已释放
	StatusExpired   Status = "expired"   // 超时未支付，库存已释放
)

// IsTerminal 判断状态是否为终态。
func (s Status) IsTerminal() bool {
	switch s {
	case StatusPaid, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

// ReleasesStock 表示进入该终态时库存应当被释放 (而不是扣减)。
func (s Status) ReleasesStock() bool {
	return s == StatusCancelled || s == StatusExpired
}
