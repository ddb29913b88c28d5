package port

import (
	"context"
)

// CreateOrderRequest 是在支付网关上创建远程订单的参数。
type CreateOrderRequest struct {
	AmountMinor int64 // 最小货币单位，例如 paise
	Currency    string
	Receipt     string // 商户侧的单据号，这里使用 localOrderId
	Notes       map[string]string
}

// RemoteOrder 是支付网关返回的远程订单。
type RemoteOrder struct {
	ID       string
	Amount   int64
	Currency string
	Status   string
}

// PaymentGateway 是第三方支付网关的出站端口。
// 实现需要区分两类错误: domain.ErrGatewayUnavailable (可重试) 和 domain.ErrGatewayRejected (不可重试)。
type PaymentGateway interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*RemoteOrder, error)
}
