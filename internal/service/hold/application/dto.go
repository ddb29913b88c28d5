// internal/service/hold/application/dto.go
package application

import (
	"time"

	"github.com/shopspring/decimal"

	"sabzar/internal/service/hold/domain"
)

// LineRequest 是下单请求中的一行。
type LineRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// CreateHoldRequest 是创建预占用例的输入数据
type CreateHoldRequest struct {
	UserID     string         `json:"userId,omitempty"`
	Lines      []LineRequest  `json:"lines"`
	Address    domain.Address `json:"address"`
	CouponCode string         `json:"couponCode,omitempty"`
}

func (r *CreateHoldRequest) domainLines() []domain.Line {
	lines := make([]domain.Line, 0, len(r.Lines))
	for _, l := range r.Lines {
		lines = append(lines, domain.Line{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	return lines
}

// CheckoutResponse 是结账用例的输出: 预占信息加上支付网关订单。
// GatewayOrderID 为空表示网关暂时不可用，预占会在过期后自动释放。
type CheckoutResponse struct {
	LocalOrderID   string
	GatewayOrderID string
	ExpiresAt      time.Time
	TotalAmount    decimal.Decimal
	AmountMinor    int64
	Currency       string
}

// HoldStatusView 是查询预占状态的输出数据
type HoldStatusView struct {
	LocalOrderID   string        `json:"localOrderId"`
	Status         domain.Status `json:"status"`
	ExpiresAt      time.Time     `json:"expiresAt"`
	GatewayOrderID string        `json:"gatewayOrderId,omitempty"`
}

func toStatusView(h *domain.Hold) *HoldStatusView {
	return &HoldStatusView{
		LocalOrderID:   h.LocalOrderID,
		Status:         h.Status,
		ExpiresAt:      h.ExpiresAt,
		GatewayOrderID: h.GatewayOrderID,
	}
}

// VerifyPaymentRequest 是客户端支付完成后回传的校验参数 (Razorpay checkout 的回调字段)。
type VerifyPaymentRequest struct {
	LocalOrderID     string `json:"localOrderId"`
	GatewayOrderID   string `json:"razorpay_order_id"`
	GatewayPaymentID string `json:"razorpay_payment_id"`
	Signature        string `json:"razorpay_signature"`
}

// WebhookAction 描述一次 webhook 投递最终做了什么。
type WebhookAction string

const (
	WebhookFinalized   WebhookAction = "finalized"
	WebhookDuplicate   WebhookAction = "duplicate"
	WebhookLatePayment WebhookAction = "late_payment"
	WebhookIgnored     WebhookAction = "ignored"
	WebhookRejected    WebhookAction = "rejected"
)

type WebhookResult struct {
	Event        string
	LocalOrderID string
	Action       WebhookAction
}
