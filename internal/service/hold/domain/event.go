// internal/service/hold/domain/event.go
package domain

import "time"

// EventType 是 Hold 生命周期事件的类型，同时也是 Kafka 消息头 event-type 的取值。
type EventType string

const (
	EventHoldCreated   EventType = "hold.created"
	EventHoldPaid      EventType = "hold.paid"
	EventHoldCancelled EventType = "hold.cancelled"
	EventHoldExpired   EventType = "hold.expired"
	// EventLatePayment 表示支付在预占终结之后才到达，需要人工退款。
	EventLatePayment EventType = "hold.late_payment"
)

// EventTypeFor 返回进入某个终态时应发布的事件类型。
func EventTypeFor(s Status) EventType {
	switch s {
	case StatusPaid:
		return EventHoldPaid
	case StatusCancelled:
		return EventHoldCancelled
	case StatusExpired:
		return EventHoldExpired
	default:
		return EventHoldCreated
	}
}

// HoldEvent 是发布到消息队列的领域事件。
type HoldEvent struct {
	EventID          string    `json:"eventId"`
	Type             EventType `json:"type"`
	LocalOrderID     string    `json:"localOrderId"`
	UserID           string    `json:"userId,omitempty"`
	Status           Status    `json:"status"`
	Lines            []Line    `json:"lines,omitempty"`
	TotalAmount      string    `json:"totalAmount,omitempty"`
	Currency         string    `json:"currency,omitempty"`
	GatewayOrderID   string    `json:"gatewayOrderId,omitempty"`
	GatewayPaymentID string    `json:"gatewayPaymentId,omitempty"`
	ExpiresAt        time.Time `json:"expiresAt"`
	OccurredAt       time.Time `json:"occurredAt"`
	TraceID          string    `json:"traceId,omitempty"`
}

// NewHoldEvent 根据 Hold 的当前快照构造事件。
func NewHoldEvent(eventID string, t EventType, h *Hold, now time.Time) HoldEvent {
	return HoldEvent{
		EventID:          eventID,
		Type:             t,
		LocalOrderID:     h.LocalOrderID,
		UserID:           h.UserID,
		Status:           h.Status,
		Lines:            h.Lines,
		TotalAmount:      h.TotalAmount.StringFixed(2),
		Currency:         h.Currency,
		GatewayOrderID:   h.GatewayOrderID,
		GatewayPaymentID: h.GatewayPaymentID,
		ExpiresAt:        h.ExpiresAt,
		OccurredAt:       now,
	}
}
