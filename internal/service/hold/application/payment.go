// internal/service/hold/application/payment.go
package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"sabzar/internal/pkg/logger"
	"sabzar/internal/pkg/metrics"
	"sabzar/internal/pkg/signature"
	"sabzar/internal/service/hold/domain"
	"sabzar/internal/service/hold/domain/port"
)

// HoldOperations 是支付流程依赖的预占能力，由 HoldService 实现。
type HoldOperations interface {
	CreateHold(ctx context.Context, req *CreateHoldRequest) (*domain.Hold, error)
	Finalize(ctx context.Context, localOrderID string, outcome domain.Status) (*domain.Hold, error)
	GetHold(ctx context.Context, localOrderID string) (*domain.Hold, error)
}

type PaymentConfig struct {
	KeyID          string
	KeySecret      string
	WebhookSecret  string
	MaxAttempts    int
	InitialBackoff time.Duration
}

// PaymentService 把不可信的支付网关回调转换成对 HoldService.Finalize 的调用。
type PaymentService struct {
	holds   HoldOperations
	repo    domain.HoldRepository
	gateway port.PaymentGateway
	events  port.EventPublisher
	cfg     PaymentConfig

	tracer  trace.Tracer
	metrics *metrics.HoldMetrics
	now     func() time.Time
}

func NewPaymentService(holds HoldOperations, repo domain.HoldRepository, gateway port.PaymentGateway, events port.EventPublisher, cfg PaymentConfig, m *metrics.HoldMetrics) *PaymentService {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if m == nil {
		m = metrics.NewNopHoldMetrics()
	}
	return &PaymentService{
		holds:   holds,
		repo:    repo,
		gateway: gateway,
		events:  events,
		cfg:     cfg,
		tracer:  otel.Tracer("payment-service"),
		metrics: m,
		now:     time.Now,
	}
}

// KeyID 是前端打开支付弹窗所需的公开 key。
func (s *PaymentService) KeyID() string {
	return s.cfg.KeyID
}

// Checkout 创建预占并在同一次调用中创建支付网关订单。
// 网关重试耗尽时不会让结账失败: 返回空的 GatewayOrderID，预占保持 active 直到过期。
func (s *PaymentService) Checkout(ctx context.Context, req *CreateHoldRequest) (*CheckoutResponse, error) {
	hold, err := s.holds.CreateHold(ctx, req)
	if err != nil {
		return nil, err
	}
	resp := &CheckoutResponse{
		LocalOrderID: hold.LocalOrderID,
		ExpiresAt:    hold.ExpiresAt,
		TotalAmount:  hold.TotalAmount,
		AmountMinor:  hold.AmountMinor(),
		Currency:     hold.Currency,
	}
	gatewayOrderID, err := s.CreateRemoteOrder(ctx, hold)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).
			Str("local_order_id", hold.LocalOrderID).
			Msg("gateway order not created, hold will expire if unpaid")
		return resp, nil
	}
	resp.GatewayOrderID = gatewayOrderID
	return resp, nil
}

// CreateRemoteOrder 在支付网关上创建订单并记录网关订单号。
// 已经有网关订单号时直接返回，因此重复调用是幂等的。
func (s *PaymentService) CreateRemoteOrder(ctx context.Context, hold *domain.Hold) (string, error) {
	ctx, span := s.tracer.Start(ctx, "app.CreateRemoteOrder", trace.WithAttributes(attribute.String("hold.id", hold.LocalOrderID)))
	defer span.End()

	if hold.GatewayOrderID != "" {
		return hold.GatewayOrderID, nil
	}

	req := port.CreateOrderRequest{
		AmountMinor: hold.AmountMinor(),
		Currency:    hold.Currency,
		Receipt:     hold.LocalOrderID,
		Notes:       map[string]string{"local_order_id": hold.LocalOrderID},
	}

	var (
		remote  *port.RemoteOrder
		lastErr error
	)
	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			// 指数退避: initial, 2*initial, 4*initial ...
			delay := s.cfg.InitialBackoff << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				span.RecordError(ctx.Err())
				return "", ctx.Err()
			}
		}
		remote, lastErr = s.gateway.CreateOrder(ctx, req)
		if lastErr == nil {
			break
		}
		s.metrics.GatewayCalls.WithLabelValues("create_order", "error").Inc()
		logger.Ctx(ctx).Warn().Err(lastErr).
			Str("local_order_id", hold.LocalOrderID).
			Int("attempt", attempt+1).
			Msg("gateway create order failed")
		if !errors.Is(lastErr, domain.ErrGatewayUnavailable) {
			break
		}
	}
	if lastErr != nil {
		span.RecordError(lastErr)
		span.SetStatus(codes.Error, "gateway create order failed")
		return "", lastErr
	}
	s.metrics.GatewayCalls.WithLabelValues("create_order", "ok").Inc()

	if err := s.repo.SetGatewayOrder(ctx, hold.LocalOrderID, remote.ID); err != nil {
		if errors.Is(err, domain.ErrGatewayOrderAlreadySet) {
			// 并发的另一次调用先写入了，以已存储的为准
			stored, ferr := s.repo.FindByID(ctx, hold.LocalOrderID)
			if ferr != nil {
				return "", ferr
			}
			return stored.GatewayOrderID, nil
		}
		span.RecordError(err)
		return "", err
	}
	hold.GatewayOrderID = remote.ID
	logger.Ctx(ctx).Info().
		Str("local_order_id", hold.LocalOrderID).
		Str("gateway_order_id", remote.ID).
		Int64("amount_minor", req.AmountMinor).
		Msg("gateway order created")
	return remote.ID, nil
}

// VerifyPayment 校验客户端回传的支付签名，通过后把预占终结为 paid。
// 签名不匹配时不会修改预占。
func (s *PaymentService) VerifyPayment(ctx context.Context, req *VerifyPaymentRequest) (*domain.Hold, error) {
	ctx, span := s.tracer.Start(ctx, "app.VerifyPayment", trace.WithAttributes(attribute.String("hold.id", req.LocalOrderID)))
	defer span.End()

	hold, err := s.resolveHold(ctx, req.LocalOrderID, req.GatewayOrderID)
	if err != nil {
		return nil, err
	}
	// 签名必须基于我们自己保存的网关订单号计算，不能信任客户端传来的
	if hold.GatewayOrderID == "" || (req.GatewayOrderID != "" && req.GatewayOrderID != hold.GatewayOrderID) ||
		!signature.Verify(s.cfg.KeySecret, signature.PaymentPayload(hold.GatewayOrderID, req.GatewayPaymentID), req.Signature) {
		s.metrics.GatewayCalls.WithLabelValues("verify", "bad_signature").Inc()
		logger.Ctx(ctx).Warn().
			Str("local_order_id", hold.LocalOrderID).
			Str("gateway_payment_id", req.GatewayPaymentID).
			Msg("payment signature verification failed")
		span.SetStatus(codes.Error, "signature verification failed")
		return nil, domain.ErrSignatureVerificationFailed
	}
	s.metrics.GatewayCalls.WithLabelValues("verify", "ok").Inc()

	// 客户端重复提交同一笔支付: 已经是 paid 且支付号一致时直接返回
	if hold.Status == domain.StatusPaid && hold.GatewayPaymentID == req.GatewayPaymentID {
		return hold, nil
	}
	return s.confirmPayment(ctx, hold, req.GatewayPaymentID)
}

// confirmPayment 记录支付号并终结为 paid。支付号作为幂等键。
func (s *PaymentService) confirmPayment(ctx context.Context, hold *domain.Hold, paymentID string) (*domain.Hold, error) {
	// 没有支付号的通知 (例如缺字段的 order.paid) 只终结预占，不占用唯一索引
	if hold.Status == domain.StatusActive && paymentID != "" {
		if err := s.repo.SetGatewayPayment(ctx, hold.LocalOrderID, paymentID); err != nil {
			if errors.Is(err, domain.ErrPaymentConflict) {
				logger.Ctx(ctx).Error().
					Str("local_order_id", hold.LocalOrderID).
					Str("gateway_payment_id", paymentID).
					Msg("second distinct payment for the same hold")
			}
			return nil, err
		}
	}
	paid, err := s.holds.Finalize(ctx, hold.LocalOrderID, domain.StatusPaid)
	if err != nil {
		return nil, err
	}
	if paymentID != "" {
		paid.GatewayPaymentID = paymentID
	}
	return paid, nil
}

func (s *PaymentService) resolveHold(ctx context.Context, localOrderID, gatewayOrderID string) (*domain.Hold, error) {
	if localOrderID != "" {
		return s.holds.GetHold(ctx, localOrderID)
	}
	if gatewayOrderID != "" {
		return s.repo.FindByGatewayOrderID(ctx, gatewayOrderID)
	}
	return nil, domain.ErrHoldNotFound
}

// webhookPayload 是 Razorpay webhook 中我们关心的字段。
type webhookPayload struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID      string            `json:"id"`
				OrderID string            `json:"order_id"`
				Status  string            `json:"status"`
				Notes   map[string]string `json:"notes"`
			} `json:"entity"`
		} `json:"payment"`
		Order struct {
			Entity struct {
				ID      string `json:"id"`
				Receipt string `json:"receipt"`
			} `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

const (
	eventPaymentCaptured = "payment.captured"
	eventOrderPaid       = "order.paid"
	eventPaymentFailed   = "payment.failed"
)

// HandleWebhook 处理支付网关的异步通知。webhook 可能重复、乱序或延迟到达:
// 重复的 paid 是无害的 no-op，终结之后才到达的支付会被记录为需要退款的迟到支付。
// 只有签名错误和报文无法解析会返回 error。
func (s *PaymentService) HandleWebhook(ctx context.Context, rawBody []byte, signatureHeader string) (*WebhookResult, error) {
	ctx, span := s.tracer.Start(ctx, "app.HandleWebhook")
	defer span.End()

	if !signature.Verify(s.cfg.WebhookSecret, rawBody, signatureHeader) {
		s.metrics.WebhookEvents.WithLabelValues("unknown", string(WebhookRejected)).Inc()
		logger.Ctx(ctx).Warn().Int("body_bytes", len(rawBody)).Msg("webhook signature verification failed")
		span.SetStatus(codes.Error, "signature verification failed")
		return nil, domain.ErrSignatureVerificationFailed
	}

	var payload webhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		s.metrics.WebhookEvents.WithLabelValues("unknown", string(WebhookRejected)).Inc()
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}
	span.SetAttributes(attribute.String("webhook.event", payload.Event))

	result, err := s.handleWebhookEvent(ctx, &payload)
	if err != nil {
		span.RecordError(err)
		s.metrics.WebhookEvents.WithLabelValues(payload.Event, "error").Inc()
		return nil, err
	}
	s.metrics.WebhookEvents.WithLabelValues(payload.Event, string(result.Action)).Inc()
	return result, nil
}

func (s *PaymentService) handleWebhookEvent(ctx context.Context, payload *webhookPayload) (*WebhookResult, error) {
	payment := payload.Payload.Payment.Entity
	result := &WebhookResult{Event: payload.Event, Action: WebhookIgnored}

	switch payload.Event {
	case eventPaymentCaptured, eventOrderPaid:
	case eventPaymentFailed:
		logger.Ctx(ctx).Info().
			Str("gateway_order_id", payment.OrderID).
			Str("gateway_payment_id", payment.ID).
			Msg("payment failed at gateway, hold stays active until expiry")
		return result, nil
	default:
		logger.Ctx(ctx).Debug().Str("event", payload.Event).Msg("ignoring webhook event")
		return result, nil
	}

	gatewayOrderID := payment.OrderID
	if gatewayOrderID == "" {
		gatewayOrderID = payload.Payload.Order.Entity.ID
	}
	localOrderID := payment.Notes["local_order_id"]
	if localOrderID == "" {
		localOrderID = payload.Payload.Order.Entity.Receipt
	}

	hold, err := s.resolveHold(ctx, localOrderID, gatewayOrderID)
	if errors.Is(err, domain.ErrHoldNotFound) {
		logger.Ctx(ctx).Warn().
			Str("gateway_order_id", gatewayOrderID).
			Str("local_order_id", localOrderID).
			Msg("webhook for unknown hold")
		return result, nil
	}
	if err != nil {
		return nil, err
	}
	result.LocalOrderID = hold.LocalOrderID

	if hold.Status == domain.StatusPaid {
		result.Action = WebhookDuplicate
		if payment.ID != "" && hold.GatewayPaymentID != "" && payment.ID != hold.GatewayPaymentID {
			s.lateOrDuplicatePayment(ctx, hold, payment.ID, "second distinct payment for an already paid hold")
			result.Action = WebhookLatePayment
		}
		return result, nil
	}
	if hold.Status.IsTerminal() {
		s.lateOrDuplicatePayment(ctx, hold, payment.ID, "late payment for a finalized hold, needs refund")
		result.Action = WebhookLatePayment
		return result, nil
	}

	_, err = s.confirmPayment(ctx, hold, payment.ID)
	switch {
	case err == nil:
		result.Action = WebhookFinalized
		logger.Ctx(ctx).Info().
			Str("local_order_id", hold.LocalOrderID).
			Str("gateway_payment_id", payment.ID).
			Msg("hold paid via webhook")
	case errors.Is(err, domain.ErrHoldAlreadyFinalized):
		// 与 verify 或 cancel 竞争失败，重新读取判断是重复还是迟到
		current, ferr := s.holds.GetHold(ctx, hold.LocalOrderID)
		if ferr != nil {
			return nil, ferr
		}
		if current.Status == domain.StatusPaid {
			result.Action = WebhookDuplicate
		} else {
			s.lateOrDuplicatePayment(ctx, current, payment.ID, "late payment for a finalized hold, needs refund")
			result.Action = WebhookLatePayment
		}
	case errors.Is(err, domain.ErrExpiredHold):
		s.lateOrDuplicatePayment(ctx, hold, payment.ID, "late payment for an expired hold, needs refund")
		result.Action = WebhookLatePayment
	case errors.Is(err, domain.ErrPaymentConflict):
		result.Action = WebhookLatePayment
		s.lateOrDuplicatePayment(ctx, hold, payment.ID, "conflicting payment for hold, needs refund")
	default:
		return nil, err
	}
	return result, nil
}

func (s *PaymentService) lateOrDuplicatePayment(ctx context.Context, hold *domain.Hold, paymentID, msg string) {
	logger.Ctx(ctx).Error().
		Str("local_order_id", hold.LocalOrderID).
		Str("status", string(hold.Status)).
		Str("gateway_payment_id", paymentID).
		Msg(msg)
	if s.events == nil {
		return
	}
	event := domain.NewHoldEvent(paymentID+":late", domain.EventLatePayment, hold, s.now())
	event.GatewayPaymentID = paymentID
	if err := s.events.Publish(ctx, event); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("local_order_id", hold.LocalOrderID).Msg("failed to publish late payment event")
	}
}
