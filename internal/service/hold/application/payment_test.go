package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sabzar/internal/pkg/signature"
	"sabzar/internal/service/hold/domain"
)

const (
	testKeySecret     = "key-secret"
	testWebhookSecret = "webhook-secret"
)

func newPaymentFixture(t *testing.T, gw *fakeGateway) (*fixture, *PaymentService) {
	t.Helper()
	f := newFixture()
	f.addProduct("apple", "120.00", 3)
	svc := NewPaymentService(f.holds, f.repo, gw, f.events, PaymentConfig{
		KeyID:          "rzp_test",
		KeySecret:      testKeySecret,
		WebhookSecret:  testWebhookSecret,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
	}, nil)
	svc.now = f.clock.Now
	return f, svc
}

func webhookBody(t *testing.T, event, paymentID, gatewayOrderID, localOrderID string) []byte {
	t.Helper()
	body := map[string]any{
		"event": event,
		"payload": map[string]any{
			"payment": map[string]any{
				"entity": map[string]any{
					"id":       paymentID,
					"order_id": gatewayOrderID,
					"status":   "captured",
					"notes":    map[string]string{"local_order_id": localOrderID},
				},
			},
		},
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	return raw
}

func TestCheckoutCreatesGatewayOrder(t *testing.T) {
	gw := &fakeGateway{}
	f, svc := newPaymentFixture(t, gw)

	resp, err := svc.Checkout(context.Background(), holdRequest(line("apple", 2)))
	require.NoError(t, err)

	assert.Equal(t, "order_"+resp.LocalOrderID, resp.GatewayOrderID)
	assert.Equal(t, int64(24000), resp.AmountMinor)
	assert.Equal(t, "INR", gw.lastRq.Currency)
	assert.Equal(t, resp.LocalOrderID, gw.lastRq.Notes["local_order_id"])

	stored, err := f.repo.FindByID(context.Background(), resp.LocalOrderID)
	require.NoError(t, err)
	assert.Equal(t, resp.GatewayOrderID, stored.GatewayOrderID)

	// 已有网关订单号时不会再次调用网关
	id, err := svc.CreateRemoteOrder(context.Background(), stored)
	require.NoError(t, err)
	assert.Equal(t, resp.GatewayOrderID, id)
	assert.Equal(t, 1, gw.Calls())
}

func TestCreateRemoteOrderRetriesTransientFailures(t *testing.T) {
	gw := &fakeGateway{errs: []error{domain.ErrGatewayUnavailable, domain.ErrGatewayUnavailable}}
	_, svc := newPaymentFixture(t, gw)

	resp, err := svc.Checkout(context.Background(), holdRequest(line("apple", 1)))
	require.NoError(t, err)
	assert.NotEmpty(t, resp.GatewayOrderID)
	assert.Equal(t, 3, gw.Calls())
}

func TestCheckoutLeavesHoldActiveWhenGatewayIsDown(t *testing.T) {
	gw := &fakeGateway{errs: []error{domain.ErrGatewayUnavailable, domain.ErrGatewayUnavailable, domain.ErrGatewayUnavailable}}
	f, svc := newPaymentFixture(t, gw)

	resp, err := svc.Checkout(context.Background(), holdRequest(line("apple", 1)))
	require.NoError(t, err)
	assert.Empty(t, resp.GatewayOrderID)
	assert.Equal(t, 3, gw.Calls())

	hold, err := f.repo.FindByID(context.Background(), resp.LocalOrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, hold.Status)
}

func TestCreateRemoteOrderDoesNotRetryRejection(t *testing.T) {
	gw := &fakeGateway{errs: []error{domain.ErrGatewayRejected}}
	f, svc := newPaymentFixture(t, gw)

	hold, err := f.holds.CreateHold(context.Background(), holdRequest(line("apple", 1)))
	require.NoError(t, err)
	_, err = svc.CreateRemoteOrder(context.Background(), hold)
	assert.ErrorIs(t, err, domain.ErrGatewayRejected)
	assert.Equal(t, 1, gw.Calls())
}

func TestVerifyPayment(t *testing.T) {
	ctx := context.Background()
	f, svc := newPaymentFixture(t, &fakeGateway{})
	resp, err := svc.Checkout(ctx, holdRequest(line("apple", 2)))
	require.NoError(t, err)

	t.Run("bad signature leaves hold untouched", func(t *testing.T) {
		_, err := svc.VerifyPayment(ctx, &VerifyPaymentRequest{
			LocalOrderID:     resp.LocalOrderID,
			GatewayOrderID:   resp.GatewayOrderID,
			GatewayPaymentID: "pay_1",
			Signature:        signature.Sign("wrong-secret", signature.PaymentPayload(resp.GatewayOrderID, "pay_1")),
		})
		assert.ErrorIs(t, err, domain.ErrSignatureVerificationFailed)

		hold, err := f.repo.FindByID(ctx, resp.LocalOrderID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusActive, hold.Status)
		assert.Empty(t, hold.GatewayPaymentID)
	})

	t.Run("valid signature pays", func(t *testing.T) {
		req := &VerifyPaymentRequest{
			LocalOrderID:     resp.LocalOrderID,
			GatewayOrderID:   resp.GatewayOrderID,
			GatewayPaymentID: "pay_1",
			Signature:        signature.Sign(testKeySecret, signature.PaymentPayload(resp.GatewayOrderID, "pay_1")),
		}
		hold, err := svc.VerifyPayment(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPaid, hold.Status)

		lvl, err := f.ledger.Level(ctx, "apple")
		require.NoError(t, err)
		assert.Equal(t, 1, lvl.StockQuantity)
		assert.Equal(t, 0, lvl.ReservedQuantity)

		// 同一笔支付重复提交是幂等的
		again, err := svc.VerifyPayment(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPaid, again.Status)
	})

	t.Run("second distinct payment is rejected", func(t *testing.T) {
		_, err := svc.VerifyPayment(ctx, &VerifyPaymentRequest{
			LocalOrderID:     resp.LocalOrderID,
			GatewayOrderID:   resp.GatewayOrderID,
			GatewayPaymentID: "pay_2",
			Signature:        signature.Sign(testKeySecret, signature.PaymentPayload(resp.GatewayOrderID, "pay_2")),
		})
		assert.ErrorIs(t, err, domain.ErrHoldAlreadyFinalized)
	})
}

func TestVerifyPaymentAfterCancel(t *testing.T) {
	ctx := context.Background()
	f, svc := newPaymentFixture(t, &fakeGateway{})
	resp, err := svc.Checkout(ctx, holdRequest(line("apple", 1)))
	require.NoError(t, err)
	_, err = f.holds.CancelHold(ctx, resp.LocalOrderID)
	require.NoError(t, err)

	_, err = svc.VerifyPayment(ctx, &VerifyPaymentRequest{
		LocalOrderID:     resp.LocalOrderID,
		GatewayOrderID:   resp.GatewayOrderID,
		GatewayPaymentID: "pay_1",
		Signature:        signature.Sign(testKeySecret, signature.PaymentPayload(resp.GatewayOrderID, "pay_1")),
	})
	assert.ErrorIs(t, err, domain.ErrHoldAlreadyFinalized)

	lvl, err := f.ledger.Level(ctx, "apple")
	require.NoError(t, err)
	assert.Equal(t, 3, lvl.StockQuantity)
	assert.Equal(t, 0, lvl.ReservedQuantity)
}

func TestVerifyPaymentRejectsForeignGatewayOrder(t *testing.T) {
	ctx := context.Background()
	_, svc := newPaymentFixture(t, &fakeGateway{})
	resp, err := svc.Checkout(ctx, holdRequest(line("apple", 1)))
	require.NoError(t, err)

	// 签名本身正确，但针对的是另一个网关订单
	_, err = svc.VerifyPayment(ctx, &VerifyPaymentRequest{
		LocalOrderID:     resp.LocalOrderID,
		GatewayOrderID:   "order_other",
		GatewayPaymentID: "pay_1",
		Signature:        signature.Sign(testKeySecret, signature.PaymentPayload("order_other", "pay_1")),
	})
	assert.ErrorIs(t, err, domain.ErrSignatureVerificationFailed)
}

func TestHandleWebhook(t *testing.T) {
	ctx := context.Background()
	f, svc := newPaymentFixture(t, &fakeGateway{})
	resp, err := svc.Checkout(ctx, holdRequest(line("apple", 1)))
	require.NoError(t, err)

	body := webhookBody(t, "payment.captured", "pay_1", resp.GatewayOrderID, resp.LocalOrderID)

	t.Run("bad signature", func(t *testing.T) {
		_, err := svc.HandleWebhook(ctx, body, signature.Sign("nope", body))
		assert.ErrorIs(t, err, domain.ErrSignatureVerificationFailed)
	})

	t.Run("captured pays the hold", func(t *testing.T) {
		res, err := svc.HandleWebhook(ctx, body, signature.Sign(testWebhookSecret, body))
		require.NoError(t, err)
		assert.Equal(t, WebhookFinalized, res.Action)
		assert.Equal(t, resp.LocalOrderID, res.LocalOrderID)

		hold, err := f.repo.FindByID(ctx, resp.LocalOrderID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPaid, hold.Status)
		assert.Equal(t, "pay_1", hold.GatewayPaymentID)
	})

	t.Run("duplicate delivery is a no-op", func(t *testing.T) {
		res, err := svc.HandleWebhook(ctx, body, signature.Sign(testWebhookSecret, body))
		require.NoError(t, err)
		assert.Equal(t, WebhookDuplicate, res.Action)

		lvl, err := f.ledger.Level(ctx, "apple")
		require.NoError(t, err)
		assert.Equal(t, 2, lvl.StockQuantity)
	})

	t.Run("payment failed is only logged", func(t *testing.T) {
		failed := webhookBody(t, "payment.failed", "pay_9", resp.GatewayOrderID, resp.LocalOrderID)
		res, err := svc.HandleWebhook(ctx, failed, signature.Sign(testWebhookSecret, failed))
		require.NoError(t, err)
		assert.Equal(t, WebhookIgnored, res.Action)
	})

	t.Run("unknown hold is acknowledged", func(t *testing.T) {
		unknown := webhookBody(t, "payment.captured", "pay_x", "order_unknown", "")
		res, err := svc.HandleWebhook(ctx, unknown, signature.Sign(testWebhookSecret, unknown))
		require.NoError(t, err)
		assert.Equal(t, WebhookIgnored, res.Action)
	})
}

func TestHandleWebhookLatePayment(t *testing.T) {
	ctx := context.Background()
	f, svc := newPaymentFixture(t, &fakeGateway{})
	resp, err := svc.Checkout(ctx, holdRequest(line("apple", 1)))
	require.NoError(t, err)

	f.clock.Advance(20 * time.Minute)

	// 只带网关订单号，通过网关订单号找到预占
	body := webhookBody(t, "order.paid", "pay_late", resp.GatewayOrderID, "")
	res, err := svc.HandleWebhook(ctx, body, signature.Sign(testWebhookSecret, body))
	require.NoError(t, err)
	assert.Equal(t, WebhookLatePayment, res.Action)

	hold, err := f.repo.FindByID(ctx, resp.LocalOrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, hold.Status)
	assert.Contains(t, f.events.Types(), domain.EventLatePayment)

	lvl, err := f.ledger.Level(ctx, "apple")
	require.NoError(t, err)
	assert.Equal(t, 3, lvl.StockQuantity)
	assert.Equal(t, 0, lvl.ReservedQuantity)
}

func TestHandleWebhookMalformedBody(t *testing.T) {
	_, svc := newPaymentFixture(t, &fakeGateway{})
	body := []byte("{not json")
	_, err := svc.HandleWebhook(context.Background(), body, signature.Sign(testWebhookSecret, body))
	require.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrSignatureVerificationFailed))
}

// 不带支付号的 order.paid 不能写入空字符串，否则第二笔同样的通知会撞上唯一索引。
func TestHandleWebhookOrderPaidWithoutPaymentID(t *testing.T) {
	ctx := context.Background()
	f, svc := newPaymentFixture(t, &fakeGateway{})

	for i := 0; i < 2; i++ {
		resp, err := svc.Checkout(ctx, holdRequest(line("apple", 1)))
		require.NoError(t, err)

		body := webhookBody(t, "order.paid", "", resp.GatewayOrderID, resp.LocalOrderID)
		res, err := svc.HandleWebhook(ctx, body, signature.Sign(testWebhookSecret, body))
		require.NoError(t, err)
		assert.Equal(t, WebhookFinalized, res.Action)

		hold, err := f.repo.FindByID(ctx, resp.LocalOrderID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPaid, hold.Status)
		assert.Empty(t, hold.GatewayPaymentID)
	}

	lvl, err := f.ledger.Level(ctx, "apple")
	require.NoError(t, err)
	assert.Equal(t, 1, lvl.StockQuantity)
	assert.Equal(t, 0, lvl.ReservedQuantity)
}

// 前端确认支付与用户取消同时到达: 只能有一方生效，库存要么售出要么归还。
func TestVerifyPaymentRacesCancel(t *testing.T) {
	for i := 0; i < 20; i++ {
		ctx := context.Background()
		f, svc := newPaymentFixture(t, &fakeGateway{})
		resp, err := svc.Checkout(ctx, holdRequest(line("apple", 2)))
		require.NoError(t, err)

		paymentID := fmt.Sprintf("pay_%d", i)
		req := &VerifyPaymentRequest{
			LocalOrderID:     resp.LocalOrderID,
			GatewayOrderID:   resp.GatewayOrderID,
			GatewayPaymentID: paymentID,
			Signature:        signature.Sign(testKeySecret, signature.PaymentPayload(resp.GatewayOrderID, paymentID)),
		}

		var (
			wg                sync.WaitGroup
			payErr, cancelErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, payErr = svc.VerifyPayment(ctx, req)
		}()
		go func() {
			defer wg.Done()
			_, cancelErr = f.holds.CancelHold(ctx, resp.LocalOrderID)
		}()
		wg.Wait()

		require.True(t, (payErr == nil) != (cancelErr == nil), "pay=%v cancel=%v", payErr, cancelErr)

		hold, err := f.repo.FindByID(ctx, resp.LocalOrderID)
		require.NoError(t, err)
		lvl, err := f.ledger.Level(ctx, "apple")
		require.NoError(t, err)
		assert.Equal(t, 0, lvl.ReservedQuantity)
		if payErr == nil {
			assert.ErrorIs(t, cancelErr, domain.ErrHoldAlreadyFinalized)
			assert.Equal(t, domain.StatusPaid, hold.Status)
			assert.Equal(t, 1, lvl.StockQuantity)
		} else {
			assert.ErrorIs(t, payErr, domain.ErrHoldAlreadyFinalized)
			assert.Equal(t, domain.StatusCancelled, hold.Status)
			assert.Equal(t, 3, lvl.StockQuantity)
		}
	}
}
