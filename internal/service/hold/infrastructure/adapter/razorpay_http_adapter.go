package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"sabzar/internal/pkg/httpclient"
	"sabzar/internal/service/hold/domain"
	"sabzar/internal/service/hold/domain/port"
)

// RazorpayHTTPAdapter 是 port.PaymentGateway 的 Razorpay Orders API 实现。
type RazorpayHTTPAdapter struct {
	client    *httpclient.Client
	baseURL   string
	keyID     string
	keySecret string
}

func NewRazorpayHTTPAdapter(client *httpclient.Client, baseURL, keyID, keySecret string) *RazorpayHTTPAdapter {
	return &RazorpayHTTPAdapter{
		client:    client,
		baseURL:   strings.TrimRight(baseURL, "/"),
		keyID:     keyID,
		keySecret: keySecret,
	}
}

type razorpayOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type razorpayOrderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

type razorpayErrorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateOrder 调用 POST /v1/orders。
// 网络错误、5xx 和 429 视为可重试的 ErrGatewayUnavailable，其余 4xx 视为 ErrGatewayRejected。
func (a *RazorpayHTTPAdapter) CreateOrder(ctx context.Context, req port.CreateOrderRequest) (*port.RemoteOrder, error) {
	resp, err := a.client.PostJSON(ctx, a.baseURL+"/v1/orders", razorpayOrderRequest{
		Amount:   req.AmountMinor,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Notes:    req.Notes,
	}, httpclient.WithBasicAuth(a.keyID, a.keySecret))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out razorpayOrderResponse
		if err := json.Unmarshal(resp.Body, &out); err != nil || out.ID == "" {
			return nil, fmt.Errorf("%w: malformed order response", domain.ErrGatewayUnavailable)
		}
		return &port.RemoteOrder{ID: out.ID, Amount: out.Amount, Currency: out.Currency, Status: out.Status}, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", domain.ErrGatewayUnavailable, resp.StatusCode)
	default:
		var e razorpayErrorResponse
		_ = json.Unmarshal(resp.Body, &e)
		return nil, fmt.Errorf("%w: status %d %s %s", domain.ErrGatewayRejected, resp.StatusCode, e.Error.Code, e.Error.Description)
	}
}
