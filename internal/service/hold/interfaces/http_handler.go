package interfaces

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"sabzar/internal/pkg/logger"
	"sabzar/internal/pkg/metrics"
	"sabzar/internal/service/hold/application"
	"sabzar/internal/service/hold/domain"
)

const maxBodyBytes = 1 << 20

// HoldHandler 封装了结账服务的 HTTP 处理器
type HoldHandler struct {
	holds    *application.HoldService
	payments *application.PaymentService

	pollInterval time.Duration
	upgrader     websocket.Upgrader
}

// NewHoldHandler 创建一个新的 HTTP 处理器实例。pollInterval 是状态推送的轮询间隔。
func NewHoldHandler(holds *application.HoldService, payments *application.PaymentService, pollInterval time.Duration) *HoldHandler {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &HoldHandler{
		holds:        holds,
		payments:     payments,
		pollInterval: pollInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// NewRouter 注册所有路由
func (h *HoldHandler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(traceRequests)
	r.Use(logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/holds", h.handleCreateHold)
		r.Get("/holds/{id}", h.handleGetStatus)
		r.Post("/holds/{id}/cancel", h.handleCancelHold)
		r.Get("/holds/{id}/ws", h.handleStatusStream)
		r.Post("/payments/verify", h.handleVerifyPayment)
		r.Post("/payments/webhook", h.handleWebhook)
		r.Get("/products/{id}/availability", h.handleAvailability)
	})
	return r
}

type createHoldResponse struct {
	OrderID      string    `json:"orderId"`
	LocalOrderID string    `json:"localOrderId"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Amount       int64     `json:"amount"`
	TotalAmount  string    `json:"totalAmount"`
	Currency     string    `json:"currency"`
	KeyID        string    `json:"keyId"`
}

func (h *HoldHandler) handleCreateHold(w http.ResponseWriter, r *http.Request) {
	var req application.CreateHoldRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "invalid request body")
		return
	}

	resp, err := h.payments.Checkout(r.Context(), &req)
	if err != nil {
		// 购物车里的未知商品属于请求校验错误
		if errors.Is(err, domain.ErrProductNotFound) {
			writeError(w, http.StatusBadRequest, "ProductNotFound", err.Error())
			return
		}
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, createHoldResponse{
		OrderID:      resp.GatewayOrderID,
		LocalOrderID: resp.LocalOrderID,
		ExpiresAt:    resp.ExpiresAt,
		Amount:       resp.AmountMinor,
		TotalAmount:  resp.TotalAmount.StringFixed(2),
		Currency:     resp.Currency,
		KeyID:        h.payments.KeyID(),
	})
}

func (h *HoldHandler) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	view, err := h.holds.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *HoldHandler) handleCancelHold(w http.ResponseWriter, r *http.Request) {
	hold, err := h.holds.CancelHold(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"localOrderId": hold.LocalOrderID,
		"status":       hold.Status,
	})
}

func (h *HoldHandler) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req application.VerifyPaymentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "invalid request body")
		return
	}
	if req.GatewayPaymentID == "" || req.Signature == "" {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "razorpay_payment_id and razorpay_signature are required")
		return
	}

	hold, err := h.payments.VerifyPayment(r.Context(), &req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"localOrderId": hold.LocalOrderID,
		"status":       hold.Status,
	})
}

// handleWebhook 总是返回 200，避免网关对已经处理 (或无法处理) 的通知无限重试。
func (h *HoldHandler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("failed to read webhook body")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	result, err := h.payments.HandleWebhook(ctx, body, r.Header.Get("X-Razorpay-Signature"))
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("webhook not processed")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "action": string(result.Action)})
}

func (h *HoldHandler) handleAvailability(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "id")
	available, err := h.holds.Availability(r.Context(), productID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"productId": productID,
		"available": available,
	})
}

type errorResponse struct {
	Error   string             `json:"error"`
	Message string             `json:"message"`
	Lines   []domain.ShortLine `json:"lines,omitempty"`
}

// writeDomainError 根据错误类型返回不同的 HTTP 状态码
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var stockErr *domain.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "InsufficientStock", Message: err.Error(), Lines: stockErr.Lines})
	case errors.Is(err, domain.ErrInvalidQuantity):
		writeError(w, http.StatusBadRequest, "InvalidQuantity", err.Error())
	case errors.Is(err, domain.ErrInvalidLine), errors.Is(err, domain.ErrInvalidAddress):
		writeError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
	case errors.Is(err, domain.ErrProductNotFound):
		writeError(w, http.StatusNotFound, "ProductNotFound", err.Error())
	case errors.Is(err, domain.ErrPolicyViolation):
		writeError(w, http.StatusUnprocessableEntity, "PolicyViolation", err.Error())
	case errors.Is(err, domain.ErrHoldNotFound):
		writeError(w, http.StatusNotFound, "HoldNotFound", err.Error())
	case errors.Is(err, domain.ErrHoldAlreadyFinalized):
		writeError(w, http.StatusConflict, "HoldAlreadyFinalized", err.Error())
	case errors.Is(err, domain.ErrPaymentConflict):
		writeError(w, http.StatusConflict, "PaymentConflict", err.Error())
	case errors.Is(err, domain.ErrExpiredHold):
		writeError(w, http.StatusGone, "ExpiredHold", err.Error())
	case errors.Is(err, domain.ErrSignatureVerificationFailed):
		writeError(w, http.StatusBadRequest, "SignatureVerificationFailed", err.Error())
	case errors.Is(err, domain.ErrGatewayUnavailable):
		writeError(w, http.StatusServiceUnavailable, "GatewayUnavailable", err.Error())
	default:
		logger.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "Internal", "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
