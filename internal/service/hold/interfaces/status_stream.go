package interfaces

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"sabzar/internal/pkg/logger"
	"sabzar/internal/service/hold/application"
)

// handleStatusStream 把预占的状态变化推送给前端，直到进入终态或客户端断开。
// 状态通过 GetStatus 轮询获得，因此过期也会被及时推送。
func (h *HoldHandler) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	view, err := h.holds.GetStatus(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Ctx(r.Context()).Warn().Err(err).Str("local_order_id", id).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	// 读循环只用于感知客户端关闭
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := h.pushStatus(ctx, conn, id, view); err != nil {
		logger.Ctx(ctx).Debug().Err(err).Str("local_order_id", id).Msg("status stream closed")
	}
}

func (h *HoldHandler) pushStatus(ctx context.Context, conn *websocket.Conn, id string, view *application.HoldStatusView) error {
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	last := view.Status
	if err := writeStatus(conn, view); err != nil {
		return err
	}
	for !last.IsTerminal() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		current, err := h.holds.GetStatus(ctx, id)
		if err != nil {
			return err
		}
		if current.Status == last {
			continue
		}
		last = current.Status
		if err := writeStatus(conn, current); err != nil {
			return err
		}
	}
	deadline := time.Now().Add(time.Second)
	return conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(last)), deadline)
}

func writeStatus(conn *websocket.Conn, view *application.HoldStatusView) error {
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteJSON(view)
}
