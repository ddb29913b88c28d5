package port

import (
	"context"

	"sabzar/internal/service/hold/domain"
)

// EventPublisher 是生命周期事件的出站端口。
// 发布失败不会影响已经完成的状态变更，调用方只记录日志。
type EventPublisher interface {
	Publish(ctx context.Context, event domain.HoldEvent) error
}
