package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"sabzar/internal/pkg/mq"
	"sabzar/internal/service/hold/domain"
)

// defaultPublishTimeout 限制一次发布最多阻塞业务调用多久，Broker 不可用时事件会被丢弃并记录日志。
const defaultPublishTimeout = 3 * time.Second

// EventKafkaAdapter 是 port.EventPublisher 的 Kafka 实现。
// 以 localOrderId 作为消息 Key，保证同一个预占的事件落在同一个分区、保持顺序。
type EventKafkaAdapter struct {
	writer  mq.MessageWriter
	timeout time.Duration
}

func NewEventKafkaAdapter(writer mq.MessageWriter) *EventKafkaAdapter {
	return &EventKafkaAdapter{writer: writer, timeout: defaultPublishTimeout}
}

func (a *EventKafkaAdapter) Publish(ctx context.Context, event domain.HoldEvent) error {
	// 事件描述的状态已经落库，调用方取消不应让发布失败，只受自身超时约束
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal hold event: %w", err)
	}
	err = mq.ProduceMessage(ctx, a.writer, []byte(event.LocalOrderID), value,
		kafka.Header{Key: "event-type", Value: []byte(event.Type)},
		kafka.Header{Key: "event-id", Value: []byte(event.EventID)},
	)
	if err != nil {
		return fmt.Errorf("failed to publish %s for %s: %w", event.Type, event.LocalOrderID, err)
	}
	return nil
}
