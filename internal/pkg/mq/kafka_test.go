package mq

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

type captureWriter struct {
	msgs []kafka.Message
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestKafkaHeaderCarrier_SetOverwrites(t *testing.T) {
	c := KafkaHeaderCarrier{}
	c.Set("a", "1")
	c.Set("b", "2")
	c.Set("a", "3")

	assert.Equal(t, "3", c.Get("a"))
	assert.Equal(t, "2", c.Get("b"))
	assert.Equal(t, "", c.Get("missing"))
	assert.ElementsMatch(t, []string{"a", "b"}, c.Keys())
}

func TestProduceMessage_PropagatesTrace(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "produce")
	defer span.End()

	w := &captureWriter{}
	require.NoError(t, ProduceMessage(ctx, w, []byte("k"), []byte("v"), kafka.Header{Key: "event-type", Value: []byte("hold.created")}))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "k", string(msg.Key))
	carrier := KafkaHeaderCarrier(msg.Headers)
	assert.Equal(t, "hold.created", carrier.Get("event-type"))
	assert.NotEmpty(t, carrier.Get("traceparent"))

	extracted := ExtractTraceContext(context.Background(), msg.Headers)
	assert.Equal(t, span.SpanContext().TraceID(), trace.SpanContextFromContext(extracted).TraceID())
}

func TestNewKafkaWriterHasBoundedRetries(t *testing.T) {
	w := NewKafkaWriter([]string{"localhost:9092"}, "hold-events")
	defer w.Close()

	assert.Equal(t, "hold-events", w.Topic)
	assert.Equal(t, 3, w.MaxAttempts)
	assert.Equal(t, 2*time.Second, w.WriteTimeout)
	assert.Equal(t, kafka.RequireAll, w.RequiredAcks)
}
