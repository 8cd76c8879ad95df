package queue

import (
	"context"
	"time"

	"salesync/internal/model"

	"github.com/segmentio/kafka-go"
)

// Publisher 发布一条 outbox 事件，Relay 只依赖这个接口。
type Publisher interface {
	Publish(ctx context.Context, ev model.OutboxEvent) error
}

// Producer 封装 Kafka 写入器。
type Producer struct {
	w *kafka.Writer
}

// NewProducer 创建生产者并配置可靠性参数：
// - Hash + Key: 同一聚合的事件落到同一分区，保持顺序。
// - RequireAll: 等待 ISR 副本确认，降低消息丢失风险。
// - MaxAttempts/Timeout: 控制重试与超时边界。
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  5,
			WriteTimeout: 5 * time.Second,
			ReadTimeout:  5 * time.Second,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

// Close 释放 writer 资源。
func (p *Producer) Close() error { return p.w.Close() }

// Publish 同步写入一条通知事件。key 用聚合 ID 保证分区内有序，event_id 放在 header 供下游去重。
func (p *Producer) Publish(ctx context.Context, ev model.OutboxEvent) error {
	return p.w.WriteMessages(ctx, eventMessage(ev))
}

// PublishOrder 写入一条订单事件，压测与联调时模拟订单子系统。
func (p *Producer) PublishOrder(ctx context.Context, msg OrderMessage) error {
	b, err := msg.Encode()
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.EventID),
		Value: b,
	})
}

func eventMessage(ev model.OutboxEvent) kafka.Message {
	return kafka.Message{
		Key:   []byte(ev.AggregateID),
		Value: []byte(ev.Payload),
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(ev.EventID)},
			{Key: "kind", Value: []byte(ev.Kind)},
		},
		Time: ev.CreatedAt,
	}
}
