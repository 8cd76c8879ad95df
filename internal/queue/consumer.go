package queue

import (
	"context"
	"errors"
	"time"

	"salesync/internal/service"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// OrderHandler 订单事件处理器，由 service.OrderEvents 实现，按订单行幂等。
type OrderHandler interface {
	OnOrderCommitted(ctx context.Context, lines []service.CommittedLine) (service.ApplyResult, error)
	OnOrderRefunded(ctx context.Context, refunds []service.RefundedLine) (service.ApplyResult, error)
}

// messageReader kafka.Reader 中消费者用到的部分。
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r       messageReader
	handler OrderHandler
	log     *zap.Logger
	// 同一条消息失败后的重试间隔，指数增长到 maxBackoff
	backoff    time.Duration
	maxBackoff time.Duration
}

func NewConsumer(brokers []string, topic, groupID string, handler OrderHandler, log *zap.Logger) *Consumer {
	return &Consumer{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1e3,
			MaxBytes: 1e6,
		}),
		handler:    handler,
		log:        log,
		backoff:    200 * time.Millisecond,
		maxBackoff: 5 * time.Second,
	}
}

func (c *Consumer) Close() error { return c.r.Close() }

// Run 先处理再提交 offset。同一分区按顺序处理：一条消息临时失败时原地重试，
// 成功（或判定为脏消息、业务错误）之后才提交并拉取下一条，提交不会越过失败的消息。
func (c *Consumer) Run(ctx context.Context) {
	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			return // ctx cancel / 连接断开等
		}
		if !c.process(ctx, m) {
			return
		}
		if err := c.r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.log.Warn("consumer commit", zap.Error(err))
		}
	}
}

// process 重试直到消息可以提交；ctx 结束时返回 false，消息不提交，重启后重新投递。
func (c *Consumer) process(ctx context.Context, m kafka.Message) bool {
	wait := c.backoff
	for attempt := 1; ; attempt++ {
		err := c.Handle(ctx, m.Value)
		if err == nil {
			return true
		}
		c.log.Warn("consumer handle",
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if errors.Is(err, errPoison) {
			return true
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}
		if wait *= 2; c.maxBackoff > 0 && wait > c.maxBackoff {
			wait = c.maxBackoff
		}
	}
}

var errPoison = errors.New("poison message")

// Handle 处理一条原始消息。脏消息返回 errPoison，调用方直接提交跳过。
// 业务错误（如引用的 SKU 不存在）只记日志：重投不会让它成功。
func (c *Consumer) Handle(ctx context.Context, value []byte) error {
	msg, err := ParseOrderMessage(value)
	if err != nil {
		return errors.Join(errPoison, err)
	}

	var res service.ApplyResult
	switch msg.Type {
	case OrderCommitted:
		res, err = c.handler.OnOrderCommitted(ctx, msg.Committed)
	case OrderRefunded:
		res, err = c.handler.OnOrderRefunded(ctx, msg.Refunded)
	}
	if err != nil {
		if isBusinessError(err) {
			c.log.Error("order event rejected", zap.String("event_id", msg.EventID), zap.Error(err))
			return nil
		}
		return err
	}
	c.log.Debug("order event applied",
		zap.String("event_id", msg.EventID),
		zap.String("type", msg.Type),
		zap.Int("applied", res.Applied),
		zap.Int("duplicates", res.Duplicates))
	return nil
}

// isBusinessError 订单事件按行汇总错误（errors.Join）：只有每一行都是业务错误时才整条放弃，
// 混有基础设施错误时整条重试，已处理的行按 line_id 幂等跳过。
func isBusinessError(err error) bool {
	if err == nil {
		return false
	}
	if err == service.ErrNotFound || err == service.ErrInvalidArgument {
		return true
	}
	switch x := err.(type) {
	case interface{ Unwrap() []error }:
		errs := x.Unwrap()
		if len(errs) == 0 {
			return false
		}
		for _, e := range errs {
			if !isBusinessError(e) {
				return false
			}
		}
		return true
	case interface{ Unwrap() error }:
		return isBusinessError(x.Unwrap())
	}
	return false
}
