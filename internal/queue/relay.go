package queue

import (
	"context"
	"time"

	"salesync/internal/metrics"
	"salesync/internal/repository"

	"go.uber.org/zap"
)

// Relay 将 outbox 表中的事件异步转发到 Kafka。
// 语义：发布成功后才标记 sent，失败则保留记录等待下一轮重试（至少一次）。
type Relay struct {
	outbox    repository.OutboxRepo
	publisher Publisher
	interval  time.Duration
	batch     int
	log       *zap.Logger
}

func NewRelay(outbox repository.OutboxRepo, publisher Publisher, interval time.Duration, log *zap.Logger) *Relay {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Relay{
		outbox:    outbox,
		publisher: publisher,
		interval:  interval,
		batch:     16,
		log:       log,
	}
}

func (r *Relay) Run(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		// 一批发满说明可能还有积压，立即继续
		for {
			n, err := r.Flush(ctx)
			if err != nil {
				if ctx.Err() == nil {
					r.log.Warn("relay flush", zap.Error(err))
				}
				break
			}
			if n < r.batch {
				break
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Flush 发布一批待投递事件，返回成功条数。遇到发布失败立即停止，保持投递顺序。
func (r *Relay) Flush(ctx context.Context) (int, error) {
	pending, err := r.outbox.ListPending(ctx, r.batch)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, ev := range pending {
		pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := r.publisher.Publish(pubCtx, ev)
		cancel()
		if err != nil {
			metrics.OutboxPublished.WithLabelValues("error").Inc()
			if markErr := r.outbox.MarkFailed(ctx, ev.ID, err.Error()); markErr != nil {
				r.log.Error("relay mark failed", zap.Uint("id", ev.ID), zap.Error(markErr))
			}
			return sent, err
		}
		if err := r.outbox.MarkSent(ctx, ev.ID, time.Now()); err != nil {
			// 已发布但未标记，下一轮会重复投递，下游按 event_id 去重
			return sent, err
		}
		metrics.OutboxPublished.WithLabelValues("ok").Inc()
		sent++
	}
	return sent, nil
}
