package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"salesync/internal/model"
	"salesync/internal/service"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeHandler struct {
	committed []service.CommittedLine
	refunded  []service.RefundedLine
	err       error
	// errs 按调用顺序依次返回，用完后返回 err
	errs []error
}

func (h *fakeHandler) next() error {
	if len(h.errs) > 0 {
		err := h.errs[0]
		h.errs = h.errs[1:]
		return err
	}
	return h.err
}

func (h *fakeHandler) OnOrderCommitted(_ context.Context, lines []service.CommittedLine) (service.ApplyResult, error) {
	h.committed = append(h.committed, lines...)
	return service.ApplyResult{Applied: len(lines)}, h.next()
}

func (h *fakeHandler) OnOrderRefunded(_ context.Context, refunds []service.RefundedLine) (service.ApplyResult, error) {
	h.refunded = append(h.refunded, refunds...)
	return service.ApplyResult{Applied: len(refunds)}, h.next()
}

// fakeReader 依次返回 msgs，读完后阻塞到 ctx 结束。
type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	done      chan struct{}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	close(r.done)
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func refundMessage(t *testing.T, eventID string, offset int64) kafka.Message {
	t.Helper()
	b, err := OrderMessage{EventID: eventID, Type: OrderRefunded, Refunded: []service.RefundedLine{{LineID: eventID}}}.Encode()
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: b}
}

func TestParseOrderMessage(t *testing.T) {
	cases := []struct {
		name string
		body string
		ok   bool
	}{
		{"committed", `{"event_id":"e1","type":"committed","committed":[{"line_id":"L1","order_id":"O1","variant_id":3,"channel":"plain","quantity":1}]}`, true},
		{"refunded", `{"event_id":"e2","type":"refunded","refunded":[{"line_id":"L1"}]}`, true},
		{"bad json", `{`, false},
		{"missing event id", `{"type":"refunded","refunded":[{"line_id":"L1"}]}`, false},
		{"unknown type", `{"event_id":"e3","type":"shipped"}`, false},
		{"empty lines", `{"event_id":"e4","type":"committed"}`, false},
		{"zero quantity", `{"event_id":"e5","type":"committed","committed":[{"line_id":"L1","variant_id":3,"quantity":0}]}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseOrderMessage([]byte(tc.body))
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestConsumer_HandleDispatches(t *testing.T) {
	h := &fakeHandler{}
	c := &Consumer{handler: h, log: zap.NewNop()}

	msg := OrderMessage{
		EventID: "e1",
		Type:    OrderCommitted,
		Committed: []service.CommittedLine{
			{LineID: "L1", OrderID: "O1", VariantID: 3, Channel: model.ChannelPlain, Quantity: 2},
		},
	}
	b, err := msg.Encode()
	require.NoError(t, err)
	require.NoError(t, c.Handle(context.Background(), b))
	require.Len(t, h.committed, 1)
	assert.Equal(t, int64(2), h.committed[0].Quantity)

	b, err = OrderMessage{EventID: "e2", Type: OrderRefunded, Refunded: []service.RefundedLine{{LineID: "L1"}}}.Encode()
	require.NoError(t, err)
	require.NoError(t, c.Handle(context.Background(), b))
	assert.Len(t, h.refunded, 1)
}

func TestConsumer_HandleErrors(t *testing.T) {
	c := &Consumer{handler: &fakeHandler{}, log: zap.NewNop()}
	err := c.Handle(context.Background(), []byte(`not json`))
	assert.ErrorIs(t, err, errPoison)

	body := []byte(`{"event_id":"e1","type":"refunded","refunded":[{"line_id":"L1"}]}`)

	// 业务错误吞掉，避免无限重投
	c.handler = &fakeHandler{err: fmt.Errorf("line L1: %w", service.ErrNotFound)}
	assert.NoError(t, c.Handle(context.Background(), body))

	// 基础设施错误交给 Run 重试
	c.handler = &fakeHandler{err: errors.New("database is locked")}
	err = c.Handle(context.Background(), body)
	require.Error(t, err)
	assert.NotErrorIs(t, err, errPoison)
}

func TestConsumer_HandleMixedLineErrorsRetries(t *testing.T) {
	body := []byte(`{"event_id":"e1","type":"refunded","refunded":[{"line_id":"L1"},{"line_id":"L2"}]}`)
	c := &Consumer{log: zap.NewNop()}

	// 一行业务错误 + 一行基础设施错误：整条重试
	c.handler = &fakeHandler{err: errors.Join(
		fmt.Errorf("line L1: %w", fmt.Errorf("%w: order line L1", service.ErrNotFound)),
		fmt.Errorf("line L2: %w", errors.New("database is locked")),
	)}
	assert.Error(t, c.Handle(context.Background(), body))

	// 每一行都是业务错误：放弃
	c.handler = &fakeHandler{err: errors.Join(
		fmt.Errorf("line L1: %w", service.ErrNotFound),
		fmt.Errorf("line L2: %w", service.ErrInvalidArgument),
	)}
	assert.NoError(t, c.Handle(context.Background(), body))
}

func TestIsBusinessError(t *testing.T) {
	assert.False(t, isBusinessError(nil))
	assert.True(t, isBusinessError(service.ErrNotFound))
	assert.True(t, isBusinessError(fmt.Errorf("x: %w", service.ErrInvalidArgument)))
	assert.False(t, isBusinessError(errors.New("boom")))
	assert.False(t, isBusinessError(fmt.Errorf("wrap: %w", errors.Join(service.ErrNotFound, errors.New("boom")))))
	assert.True(t, isBusinessError(fmt.Errorf("wrap: %w", errors.Join(service.ErrNotFound, service.ErrNotFound))))
}

func TestConsumer_RunRetriesSameMessageBeforeCommit(t *testing.T) {
	r := &fakeReader{
		msgs: []kafka.Message{
			refundMessage(t, "e1", 10),
			{Offset: 11, Value: []byte(`not json`)},
			refundMessage(t, "e2", 12),
		},
		done: make(chan struct{}),
	}
	h := &fakeHandler{errs: []error{errors.New("database is locked"), errors.New("database is locked")}}
	c := &Consumer{r: r, handler: h, log: zap.NewNop(), backoff: time.Millisecond, maxBackoff: 2 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(stopped)
	}()

	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not drain messages")
	}
	cancel()
	<-stopped

	// e1 失败两次后在原地重试成功，提交顺序不越过它；脏消息直接提交跳过
	require.Len(t, h.refunded, 4)
	assert.Equal(t, []string{"e1", "e1", "e1", "e2"}, []string{
		h.refunded[0].LineID, h.refunded[1].LineID, h.refunded[2].LineID, h.refunded[3].LineID,
	})
	assert.Equal(t, []int64{10, 11, 12}, r.committed)
}

func TestConsumer_RunStopsWithoutCommitOnCancel(t *testing.T) {
	r := &fakeReader{msgs: []kafka.Message{refundMessage(t, "e1", 7)}, done: make(chan struct{})}
	c := &Consumer{r: r, handler: &fakeHandler{err: errors.New("database is locked")}, log: zap.NewNop(),
		backoff: time.Millisecond, maxBackoff: time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	c.Run(ctx)

	assert.Empty(t, r.committed)
}
