package queue

import (
	"encoding/json"
	"fmt"

	"salesync/internal/service"
)

// 订单事件类型
const (
	OrderCommitted = "committed"
	OrderRefunded  = "refunded"
)

// OrderMessage 订单子系统写入 Kafka 的订单事件。
type OrderMessage struct {
	EventID   string                  `json:"event_id"`
	Type      string                  `json:"type"`
	Committed []service.CommittedLine `json:"committed,omitempty"`
	Refunded  []service.RefundedLine  `json:"refunded,omitempty"`
}

// Validate 做最小字段校验，防止消费者处理脏消息。
func (m OrderMessage) Validate() error {
	if m.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	switch m.Type {
	case OrderCommitted:
		if len(m.Committed) == 0 {
			return fmt.Errorf("committed lines are required")
		}
		for _, l := range m.Committed {
			if l.LineID == "" || l.VariantID == 0 {
				return fmt.Errorf("line_id and variant_id are required")
			}
			if l.Quantity <= 0 {
				return fmt.Errorf("line %s: quantity must be > 0", l.LineID)
			}
		}
	case OrderRefunded:
		if len(m.Refunded) == 0 {
			return fmt.Errorf("refunded lines are required")
		}
		for _, l := range m.Refunded {
			if l.LineID == "" {
				return fmt.Errorf("line_id is required")
			}
		}
	default:
		return fmt.Errorf("unknown type %q", m.Type)
	}
	return nil
}

func (m OrderMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// ParseOrderMessage 解码并校验一条订单事件。
func ParseOrderMessage(b []byte) (OrderMessage, error) {
	var m OrderMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return OrderMessage{}, fmt.Errorf("decode order message: %w", err)
	}
	if err := m.Validate(); err != nil {
		return OrderMessage{}, err
	}
	return m, nil
}
