package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"salesync/internal/model"
	"salesync/internal/repository"

	"github.com/google/uuid"
)

// EventKind 对外通知事件类型。
type EventKind string

const (
	EventReconciliation    EventKind = "reconciliationNeedsManualReview"
	EventBackInStock       EventKind = "backInStock"
	EventGroupBuySucceeded EventKind = "groupBuySucceeded"
	EventGroupBuyFailed    EventKind = "groupBuyFailed"
	EventRefundRequested   EventKind = "refundRequested"
	EventCommissionRevoked EventKind = "commissionRevoked"
)

// Event 由状态迁移函数返回，随状态变更同事务写入 outbox，再由 Relay 投递。
type Event struct {
	Kind        EventKind
	AggregateID string
	Payload     any
}

type ReconciliationPayload struct {
	VariantID uint   `json:"variant_id"`
	Delta     int64  `json:"delta"`
	Shortfall int64  `json:"shortfall"`
	LineID    string `json:"line_id,omitempty"`
}

type BackInStockPayload struct {
	ProductID uint  `json:"product_id"`
	Price     int64 `json:"price"`
}

type GroupOutcomePayload struct {
	GroupID          uint    `json:"group_id"`
	ActivityID       uint    `json:"activity_id"`
	ProductID        uint    `json:"product_id"`
	Status           string  `json:"status"`
	Cause            string  `json:"cause"`
	YetCount         int     `json:"yet_count"`
	TargetCount      int     `json:"target_count"`
	VirtualFillCount int     `json:"virtual_fill_count"`
	UIDs             []int64 `json:"uids"`
}

type RefundRequestPayload struct {
	GroupID uint   `json:"group_id"`
	OrderID string `json:"order_id"`
	UID     int64  `json:"uid"`
	Reason  string `json:"reason"`
}

type CommissionRevokedPayload struct {
	GroupID     uint     `json:"group_id"`
	Beneficiary int64    `json:"beneficiary_uid"`
	OrderIDs    []string `json:"order_ids"`
	Amount      int64    `json:"amount"`
}

// appendEvents 序列化并写入 outbox；必须传入事务内的仓储。
func appendEvents(ctx context.Context, tx *repository.Repository, now time.Time, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]model.OutboxEvent, 0, len(events))
	for _, e := range events {
		b, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", e.Kind, err)
		}
		rows = append(rows, model.OutboxEvent{
			CreatedAt:   now,
			EventID:     uuid.NewString(),
			Kind:        string(e.Kind),
			AggregateID: e.AggregateID,
			Payload:     string(b),
		})
	}
	return tx.Outbox.Append(ctx, rows)
}
