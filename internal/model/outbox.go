package model

import "time"

// OutboxEvent 与状态变更同事务落库的待投递事件，由 Relay 异步转发 Kafka。
type OutboxEvent struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	EventID     string     `gorm:"size:64;uniqueIndex;not null" json:"event_id"`
	Kind        string     `gorm:"size:64;not null;index" json:"kind"`
	AggregateID string     `gorm:"size:64;not null" json:"aggregate_id"`
	Payload     string     `gorm:"type:text" json:"payload"`
	Sent        bool       `gorm:"not null;default:false;index" json:"sent"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	Attempts    int        `gorm:"not null;default:0" json:"attempts"`
	LastError   string     `gorm:"size:255" json:"last_error"`
}

func (OutboxEvent) TableName() string { return "outbox_events" }

// All 返回需要 AutoMigrate 的全部模型。
func All() []any {
	return []any{
		&Merchant{}, &Product{}, &Variant{},
		&Activity{}, &Timeslot{}, &ActivityVariant{},
		&IndexRow{},
		&GroupBuyInstance{}, &GroupBuyParticipant{}, &ReferralCredit{},
		&OrderLine{}, &OutboxEvent{},
	}
}
