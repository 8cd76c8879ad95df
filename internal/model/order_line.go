package model

import "time"

// RefundStatus 订单行退款进度。
type RefundStatus int

const (
	RefundNone RefundStatus = iota
	RefundPartial
	RefundFull
)

// OrderLine 订单子系统推送过来的订单行台账。LineID 唯一，重复投递的事件据此幂等。
type OrderLine struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	LineID            string  `gorm:"size:64;uniqueIndex;not null" json:"line_id"`
	OrderID           string  `gorm:"size:64;not null;index" json:"order_id"`
	UserID            int64   `gorm:"not null;index" json:"user_id"`
	ProductID         uint    `gorm:"not null;index" json:"product_id"`
	VariantID         uint    `gorm:"not null" json:"variant_id"`
	ActivityID        uint    `gorm:"not null;default:0" json:"activity_id"`
	ActivityVariantID uint    `gorm:"not null;default:0;index:idx_line_av_day" json:"activity_variant_id"`
	Channel           Channel `gorm:"size:16;not null" json:"channel"`
	TimeslotID        uint    `gorm:"not null;default:0" json:"timeslot_id"`
	ActivityDay       string  `gorm:"size:8;not null;index:idx_line_av_day" json:"activity_day"` // yyyymmdd

	Quantity     int64        `gorm:"not null" json:"quantity"`
	RefundedQty  int64        `gorm:"not null;default:0" json:"refunded_qty"`
	RefundStatus RefundStatus `gorm:"not null;default:0" json:"refund_status"`
}

func (OrderLine) TableName() string { return "order_lines" }

// ActivityDay 活动日，按传入时间所在时区的日历日计算。
func ActivityDay(t time.Time) string { return t.Format("20060102") }
