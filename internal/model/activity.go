package model

import (
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Activity 渠道活动（秒杀/预售/助力/拼团）。普通销售没有活动记录，ActivityID 记为 0。
type Activity struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	ProductID uint    `gorm:"not null;index" json:"product_id"`
	Channel   Channel `gorm:"size:16;not null;index" json:"channel"`
	Title     string  `gorm:"size:128" json:"title"`
	Approved  bool    `gorm:"not null;default:false" json:"approved"`
	Shown     bool    `gorm:"not null;default:false" json:"shown"`

	StartTime time.Time `gorm:"not null" json:"start_time"`
	EndTime   time.Time `gorm:"not null" json:"end_time"`

	// 秒杀：逗号分隔的场次 ID
	Timeslots string `gorm:"size:255" json:"timeslots"`

	// 拼团参数
	TargetCount          int           `gorm:"not null;default:0" json:"target_count"`
	GroupDuration        time.Duration `gorm:"not null;default:0" json:"group_duration"`
	VirtualFillEnabled   bool          `gorm:"not null;default:false" json:"virtual_fill_enabled"`
	VirtualFillThreshold int           `gorm:"not null;default:0" json:"virtual_fill_threshold"`
	LeaderCommission     int64         `gorm:"not null;default:0" json:"leader_commission"` // 分

	// 预售参数
	DepositPrice  int64      `gorm:"not null;default:0" json:"deposit_price"`
	FinalPayStart *time.Time `json:"final_pay_start,omitempty"`
	FinalPayEnd   *time.Time `json:"final_pay_end,omitempty"`

	// 助力参数：需要多少好友助力才解锁购买
	AssistTarget int `gorm:"not null;default:0" json:"assist_target"`
}

func (Activity) TableName() string { return "activities" }

// InWindow 判断 t 是否落在活动时间窗内（含起止点）。
func (a Activity) InWindow(t time.Time) bool {
	return !t.Before(a.StartTime) && !t.After(a.EndTime)
}

// HasTimeslot reports whether the flash activity runs in the given timeslot.
func (a Activity) HasTimeslot(id uint) bool {
	for _, s := range strings.Split(a.Timeslots, ",") {
		v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
		if err == nil && uint(v) == id {
			return true
		}
	}
	return false
}

// TimeslotIDs 解析场次列表，忽略非法项。
func (a Activity) TimeslotIDs() []uint {
	var out []uint
	for _, s := range strings.Split(a.Timeslots, ",") {
		v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
		if err == nil {
			out = append(out, uint(v))
		}
	}
	return out
}

// Timeslot 秒杀场次，按一天内的分钟数表示 [StartMinute, EndMinute)。
type Timeslot struct {
	ID          uint   `gorm:"primarykey" json:"id"`
	Title       string `gorm:"size:64" json:"title"`
	StartMinute int    `gorm:"not null" json:"start_minute"`
	EndMinute   int    `gorm:"not null" json:"end_minute"`
}

func (Timeslot) TableName() string { return "timeslots" }

// Contains reports whether t's wall-clock minute falls inside the slot.
func (s Timeslot) Contains(t time.Time) bool {
	m := t.Hour()*60 + t.Minute()
	return m >= s.StartMinute && m < s.EndMinute
}

// ActivityVariant 活动镜像 SKU：从规范 Variant 派生，带活动封顶库存和活动价。
type ActivityVariant struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ActivityID    uint    `gorm:"not null;uniqueIndex:idx_activity_variant" json:"activity_id"`
	VariantID     uint    `gorm:"not null;uniqueIndex:idx_activity_variant;index" json:"variant_id"`
	ProductID     uint    `gorm:"not null;index" json:"product_id"`
	Channel       Channel `gorm:"size:16;not null" json:"channel"`
	Unique        string  `gorm:"column:unique_code;size:32;not null;index" json:"unique"`
	CappedStock   int64   `gorm:"not null;default:0" json:"capped_stock"`
	ActivityPrice int64   `gorm:"not null;default:0" json:"activity_price"` // 分
	SoldCount     int64   `gorm:"not null;default:0" json:"sold_count"`
}

func (ActivityVariant) TableName() string { return "activity_variants" }
