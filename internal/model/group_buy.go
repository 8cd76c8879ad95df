package model

import (
	"time"

	"gorm.io/gorm"
)

// GroupStatus 拼团实例状态机：open → succeeded | failed，终态不可逆。
type GroupStatus int

const (
	GroupOpen GroupStatus = iota
	GroupSucceeded
	GroupFailed
)

func (s GroupStatus) String() string {
	switch s {
	case GroupOpen:
		return "open"
	case GroupSucceeded:
		return "succeeded"
	case GroupFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether no participant mutation is allowed any more.
func (s GroupStatus) Terminal() bool { return s != GroupOpen }

// GroupBuyInstance 一个拼团（团长开团后生成）。
type GroupBuyInstance struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"` // 强制失败的团从列表中移除

	ActivityID uint        `gorm:"not null;index" json:"activity_id"`
	ProductID  uint        `gorm:"not null;index" json:"product_id"`
	LeaderUID  int64       `gorm:"not null" json:"leader_uid"`
	Status     GroupStatus `gorm:"not null;default:0;index" json:"status"`
	EndTime    time.Time   `gorm:"not null;index" json:"end_time"`

	TargetCount int `gorm:"not null" json:"target_count"`
	// YetCount 只统计真实参团人，虚拟成团的人数记在 VirtualFillCount。
	YetCount             int  `gorm:"not null;default:0" json:"yet_count"`
	VirtualFillEnabled   bool `gorm:"not null;default:false" json:"virtual_fill_enabled"`
	VirtualFillThreshold int  `gorm:"not null;default:0" json:"virtual_fill_threshold"`
	VirtualFillCount     int  `gorm:"not null;default:0" json:"virtual_fill_count"`

	NextSeq int   `gorm:"not null;default:0" json:"-"` // 参团顺序号
	Version int64 `gorm:"not null;default:0" json:"-"` // 乐观锁
}

func (GroupBuyInstance) TableName() string { return "group_buy_instances" }

// GroupBuyParticipant 参团记录。UID=0 表示虚拟成团补位的匿名用户。
type GroupBuyParticipant struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	GroupID   uint   `gorm:"not null;index" json:"group_id"`
	UID       int64  `gorm:"not null;index" json:"uid"`
	OrderID   string `gorm:"size:64" json:"order_id"`
	JoinSeq   int    `gorm:"not null" json:"join_seq"`
	IsLeader  bool   `gorm:"not null;default:false" json:"is_leader"`
	IsVirtual bool   `gorm:"not null;default:false" json:"is_virtual"`
	IsRemoved bool   `gorm:"not null;default:false" json:"is_removed"`
}

func (GroupBuyParticipant) TableName() string { return "group_buy_participants" }

// ReferralCredit 团员下单给团长记的推广佣金；团长转移时撤销。
type ReferralCredit struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	GroupID   uint      `gorm:"not null;index" json:"group_id"`
	OrderID   string    `gorm:"size:64;not null" json:"order_id"`
	// BeneficiaryUID 拿佣金的人（团长），SourceUID 下单的人。
	BeneficiaryUID int64      `gorm:"not null;index" json:"beneficiary_uid"`
	SourceUID      int64      `gorm:"not null" json:"source_uid"`
	Amount         int64      `gorm:"not null" json:"amount"`
	Revoked        bool       `gorm:"not null;default:false" json:"revoked"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
}

func (ReferralCredit) TableName() string { return "referral_credits" }
