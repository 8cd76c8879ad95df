package model

import "time"

// IndexRow 是 (商品, 活动, 渠道) 维度的反范式读模型，列表与搜索只读这张表。
type IndexRow struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ProductID  uint    `gorm:"not null;uniqueIndex:idx_spu_key" json:"product_id"`
	ActivityID uint    `gorm:"not null;uniqueIndex:idx_spu_key;index" json:"activity_id"`
	Channel    Channel `gorm:"size:16;not null;uniqueIndex:idx_spu_key;index" json:"channel"`
	MerchantID uint    `gorm:"not null;index" json:"merchant_id"`

	Status int    `gorm:"not null;default:0;index" json:"status"` // 1 可售可见
	Reason string `gorm:"size:64" json:"reason,omitempty"`        // status=0 时首个不满足的条件
	Price  int64  `gorm:"not null;default:0" json:"price"`
	Label  string `gorm:"size:64" json:"label"`
	Rank   int    `gorm:"not null;default:0" json:"rank"`
	Star   int    `gorm:"not null;default:0" json:"star"`
}

func (IndexRow) TableName() string { return "spu_index" }

// IndexKey 唯一定位一行 IndexRow。
type IndexKey struct {
	ProductID  uint
	ActivityID uint
	Channel    Channel
}
