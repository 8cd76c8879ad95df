package model

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Variant 规范 SKU。被历史订单引用后只做软删除。
type Variant struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	ProductID       uint   `gorm:"not null;index" json:"product_id"`
	Unique          string `gorm:"column:unique_code;size:32;uniqueIndex;not null" json:"unique"`
	OptionSignature string `gorm:"size:255;not null" json:"option_signature"`

	Stock             int64 `gorm:"not null;default:0" json:"stock"`
	Price             int64 `gorm:"not null;default:0" json:"price"` // 单位：分
	Cost              int64 `gorm:"not null;default:0" json:"cost"`  // 单位：分
	IsDefaultSelected bool  `gorm:"not null;default:false" json:"is_default_selected"`
	IsVisible         bool  `gorm:"not null" json:"is_visible"`
}

func (Variant) TableName() string { return "variants" }

// VariantUnique 由商品 ID + 规格签名 + 渠道生成确定性的唯一码，重复保存商品时可据此 upsert。
func VariantUnique(productID uint, optionSignature string, ch Channel) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%d|%s|%s", productID, optionSignature, ch)))
	return hex.EncodeToString(sum[:])[:16]
}
