package model

import (
	"time"

	"gorm.io/gorm"
)

// Merchant 商户，只关心是否处于营业状态。
type Merchant struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name   string `gorm:"size:128;not null" json:"name"`
	Active bool   `gorm:"not null" json:"active"`
}

func (Merchant) TableName() string { return "merchants" }

// Product 规范商品（SPU），库存落在 Variant 上。
type Product struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	MerchantID uint   `gorm:"not null;index" json:"merchant_id"`
	Name       string `gorm:"size:128;not null" json:"name"`
	// Approved 平台审核通过；Shown 上架展示；Enabled 商户侧启用。
	Approved bool `gorm:"not null;default:false" json:"approved"`
	Shown    bool `gorm:"not null;default:false" json:"shown"`
	Enabled  bool `gorm:"not null" json:"enabled"`
	Rank     int  `gorm:"not null;default:0" json:"rank"`
	Star     int  `gorm:"not null;default:0" json:"star"`
}

func (Product) TableName() string { return "products" }
