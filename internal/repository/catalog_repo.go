package repository

import (
	"context"
	"errors"

	"salesync/internal/model"

	"gorm.io/gorm"
)

type CatalogRepo interface {
	CreateMerchant(ctx context.Context, m *model.Merchant) error
	GetMerchant(ctx context.Context, id uint) (*model.Merchant, error)
	SetMerchantActive(ctx context.Context, id uint, active bool) error

	CreateProduct(ctx context.Context, p *model.Product) error
	// GetProduct 包含软删除的商品，调用方据 DeletedAt 判断。
	GetProduct(ctx context.Context, id uint) (*model.Product, error)
	UpdateProduct(ctx context.Context, id uint, fields map[string]any) error
	DeleteProduct(ctx context.Context, id uint) error
	ListProductIDsByMerchant(ctx context.Context, merchantID uint) ([]uint, error)
}

type catalogRepo struct{ db *gorm.DB }

func NewCatalogRepo(db *gorm.DB) CatalogRepo { return &catalogRepo{db: db} }

func (r *catalogRepo) CreateMerchant(ctx context.Context, m *model.Merchant) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *catalogRepo) GetMerchant(ctx context.Context, id uint) (*model.Merchant, error) {
	var m model.Merchant
	err := r.db.WithContext(ctx).First(&m, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &m, err
}

func (r *catalogRepo) SetMerchantActive(ctx context.Context, id uint, active bool) error {
	return r.db.WithContext(ctx).Model(&model.Merchant{}).Where("id = ?", id).Update("active", active).Error
}

func (r *catalogRepo) CreateProduct(ctx context.Context, p *model.Product) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *catalogRepo) GetProduct(ctx context.Context, id uint) (*model.Product, error) {
	var p model.Product
	err := r.db.WithContext(ctx).Unscoped().First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &p, err
}

func (r *catalogRepo) UpdateProduct(ctx context.Context, id uint, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&model.Product{}).Where("id = ?", id).Updates(fields).Error
}

func (r *catalogRepo) DeleteProduct(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Delete(&model.Product{}, id).Error
}

func (r *catalogRepo) ListProductIDsByMerchant(ctx context.Context, merchantID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Unscoped().Model(&model.Product{}).
		Where("merchant_id = ?", merchantID).
		Order("id ASC").
		Pluck("id", &ids).Error
	return ids, err
}
