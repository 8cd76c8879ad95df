package repository

import (
	"context"
	"errors"

	"salesync/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type VariantRepo interface {
	Get(ctx context.Context, id uint) (*model.Variant, error)
	ListByProduct(ctx context.Context, productID uint) ([]model.Variant, error)
	// Upsert 按 unique 插入或更新价格/成本/默认选中/可见，库存只在新建时写入。
	Upsert(ctx context.Context, v *model.Variant) error
	// AdjustStock: stock += delta，仅当结果 >= 0 时生效。
	AdjustStock(ctx context.Context, id uint, delta int64) (bool, error)
	SetStock(ctx context.Context, id uint, stock int64) error
}

type variantRepo struct{ db *gorm.DB }

func NewVariantRepo(db *gorm.DB) VariantRepo { return &variantRepo{db: db} }

func (r *variantRepo) Get(ctx context.Context, id uint) (*model.Variant, error) {
	var v model.Variant
	err := r.db.WithContext(ctx).First(&v, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &v, err
}

func (r *variantRepo) ListByProduct(ctx context.Context, productID uint) ([]model.Variant, error) {
	var list []model.Variant
	err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("id ASC").
		Find(&list).Error
	return list, err
}

func (r *variantRepo) Upsert(ctx context.Context, v *model.Variant) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "unique_code"}},
			DoUpdates: clause.AssignmentColumns([]string{"price", "cost", "is_default_selected", "is_visible", "option_signature", "updated_at"}),
		}).
		Create(v).Error
}

func (r *variantRepo) AdjustStock(ctx context.Context, id uint, delta int64) (bool, error) {
	tx := r.db.WithContext(ctx).Exec(`
UPDATE variants
SET stock = stock + @delta,
    updated_at = CURRENT_TIMESTAMP
WHERE id = @id
  AND deleted_at IS NULL
  AND stock + @delta >= 0
`, map[string]any{
		"id":    id,
		"delta": delta,
	})
	return tx.RowsAffected > 0, tx.Error
}

func (r *variantRepo) SetStock(ctx context.Context, id uint, stock int64) error {
	return r.db.WithContext(ctx).Model(&model.Variant{}).Where("id = ?", id).Update("stock", stock).Error
}
