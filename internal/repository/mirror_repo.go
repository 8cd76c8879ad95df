package repository

import (
	"context"
	"errors"

	"salesync/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type MirrorRepo interface {
	// Upsert 同一活动同一 SKU 只保留一行，重复创建时覆盖封顶库存与活动价。
	Upsert(ctx context.Context, av *model.ActivityVariant) error
	Get(ctx context.Context, id uint) (*model.ActivityVariant, error)
	GetByActivityVariant(ctx context.Context, activityID, variantID uint) (*model.ActivityVariant, error)
	ListByActivity(ctx context.Context, activityID uint) ([]model.ActivityVariant, error)
	// AdjustSold: sold_count += delta，结果最小为 0。
	AdjustSold(ctx context.Context, id uint, delta int64) error
}

type mirrorRepo struct{ db *gorm.DB }

func NewMirrorRepo(db *gorm.DB) MirrorRepo { return &mirrorRepo{db: db} }

func (r *mirrorRepo) Upsert(ctx context.Context, av *model.ActivityVariant) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "activity_id"}, {Name: "variant_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"capped_stock", "activity_price", "unique_code", "updated_at"}),
		}).
		Create(av).Error
}

func (r *mirrorRepo) Get(ctx context.Context, id uint) (*model.ActivityVariant, error) {
	var av model.ActivityVariant
	err := r.db.WithContext(ctx).First(&av, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &av, err
}

func (r *mirrorRepo) GetByActivityVariant(ctx context.Context, activityID, variantID uint) (*model.ActivityVariant, error) {
	var av model.ActivityVariant
	err := r.db.WithContext(ctx).
		Where("activity_id = ? AND variant_id = ?", activityID, variantID).
		First(&av).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &av, err
}

func (r *mirrorRepo) ListByActivity(ctx context.Context, activityID uint) ([]model.ActivityVariant, error) {
	var list []model.ActivityVariant
	err := r.db.WithContext(ctx).
		Where("activity_id = ?", activityID).
		Order("id ASC").
		Find(&list).Error
	return list, err
}

func (r *mirrorRepo) AdjustSold(ctx context.Context, id uint, delta int64) error {
	return r.db.WithContext(ctx).Exec(`
UPDATE activity_variants
SET sold_count = MAX(sold_count + @delta, 0),
    updated_at = CURRENT_TIMESTAMP
WHERE id = @id
`, map[string]any{
		"id":    id,
		"delta": delta,
	}).Error
}
