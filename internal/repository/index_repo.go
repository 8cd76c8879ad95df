package repository

import (
	"context"
	"errors"

	"salesync/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IndexFilter 列表/搜索查询条件，nil 表示不过滤。
type IndexFilter struct {
	ProductID  *uint
	ActivityID *uint
	Channel    *model.Channel
	Status     *int
	Limit      int
	Offset     int
}

type IndexRepo interface {
	Get(ctx context.Context, key model.IndexKey) (*model.IndexRow, error)
	// Upsert 行不存在时创建（新活动 SKU 可能还没有索引行）。
	Upsert(ctx context.Context, row *model.IndexRow) error
	Query(ctx context.Context, f IndexFilter) ([]model.IndexRow, int64, error)
}

type indexRepo struct{ db *gorm.DB }

func NewIndexRepo(db *gorm.DB) IndexRepo { return &indexRepo{db: db} }

func (r *indexRepo) Get(ctx context.Context, key model.IndexKey) (*model.IndexRow, error) {
	var row model.IndexRow
	err := r.db.WithContext(ctx).
		Where("product_id = ? AND activity_id = ? AND channel = ?", key.ProductID, key.ActivityID, key.Channel).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &row, err
}

func (r *indexRepo) Upsert(ctx context.Context, row *model.IndexRow) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "product_id"}, {Name: "activity_id"}, {Name: "channel"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"merchant_id", "status", "reason", "price", "label", "rank", "star", "updated_at",
			}),
		}).
		Create(row).Error
}

func (r *indexRepo) Query(ctx context.Context, f IndexFilter) ([]model.IndexRow, int64, error) {
	q := r.db.WithContext(ctx).Model(&model.IndexRow{})
	if f.ProductID != nil {
		q = q.Where("product_id = ?", *f.ProductID)
	}
	if f.ActivityID != nil {
		q = q.Where("activity_id = ?", *f.ActivityID)
	}
	if f.Channel != nil {
		q = q.Where("channel = ?", *f.Channel)
	}
	if f.Status != nil {
		q = q.Where("status = ?", *f.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	var list []model.IndexRow
	err := q.Order("`rank` DESC").Order("star DESC").Order("id ASC").
		Limit(f.Limit).Offset(f.Offset).
		Find(&list).Error
	return list, total, err
}
