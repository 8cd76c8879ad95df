package repository

import (
	"context"
	"errors"

	"salesync/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OrderLineRepo interface {
	// Insert 以 line_id 幂等写入；已存在时返回 false。
	Insert(ctx context.Context, line *model.OrderLine) (bool, error)
	Get(ctx context.Context, lineID string) (*model.OrderLine, error)
	// MarkRefunded 仅对未退款的行生效；返回 false 表示重复投递。
	MarkRefunded(ctx context.Context, lineID string, qty int64, status model.RefundStatus) (bool, error)
	// UnitsSoldOnDay 某活动 SKU 在某活动日的销量，排除全额退款的行。
	UnitsSoldOnDay(ctx context.Context, activityVariantID uint, day string) (int64, error)
}

type orderLineRepo struct{ db *gorm.DB }

func NewOrderLineRepo(db *gorm.DB) OrderLineRepo { return &orderLineRepo{db: db} }

func (r *orderLineRepo) Insert(ctx context.Context, line *model.OrderLine) (bool, error) {
	tx := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "line_id"}}, DoNothing: true}).
		Create(line)
	return tx.RowsAffected > 0, tx.Error
}

func (r *orderLineRepo) Get(ctx context.Context, lineID string) (*model.OrderLine, error) {
	var line model.OrderLine
	err := r.db.WithContext(ctx).Where("line_id = ?", lineID).First(&line).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &line, err
}

func (r *orderLineRepo) MarkRefunded(ctx context.Context, lineID string, qty int64, status model.RefundStatus) (bool, error) {
	tx := r.db.WithContext(ctx).
		Model(&model.OrderLine{}).
		Where("line_id = ? AND refund_status = ?", lineID, model.RefundNone).
		Updates(map[string]any{"refunded_qty": qty, "refund_status": status})
	return tx.RowsAffected > 0, tx.Error
}

func (r *orderLineRepo) UnitsSoldOnDay(ctx context.Context, activityVariantID uint, day string) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).
		Model(&model.OrderLine{}).
		Where("activity_variant_id = ? AND activity_day = ? AND refund_status <> ?", activityVariantID, day, model.RefundFull).
		Select("COALESCE(SUM(quantity), 0)").
		Scan(&sum).Error
	return sum, err
}
