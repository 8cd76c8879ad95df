package repository

import (
	"context"
	"time"

	"salesync/internal/model"

	"gorm.io/gorm"
)

type OutboxRepo interface {
	Append(ctx context.Context, events []model.OutboxEvent) error
	ListPending(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkSent(ctx context.Context, id uint, at time.Time) error
	MarkFailed(ctx context.Context, id uint, reason string) error
	ListByKind(ctx context.Context, kind string) ([]model.OutboxEvent, error)
}

type outboxRepo struct{ db *gorm.DB }

func NewOutboxRepo(db *gorm.DB) OutboxRepo { return &outboxRepo{db: db} }

func (r *outboxRepo) Append(ctx context.Context, events []model.OutboxEvent) error {
	if len(events) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&events).Error
}

func (r *outboxRepo) ListPending(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	if limit <= 0 {
		limit = 16
	}
	var list []model.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("sent = ?", false).
		Order("id ASC").
		Limit(limit).
		Find(&list).Error
	return list, err
}

func (r *outboxRepo) MarkSent(ctx context.Context, id uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{"sent": true, "sent_at": at}).Error
}

func (r *outboxRepo) MarkFailed(ctx context.Context, id uint, reason string) error {
	if len(reason) > 255 {
		reason = reason[:255]
	}
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": reason,
		}).Error
}

func (r *outboxRepo) ListByKind(ctx context.Context, kind string) ([]model.OutboxEvent, error) {
	var list []model.OutboxEvent
	err := r.db.WithContext(ctx).Where("kind = ?", kind).Order("id ASC").Find(&list).Error
	return list, err
}
