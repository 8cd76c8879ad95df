package repository

import (
	"context"
	"errors"
	"time"

	"salesync/internal/model"

	"gorm.io/gorm"
)

type ActivityRepo interface {
	Create(ctx context.Context, a *model.Activity) error
	// Get 包含软删除的活动。
	Get(ctx context.Context, id uint) (*model.Activity, error)
	UpdateFields(ctx context.Context, id uint, fields map[string]any) error
	Delete(ctx context.Context, id uint) error
	ListByProduct(ctx context.Context, productID uint) ([]model.Activity, error)
	// ListRunning 返回 now 落在时间窗内、未删除的某渠道活动。
	ListRunning(ctx context.Context, ch model.Channel, now time.Time) ([]model.Activity, error)
	// ListWindowEdges 开始或结束时间落在 (since, now] 内的活动，包括已删除的。
	ListWindowEdges(ctx context.Context, since, now time.Time) ([]model.Activity, error)

	CreateTimeslot(ctx context.Context, s *model.Timeslot) error
	GetTimeslot(ctx context.Context, id uint) (*model.Timeslot, error)
}

type activityRepo struct{ db *gorm.DB }

func NewActivityRepo(db *gorm.DB) ActivityRepo { return &activityRepo{db: db} }

func (r *activityRepo) Create(ctx context.Context, a *model.Activity) error {
	return r.db.WithContext(ctx).Create(a).Error
}

func (r *activityRepo) Get(ctx context.Context, id uint) (*model.Activity, error) {
	var a model.Activity
	err := r.db.WithContext(ctx).Unscoped().First(&a, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &a, err
}

func (r *activityRepo) UpdateFields(ctx context.Context, id uint, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&model.Activity{}).Where("id = ?", id).Updates(fields).Error
}

func (r *activityRepo) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Delete(&model.Activity{}, id).Error
}

func (r *activityRepo) ListByProduct(ctx context.Context, productID uint) ([]model.Activity, error) {
	var list []model.Activity
	err := r.db.WithContext(ctx).Unscoped().
		Where("product_id = ?", productID).
		Order("id ASC").
		Find(&list).Error
	return list, err
}

func (r *activityRepo) ListRunning(ctx context.Context, ch model.Channel, now time.Time) ([]model.Activity, error) {
	var list []model.Activity
	err := r.db.WithContext(ctx).
		Where("channel = ? AND start_time <= ? AND end_time >= ?", ch, now, now).
		Order("id ASC").
		Find(&list).Error
	return list, err
}

func (r *activityRepo) ListWindowEdges(ctx context.Context, since, now time.Time) ([]model.Activity, error) {
	var list []model.Activity
	err := r.db.WithContext(ctx).Unscoped().
		Where("(start_time > ? AND start_time <= ?) OR (end_time > ? AND end_time <= ?)", since, now, since, now).
		Order("id ASC").
		Find(&list).Error
	return list, err
}

func (r *activityRepo) CreateTimeslot(ctx context.Context, s *model.Timeslot) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *activityRepo) GetTimeslot(ctx context.Context, id uint) (*model.Timeslot, error) {
	var s model.Timeslot
	err := r.db.WithContext(ctx).First(&s, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &s, err
}
