package repository

import (
	"context"
	"errors"
	"time"

	"salesync/internal/model"

	"gorm.io/gorm"
)

type GroupRepo interface {
	Create(ctx context.Context, g *model.GroupBuyInstance) error
	Get(ctx context.Context, id uint) (*model.GroupBuyInstance, error)
	// UpdateVersioned 乐观锁更新：version 不匹配时返回 false，成功时 version+1。
	UpdateVersioned(ctx context.Context, id uint, version int64, fields map[string]any) (bool, error)
	// Delist 软删除，使团从列表中消失。
	Delist(ctx context.Context, id uint) error
	ListExpiredOpen(ctx context.Context, now time.Time, limit int) ([]model.GroupBuyInstance, error)
	ListOpen(ctx context.Context, activityID uint, now time.Time) ([]model.GroupBuyInstance, error)

	AddParticipant(ctx context.Context, p *model.GroupBuyParticipant) error
	// ListParticipants 按参团顺序返回，包含已退出的记录。
	ListParticipants(ctx context.Context, groupID uint) ([]model.GroupBuyParticipant, error)
	UpdateParticipant(ctx context.Context, id uint, fields map[string]any) error

	AddCredit(ctx context.Context, c *model.ReferralCredit) error
	// RevokeCredits 撤销 beneficiary 在该团下未撤销的佣金，返回被撤销的记录。
	RevokeCredits(ctx context.Context, groupID uint, beneficiary int64, at time.Time) ([]model.ReferralCredit, error)
	ListCredits(ctx context.Context, groupID uint) ([]model.ReferralCredit, error)
}

type groupRepo struct{ db *gorm.DB }

func NewGroupRepo(db *gorm.DB) GroupRepo { return &groupRepo{db: db} }

func (r *groupRepo) Create(ctx context.Context, g *model.GroupBuyInstance) error {
	return r.db.WithContext(ctx).Create(g).Error
}

func (r *groupRepo) Get(ctx context.Context, id uint) (*model.GroupBuyInstance, error) {
	var g model.GroupBuyInstance
	err := r.db.WithContext(ctx).Unscoped().First(&g, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &g, err
}

func (r *groupRepo) UpdateVersioned(ctx context.Context, id uint, version int64, fields map[string]any) (bool, error) {
	upd := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		upd[k] = v
	}
	upd["version"] = version + 1
	tx := r.db.WithContext(ctx).Unscoped().
		Model(&model.GroupBuyInstance{}).
		Where("id = ? AND version = ?", id, version).
		Updates(upd)
	return tx.RowsAffected > 0, tx.Error
}

func (r *groupRepo) Delist(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Delete(&model.GroupBuyInstance{}, id).Error
}

func (r *groupRepo) ListExpiredOpen(ctx context.Context, now time.Time, limit int) ([]model.GroupBuyInstance, error) {
	if limit <= 0 {
		limit = 100
	}
	var list []model.GroupBuyInstance
	err := r.db.WithContext(ctx).
		Where("status = ? AND end_time <= ?", model.GroupOpen, now).
		Order("end_time ASC").
		Limit(limit).
		Find(&list).Error
	return list, err
}

func (r *groupRepo) ListOpen(ctx context.Context, activityID uint, now time.Time) ([]model.GroupBuyInstance, error) {
	var list []model.GroupBuyInstance
	err := r.db.WithContext(ctx).
		Where("activity_id = ? AND status = ? AND end_time > ?", activityID, model.GroupOpen, now).
		Order("created_at ASC").
		Find(&list).Error
	return list, err
}

func (r *groupRepo) AddParticipant(ctx context.Context, p *model.GroupBuyParticipant) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *groupRepo) ListParticipants(ctx context.Context, groupID uint) ([]model.GroupBuyParticipant, error) {
	var list []model.GroupBuyParticipant
	err := r.db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("join_seq ASC").
		Find(&list).Error
	return list, err
}

func (r *groupRepo) UpdateParticipant(ctx context.Context, id uint, fields map[string]any) error {
	return r.db.WithContext(ctx).Model(&model.GroupBuyParticipant{}).Where("id = ?", id).Updates(fields).Error
}

func (r *groupRepo) AddCredit(ctx context.Context, c *model.ReferralCredit) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *groupRepo) RevokeCredits(ctx context.Context, groupID uint, beneficiary int64, at time.Time) ([]model.ReferralCredit, error) {
	var list []model.ReferralCredit
	if err := r.db.WithContext(ctx).
		Where("group_id = ? AND beneficiary_uid = ? AND revoked = ?", groupID, beneficiary, false).
		Order("id ASC").
		Find(&list).Error; err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	ids := make([]uint, 0, len(list))
	for i := range list {
		ids = append(ids, list[i].ID)
		list[i].Revoked = true
		list[i].RevokedAt = &at
	}
	err := r.db.WithContext(ctx).Model(&model.ReferralCredit{}).
		Where("id IN ?", ids).
		Updates(map[string]any{"revoked": true, "revoked_at": at}).Error
	return list, err
}

func (r *groupRepo) ListCredits(ctx context.Context, groupID uint) ([]model.ReferralCredit, error) {
	var list []model.ReferralCredit
	err := r.db.WithContext(ctx).Where("group_id = ?", groupID).Order("id ASC").Find(&list).Error
	return list, err
}
