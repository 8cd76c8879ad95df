package service

import (
	"context"
	"fmt"
	"time"

	"salesync/internal/model"
	"salesync/internal/repository"

	"go.uber.org/zap"
)

// MirrorService 维护活动镜像 SKU。镜像只从规范 SKU 派生，不单独作为库存来源。
type MirrorService struct {
	repo  *repository.Repository
	index *IndexSync
	log   *zap.Logger
	now   func() time.Time
}

func NewMirrorService(repo *repository.Repository, index *IndexSync, log *zap.Logger) *MirrorService {
	return &MirrorService{repo: repo, index: index, log: log, now: time.Now}
}

// CreateMirror 为活动创建（或覆盖）一个镜像 SKU；封顶库存不能超过当前规范库存。
func (s *MirrorService) CreateMirror(ctx context.Context, variantID, activityID uint, capped, price int64) (*model.ActivityVariant, error) {
	if capped < 0 || price < 0 {
		return nil, fmt.Errorf("%w: negative cap or price", ErrInvalidArgument)
	}

	var (
		out      *model.ActivityVariant
		activity *model.Activity
	)
	err := s.repo.WithTx(ctx, func(tx *repository.Repository) error {
		v, err := tx.Variants.Get(ctx, variantID)
		if err != nil {
			return err
		}
		if v == nil {
			return fmt.Errorf("%w: variant %d", ErrNotFound, variantID)
		}
		activity, err = tx.Activities.Get(ctx, activityID)
		if err != nil {
			return err
		}
		if activity == nil || activity.DeletedAt.Valid {
			return fmt.Errorf("%w: activity %d", ErrNotFound, activityID)
		}
		if !activity.Channel.IsActivity() {
			return fmt.Errorf("%w: activity %d has channel %q", ErrInvalidArgument, activityID, activity.Channel)
		}
		if activity.ProductID != v.ProductID {
			return fmt.Errorf("%w: variant %d does not belong to product %d", ErrInvalidArgument, variantID, activity.ProductID)
		}
		if capped > v.Stock {
			return fmt.Errorf("%w: cap %d > stock %d", ErrCapExceedsStock, capped, v.Stock)
		}

		av := &model.ActivityVariant{
			ActivityID:    activity.ID,
			VariantID:     v.ID,
			ProductID:     v.ProductID,
			Channel:       activity.Channel,
			Unique:        model.VariantUnique(v.ProductID, v.OptionSignature, activity.Channel),
			CappedStock:   capped,
			ActivityPrice: price,
		}
		if err := tx.Mirrors.Upsert(ctx, av); err != nil {
			return err
		}
		out, err = tx.Mirrors.GetByActivityVariant(ctx, activity.ID, v.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if s.index != nil {
		key := model.IndexKey{ProductID: activity.ProductID, ActivityID: activity.ID, Channel: activity.Channel}
		if _, err := s.index.Recompute(ctx, key); err != nil {
			s.log.Error("recompute index after mirror change", zap.Uint("activity_id", activity.ID), zap.Error(err))
		}
	}
	return out, nil
}

// EffectiveRemaining 每次读取都重新计算，因为规范库存可能在镜像创建后被其他渠道卖掉或被商户调低。
func (s *MirrorService) EffectiveRemaining(ctx context.Context, activityVariantID uint, day string) (int64, error) {
	av, err := s.repo.Mirrors.Get(ctx, activityVariantID)
	if err != nil {
		return 0, err
	}
	if av == nil {
		return 0, fmt.Errorf("%w: activity variant %d", ErrNotFound, activityVariantID)
	}
	return effectiveRemainingOf(ctx, s.repo, av, day)
}

func effectiveRemainingOf(ctx context.Context, repo *repository.Repository, av *model.ActivityVariant, day string) (int64, error) {
	v, err := repo.Variants.Get(ctx, av.VariantID)
	if err != nil {
		return 0, err
	}
	var stock int64
	if v != nil {
		stock = v.Stock
	}
	sold, err := repo.Orders.UnitsSoldOnDay(ctx, av.ID, day)
	if err != nil {
		return 0, err
	}
	return EffectiveRemaining(av.CappedStock, stock, sold), nil
}

// EffectiveRemaining = max(0, min(capped, stock) - sold)。结果永远不超过 stock。
func EffectiveRemaining(capped, stock, sold int64) int64 {
	if stock < 0 {
		stock = 0
	}
	n := min(capped, stock) - sold
	if n < 0 {
		return 0
	}
	return n
}
