package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"salesync/internal/metrics"
	"salesync/internal/model"
	"salesync/internal/repository"

	"go.uber.org/zap"
)

// IndexSync 维护 spu_index 读模型。所有写入都走 Recompute，不单独修改某一列。
type IndexSync struct {
	repo *repository.Repository
	log  *zap.Logger
	now  func() time.Time
}

func NewIndexSync(repo *repository.Repository, log *zap.Logger) *IndexSync {
	return &IndexSync{repo: repo, log: log, now: time.Now}
}

// Recompute 重新计算一行并 upsert。普通渠道从 0 变 1 时写入到货通知事件。
func (s *IndexSync) Recompute(ctx context.Context, key model.IndexKey) (*model.IndexRow, error) {
	if !key.Channel.Valid() {
		return nil, fmt.Errorf("%w: channel %q", ErrInvalidArgument, key.Channel)
	}
	if key.Channel == model.ChannelPlain && key.ActivityID != 0 {
		return nil, fmt.Errorf("%w: plain channel has no activity", ErrInvalidArgument)
	}
	if key.Channel.IsActivity() && key.ActivityID == 0 {
		return nil, fmt.Errorf("%w: %s channel needs an activity", ErrInvalidArgument, key.Channel)
	}

	var row *model.IndexRow
	err := s.repo.WithTx(ctx, func(tx *repository.Repository) error {
		next, err := s.build(ctx, tx, key)
		if err != nil {
			return err
		}
		prev, err := tx.Index.Get(ctx, key)
		if err != nil {
			return err
		}
		if err := tx.Index.Upsert(ctx, next); err != nil {
			return err
		}

		if key.Channel == model.ChannelPlain && prev != nil && prev.Status == 0 && next.Status == 1 {
			ev := Event{
				Kind:        EventBackInStock,
				AggregateID: "product:" + strconv.FormatUint(uint64(key.ProductID), 10),
				Payload:     BackInStockPayload{ProductID: key.ProductID, Price: next.Price},
			}
			if err := appendEvents(ctx, tx, s.now(), []Event{ev}); err != nil {
				return err
			}
		}
		row, err = tx.Index.Get(ctx, key)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.IndexRecompute.WithLabelValues(string(key.Channel), strconv.Itoa(row.Status)).Inc()
	return row, nil
}

// build 读取上游条件并组装新行，不写库。
func (s *IndexSync) build(ctx context.Context, tx *repository.Repository, key model.IndexKey) (*model.IndexRow, error) {
	now := s.now()
	row := &model.IndexRow{
		ProductID:  key.ProductID,
		ActivityID: key.ActivityID,
		Channel:    key.Channel,
		Label:      string(key.Channel),
	}
	cond := Conditions{Now: now}

	p, err := tx.Catalog.GetProduct(ctx, key.ProductID)
	if err != nil {
		return nil, err
	}
	if p != nil {
		cond.ProductExists = true
		cond.ProductApproved = p.Approved
		cond.ProductDeleted = p.DeletedAt.Valid
		cond.ProductShown = p.Shown
		cond.ProductEnabled = p.Enabled
		row.MerchantID = p.MerchantID
		row.Rank = p.Rank
		row.Star = p.Star

		m, err := tx.Catalog.GetMerchant(ctx, p.MerchantID)
		if err != nil {
			return nil, err
		}
		cond.MerchantActive = m != nil && m.Active
	}

	if key.Channel.IsActivity() {
		a, err := tx.Activities.Get(ctx, key.ActivityID)
		if err != nil {
			return nil, err
		}
		if a != nil {
			if a.Channel != key.Channel || a.ProductID != key.ProductID {
				return nil, fmt.Errorf("%w: activity %d is %s of product %d", ErrInvalidArgument, a.ID, a.Channel, a.ProductID)
			}
			cond.Activity = &ActivityConditions{
				Approved: a.Approved,
				Shown:    a.Shown,
				Deleted:  a.DeletedAt.Valid,
				Start:    a.StartTime,
				End:      a.EndTime,
			}
			if a.Title != "" {
				row.Label = a.Title
			}
		}
		row.Price, err = lowestActivityPrice(ctx, tx, key.ActivityID)
		if err != nil {
			return nil, err
		}
	} else {
		row.Price, err = representativePrice(ctx, tx, key.ProductID)
		if err != nil {
			return nil, err
		}
	}

	av := EvaluateAvailability(key.Channel, cond)
	row.Status = av.Status
	row.Reason = string(av.Reason)
	return row, nil
}

func representativePrice(ctx context.Context, tx *repository.Repository, productID uint) (int64, error) {
	list, err := tx.Variants.ListByProduct(ctx, productID)
	if err != nil {
		return 0, err
	}
	visible := list[:0]
	for _, v := range list {
		if v.IsVisible {
			visible = append(visible, v)
		}
	}
	v, err := SelectRepresentativePrice(visible)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return v.Price, nil
}

func lowestActivityPrice(ctx context.Context, tx *repository.Repository, activityID uint) (int64, error) {
	list, err := tx.Mirrors.ListByActivity(ctx, activityID)
	if err != nil {
		return 0, err
	}
	var (
		price int64
		found bool
	)
	for _, av := range list {
		v, err := tx.Variants.Get(ctx, av.VariantID)
		if err != nil {
			return 0, err
		}
		// 规格已删除或隐藏时不参与展示价
		if v == nil || !v.IsVisible {
			continue
		}
		if !found || av.ActivityPrice < price {
			price, found = av.ActivityPrice, true
		}
	}
	return price, nil
}

// RecomputeProduct 普通渠道一行，加上商品下每个活动一行（包括已删除的活动，使其行置 0）。
func (s *IndexSync) RecomputeProduct(ctx context.Context, productID uint) error {
	if _, err := s.Recompute(ctx, model.IndexKey{ProductID: productID, Channel: model.ChannelPlain}); err != nil {
		return err
	}
	acts, err := s.repo.Activities.ListByProduct(ctx, productID)
	if err != nil {
		return err
	}
	var errs []error
	for _, a := range acts {
		if !a.Channel.IsActivity() {
			continue
		}
		key := model.IndexKey{ProductID: productID, ActivityID: a.ID, Channel: a.Channel}
		if _, err := s.Recompute(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("activity %d: %w", a.ID, err))
		}
	}
	return errors.Join(errs...)
}

// RecomputeMerchant 商户营业状态变化时重算其全部商品。
func (s *IndexSync) RecomputeMerchant(ctx context.Context, merchantID uint) (int, error) {
	ids, err := s.repo.Catalog.ListProductIDsByMerchant(ctx, merchantID)
	if err != nil {
		return 0, err
	}
	var errs []error
	for _, id := range ids {
		if err := s.RecomputeProduct(ctx, id); err != nil {
			s.log.Warn("recompute product failed", zap.Uint("merchant_id", merchantID), zap.Uint("product_id", id), zap.Error(err))
			errs = append(errs, fmt.Errorf("product %d: %w", id, err))
		}
	}
	return len(ids), errors.Join(errs...)
}

// Query 列表/搜索只读 spu_index。
func (s *IndexSync) Query(ctx context.Context, f repository.IndexFilter) ([]model.IndexRow, int64, error) {
	if f.Channel != nil && !f.Channel.Valid() {
		return nil, 0, fmt.Errorf("%w: channel %q", ErrInvalidArgument, *f.Channel)
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	return s.repo.Index.Query(ctx, f)
}

// recomputeKeys 提交后批量重算，失败只记日志：读模型允许短暂滞后，下次变更会再次修正。
func (s *IndexSync) recomputeKeys(ctx context.Context, keys map[model.IndexKey]struct{}) {
	for key := range keys {
		if _, err := s.Recompute(ctx, key); err != nil {
			s.log.Error("recompute index row",
				zap.Uint("product_id", key.ProductID),
				zap.Uint("activity_id", key.ActivityID),
				zap.String("channel", string(key.Channel)),
				zap.Error(err))
		}
	}
}
