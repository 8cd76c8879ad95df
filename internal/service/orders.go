package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"salesync/internal/model"
	"salesync/internal/repository"

	"go.uber.org/zap"
)

// CommittedLine 订单子系统推送的已提交订单行。
type CommittedLine struct {
	LineID      string        `json:"line_id" binding:"required"`
	OrderID     string        `json:"order_id" binding:"required"`
	UserID      int64         `json:"user_id"`
	ProductID   uint          `json:"product_id"`
	VariantID   uint          `json:"variant_id" binding:"required"`
	ActivityID  uint          `json:"activity_id"`
	Channel     model.Channel `json:"channel" binding:"required"`
	TimeslotID  uint          `json:"timeslot_id"`
	Quantity    int64         `json:"quantity" binding:"required"`
	CommittedAt time.Time     `json:"committed_at"`
}

// RefundedLine Quantity 为 0 或不小于原数量时视为全额退款。
type RefundedLine struct {
	LineID   string `json:"line_id" binding:"required"`
	Quantity int64  `json:"quantity"`
}

// ApplyResult 一批订单事件的处理统计。
type ApplyResult struct {
	Applied    int `json:"applied"`
	Duplicates int `json:"duplicates"`
	Underflows int `json:"underflows"`
}

// OrderEvents 消费订单事件，把库存变化落到规范 SKU 与活动镜像，然后重算索引。
type OrderEvents struct {
	repo  *repository.Repository
	index *IndexSync
	loc   *time.Location
	log   *zap.Logger
	now   func() time.Time
}

func NewOrderEvents(repo *repository.Repository, index *IndexSync, loc *time.Location, log *zap.Logger) *OrderEvents {
	if loc == nil {
		loc = time.Local
	}
	return &OrderEvents{repo: repo, index: index, loc: loc, log: log, now: time.Now}
}

// OnOrderCommitted 每行一个事务；重复投递的行直接跳过。
func (o *OrderEvents) OnOrderCommitted(ctx context.Context, lines []CommittedLine) (ApplyResult, error) {
	var (
		res  ApplyResult
		errs []error
	)
	keys := make(map[model.IndexKey]struct{})
	for _, l := range lines {
		applied, underflow, key, err := o.commitLine(ctx, l)
		if err != nil {
			errs = append(errs, fmt.Errorf("line %s: %w", l.LineID, err))
			continue
		}
		if !applied {
			res.Duplicates++
			continue
		}
		res.Applied++
		if underflow {
			res.Underflows++
		}
		keys[model.IndexKey{ProductID: key.ProductID, Channel: model.ChannelPlain}] = struct{}{}
		if key.Channel.IsActivity() {
			keys[key] = struct{}{}
		}
	}

	if o.index != nil {
		o.index.recomputeKeys(ctx, keys)
	}
	return res, errors.Join(errs...)
}

func (o *OrderEvents) commitLine(ctx context.Context, l CommittedLine) (bool, bool, model.IndexKey, error) {
	var key model.IndexKey
	if l.LineID == "" || l.Quantity <= 0 || !l.Channel.Valid() {
		return false, false, key, fmt.Errorf("%w: line_id, quantity and channel required", ErrInvalidArgument)
	}
	if l.Channel.IsActivity() && l.ActivityID == 0 {
		return false, false, key, fmt.Errorf("%w: %s line without activity", ErrInvalidArgument, l.Channel)
	}

	at := l.CommittedAt
	if at.IsZero() {
		at = o.now()
	}
	var applied, underflow bool
	err := o.repo.WithTx(ctx, func(tx *repository.Repository) error {
		v, err := tx.Variants.Get(ctx, l.VariantID)
		if err != nil {
			return err
		}
		if v == nil {
			return fmt.Errorf("%w: variant %d", ErrNotFound, l.VariantID)
		}
		if l.ProductID != 0 && l.ProductID != v.ProductID {
			return fmt.Errorf("%w: variant %d does not belong to product %d", ErrInvalidArgument, l.VariantID, l.ProductID)
		}
		line := &model.OrderLine{
			LineID:      l.LineID,
			OrderID:     l.OrderID,
			UserID:      l.UserID,
			ProductID:   v.ProductID,
			VariantID:   l.VariantID,
			Channel:     l.Channel,
			TimeslotID:  l.TimeslotID,
			ActivityDay: model.ActivityDay(at.In(o.loc)),
			Quantity:    l.Quantity,
		}
		var av *model.ActivityVariant
		if l.Channel.IsActivity() {
			av, err = tx.Mirrors.GetByActivityVariant(ctx, l.ActivityID, l.VariantID)
			if err != nil {
				return err
			}
			if av == nil || av.Channel != l.Channel {
				return fmt.Errorf("%w: %s variant %d in activity %d", ErrNotFound, l.Channel, l.VariantID, l.ActivityID)
			}
			line.ActivityID = av.ActivityID
			line.ActivityVariantID = av.ID
		}

		ok, err := tx.Orders.Insert(ctx, line)
		if err != nil || !ok {
			return err
		}
		applied = true

		_, shortfall, productID, err := applyStockDelta(ctx, tx, l.VariantID, -l.Quantity)
		if err != nil {
			return err
		}
		key = model.IndexKey{ProductID: productID, Channel: model.ChannelPlain}
		if av != nil {
			if err := tx.Mirrors.AdjustSold(ctx, av.ID, l.Quantity); err != nil {
				return err
			}
			key = model.IndexKey{ProductID: productID, ActivityID: av.ActivityID, Channel: av.Channel}
		}
		if shortfall > 0 {
			underflow = true
			return appendEvents(ctx, tx, o.now(), []Event{reconciliationEvent(l.VariantID, -l.Quantity, shortfall, l.LineID)})
		}
		return nil
	})
	if err != nil {
		return false, false, key, err
	}
	if underflow {
		o.log.Warn("order commit drove stock below zero",
			zap.String("line_id", l.LineID),
			zap.Uint("variant_id", l.VariantID),
			zap.Int64("quantity", l.Quantity))
	}
	return applied, underflow, key, nil
}

// OnOrderRefunded 同一订单行只退款一次，重复事件为 no-op。
func (o *OrderEvents) OnOrderRefunded(ctx context.Context, refunds []RefundedLine) (ApplyResult, error) {
	var (
		res  ApplyResult
		errs []error
	)
	keys := make(map[model.IndexKey]struct{})
	for _, r := range refunds {
		applied, key, err := o.refundLine(ctx, r)
		if err != nil {
			errs = append(errs, fmt.Errorf("line %s: %w", r.LineID, err))
			continue
		}
		if !applied {
			res.Duplicates++
			continue
		}
		res.Applied++
		keys[model.IndexKey{ProductID: key.ProductID, Channel: model.ChannelPlain}] = struct{}{}
		if key.Channel.IsActivity() {
			keys[key] = struct{}{}
		}
	}

	if o.index != nil {
		o.index.recomputeKeys(ctx, keys)
	}
	return res, errors.Join(errs...)
}

func (o *OrderEvents) refundLine(ctx context.Context, r RefundedLine) (bool, model.IndexKey, error) {
	var (
		key     model.IndexKey
		applied bool
	)
	if r.LineID == "" || r.Quantity < 0 {
		return false, key, fmt.Errorf("%w: line_id required, quantity >= 0", ErrInvalidArgument)
	}
	err := o.repo.WithTx(ctx, func(tx *repository.Repository) error {
		line, err := tx.Orders.Get(ctx, r.LineID)
		if err != nil {
			return err
		}
		if line == nil {
			return fmt.Errorf("%w: order line %s", ErrNotFound, r.LineID)
		}

		qty, status := r.Quantity, model.RefundPartial
		if qty == 0 || qty >= line.Quantity {
			qty, status = line.Quantity, model.RefundFull
		}
		ok, err := tx.Orders.MarkRefunded(ctx, r.LineID, qty, status)
		if err != nil || !ok {
			return err
		}
		applied = true

		if _, _, _, err := applyStockDelta(ctx, tx, line.VariantID, qty); err != nil {
			return err
		}
		key = model.IndexKey{ProductID: line.ProductID, Channel: model.ChannelPlain}
		if line.ActivityVariantID != 0 {
			if err := tx.Mirrors.AdjustSold(ctx, line.ActivityVariantID, -qty); err != nil {
				return err
			}
			key = model.IndexKey{ProductID: line.ProductID, ActivityID: line.ActivityID, Channel: line.Channel}
		}
		return nil
	})
	return applied, key, err
}
