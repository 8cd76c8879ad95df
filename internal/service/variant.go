package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"salesync/internal/metrics"
	"salesync/internal/model"
	"salesync/internal/repository"

	"go.uber.org/zap"
)

// VariantInput 保存商品时提交的一个规格。
type VariantInput struct {
	OptionSignature   string `json:"option_signature" binding:"required"`
	Stock             int64  `json:"stock" binding:"min=0"`
	Price             int64  `json:"price" binding:"min=0"`
	Cost              int64  `json:"cost"`
	IsDefaultSelected bool   `json:"is_default_selected"`
	IsVisible         bool   `json:"is_visible"`
}

// VariantStore 规范 SKU 的唯一写入口。
type VariantStore struct {
	repo  *repository.Repository
	index *IndexSync
	log   *zap.Logger
	now   func() time.Time
}

func NewVariantStore(repo *repository.Repository, index *IndexSync, log *zap.Logger) *VariantStore {
	return &VariantStore{repo: repo, index: index, log: log, now: time.Now}
}

// SaveProductVariants 按 unique upsert 商品的全部规格。已有规格的库存不在这里修改，走 ApplyStockDelta。
func (s *VariantStore) SaveProductVariants(ctx context.Context, productID uint, inputs []VariantInput) ([]model.Variant, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: no variants", ErrInvalidArgument)
	}
	for _, in := range inputs {
		if in.Stock < 0 || in.Price < 0 || in.Cost < 0 {
			return nil, fmt.Errorf("%w: negative stock/price/cost", ErrInvalidArgument)
		}
	}

	var out []model.Variant
	err := s.repo.WithTx(ctx, func(tx *repository.Repository) error {
		p, err := tx.Catalog.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("%w: product %d", ErrNotFound, productID)
		}
		for _, in := range inputs {
			v := &model.Variant{
				ProductID:         productID,
				Unique:            model.VariantUnique(productID, in.OptionSignature, model.ChannelPlain),
				OptionSignature:   in.OptionSignature,
				Stock:             in.Stock,
				Price:             in.Price,
				Cost:              in.Cost,
				IsDefaultSelected: in.IsDefaultSelected,
				IsVisible:         in.IsVisible,
			}
			if err := tx.Variants.Upsert(ctx, v); err != nil {
				return err
			}
		}
		out, err = tx.Variants.ListByProduct(ctx, productID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.recompute(ctx, productID)
	return out, nil
}

// ApplyStockDelta 对单行库存做原子增减，返回新库存。
// 结果会变负时截断为 0 并写入人工对账事件，同时返回 ErrStockUnderflow。
func (s *VariantStore) ApplyStockDelta(ctx context.Context, variantID uint, delta int64) (int64, error) {
	var (
		stock     int64
		shortfall int64
		productID uint
	)
	err := s.repo.WithTx(ctx, func(tx *repository.Repository) error {
		var err error
		stock, shortfall, productID, err = applyStockDelta(ctx, tx, variantID, delta)
		if err != nil {
			return err
		}
		if shortfall > 0 {
			return appendEvents(ctx, tx, s.now(), []Event{reconciliationEvent(variantID, delta, shortfall, "")})
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.recompute(ctx, productID)
	if shortfall > 0 {
		s.log.Warn("variant stock clamped at zero",
			zap.Uint("variant_id", variantID),
			zap.Int64("delta", delta),
			zap.Int64("shortfall", shortfall))
		return stock, fmt.Errorf("%w: variant %d short by %d", ErrStockUnderflow, variantID, shortfall)
	}
	return stock, nil
}

// Get 查询单个 SKU。
func (s *VariantStore) Get(ctx context.Context, variantID uint) (*model.Variant, error) {
	v, err := s.repo.Variants.Get(ctx, variantID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("%w: variant %d", ErrNotFound, variantID)
	}
	return v, nil
}

// SelectRepresentativePrice 见 SelectRepresentativePrice。
func (s *VariantStore) SelectRepresentativePrice(variants []model.Variant) (model.Variant, error) {
	return SelectRepresentativePrice(variants)
}

func (s *VariantStore) recompute(ctx context.Context, productID uint) {
	if s.index == nil || productID == 0 {
		return
	}
	if err := s.index.RecomputeProduct(ctx, productID); err != nil {
		s.log.Error("recompute index after variant change", zap.Uint("product_id", productID), zap.Error(err))
	}
}

// applyStockDelta 必须在事务内调用。shortfall > 0 表示已截断为 0。
func applyStockDelta(ctx context.Context, tx *repository.Repository, variantID uint, delta int64) (stock, shortfall int64, productID uint, err error) {
	ok, err := tx.Variants.AdjustStock(ctx, variantID, delta)
	if err != nil {
		return 0, 0, 0, err
	}
	v, err := tx.Variants.Get(ctx, variantID)
	if err != nil {
		return 0, 0, 0, err
	}
	if v == nil {
		return 0, 0, 0, fmt.Errorf("%w: variant %d", ErrNotFound, variantID)
	}
	if ok {
		return v.Stock, 0, v.ProductID, nil
	}

	shortfall = -(v.Stock + delta)
	if err := tx.Variants.SetStock(ctx, variantID, 0); err != nil {
		return 0, 0, 0, err
	}
	metrics.StockUnderflow.Inc()
	return 0, shortfall, v.ProductID, nil
}

func reconciliationEvent(variantID uint, delta, shortfall int64, lineID string) Event {
	return Event{
		Kind:        EventReconciliation,
		AggregateID: "variant:" + strconv.FormatUint(uint64(variantID), 10),
		Payload: ReconciliationPayload{
			VariantID: variantID,
			Delta:     delta,
			Shortfall: shortfall,
			LineID:    lineID,
		},
	}
}

// SelectRepresentativePrice 选出代表价：优先默认选中的规格，
// 否则取价格最低者，价格相同时按输入顺序（稳定排序）。
func SelectRepresentativePrice(variants []model.Variant) (model.Variant, error) {
	if len(variants) == 0 {
		return model.Variant{}, fmt.Errorf("%w: no variants", ErrNotFound)
	}
	for _, v := range variants {
		if v.IsDefaultSelected {
			return v, nil
		}
	}
	sorted := make([]model.Variant, len(variants))
	copy(sorted, variants)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Price < sorted[j].Price })
	return sorted[0], nil
}
