package service

import (
	"context"
	"testing"

	"salesync/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEffectiveRemainingBounds(t *testing.T) {
	cases := []struct {
		name                string
		capped, stock, sold int64
		want                int64
	}{
		{"cap below stock", 10, 30, 0, 10},
		{"stock below cap", 50, 30, 0, 30},
		{"sold reduces", 10, 30, 4, 6},
		{"oversold floors at zero", 10, 30, 12, 0},
		{"stock drained", 10, 0, 0, 0},
		{"negative stock", 10, -3, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := EffectiveRemaining(tc.capped, tc.stock, tc.sold)
			assert.Equal(t, tc.want, got)
			assert.GreaterOrEqual(t, got, int64(0))
			assert.LessOrEqual(t, got, max(tc.stock, 0))
		})
	}
}

func TestCreateMirror_CapExceedsStock(t *testing.T) {
	env := newTestEnv(t)
	fx := env.seedProduct(t, 30)
	a := env.seedActivity(t, fx.product.ID, model.ChannelFlash, nil)

	_, err := env.engine.Mirrors.CreateMirror(context.Background(), fx.variants[0].ID, a.ID, 50, 800)
	assert.ErrorIs(t, err, ErrCapExceedsStock)

	list, err := env.repo.Mirrors.ListByActivity(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCreateMirror_UpsertAndIndex(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	fx := env.seedProduct(t, 30)
	v := fx.variants[0]
	a := env.seedActivity(t, fx.product.ID, model.ChannelPresale, nil)

	av, err := env.engine.Mirrors.CreateMirror(ctx, v.ID, a.ID, 20, 800)
	require.NoError(t, err)
	assert.Equal(t, model.ChannelPresale, av.Channel)
	assert.Equal(t, model.VariantUnique(v.ProductID, v.OptionSignature, model.ChannelPresale), av.Unique)
	assert.NotEqual(t, v.Unique, av.Unique)

	again, err := env.engine.Mirrors.CreateMirror(ctx, v.ID, a.ID, 25, 700)
	require.NoError(t, err)
	assert.Equal(t, av.ID, again.ID)
	assert.Equal(t, int64(25), again.CappedStock)

	row, err := env.repo.Index.Get(ctx, model.IndexKey{ProductID: fx.product.ID, ActivityID: a.ID, Channel: model.ChannelPresale})
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, 1, row.Status)
	assert.Equal(t, int64(700), row.Price)
}

func TestCreateMirror_RejectsForeignVariant(t *testing.T) {
	env := newTestEnv(t)
	fx := env.seedProduct(t, 30)
	other := env.seedProduct(t, 30)
	a := env.seedActivity(t, fx.product.ID, model.ChannelGroup, nil)

	_, err := env.engine.Mirrors.CreateMirror(context.Background(), other.variants[0].ID, a.ID, 5, 100)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestEffectiveRemaining_FollowsCanonicalStockAndSales(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	fx := env.seedProduct(t, 30)
	v := fx.variants[0]
	a := env.seedActivity(t, fx.product.ID, model.ChannelFlash, nil)
	av, err := env.engine.Mirrors.CreateMirror(ctx, v.ID, a.ID, 20, 800)
	require.NoError(t, err)
	day := model.ActivityDay(env.clock.Now())

	n, err := env.engine.Mirrors.EffectiveRemaining(ctx, av.ID, day)
	require.NoError(t, err)
	assert.Equal(t, int64(20), n)

	// 普通渠道卖掉 25 件，规范库存降到 5
	_, err = env.engine.Variants.ApplyStockDelta(ctx, v.ID, -25)
	require.NoError(t, err)
	n, err = env.engine.Mirrors.EffectiveRemaining(ctx, av.ID, day)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	_, err = env.engine.Orders.OnOrderCommitted(ctx, []CommittedLine{{
		LineID: "L1", OrderID: "O1", UserID: 1, VariantID: v.ID,
		ActivityID: a.ID, Channel: model.ChannelFlash, Quantity: 2,
	}})
	require.NoError(t, err)

	// stock=3, sold=2 → min(20,3)-2
	n, err = env.engine.Mirrors.EffectiveRemaining(ctx, av.ID, day)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.LessOrEqual(t, n, env.variant(t, v.ID).Stock)

	_, err = env.engine.Mirrors.EffectiveRemaining(ctx, 9999, day)
	assert.ErrorIs(t, err, ErrNotFound)
}
