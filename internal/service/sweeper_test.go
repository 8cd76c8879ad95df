package service

import (
	"context"
	"testing"
	"time"

	"salesync/internal/model"
	"salesync/pkg/redis"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeper_PopulateDueOnlyOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ff := seedFlash(t, env, 10, 6)

	require.NoError(t, env.engine.Sweeper.PopulateDue(ctx))
	key := redis.TicketKey(ff.activity.ID, "20261017", ff.fx.product.ID, ff.slot.ID, ff.mirror.Unique)
	n, err := env.rdb.LLen(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)

	_, err = env.engine.Flash.Reserve(ctx, ReserveRequest{SlotRequest: ff.slotRequest(), UserID: 1})
	require.NoError(t, err)

	// 下一轮不会把已抢走的票据补回来
	require.NoError(t, env.engine.Sweeper.PopulateDue(ctx))
	n, _ = env.rdb.LLen(ctx, key).Result()
	assert.Equal(t, int64(5), n)
}

func TestSweeper_PopulateSkipsSlotNotRunning(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ff := seedFlash(t, env, 10, 6)

	env.clock.Advance(3 * time.Hour) // 13:00，场次已结束
	require.NoError(t, env.engine.Sweeper.PopulateDue(ctx))
	key := redis.TicketKey(ff.activity.ID, "20261017", ff.fx.product.ID, ff.slot.ID, ff.mirror.Unique)
	assert.False(t, env.mr.Exists(key))
}

func TestSweeper_WindowEdgesRecomputeAndClose(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ff := seedFlash(t, env, 10, 6)
	fx := env.seedProduct(t, 10)
	presale := env.seedActivity(t, fx.product.ID, model.ChannelPresale, func(a *model.Activity) {
		a.EndTime = a.StartTime.Add(90 * time.Minute) // 10:30 结束
	})
	key := model.IndexKey{ProductID: fx.product.ID, ActivityID: presale.ID, Channel: model.ChannelPresale}
	_, err := env.engine.Index.Recompute(ctx, key)
	require.NoError(t, err)

	require.NoError(t, env.engine.Sweeper.PopulateDue(ctx))
	require.NoError(t, env.repo.Activities.UpdateFields(ctx, ff.activity.ID, map[string]any{
		"end_time": env.clock.Now().Add(20 * time.Minute),
	}))
	require.NoError(t, env.engine.Sweeper.WindowEdges(ctx))

	env.clock.Advance(40 * time.Minute)
	require.NoError(t, env.engine.Sweeper.WindowEdges(ctx))

	row, err := env.repo.Index.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 0, row.Status)
	assert.Equal(t, string(ReasonActivityEnded), row.Reason)

	ticketKey := redis.TicketKey(ff.activity.ID, "20261017", ff.fx.product.ID, ff.slot.ID, ff.mirror.Unique)
	assert.False(t, env.mr.Exists(ticketKey))
	assert.False(t, env.mr.Exists(redis.PopulatedKey(ticketKey)))
}

func TestSweeper_RunOnceResolvesGroups(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := seedGroupActivity(t, env, 2, nil)
	g := join(t, env, a.ID, 0, 1)

	env.clock.Advance(2 * time.Hour)
	require.NoError(t, env.engine.Sweeper.RunOnce(ctx))

	view, err := env.engine.Groups.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, model.GroupFailed, view.Status)
}
