package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"salesync/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedGroupActivity(t *testing.T, env *testEnv, target int, mutate func(a *model.Activity)) *model.Activity {
	t.Helper()
	fx := env.seedProduct(t, 100)
	return env.seedActivity(t, fx.product.ID, model.ChannelGroup, func(a *model.Activity) {
		a.TargetCount = target
		a.GroupDuration = time.Hour
		if mutate != nil {
			mutate(a)
		}
	})
}

func join(t *testing.T, env *testEnv, activityID, groupID uint, uid int64) *GroupView {
	t.Helper()
	g, err := env.engine.Groups.Join(context.Background(), JoinRequest{
		ActivityID: activityID,
		GroupID:    groupID,
		UserID:     uid,
		OrderID:    fmt.Sprintf("order-%d", uid),
	})
	require.NoError(t, err)
	return g
}

func activeUIDs(ps []model.GroupBuyParticipant) []int64 {
	var out []int64
	for _, p := range activeMembers(ps) {
		out = append(out, p.UID)
	}
	return out
}

func TestGroupBuy_JoinCreatesAndAttaches(t *testing.T) {
	env := newTestEnv(t)
	a := seedGroupActivity(t, env, 3, nil)

	g := join(t, env, a.ID, 0, 1)
	assert.Equal(t, int64(1), g.LeaderUID)
	assert.Equal(t, 1, g.YetCount)
	assert.Equal(t, model.GroupOpen, g.Status)
	assert.True(t, env.clock.Now().Add(time.Hour).Equal(g.EndTime), "end time %s", g.EndTime)
	require.Len(t, g.Participants, 1)
	assert.True(t, g.Participants[0].IsLeader)

	g2 := join(t, env, a.ID, g.ID, 2)
	assert.Equal(t, g.ID, g2.ID)
	assert.Equal(t, 2, g2.YetCount)

	g3 := join(t, env, a.ID, g.ID, 3)
	assert.Equal(t, model.GroupSucceeded, g3.Status)
	assert.Equal(t, 3, g3.YetCount)
	assert.Equal(t, []int{1, 2, 3}, []int{g3.Participants[0].JoinSeq, g3.Participants[1].JoinSeq, g3.Participants[2].JoinSeq})
	assert.Len(t, env.outbox(t, EventGroupBuySucceeded), 1)

	// 已成团：再加入会开新团
	g4 := join(t, env, a.ID, g.ID, 4)
	assert.NotEqual(t, g.ID, g4.ID)
	assert.Equal(t, int64(4), g4.LeaderUID)

	open, err := env.engine.Groups.ListOpen(context.Background(), a.ID)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, g4.ID, open[0].ID)
}

func TestGroupBuy_JoinTwiceRejected(t *testing.T) {
	env := newTestEnv(t)
	a := seedGroupActivity(t, env, 5, nil)
	g := join(t, env, a.ID, 0, 1)
	join(t, env, a.ID, g.ID, 2)

	_, err := env.engine.Groups.Join(context.Background(), JoinRequest{ActivityID: a.ID, GroupID: g.ID, UserID: 2, OrderID: "again"})
	assert.ErrorIs(t, err, ErrInvalidStateTransition)

	view, err := env.engine.Groups.Get(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, view.YetCount)
}

func TestGroupBuy_JoinClosedActivity(t *testing.T) {
	env := newTestEnv(t)
	a := seedGroupActivity(t, env, 5, func(a *model.Activity) { a.Approved = false })
	_, err := env.engine.Groups.Join(context.Background(), JoinRequest{ActivityID: a.ID, UserID: 1, OrderID: "o"})
	assert.ErrorIs(t, err, ErrActivityClosed)

	_, err = env.engine.Groups.Join(context.Background(), JoinRequest{ActivityID: 9999, UserID: 1, OrderID: "o"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGroupBuy_JoinExpiredGroupOpensNew(t *testing.T) {
	env := newTestEnv(t)
	a := seedGroupActivity(t, env, 5, nil)
	g := join(t, env, a.ID, 0, 1)

	env.clock.Advance(2 * time.Hour)
	g2 := join(t, env, a.ID, g.ID, 2)
	assert.NotEqual(t, g.ID, g2.ID)
	assert.Equal(t, int64(2), g2.LeaderUID)
}

func TestGroupBuy_SweepVirtualFill(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := seedGroupActivity(t, env, 5, func(a *model.Activity) {
		a.VirtualFillEnabled = true
		a.VirtualFillThreshold = 3
	})
	g := join(t, env, a.ID, 0, 1)
	for uid := int64(2); uid <= 4; uid++ {
		join(t, env, a.ID, g.ID, uid)
	}

	env.clock.Advance(61 * time.Minute)
	rep, err := env.engine.Groups.SweepExpired(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.VirtualFilled)

	view, err := env.engine.Groups.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, model.GroupSucceeded, view.Status)
	assert.Equal(t, 4, view.YetCount)
	assert.Equal(t, 1, view.VirtualFillCount)

	var virtual []model.GroupBuyParticipant
	for _, p := range view.Participants {
		if p.IsVirtual {
			virtual = append(virtual, p)
		}
	}
	require.Len(t, virtual, 1)
	assert.Equal(t, int64(0), virtual[0].UID)
	assert.Equal(t, 5, virtual[0].JoinSeq)
	assert.Empty(t, env.outbox(t, EventRefundRequested))

	// 再扫一次不产生任何变化
	rep, err = env.engine.Groups.SweepExpired(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, rep.Scanned)
	assert.Len(t, env.outbox(t, EventGroupBuySucceeded), 1)
}

func TestGroupBuy_SweepFailsAndRefundsOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := seedGroupActivity(t, env, 3, func(a *model.Activity) { a.LeaderCommission = 10 })
	g := join(t, env, a.ID, 0, 1)
	join(t, env, a.ID, g.ID, 2)

	// 未到期不处理
	rep, err := env.engine.Groups.SweepExpired(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, rep.Scanned)

	env.clock.Advance(2 * time.Hour)
	rep, err = env.engine.Groups.SweepExpired(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)

	view, err := env.engine.Groups.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, model.GroupFailed, view.Status)
	assert.Len(t, env.outbox(t, EventRefundRequested), 2)
	assert.Len(t, env.outbox(t, EventGroupBuyFailed), 1)
	assert.Len(t, env.outbox(t, EventCommissionRevoked), 1)

	_, err = env.engine.Groups.SweepExpired(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, env.outbox(t, EventRefundRequested), 2)

	// 终态后不允许再变更人数
	_, err = env.engine.Groups.Cancel(ctx, g.ID, 2)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	view, err = env.engine.Groups.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, view.YetCount)
}

func TestGroupBuy_LeaderCancelTransfersAndRevokes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := seedGroupActivity(t, env, 10, func(a *model.Activity) { a.LeaderCommission = 50 })
	g := join(t, env, a.ID, 0, 1)
	for uid := int64(2); uid <= 4; uid++ {
		join(t, env, a.ID, g.ID, uid)
	}
	credits, err := env.engine.Groups.Credits(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, credits, 3)

	view, err := env.engine.Groups.Cancel(ctx, g.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, model.GroupOpen, view.Status)
	assert.Equal(t, int64(2), view.LeaderUID)
	assert.Equal(t, 3, view.YetCount)
	assert.Equal(t, []int64{2, 3, 4}, activeUIDs(view.Participants))
	for _, p := range view.Participants {
		assert.Equal(t, p.UID == 2, p.IsLeader, "uid %d", p.UID)
	}

	credits, err = env.engine.Groups.Credits(ctx, g.ID)
	require.NoError(t, err)
	for _, c := range credits {
		assert.True(t, c.Revoked)
		assert.NotNil(t, c.RevokedAt)
	}
	evs := env.outbox(t, EventCommissionRevoked)
	require.Len(t, evs, 1)
	p := decodePayload[CommissionRevokedPayload](t, evs[0])
	assert.Equal(t, int64(1), p.Beneficiary)
	assert.Equal(t, int64(150), p.Amount)

	refunds := env.outbox(t, EventRefundRequested)
	require.Len(t, refunds, 1)
	assert.Equal(t, "order-1", decodePayload[RefundRequestPayload](t, refunds[0]).OrderID)

	// 新成员的佣金记到新团长名下
	join(t, env, a.ID, g.ID, 5)
	credits, err = env.engine.Groups.Credits(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), credits[len(credits)-1].BeneficiaryUID)
}

func TestGroupBuy_CancelForceFailsBelowTwo(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := seedGroupActivity(t, env, 5, nil)
	g := join(t, env, a.ID, 0, 1)
	join(t, env, a.ID, g.ID, 2)

	view, err := env.engine.Groups.Cancel(ctx, g.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, model.GroupFailed, view.Status)
	assert.True(t, view.DeletedAt.Valid)
	assert.Len(t, env.outbox(t, EventRefundRequested), 2)

	open, err := env.engine.Groups.ListOpen(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, open)

	_, err = env.engine.Groups.Cancel(ctx, g.ID, 1)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestGroupBuy_ConcurrentJoinsNeverExceedTarget(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := seedGroupActivity(t, env, 3, nil)
	g := join(t, env, a.ID, 0, 1)

	var wg sync.WaitGroup
	for uid := int64(2); uid <= 9; uid++ {
		wg.Add(1)
		go func(uid int64) {
			defer wg.Done()
			_, err := env.engine.Groups.Join(ctx, JoinRequest{ActivityID: a.ID, GroupID: g.ID, UserID: uid, OrderID: fmt.Sprintf("o-%d", uid)})
			assert.NoError(t, err)
		}(uid)
	}
	wg.Wait()

	view, err := env.engine.Groups.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, model.GroupSucceeded, view.Status)
	assert.Equal(t, 3, view.YetCount)

	var groups []model.GroupBuyInstance
	require.NoError(t, env.repo.DB.Unscoped().Where("activity_id = ?", a.ID).Find(&groups).Error)
	total := 0
	for _, gi := range groups {
		assert.LessOrEqual(t, gi.YetCount, gi.TargetCount)
		total += gi.YetCount
	}
	assert.Equal(t, 9, total)
}
