package service

import (
	"testing"
	"time"

	"salesync/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func members(uids ...int64) []model.GroupBuyParticipant {
	out := make([]model.GroupBuyParticipant, 0, len(uids))
	for i, uid := range uids {
		out = append(out, model.GroupBuyParticipant{
			ID:       uint(i + 1),
			GroupID:  1,
			UID:      uid,
			OrderID:  "order-" + string(rune('a'+i)),
			JoinSeq:  i + 1,
			IsLeader: i == 0,
		})
	}
	return out
}

func TestApplyJoin(t *testing.T) {
	g := model.GroupBuyInstance{ID: 1, TargetCount: 3, Status: model.GroupOpen}

	next, evs, err := applyJoin(g, members(1, 2))
	require.NoError(t, err)
	assert.Equal(t, 2, next.YetCount)
	assert.Equal(t, model.GroupOpen, next.Status)
	assert.Empty(t, evs)

	next, evs, err = applyJoin(g, members(1, 2, 3))
	require.NoError(t, err)
	assert.Equal(t, model.GroupSucceeded, next.Status)
	require.Len(t, evs, 1)
	assert.Equal(t, EventGroupBuySucceeded, evs[0].Kind)

	_, _, err = applyJoin(next, members(1, 2, 3, 4))
	assert.ErrorIs(t, err, ErrInvalidStateTransition)

	_, _, err = applyJoin(g, members(1, 2, 3, 4))
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestApplyLeave(t *testing.T) {
	g := model.GroupBuyInstance{ID: 1, TargetCount: 5, Status: model.GroupOpen, LeaderUID: 1, YetCount: 4}

	t.Run("leader leaves with three remaining", func(t *testing.T) {
		out, err := applyLeave(g, members(1, 2, 3, 4), 1)
		require.NoError(t, err)
		assert.False(t, out.ForceFail)
		assert.Equal(t, 3, out.Instance.YetCount)
		require.NotNil(t, out.NewLeader)
		assert.Equal(t, int64(2), out.NewLeader.UID)
		assert.Equal(t, int64(2), out.Instance.LeaderUID)
		require.Len(t, out.Refunds, 1)
		assert.Equal(t, int64(1), out.Refunds[0].UID)
	})

	t.Run("member leaves", func(t *testing.T) {
		out, err := applyLeave(g, members(1, 2, 3), 3)
		require.NoError(t, err)
		assert.Nil(t, out.NewLeader)
		assert.Equal(t, int64(1), out.Instance.LeaderUID)
		assert.Equal(t, 2, out.Instance.YetCount)
	})

	t.Run("fewer than two remain", func(t *testing.T) {
		out, err := applyLeave(g, members(1, 2), 2)
		require.NoError(t, err)
		assert.True(t, out.ForceFail)
		assert.Equal(t, model.GroupFailed, out.Instance.Status)
		assert.Len(t, out.Refunds, 2)

		var refunds int
		for _, e := range out.Events {
			if e.Kind == EventRefundRequested {
				refunds++
			}
		}
		assert.Equal(t, 2, refunds)
	})

	t.Run("terminal", func(t *testing.T) {
		done := g
		done.Status = model.GroupSucceeded
		_, err := applyLeave(done, members(1, 2, 3), 2)
		assert.ErrorIs(t, err, ErrInvalidStateTransition)
	})

	t.Run("not a member", func(t *testing.T) {
		_, err := applyLeave(g, members(1, 2, 3), 42)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestApplyExpiry(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	base := model.GroupBuyInstance{ID: 1, TargetCount: 5, Status: model.GroupOpen, EndTime: now.Add(-time.Second)}

	t.Run("not yet expired", func(t *testing.T) {
		g := base
		g.EndTime = now.Add(time.Minute)
		assert.False(t, applyExpiry(g, members(1, 2), now).Changed)
	})

	t.Run("terminal is a no-op", func(t *testing.T) {
		g := base
		g.Status = model.GroupFailed
		out := applyExpiry(g, members(1, 2), now)
		assert.False(t, out.Changed)
		assert.Empty(t, out.Events)
	})

	t.Run("virtual fill", func(t *testing.T) {
		g := base
		g.VirtualFillEnabled = true
		g.VirtualFillThreshold = 3
		out := applyExpiry(g, members(1, 2, 3, 4), now)
		assert.True(t, out.Changed)
		assert.Equal(t, 1, out.Virtual)
		assert.Equal(t, model.GroupSucceeded, out.Instance.Status)
		assert.Equal(t, 4, out.Instance.YetCount)
		assert.Equal(t, 1, out.Instance.VirtualFillCount)
		assert.Empty(t, out.Refunds)
	})

	t.Run("below threshold fails", func(t *testing.T) {
		g := base
		g.VirtualFillEnabled = true
		g.VirtualFillThreshold = 3
		out := applyExpiry(g, members(1, 2), now)
		assert.Equal(t, model.GroupFailed, out.Instance.Status)
		assert.Zero(t, out.Virtual)
		assert.Len(t, out.Refunds, 2)
	})

	t.Run("virtual fill disabled fails", func(t *testing.T) {
		out := applyExpiry(base, members(1, 2, 3, 4), now)
		assert.Equal(t, model.GroupFailed, out.Instance.Status)
		assert.Zero(t, out.Instance.VirtualFillCount)
	})
}
