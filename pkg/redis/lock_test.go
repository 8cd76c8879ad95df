package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocker_ExclusiveUntilUnlock(t *testing.T) {
	_, rdb := newTestClient(t)
	l := NewLocker(rdb)
	key := GroupLockKey(42)

	unlock, err := l.Acquire(context.Background(), key, 5*time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, key, 5*time.Second)
	assert.ErrorIs(t, err, ErrLockTimeout)

	unlock()
	unlock2, err := l.Acquire(context.Background(), key, 5*time.Second)
	require.NoError(t, err)
	unlock2()
}

func TestLocker_StaleUnlockKeepsNewOwner(t *testing.T) {
	mr, rdb := newTestClient(t)
	l := NewLocker(rdb)
	key := GroupLockKey(7)

	unlockOld, err := l.Acquire(context.Background(), key, time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	unlockNew, err := l.Acquire(context.Background(), key, 10*time.Second)
	require.NoError(t, err)

	unlockOld()
	assert.True(t, mr.Exists(key))
	unlockNew()
	assert.False(t, mr.Exists(key))
}
