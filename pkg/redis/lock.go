package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
)

// ErrLockTimeout 在 ctx 结束前没能拿到锁。
var ErrLockTimeout = errors.New("lock acquire timeout")

// luaUnlockIfMatch 仅当锁值匹配 token 时才删除，避免误删别人重新拿到的锁。
const luaUnlockIfMatch = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`

// Locker 基于 SET NX PX 的命名互斥锁。
type Locker struct {
	rdb   *rd.Client
	retry time.Duration
}

func NewLocker(rdb *rd.Client) *Locker {
	return &Locker{rdb: rdb, retry: 20 * time.Millisecond}
}

// Acquire 阻塞直到拿到锁或 ctx 结束；返回的 unlock 可安全重复调用。
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	for {
		ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				// 解锁不跟随调用方 ctx，避免请求取消后锁残留到 TTL。
				_ = l.rdb.Eval(context.Background(), luaUnlockIfMatch, []string{key}, token).Err()
			}, nil
		}

		t := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ErrLockTimeout
		case <-t.C:
		}
	}
}
