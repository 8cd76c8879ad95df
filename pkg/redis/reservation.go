package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
)

var (
	// ErrTicketsExhausted 票据已被抢光。
	ErrTicketsExhausted = errors.New("tickets exhausted")
	// ErrDuplicateHold 同一 hold_id 在同一票据列表、同一装载周期内重复抢占。
	ErrDuplicateHold = errors.New("hold already exists")
	// ErrHoldConflict hold_id 已占用其他票据列表或上一装载周期的票据，不能复用。
	ErrHoldConflict = errors.New("hold bound to another ticket list")
)

// 装载标记的值是本次装载的代号，hold 记录「票据列表|代号」。
// 全量替换或 Close 后旧 hold 的代号对不上，归还时直接丢弃，列表不会超过最近一次装载的张数。

// luaPopulate 全量替换票据：DEL 后重新 RPUSH n 张，并设置自然过期。
// KEYS[1]=票据列表，KEYS[2]=装载标记，ARGV[1]=n，ARGV[2]=ttl 秒，ARGV[3]=1 表示标记已存在时跳过，ARGV[4]=代号
// 返回装载张数；-1 表示已装载过
const luaPopulate = `
local key = KEYS[1]
local marker = KEYS[2]
local n = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])
if ARGV[3] == '1' and redis.call('EXISTS', marker) == 1 then
  return -1
end
redis.call('DEL', key)
redis.call('SET', marker, ARGV[4], 'EX', ttl)
local batch = {}
for i = 1, n do
  batch[#batch + 1] = '1'
  if #batch == 500 then
    redis.call('RPUSH', key, unpack(batch))
    batch = {}
  end
end
if #batch > 0 then
  redis.call('RPUSH', key, unpack(batch))
end
if n > 0 then
  redis.call('EXPIRE', key, ttl)
end
return n
`

// luaReserve 单次往返内完成「判空 → 弹出 → 记录 hold」，不存在先查后弹的竞态。
// KEYS[1]=票据列表，KEYS[2]=hold key，KEYS[3]=装载标记，ARGV[1]=hold ttl 秒
// 返回剩余票数；-1 票据不足；-2 同一列表同一周期的重复 hold；-3 hold 属于其他列表或旧周期
const luaReserve = `
local key = KEYS[1]
local hold = KEYS[2]
local gen = redis.call('GET', KEYS[3])
local cur = redis.call('GET', hold)
if cur then
  if gen and cur == key .. '|' .. gen then
    return -2
  end
  return -3
end
if not gen then
  return -1
end
local v = redis.call('LPOP', key)
if not v then
  return -1
end
redis.call('SET', hold, key .. '|' .. gen, 'EX', tonumber(ARGV[1]))
return redis.call('LLEN', key)
`

// luaRelease 仅当 hold 属于本列表且是当前装载周期时归还一张，保证同一 hold 只归还一次。
// 旧周期的 hold 只删除不归还；标记不存在（已 Close 或过期）时同样不归还。
// 票据抢空后列表已不存在，RPUSH 重建时沿用装载标记的剩余过期时间。
// KEYS[1]=票据列表，KEYS[2]=hold key，KEYS[3]=装载标记
const luaRelease = `
local key = KEYS[1]
local hold = KEYS[2]
local marker = KEYS[3]
local cur = redis.call('GET', hold)
if not cur then
  return 0
end
local prefix = key .. '|'
if string.sub(cur, 1, #prefix) ~= prefix then
  return 0
end
redis.call('DEL', hold)
local gen = redis.call('GET', marker)
if not gen or cur ~= prefix .. gen then
  return 0
end
redis.call('RPUSH', key, '1')
if redis.call('TTL', key) == -1 then
  local ttl = redis.call('TTL', marker)
  if ttl > 0 then
    redis.call('EXPIRE', key, ttl)
  end
end
return 1
`

// TicketCounter 用 Redis 列表实现的准入计数器，每个操作都是一次 EVAL。
type TicketCounter struct {
	rdb     *rd.Client
	holdTTL time.Duration
}

// NewTicketCounter holdTTL 是单个占位的最长保留时间，应覆盖下单到支付的窗口。
func NewTicketCounter(rdb *rd.Client, holdTTL time.Duration) *TicketCounter {
	if holdTTL <= 0 {
		holdTTL = 24 * time.Hour
	}
	return &TicketCounter{rdb: rdb, holdTTL: holdTTL}
}

// Populate 用 n 张票据替换 key 上已有的票据。
func (c *TicketCounter) Populate(ctx context.Context, key string, n int64, ttl time.Duration) error {
	_, err := c.populate(ctx, key, n, ttl, false)
	return err
}

// PopulateOnce 仅在本周期还没装载过时装载；返回是否真正执行了装载。
// 同一场次多次触发（多实例、重启）不会把已售出的票据补回去。
func (c *TicketCounter) PopulateOnce(ctx context.Context, key string, n int64, ttl time.Duration) (bool, error) {
	return c.populate(ctx, key, n, ttl, true)
}

func (c *TicketCounter) populate(ctx context.Context, key string, n int64, ttl time.Duration, once bool) (bool, error) {
	if n < 0 {
		n = 0
	}
	ttlSec := int64(ttl / time.Second)
	if ttlSec <= 0 {
		ttlSec = int64((24 * time.Hour) / time.Second)
	}
	flag := "0"
	if once {
		flag = "1"
	}
	res, err := c.rdb.Eval(ctx, luaPopulate, []string{key, PopulatedKey(key)}, n, ttlSec, flag, uuid.NewString()).Int64()
	if err != nil {
		return false, err
	}
	return res >= 0, nil
}

// Reserve 原子地拿走一张票据，返回剩余票数。
func (c *TicketCounter) Reserve(ctx context.Context, key, holdID string) (int64, error) {
	holdTTL := int64(c.holdTTL / time.Second)
	res, err := c.rdb.Eval(ctx, luaReserve, []string{key, HoldKey(holdID), PopulatedKey(key)}, holdTTL).Int64()
	if err != nil {
		return 0, err
	}
	switch res {
	case -1:
		return 0, ErrTicketsExhausted
	case -2:
		return 0, ErrDuplicateHold
	case -3:
		return 0, ErrHoldConflict
	}
	return res, nil
}

// Release 归还 holdID 占用的票据；重复释放或未占用时返回 false。
func (c *TicketCounter) Release(ctx context.Context, key, holdID string) (bool, error) {
	n, err := c.rdb.Eval(ctx, luaRelease, []string{key, HoldKey(holdID), PopulatedKey(key)}).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Count 当前票数，仅用于展示，不能作为抢购前的判断条件。
func (c *TicketCounter) Count(ctx context.Context, key string) (int64, error) {
	return c.rdb.LLen(ctx, key).Result()
}

// Close 活动结束时清空票据和装载标记，之后的 Reserve 一律返回售罄。
func (c *TicketCounter) Close(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key, PopulatedKey(key)).Err()
}
