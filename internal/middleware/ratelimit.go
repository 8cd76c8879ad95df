package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	rediskey "salesync/pkg/redis"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// luaRateLimit：Redis 滑动窗口限流 Lua 脚本（原子操作）
// KEYS[1]=限流key，ARGV[1]=当前毫秒时间戳，ARGV[2]=窗口开始时间戳，ARGV[3]=窗口毫秒数，ARGV[4]=成员，ARGV[5]=上限
// 返回：当前窗口内的请求数，超限返回 -1
const luaRateLimit = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local windowStart = tonumber(ARGV[2])
local windowMs = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '0', windowStart)

local count = redis.call('ZCARD', key)
if count < tonumber(ARGV[5]) then
  redis.call('ZADD', key, now, member)
  redis.call('PEXPIRE', key, windowMs)
  return count + 1
else
  return -1
end
`

// RedisRateLimit Redis 分布式限流，按 user_id（body 或 X-User-ID 头）计数，取不到时按 IP。
// scope 区分不同接口的配额。
func RedisRateLimit(rdb *rd.Client, scope string, limit int, window time.Duration, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		var id string
		if userID := requestUserID(c); userID > 0 {
			id = fmt.Sprintf("user:%d", userID)
		} else {
			id = "ip:" + c.ClientIP()
		}
		key := rediskey.RateLimitKey(scope, id)

		now := time.Now()
		nowMs := now.UnixMilli()
		windowMs := window.Milliseconds()
		member := fmt.Sprintf("%d-%d", nowMs, now.UnixNano())

		res, err := rdb.Eval(c.Request.Context(), luaRateLimit, []string{key},
			nowMs, nowMs-windowMs, windowMs, member, limit).Int()
		if err != nil {
			// Redis 出错时放行
			log.Warn("rate limit eval failed", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}

		if res < 0 {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code": 429,
				"msg":  "请求过于频繁，请稍后再试",
			})
			return
		}
		c.Next()
	}
}

func requestUserID(c *gin.Context) int64 {
	if h := c.GetHeader("X-User-ID"); h != "" {
		if id, err := strconv.ParseInt(h, 10, 64); err == nil {
			return id
		}
	}
	if c.Request.Body == nil || c.Request.Method == http.MethodGet {
		return 0
	}
	id, err := extractUserID(c)
	if err != nil {
		return 0
	}
	return id
}

// extractUserID 从请求 body 中解析 user_id（不消耗 body，可重复读）
func extractUserID(c *gin.Context) (int64, error) {
	bodyBytes, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return 0, err
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

	var req struct {
		UserID int64 `json:"user_id"`
	}
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		return 0, err
	}
	return req.UserID, nil
}
