package middleware

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/segmentio/ksuid"
)

// UploadLimiter is a sliding window per identity kept in a redis sorted
// set. A nil client disables it.
type UploadLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	prefix string
}

func NewUploadLimiter(rdb *redis.Client, limit int, window time.Duration) *UploadLimiter {
	return &UploadLimiter{rdb: rdb, limit: limit, window: window, prefix: "concord:uploads:"}
}

// Allow records one upload for key and reports whether it fits the window.
// Rejected attempts are not recorded.
func (l *UploadLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if l == nil || l.rdb == nil || l.limit <= 0 {
		return true, nil
	}
	now := time.Now()
	redisKey := l.prefix + key
	member := ksuid.New().String()
	cutoff := strconv.FormatInt(now.Add(-l.window).UnixMicro(), 10)

	var count *redis.IntCmd
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, redisKey, "-inf", "("+cutoff)
		pipe.ZAdd(ctx, redisKey, &redis.Z{Score: float64(now.UnixMicro()), Member: member})
		count = pipe.ZCard(ctx, redisKey)
		pipe.Expire(ctx, redisKey, l.window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("upload limiter: %w", err)
	}
	if count.Val() > int64(l.limit) {
		l.rdb.ZRem(ctx, redisKey, member)
		return false, nil
	}
	return true, nil
}

// Middleware applies the limiter to the identity set by SessionAuth. Redis
// failures let the request through.
func (l *UploadLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, err := l.Allow(c.Request.Context(), PublicKey(c))
		if err != nil {
			log.Printf("[http] %v", err)
			ok = true
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many uploads, slow down"})
			return
		}
		c.Next()
	}
}
