package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mx-space/distill/internal/pkg/apperr"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const rateLimitWindow = time.Second

var rateLimitNow = time.Now

// RateLimit caps requests per client IP per second. It guards the HTTP
// surface only; extraction quotas are charged per user by the pipeline.
// A Redis failure lets the request through.
func RateLimit(rdb *redis.Client, perSecond int, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if perSecond <= 0 || ip == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		window := rateLimitNow().Unix()
		key := fmt.Sprintf("distill:ratelimit:%s:%d", ip, window)

		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			log.Warn("rate limit check failed", zap.Error(err))
			c.Next()
			return
		}
		if count == 1 {
			rdb.PExpire(ctx, key, rateLimitWindow+time.Second)
		}

		if count > int64(perSecond) {
			c.Header("Retry-After", "1")
			c.Header("X-RateLimit-Limit", strconv.Itoa(perSecond))
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("X-RateLimit-Reset", strconv.FormatInt(window+1, 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"ok":      0,
				"code":    http.StatusTooManyRequests,
				"message": "too many requests, slow down",
				"kind":    apperr.KindRateLimited,
			})
			return
		}

		c.Next()
	}
}
