package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ipLimiter hands out one token bucket per client IP. The whole set is
// dropped every resetEvery so idle clients do not accumulate.
type ipLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*rate.Limiter
	limit      rate.Limit
	burst      int
	resetEvery time.Duration
	lastReset  time.Time
}

func newIPLimiter(perSecond float64, burst int, resetEvery time.Duration) *ipLimiter {
	return &ipLimiter{
		limiters:   make(map[string]*rate.Limiter),
		limit:      rate.Limit(perSecond),
		burst:      burst,
		resetEvery: resetEvery,
		lastReset:  time.Now(),
	}
}

func (l *ipLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.resetEvery > 0 && time.Since(l.lastReset) > l.resetEvery {
		l.limiters = make(map[string]*rate.Limiter)
		l.lastReset = time.Now()
	}
	limiter, ok := l.limiters[ip]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[ip] = limiter
	}
	return limiter
}

// CORSMiddleware handles Cross-Origin Resource Sharing
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RequestIDMiddleware adds unique request ID for tracking
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("RequestID", requestID)
		c.Writer.Header().Set("X-Request-ID", requestID)
		c.Next()
	}
}

// RateLimitMiddleware rejects clients that exceed their per-IP budget.
func RateLimitMiddleware(limiter *ipLimiter, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !limiter.get(ip).Allow() {
			logger.Warn("rate limit exceeded", zap.String("ip", ip))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate limit exceeded",
				"message": "too many requests, please slow down",
			})
			return
		}

		c.Next()
	}
}

// RequestLogger logs every request with its latency and status.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("request_id", c.GetString("RequestID")),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		}
		if status >= http.StatusInternalServerError {
			logger.Error("api request", fields...)
			return
		}
		logger.Debug("api request", fields...)
	}
}
