package rest

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter ограничивает частоту запросов по ключу клиента (IP)
type RateLimiter struct {
	limiters map[string]*limiterEntry
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	idle     time.Duration

	stop chan struct{}
	done chan struct{}
}

// NewRateLimiter создает ограничитель
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
		idle:     10 * time.Minute,
	}
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	entry, ok := rl.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

// Allow проверяет, можно ли обработать запрос клиента
func (rl *RateLimiter) Allow(key string) bool {
	return rl.limiter(key).Allow()
}

// Cleanup удаляет ограничители клиентов, не обращавшихся дольше idle
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := time.Now().Add(-rl.idle)
	for key, entry := range rl.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.limiters, key)
		}
	}
}

// StartCleanup запускает периодическую очистку неактивных клиентов.
// Повторный вызов без StopCleanup ничего не делает.
func (rl *RateLimiter) StartCleanup(interval time.Duration) {
	rl.mu.Lock()
	if rl.stop != nil {
		rl.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	rl.stop, rl.done = stop, done
	rl.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-stop:
				return
			}
		}
	}()
}

// StopCleanup останавливает очистку и дожидается завершения горутины
func (rl *RateLimiter) StopCleanup() {
	rl.mu.Lock()
	stop, done := rl.stop, rl.done
	rl.stop, rl.done = nil, nil
	rl.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// CleanupRunning сообщает, работает ли периодическая очистка
func (rl *RateLimiter) CleanupRunning() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.stop != nil
}

// Size возвращает число отслеживаемых клиентов
func (rl *RateLimiter) Size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// Middleware возвращает Gin middleware
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error: "rate_limit_exceeded",
				Code:  "RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}
