package http

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"

	"github.com/jhoicas/warehouse-monitor/internal/application/dto"
)

const limiterIdleTTL = 10 * time.Minute

type ipLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// RateLimiter limita peticiones por IP con un token bucket por cliente.
type RateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*ipLimiter
	rate      rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

// NewRateLimiter rps peticiones por segundo con ráfagas de burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters:  make(map[string]*ipLimiter),
		rate:      rate.Limit(rps),
		burst:     burst,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

// Allow consume un token del cliente key.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	now := rl.now()
	l, ok := rl.limiters[key]
	if !ok {
		l = &ipLimiter{lim: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = l
	}
	l.lastSeen = now
	if now.Sub(rl.lastSweep) > limiterIdleTTL {
		// Se descartan los clientes inactivos para acotar la memoria
		for k, v := range rl.limiters {
			if now.Sub(v.lastSeen) > limiterIdleTTL {
				delete(rl.limiters, k)
			}
		}
		rl.lastSweep = now
	}
	rl.mu.Unlock()
	return l.lim.AllowN(now, 1)
}

// Middleware devuelve 429 con Retry-After cuando el cliente excede su cuota.
func (rl *RateLimiter) Middleware() fiber.Handler {
	retryAfter := "1"
	if rl.rate > 0 {
		if secs := int(1/float64(rl.rate)) + 1; secs > 1 {
			retryAfter = strconv.Itoa(secs)
		}
	}
	return func(c *fiber.Ctx) error {
		if !rl.Allow(c.IP()) {
			c.Set(fiber.HeaderRetryAfter, retryAfter)
			return c.Status(fiber.StatusTooManyRequests).JSON(dto.ErrorResponse{
				Code:    "RATE_LIMITED",
				Message: "demasiadas peticiones, intente más tarde",
			})
		}
		return c.Next()
	}
}
