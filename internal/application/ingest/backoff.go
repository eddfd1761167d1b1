package ingest

import (
	"context"
	"math/rand/v2"
	"time"
)

// backoff exponencial con full jitter: espera uniforme en [0, min(base*2^attempt, max)).
type backoff struct {
	base time.Duration
	max  time.Duration
}

func (b backoff) delay(attempt int) time.Duration {
	if b.base <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}
	d := b.base << attempt
	if d <= 0 || d > b.max {
		d = b.max
	}
	return time.Duration(rand.Int64N(int64(d)) + 1)
}

// sleep espera d o hasta que ctx termine; devuelve ctx.Err() si se interrumpe.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
