package harvest

import (
	"context"
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// backoffPolicy produces the jittered, order-of-seconds waits applied
// between session relaunch attempts on a blocked URL.
type backoffPolicy struct {
	baseDelay time.Duration
	maxDelay  time.Duration
}

func newBackoffPolicy() *backoffPolicy {
	return &backoffPolicy{
		baseDelay: time.Second,
		maxDelay:  8 * time.Second,
	}
}

// delay returns the wait before retry attempt (0-based).
func (p *backoffPolicy) delay(attempt int) time.Duration {
	d := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if d > float64(p.maxDelay) {
		d = float64(p.maxDelay)
	}
	half := time.Duration(d / 2)
	return half + randomJitter(half)
}

// wait sleeps for the attempt's delay, returning early when ctx ends.
func (p *backoffPolicy) wait(ctx context.Context, attempt int) time.Duration {
	d := p.delay(attempt)
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
	return d
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
