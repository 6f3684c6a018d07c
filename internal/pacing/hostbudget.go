package pacing

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// HostBudget enforces a per-host navigation rate on top of the randomized
// delays, so bursts of concurrent workers never exceed the configured QPS
// against one retailer.
type HostBudget struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	qps      rate.Limit
	burst    int
}

// NewHostBudget builds a budget allowing qps navigations per host. A qps of
// zero or less disables the budget.
func NewHostBudget(qps float64, burst int) *HostBudget {
	limit := rate.Limit(qps)
	if qps <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &HostBudget{
		limiters: make(map[string]*rate.Limiter),
		qps:      limit,
		burst:    burst,
	}
}

// Wait blocks until the host of rawURL has budget, or the context ends.
func (b *HostBudget) Wait(ctx context.Context, rawURL string) error {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = strings.ToLower(u.Hostname())
	}

	b.mu.Lock()
	limiter, ok := b.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(b.qps, b.burst)
		b.limiters[host] = limiter
	}
	b.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("host budget wait for %s: %w", host, err)
	}
	return nil
}
