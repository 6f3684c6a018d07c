// Package pacing controls how fast workers touch the target site: uniformly
// random inter-action delays plus a per-host token bucket budget.
package pacing

import (
	"context"
	"math/rand/v2"
	"time"
)

// Range bounds one named delay window.
type Range struct {
	Min time.Duration
	Max time.Duration
}

// Pacer holds the two named delay ranges. Category pages and grid pages
// warrant different pacing. The ranges are immutable after construction, so
// any number of workers may call Delay without coordination.
type Pacer struct {
	navigation Range
	grid       Range
}

// New builds a Pacer from the two configured ranges. A zero or inverted
// range disables that delay.
func New(navigation, grid Range) *Pacer {
	return &Pacer{navigation: navigation, grid: grid}
}

// DelayNavigation sleeps for a random duration in the navigation-hover range.
func (p *Pacer) DelayNavigation(ctx context.Context) {
	p.delay(ctx, p.navigation)
}

// DelayGrid sleeps for a random duration in the grid-scan range.
func (p *Pacer) DelayGrid(ctx context.Context) {
	p.delay(ctx, p.grid)
}

func (p *Pacer) delay(ctx context.Context, r Range) {
	d := pick(r)
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func pick(r Range) time.Duration {
	if r.Min < 0 || r.Max < r.Min {
		return 0
	}
	if r.Max == r.Min {
		return r.Min
	}
	return r.Min + time.Duration(rand.Int64N(int64(r.Max-r.Min)+1))
}
