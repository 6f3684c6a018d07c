// Package probe performs a lightweight plain-HTTP reachability check against
// a target before the browser fleet is spun up. A failed probe is advisory:
// grids behind aggressive bot walls often reject plain clients yet render
// fine in a real browser, so callers log the result and proceed.
package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

const defaultTimeout = 15 * time.Second

// Checker probes target URLs with a throwaway collector per check.
type Checker struct {
	timeout   time.Duration
	userAgent string
	logger    *zap.Logger
}

// New builds a Checker. A zero timeout falls back to the default.
func New(timeout time.Duration, userAgent string, logger *zap.Logger) *Checker {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{timeout: timeout, userAgent: userAgent, logger: logger}
}

// Check fetches rawURL once and reports whether a 2xx response came back.
func (c *Checker) Check(ctx context.Context, rawURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	opts := []colly.CollectorOption{colly.MaxDepth(1)}
	if c.userAgent != "" {
		opts = append(opts, colly.UserAgent(c.userAgent))
	}
	col := colly.NewCollector(opts...)
	col.SetRequestTimeout(c.timeout)

	var status int
	col.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
	})

	if err := col.Visit(rawURL); err != nil {
		return fmt.Errorf("probe %s: %w", rawURL, err)
	}
	col.Wait()

	c.logger.Debug("probe response", zap.String("url", rawURL), zap.Int("status", status))
	if status < 200 || status > 299 {
		return fmt.Errorf("probe %s: unexpected status %d", rawURL, status)
	}
	return nil
}
