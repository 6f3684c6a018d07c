// Package session owns browser pages. A Browser wraps one headless Chrome
// allocator; each Session is one tab created from it. Sessions never replace
// their underlying page silently — Relaunch is explicit, so retry and
// backoff policy stays in the orchestration layer.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/skumap/shelfcrawler/internal/catalog"
	"github.com/skumap/shelfcrawler/internal/pacing"
)

// Config controls page behavior for every session of one Browser.
type Config struct {
	UserAgent string
	Headless  bool
	// NavTimeout bounds the wait for the structural readiness signal.
	NavTimeout time.Duration
	// ReadySelector is the DOM marker navigation waits for.
	ReadySelector string
}

// Browser holds the shared Chrome exec allocator sessions are created from.
type Browser struct {
	cfg         Config
	allocator   context.Context
	allocCancel context.CancelFunc
	budget      *pacing.HostBudget
	logger      *zap.Logger
}

// NewBrowser starts the allocator. Callers must Close it when the run ends.
func NewBrowser(cfg Config, budget *pacing.HostBudget, logger *zap.Logger) *Browser {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 30 * time.Second
	}
	if cfg.ReadySelector == "" {
		cfg.ReadySelector = "body"
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocator, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Browser{
		cfg:         cfg,
		allocator:   allocator,
		allocCancel: cancel,
		budget:      budget,
		logger:      logger,
	}
}

// Close tears down the allocator and every page created from it.
func (b *Browser) Close() {
	b.allocCancel()
}

// NewSession opens one tab. It satisfies catalog.SessionFactory via Factory.
func (b *Browser) NewSession(ctx context.Context) (*Session, error) {
	s := &Session{browser: b}
	if err := s.launch(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Factory adapts NewSession to the capability signature workers consume.
func (b *Browser) Factory() catalog.SessionFactory {
	return func(ctx context.Context) (catalog.Session, error) {
		return b.NewSession(ctx)
	}
}

// Session is one browser tab implementing catalog.Session.
type Session struct {
	browser   *Browser
	tabCtx    context.Context
	tabCancel context.CancelFunc
}

func (s *Session) launch(ctx context.Context) error {
	tabCtx, cancel := chromedp.NewContext(s.browser.allocator)
	warmup := chromedp.Tasks{network.Enable()}
	if s.browser.cfg.UserAgent != "" {
		warmup = append(warmup, emulation.SetUserAgentOverride(s.browser.cfg.UserAgent))
	}
	stop := forwardCancel(ctx, cancel)
	err := chromedp.Run(tabCtx, warmup)
	stop()
	if err != nil {
		cancel()
		return fmt.Errorf("launch page: %w", err)
	}
	s.tabCtx = tabCtx
	s.tabCancel = cancel
	return nil
}

// Navigate loads url and waits for the readiness marker. A deadline while
// waiting is reported as OutcomeTimeout, not an error, so callers own the
// retry decision.
func (s *Session) Navigate(ctx context.Context, url string) (catalog.Outcome, error) {
	if s.browser.budget != nil {
		if err := s.browser.budget.Wait(ctx, url); err != nil {
			return catalog.OutcomeTimeout, fmt.Errorf("navigation budget: %w", err)
		}
	}

	taskCtx, cancel := context.WithTimeout(s.tabCtx, s.browser.cfg.NavTimeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	err := chromedp.Run(taskCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady(s.browser.cfg.ReadySelector, chromedp.ByQuery),
	)
	switch {
	case err == nil:
		return catalog.OutcomeOK, nil
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return catalog.OutcomeTimeout, nil
	default:
		return catalog.OutcomeTimeout, fmt.Errorf("navigate %s: %w", url, err)
	}
}

// Location returns the page's current URL.
func (s *Session) Location(ctx context.Context) (string, error) {
	var loc string
	if err := s.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return loc, nil
}

// HTML returns the rendered document.
func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read outer html: %w", err)
	}
	return html, nil
}

// Click activates the first element matching selector, returning false when
// no actionable element exists.
func (s *Session) Click(ctx context.Context, selector string) (bool, error) {
	var nodes []*cdp.Node
	err := s.run(ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)))
	if err != nil {
		return false, fmt.Errorf("query %q: %w", selector, err)
	}
	if len(nodes) == 0 {
		return false, nil
	}
	if _, disabled := nodes[0].Attribute("disabled"); disabled {
		return false, nil
	}
	if err := s.run(ctx, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return false, fmt.Errorf("click %q: %w", selector, err)
	}
	return true, nil
}

// ScrollToBottom scrolls the window and reports whether the document height
// grew, the lazy-load completion signal.
func (s *Session) ScrollToBottom(ctx context.Context) (bool, error) {
	var before, after int64
	tasks := chromedp.Tasks{
		chromedp.Evaluate(`document.documentElement.scrollHeight`, &before),
		chromedp.Evaluate(`window.scrollTo(0, document.documentElement.scrollHeight)`, nil),
		chromedp.Sleep(400 * time.Millisecond),
		chromedp.Evaluate(`document.documentElement.scrollHeight`, &after),
	}
	if err := s.run(ctx, tasks); err != nil {
		return false, fmt.Errorf("scroll to bottom: %w", err)
	}
	return after > before, nil
}

// Relaunch destroys the current tab and opens a fresh one.
func (s *Session) Relaunch(ctx context.Context) error {
	s.tabCancel()
	if err := s.launch(ctx); err != nil {
		return fmt.Errorf("relaunch session: %w", err)
	}
	if s.browser.logger != nil {
		s.browser.logger.Info("session relaunched")
	}
	return nil
}

// Close releases the tab.
func (s *Session) Close() error {
	s.tabCancel()
	return nil
}

func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	taskCtx, cancel := context.WithTimeout(s.tabCtx, s.browser.cfg.NavTimeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()
	return chromedp.Run(taskCtx, actions...)
}

// forwardCancel propagates cancellation from the caller's context into a
// chromedp task context, which descends from the tab rather than the caller.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
