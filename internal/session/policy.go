package session

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/skumap/shelfcrawler/internal/catalog"
)

// IndicatorPolicy classifies the current page against a small fixed set of
// block indicators: URL substrings such as "blocked" or "captcha", and a
// required marker element whose absence means the retailer served a
// challenge page. Both indicator sets are injected per retailer.
type IndicatorPolicy struct {
	urlMarkers     []string
	markerSelector string
	logger         *zap.Logger
}

// NewIndicatorPolicy builds a detector from the configured indicators. URL
// markers are matched case-insensitively against the current location.
func NewIndicatorPolicy(urlMarkers []string, markerSelector string, logger *zap.Logger) *IndicatorPolicy {
	markers := make([]string, 0, len(urlMarkers))
	for _, m := range urlMarkers {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" {
			markers = append(markers, m)
		}
	}
	return &IndicatorPolicy{
		urlMarkers:     markers,
		markerSelector: markerSelector,
		logger:         logger,
	}
}

// IsBlocked reports whether the session's current page looks like a block
// or challenge page. Read failures count as blocked: a page that cannot
// even report its location is not harvestable.
func (p *IndicatorPolicy) IsBlocked(ctx context.Context, s catalog.Session) bool {
	loc, err := s.Location(ctx)
	if err != nil {
		p.logger.Warn("block check could not read location", zap.Error(err))
		return true
	}
	lower := strings.ToLower(loc)
	for _, marker := range p.urlMarkers {
		if strings.Contains(lower, marker) {
			p.logger.Warn("block indicator in url",
				zap.String("url", loc),
				zap.String("indicator", marker),
			)
			return true
		}
	}

	if p.markerSelector == "" {
		return false
	}
	html, err := s.HTML(ctx)
	if err != nil {
		p.logger.Warn("block check could not read page", zap.String("url", loc), zap.Error(err))
		return true
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return true
	}
	if doc.Find(p.markerSelector).Length() == 0 {
		p.logger.Warn("expected marker element missing",
			zap.String("url", loc),
			zap.String("selector", p.markerSelector),
		)
		return true
	}
	return false
}
