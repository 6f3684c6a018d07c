package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 2, cfg.Crawler.DiscoveryConcurrency)
	require.Equal(t, 4, cfg.Crawler.HarvestConcurrency)
	require.Equal(t, 10, cfg.Crawler.MaxPagesDefault)
	require.True(t, cfg.Session.Headless)
	require.Equal(t, "body", cfg.Session.ReadySelector)
	require.Equal(t, 30*time.Second, cfg.BrowserConfig().NavTimeout)
	require.Equal(t, 15*time.Second, cfg.ProbeTimeout())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	doc := `
crawler:
  retailer_id: shop-example
  discovery_concurrency: 3
  harvest_concurrency: 6
selectors:
  category_links: "nav.categories a"
  product_tile: "div.tile"
  next_page: "a.next"
block:
  url_markers: ["/blocked", "captcha"]
targets:
  shop-example:
    - name: Beverages
      url: https://shop.example/beverages
sinks:
  records_path: /tmp/records.jsonl
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "shop-example", cfg.Crawler.RetailerID)
	require.Equal(t, 3, cfg.Crawler.DiscoveryConcurrency)
	require.Equal(t, "nav.categories a", cfg.ExtractorConfig().CategoryLinks)
	require.Equal(t, []string{"/blocked", "captcha"}, cfg.Block.URLMarkers)
	require.Len(t, cfg.Targets["shop-example"], 1)
	require.Equal(t, "Beverages", cfg.Targets["shop-example"][0].Name)
	require.Equal(t, "/tmp/records.jsonl", cfg.Sinks.RecordsPath)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	bad := cfg
	bad.Crawler.HarvestConcurrency = 0
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Pacing.NavMinMs = 500
	bad.Pacing.NavMaxMs = 100
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Sinks.Postgres.Table = "products"
	require.Error(t, bad.Validate())
}
