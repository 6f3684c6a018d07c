package treefile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skumap/shelfcrawler/internal/catalog"
)

func TestDeliverTreePreservesRootShape(t *testing.T) {
	t.Parallel()

	doc := `{"departments":[{"name":"Beverages","link_url":"https://shop.example/beverages","sub_items":[]}]}`
	tree, err := catalog.ParseHierarchy([]byte(doc))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "tree.json")
	sink, err := New(Config{Path: path})
	require.NoError(t, err)

	require.NoError(t, sink.DeliverTree(context.Background(), tree))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.JSONEq(t, doc, string(data))
}

func TestDeliverTreeReplacesPreviousDocument(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tree.json")
	sink, err := New(Config{Path: path, Indent: true})
	require.NoError(t, err)

	first, err := catalog.ParseHierarchy([]byte(`{"name":"A","link_url":"https://shop.example/a","sub_items":[]}`))
	require.NoError(t, err)
	second, err := catalog.ParseHierarchy([]byte(`{"name":"B","link_url":"https://shop.example/b","sub_items":[]}`))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sink.DeliverTree(ctx, first))
	require.NoError(t, sink.DeliverTree(ctx, second))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.JSONEq(t, `{"name":"B","link_url":"https://shop.example/b","sub_items":[]}`, string(data))
}

func TestDeliverTreeRejectsNil(t *testing.T) {
	t.Parallel()

	sink, err := New(Config{Path: filepath.Join(t.TempDir(), "tree.json")})
	require.NoError(t, err)
	require.Error(t, sink.DeliverTree(context.Background(), nil))
}
