package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()
	require.NotNil(t, blocksDetectedTotal)
}

func TestCountersAccumulate(t *testing.T) {
	Init()

	before := testutil.ToFloat64(blocksDetectedTotal)
	AddBlocksDetected(2)
	require.Equal(t, before+2, testutil.ToFloat64(blocksDetectedTotal))

	beforeItems := testutil.ToFloat64(itemsHarvestedTotal.WithLabelValues("example-mart"))
	AddItemsHarvested("example-mart", 5)
	require.Equal(t, beforeItems+5, testutil.ToFloat64(itemsHarvestedTotal.WithLabelValues("example-mart")))
}

func TestHelpersTolerateUninitializedCollectors(t *testing.T) {
	// Helpers are nil-guarded so library consumers that never call Init
	// do not panic.
	AddCategoriesDiscovered(1)
	ObserveBackoffDelay(time.Second)
	ObserveRun("flat", "delivered")
}
