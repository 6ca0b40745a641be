package variables

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreSeedsFixedCategories(t *testing.T) {
	store := NewStore(nil)
	for _, cat := range Categories() {
		_, ok := store.Data()[cat]
		require.True(t, ok, cat)
	}
}

func TestMergeOutputDoesNotOverwriteCategories(t *testing.T) {
	store := NewStore(map[string]any{
		"contact": map[string]any{"phone": "123"},
	})
	store.MergeOutput("contact", map[string]any{"phone": "999"})

	value, ok := store.Get("contact.phone")
	require.True(t, ok)
	require.Equal(t, "123", value)

	shifted, ok := store.Get("contact_output.phone")
	require.True(t, ok)
	require.Equal(t, "999", shifted)
}

func TestMergeOutputAccumulates(t *testing.T) {
	store := NewStore(nil)
	store.MergeOutput(CODE_OUTPUT_KEY, map[string]any{"a": 1})
	store.MergeOutput(CODE_OUTPUT_KEY, map[string]any{"b": 2})

	a, ok := store.Get(CODE_OUTPUT_KEY + ".a")
	require.True(t, ok)
	require.EqualValues(t, 1, a)
	b, ok := store.Get(CODE_OUTPUT_KEY + ".b")
	require.True(t, ok)
	require.EqualValues(t, 2, b)
}

func TestSnapshotIsDetached(t *testing.T) {
	store := NewStore(map[string]any{
		"contact": map[string]any{"phone": "123"},
	})
	snap := store.Snapshot()
	snap["contact"].(map[string]any)["phone"] = "mutated"

	value, ok := store.Get("contact.phone")
	require.True(t, ok)
	require.Equal(t, "123", value)
}

func TestRefreshCapturedOnlyGrowsCaptured(t *testing.T) {
	store := NewStore(nil)
	store.RefreshCaptured(map[string]any{"order_id": "ord-1"})
	store.RefreshCaptured(map[string]any{"cart_total": 99})

	v, ok := store.Get("captured.order_id")
	require.True(t, ok)
	require.Equal(t, "ord-1", v)
	v, ok = store.Get("captured.cart_total")
	require.True(t, ok)
	require.EqualValues(t, 99, v)
}

func TestSetCreatesNestedPaths(t *testing.T) {
	store := NewStore(nil)
	require.NoError(t, store.Set("deal.id", "d1"))
	require.NoError(t, store.Set("captured.order.total", 42))

	v, ok := store.Get("deal.id")
	require.True(t, ok)
	require.Equal(t, "d1", v)
	v, ok = store.Get("captured.order.total")
	require.True(t, ok)
	require.EqualValues(t, 42, v)

	// a scalar in the middle of the path is not silently replaced
	require.Error(t, store.Set("deal.id.sub", "x"))
}
