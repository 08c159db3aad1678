package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hashEmbedder is a deterministic stand-in for the real embedding backend:
// identical texts map to identical vectors, shared words pull vectors closer.
type hashEmbedder struct{}

func (hashEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	vec := make([]float64, 64)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		var h uint32 = 2166136261
		for _, c := range []byte(word) {
			h = (h ^ uint32(c)) * 16777619
		}
		vec[h%64]++
	}
	return vec, nil
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:", hashEmbedder{}, zerolog.Nop())
	require.NoError(t, err)
	return store
}

func TestStoreAddQueryDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Add(ctx, CollectionDemos, "demo_1", "create a new user account", map[string]any{"steps": "[]"}))
	require.NoError(t, store.Add(ctx, CollectionDemos, "demo_2", "delete an invoice", map[string]any{"steps": "[]"}))

	hits, err := store.QueryNearest(ctx, CollectionDemos, "create a user account", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "demo_1", hits[0].ID)
	assert.Equal(t, "create a new user account", hits[0].Document)

	require.NoError(t, store.Delete(ctx, "demo_1"))
	assert.Error(t, store.Delete(ctx, "demo_1"))

	hits, err = store.QueryNearest(ctx, CollectionDemos, "create a user account", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "demo_2", hits[0].ID)
}

func TestStoreCollectionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Add(ctx, CollectionDemos, "demo_1", "pay an invoice", map[string]any{"steps": "[]"}))
	require.NoError(t, store.Add(ctx, CollectionFeedback, "rl_1", "Goal: pay an invoice", map[string]any{"action": "click ID 4", "reward": 1}))

	hits, err := store.QueryNearest(ctx, CollectionFeedback, "pay an invoice", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "rl_1", hits[0].ID)

	require.NoError(t, store.Clear(ctx, CollectionFeedback))
	hits, err = store.QueryNearest(ctx, CollectionFeedback, "pay an invoice", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	// Demos survive a feedback wipe.
	list, err := store.List(ctx, CollectionDemos)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRecallDemonstrationRoundTrip(t *testing.T) {
	ctx := context.Background()
	recall := NewRecall(newTestStore(t), zerolog.Nop())

	steps := []DemoStep{
		{Action: DemoAction{Type: "click"}, ElementDesc: "Invoices"},
		{Action: DemoAction{Type: "type", Value: "42"}, ElementDesc: "Amount"},
		{Action: DemoAction{Type: "click"}, ElementDesc: "Submit"},
	}
	id, err := recall.SaveDemonstration(ctx, "pay an invoice", steps)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "demo_"))

	demo, ok := recall.BestDemonstration(ctx, "pay invoice")
	require.True(t, ok)
	assert.Equal(t, "pay an invoice", demo.TaskName)
	require.Len(t, demo.Steps, 3)
	assert.Equal(t, "type", demo.Steps[1].Action.Type)
	assert.Equal(t, "42", demo.Steps[1].Action.Value)
	assert.Equal(t, "Amount", demo.Steps[1].ElementDesc)
}

func TestRecallEmptyStore(t *testing.T) {
	ctx := context.Background()
	recall := NewRecall(newTestStore(t), zerolog.Nop())

	_, ok := recall.BestDemonstration(ctx, "anything")
	assert.False(t, ok)

	hints := recall.Feedback(ctx, "anything", "UI")
	assert.Empty(t, hints.Worked)
	assert.Empty(t, hints.Failed)
}

func TestRecallFeedbackPartitioning(t *testing.T) {
	ctx := context.Background()
	recall := NewRecall(newTestStore(t), zerolog.Nop())

	require.NoError(t, recall.SaveFeedback(ctx, "pay an invoice", "buttons and fields", "click ID 4 (Val: Submit)", 1))
	require.NoError(t, recall.SaveFeedback(ctx, "pay an invoice", "buttons and fields", "click ID 9 (Val: Cancel)", -1))

	hints := recall.Feedback(ctx, "pay an invoice", "buttons and fields")
	assert.Contains(t, hints.Worked, "click ID 4 (Val: Submit)")
	assert.Contains(t, hints.Failed, "click ID 9 (Val: Cancel)")
}

func TestRecallMalformedStoredSteps(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	recall := NewRecall(store, zerolog.Nop())

	require.NoError(t, store.Add(ctx, CollectionDemos, "demo_bad", "broken demo", map[string]any{"steps": "{not json"}))

	_, ok := recall.BestDemonstration(ctx, "broken demo")
	assert.False(t, ok)
}
