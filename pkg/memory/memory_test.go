package memory

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/nestor/pkg/config"
)

// keywordEmbed maps a fixed vocabulary onto vector dimensions so
// similarity reflects shared keywords without a live embedding model.
func keywordEmbed(calls *atomic.Int64) EmbedFunc {
	vocabulary := []string{"solar", "battery", "asana", "onboarding", "quarterly", "revenue"}
	return func(ctx context.Context, text string) ([]float32, error) {
		if calls != nil {
			calls.Add(1)
		}
		lower := strings.ToLower(text)
		v := make([]float32, len(vocabulary)+1)
		for i, word := range vocabulary {
			if strings.Contains(lower, word) {
				v[i] = 1
			}
		}
		v[len(vocabulary)] = 0.25
		return v, nil
	}
}

func testStore(t *testing.T, cfg config.MemoryConfig) *RecallStore {
	t.Helper()
	store, err := NewRecallStore(cfg, keywordEmbed(nil))
	require.NoError(t, err)
	return store
}

func TestRecallStore_RecordAndRecall(t *testing.T) {
	ctx := context.Background()
	store := testStore(t, config.MemoryConfig{})

	require.NoError(t, store.Record(ctx, "research", "Solar panel efficiency reached 24% in 2025.", nil))
	require.NoError(t, store.Record(ctx, "research", "The Asana board tracks the onboarding project.", nil))

	docs, err := store.Recall(ctx, "solar battery efficiency", 1)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Contains(t, docs[0].Content, "Solar panel")
	assert.Equal(t, "research", docs[0].Metadata["origin"])
	assert.NotEmpty(t, docs[0].Metadata["recorded_at"])
}

func TestRecallStore_RanksBySimilarity(t *testing.T) {
	ctx := context.Background()
	store := testStore(t, config.MemoryConfig{})

	require.NoError(t, store.Record(ctx, "research", "Battery storage prices fell again.", nil))
	require.NoError(t, store.Record(ctx, "tasks", "Created the onboarding project in Asana.", nil))

	docs, err := store.Recall(ctx, "battery storage", 2)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Contains(t, docs[0].Content, "Battery")
	assert.GreaterOrEqual(t, docs[0].Similarity, docs[1].Similarity)
}

func TestRecallStore_EmptyStoreRecallsNothing(t *testing.T) {
	store := testStore(t, config.MemoryConfig{})

	docs, err := store.Recall(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestRecallStore_LimitClampedToCount(t *testing.T) {
	ctx := context.Background()
	store := testStore(t, config.MemoryConfig{})
	require.NoError(t, store.Record(ctx, "research", "Quarterly revenue grew.", nil))

	docs, err := store.Recall(ctx, "quarterly revenue", 10)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestRecallStore_DefaultLimit(t *testing.T) {
	ctx := context.Background()
	store := testStore(t, config.MemoryConfig{})
	require.NoError(t, store.Record(ctx, "research", "Solar output doubled.", nil))
	require.NoError(t, store.Record(ctx, "research", "Battery costs halved.", nil))

	// Limit zero falls back to top_k, clamped to what is stored.
	docs, err := store.Recall(ctx, "solar battery", 0)
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestRecallStore_RecordDeduplicates(t *testing.T) {
	ctx := context.Background()
	store := testStore(t, config.MemoryConfig{})

	require.NoError(t, store.Record(ctx, "research", "Solar output doubled.", nil))
	require.NoError(t, store.Record(ctx, "research", "Solar output doubled.", nil))
	assert.Equal(t, 1, store.Count())

	require.NoError(t, store.Record(ctx, "research", "Battery costs halved.", nil))
	assert.Equal(t, 2, store.Count())
}

func TestRecallStore_BlankContentDropped(t *testing.T) {
	store := testStore(t, config.MemoryConfig{})

	require.NoError(t, store.Record(context.Background(), "research", "  \n\t", nil))
	assert.Equal(t, 0, store.Count())
}

func TestRecallStore_BlankQuerySkipsEmbedding(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int64
	store, err := NewRecallStore(config.MemoryConfig{}, keywordEmbed(&calls))
	require.NoError(t, err)

	require.NoError(t, store.Record(ctx, "research", "Solar output doubled.", nil))
	embedsAfterRecord := calls.Load()

	docs, err := store.Recall(ctx, "   ", 3)
	require.NoError(t, err)
	assert.Nil(t, docs)
	assert.Equal(t, embedsAfterRecord, calls.Load())
}

func TestRecallStore_MetadataCarried(t *testing.T) {
	ctx := context.Background()
	store := testStore(t, config.MemoryConfig{})

	meta := map[string]string{"request_id": "req-9", "session_id": "sess-2"}
	require.NoError(t, store.Record(ctx, "research", "Battery costs halved.", meta))

	docs, err := store.Recall(ctx, "battery", 1)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "req-9", docs[0].Metadata["request_id"])
	assert.Equal(t, "sess-2", docs[0].Metadata["session_id"])
	assert.Equal(t, "research", docs[0].Metadata["origin"])
}

func TestRecallStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	cfg := config.MemoryConfig{Path: t.TempDir()}

	store := testStore(t, cfg)
	require.NoError(t, store.Record(ctx, "research", "Solar output doubled.", nil))
	require.NoError(t, store.Close())

	reopened := testStore(t, cfg)
	assert.Equal(t, 1, reopened.Count())

	docs, err := reopened.Recall(ctx, "solar", 1)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Contains(t, docs[0].Content, "Solar")
}

func TestNewRecallStore_RequiresEmbedderKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	_, err := NewRecallStore(config.MemoryConfig{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")
}
