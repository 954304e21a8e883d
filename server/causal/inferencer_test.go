package causal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	apperrors "github.com/SilicateWielder/memlayer/internal/errors"
	"github.com/SilicateWielder/memlayer/store"
)

type fakeStore struct {
	recent  []*store.EpisodicMemory
	similar []*store.MemoryWithScore

	listErr   error
	searchErr error
	upsertErr error

	upserted []*store.CausalLink
}

func (f *fakeStore) ListEpisodicMemories(_ context.Context, _ *store.FindEpisodicMemory) ([]*store.EpisodicMemory, error) {
	return f.recent, f.listErr
}

func (f *fakeStore) SearchMemoriesByVector(_ context.Context, _ *store.VectorSearchOptions) ([]*store.MemoryWithScore, error) {
	return f.similar, f.searchErr
}

func (f *fakeStore) UpsertCausalLinks(_ context.Context, upserts []*store.CausalLink) ([]*store.CausalLink, error) {
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	f.upserted = append(f.upserted, upserts...)
	return upserts, nil
}

func memoryAt(id, content string, ts time.Time, embedding []float32) *store.EpisodicMemory {
	return &store.EpisodicMemory{
		ID:        id,
		Content:   content,
		Embedding: embedding,
		Timestamp: ts,
	}
}

func TestInferLinks(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	vec := []float32{1, 0, 0}

	t.Run("links a recent same-conversation memory temporally", func(t *testing.T) {
		previous := memoryAt("m-prev", "User: my car broke down\nAssistant: sorry to hear", now.Add(-5*time.Minute), []float32{0, 1, 0})
		fresh := memoryAt("m-new", "User: I missed the meeting\nAssistant: noted", now, vec)
		fs := &fakeStore{recent: []*store.EpisodicMemory{previous}}

		links, err := NewInferencer(fs, DefaultConfig()).InferLinks(context.Background(), fresh, "conv-1", "user-1")
		require.NoError(t, err)
		require.Len(t, links, 1)

		link := links[0]
		require.Equal(t, "m-prev", link.CauseID, "older memory is the cause")
		require.Equal(t, "m-new", link.EffectID)
		require.Equal(t, store.LinkTypeTemporal, link.Type)
		require.Greater(t, link.Strength, 0.3)
		require.LessOrEqual(t, link.Strength, 1.0)
	})

	t.Run("links a similar old memory topically", func(t *testing.T) {
		old := memoryAt("m-old", "User: my car engine is making noise\nAssistant: check the oil", now.Add(-40*24*time.Hour), vec)
		fresh := memoryAt("m-new", "User: the car engine noise got worse\nAssistant: visit a mechanic", now, vec)
		fs := &fakeStore{similar: []*store.MemoryWithScore{{Memory: old, Score: 1.0}}}

		links, err := NewInferencer(fs, DefaultConfig()).InferLinks(context.Background(), fresh, "conv-2", "user-1")
		require.NoError(t, err)
		require.Len(t, links, 1)
		require.Equal(t, store.LinkTypeTopical, links[0].Type)
		require.Equal(t, "m-old", links[0].CauseID)
	})

	t.Run("drops candidates below the strength threshold", func(t *testing.T) {
		unrelated := memoryAt("m-far", "completely different subject entirely", now.Add(-90*24*time.Hour), []float32{0, 0, 1})
		fresh := memoryAt("m-new", "User: hello\nAssistant: hi", now, vec)
		fs := &fakeStore{similar: []*store.MemoryWithScore{{Memory: unrelated, Score: 0.01}}}

		links, err := NewInferencer(fs, DefaultConfig()).InferLinks(context.Background(), fresh, "conv-3", "user-1")
		require.NoError(t, err)
		require.Empty(t, links)
		require.Empty(t, fs.upserted, "no write when nothing clears the threshold")
	})

	t.Run("deduplicates candidates appearing in both pools", func(t *testing.T) {
		shared := memoryAt("m-shared", "User: same memory\nAssistant: ok", now.Add(-time.Minute), vec)
		fresh := memoryAt("m-new", "User: same memory again\nAssistant: ok", now, vec)
		fs := &fakeStore{
			recent:  []*store.EpisodicMemory{shared},
			similar: []*store.MemoryWithScore{{Memory: shared, Score: 0.99}},
		}

		links, err := NewInferencer(fs, DefaultConfig()).InferLinks(context.Background(), fresh, "conv-4", "user-1")
		require.NoError(t, err)
		require.Len(t, links, 1)
	})

	t.Run("never links a memory to itself", func(t *testing.T) {
		fresh := memoryAt("m-new", "User: hi\nAssistant: hi", now, vec)
		fs := &fakeStore{
			recent:  []*store.EpisodicMemory{fresh},
			similar: []*store.MemoryWithScore{{Memory: fresh, Score: 1.0}},
		}

		links, err := NewInferencer(fs, DefaultConfig()).InferLinks(context.Background(), fresh, "conv-5", "user-1")
		require.NoError(t, err)
		require.Empty(t, links)
	})

	t.Run("wraps storage failures as inference errors", func(t *testing.T) {
		fresh := memoryAt("m-new", "User: hi\nAssistant: hi", now, vec)
		fs := &fakeStore{searchErr: apperrors.TransientStorage("db down", nil)}

		_, err := NewInferencer(fs, DefaultConfig()).InferLinks(context.Background(), fresh, "conv-6", "user-1")
		require.Error(t, err)
		require.True(t, apperrors.IsCode(err, apperrors.ErrCodeCausalInference))
	})
}

func TestSignals(t *testing.T) {
	t.Run("temporal proximity is one at zero gap and decays with distance", func(t *testing.T) {
		inf := NewInferencer(&fakeStore{}, DefaultConfig())
		now := time.Now()
		require.InDelta(t, 1.0, inf.temporalProximity(now, now), 1e-9)
		near := inf.temporalProximity(now, now.Add(-time.Hour))
		far := inf.temporalProximity(now, now.Add(-72*time.Hour))
		require.Greater(t, near, far)
		require.Greater(t, far, 0.0)
	})

	t.Run("embedding similarity floors anti-correlation at zero", func(t *testing.T) {
		require.InDelta(t, 1.0, embeddingSimilarity([]float32{1, 0}, []float32{1, 0}), 1e-6)
		require.Zero(t, embeddingSimilarity([]float32{1, 0}, []float32{-1, 0}))
		require.Zero(t, embeddingSimilarity(nil, []float32{1}))
		require.Zero(t, embeddingSimilarity([]float32{1, 0}, []float32{1}))
	})

	t.Run("lexical overlap is jaccard over normalized tokens", func(t *testing.T) {
		require.InDelta(t, 1.0, lexicalOverlap("Hello world.", "hello WORLD"), 1e-9)
		require.Zero(t, lexicalOverlap("alpha beta", "gamma delta"))
		require.Zero(t, lexicalOverlap("", "something"))
		got := lexicalOverlap("a b c d", "c d e f")
		require.InDelta(t, 2.0/6.0, got, 1e-9)
	})
}
