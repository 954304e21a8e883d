package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	apperrors "github.com/SilicateWielder/memlayer/internal/errors"
	"github.com/SilicateWielder/memlayer/plugin/ai"
	"github.com/SilicateWielder/memlayer/store"
)

type fakeStore struct {
	results  []*store.MemoryWithScore
	memories map[string]*store.EpisodicMemory
	links    []*store.CausalLink

	searchErr error
	touched   []*store.TouchEpisodicMemory
}

func newFakeStore() *fakeStore {
	return &fakeStore{memories: make(map[string]*store.EpisodicMemory)}
}

func (f *fakeStore) SearchMemoriesByVector(_ context.Context, _ *store.VectorSearchOptions) ([]*store.MemoryWithScore, error) {
	return f.results, f.searchErr
}

func (f *fakeStore) ListEpisodicMemories(_ context.Context, find *store.FindEpisodicMemory) ([]*store.EpisodicMemory, error) {
	var out []*store.EpisodicMemory
	for _, id := range find.IDs {
		if memory, ok := f.memories[id]; ok {
			out = append(out, memory)
		}
	}
	return out, nil
}

func (f *fakeStore) ListCausalLinks(_ context.Context, find *store.FindCausalLink) ([]*store.CausalLink, error) {
	var out []*store.CausalLink
	for _, link := range f.links {
		if find.MemoryID != nil && (link.CauseID == *find.MemoryID || link.EffectID == *find.MemoryID) {
			out = append(out, link)
		}
	}
	return out, nil
}

func (f *fakeStore) TouchEpisodicMemory(_ context.Context, touch *store.TouchEpisodicMemory) error {
	f.touched = append(f.touched, touch)
	return nil
}

func (f *fakeStore) addCandidate(id string, similarity float64, ts time.Time) *store.EpisodicMemory {
	memory := &store.EpisodicMemory{
		ID:         id,
		Content:    "content " + id,
		Timestamp:  ts,
		Importance: 0.5,
	}
	f.memories[id] = memory
	f.results = append(f.results, &store.MemoryWithScore{Memory: memory, Score: similarity})
	return memory
}

func (f *fakeStore) addLinked(id string, ts time.Time) *store.EpisodicMemory {
	memory := &store.EpisodicMemory{
		ID:         id,
		Content:    "content " + id,
		Timestamp:  ts,
		Importance: 0.5,
	}
	f.memories[id] = memory
	return memory
}

var queryEmbedder = &ai.StaticEmbedder{Vector: []float32{1, 0, 0}}

func TestRetrieve(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("embedder failure is a hard error", func(t *testing.T) {
		fs := newFakeStore()
		engine := NewEngine(fs, &ai.StaticEmbedder{Err: errors.New("down")}, DefaultConfig())

		_, err := engine.Retrieve(context.Background(), &Options{Query: "q", UserID: "u", K: 3})
		require.Error(t, err)
		require.True(t, apperrors.IsCode(err, apperrors.ErrCodeEmbeddingUnavailable))
		require.Empty(t, fs.touched, "nothing may be touched on a failed retrieval")
	})

	t.Run("empty query vector is a hard error", func(t *testing.T) {
		engine := NewEngine(newFakeStore(), &ai.StaticEmbedder{Vector: nil}, DefaultConfig())
		_, err := engine.Retrieve(context.Background(), &Options{Query: "q", UserID: "u"})
		require.True(t, apperrors.IsCode(err, apperrors.ErrCodeEmbeddingUnavailable))
	})

	t.Run("ranks by blended score and truncates to k", func(t *testing.T) {
		fs := newFakeStore()
		fs.addCandidate("m-high", 0.95, now)
		fs.addCandidate("m-mid", 0.60, now)
		fs.addCandidate("m-low", 0.20, now)

		engine := NewEngine(fs, queryEmbedder, DefaultConfig())
		result, err := engine.Retrieve(context.Background(), &Options{Query: "q", UserID: "u", K: 2})
		require.NoError(t, err)

		require.Len(t, result.Memories, 2)
		require.Equal(t, "m-high", result.Memories[0].Memory.ID)
		require.Equal(t, "m-mid", result.Memories[1].Memory.ID)
		require.Greater(t, result.Memories[0].Score, result.Memories[1].Score)
	})

	t.Run("touches every returned memory and only those", func(t *testing.T) {
		fs := newFakeStore()
		fs.addCandidate("m-a", 0.9, now)
		fs.addCandidate("m-b", 0.8, now)
		fs.addCandidate("m-c", 0.1, now)

		engine := NewEngine(fs, queryEmbedder, DefaultConfig())
		result, err := engine.Retrieve(context.Background(), &Options{Query: "q", UserID: "u", K: 2})
		require.NoError(t, err)
		require.Len(t, result.Memories, 2)

		require.Len(t, fs.touched, 2)
		touchedIDs := map[string]bool{}
		for _, touch := range fs.touched {
			touchedIDs[touch.ID] = true
			require.False(t, touch.AccessedAt.IsZero())
			require.LessOrEqual(t, touch.Importance, 0.5, "touched importance never exceeds the stored value")
		}
		require.True(t, touchedIDs["m-a"])
		require.True(t, touchedIDs["m-b"])
	})

	t.Run("expands through causal links with hop-discounted scores", func(t *testing.T) {
		fs := newFakeStore()
		fs.addCandidate("m-seed", 0.9, now)
		fs.addLinked("m-linked", now.Add(-time.Hour))
		fs.links = []*store.CausalLink{
			{CauseID: "m-linked", EffectID: "m-seed", Strength: 0.8},
		}

		engine := NewEngine(fs, queryEmbedder, DefaultConfig())
		result, err := engine.Retrieve(context.Background(), &Options{Query: "q", UserID: "u", K: 5})
		require.NoError(t, err)
		require.Len(t, result.Memories, 2)

		var seed, linked *ScoredMemory
		for _, entry := range result.Memories {
			switch entry.Memory.ID {
			case "m-seed":
				seed = entry
			case "m-linked":
				linked = entry
			}
		}
		require.NotNil(t, seed)
		require.NotNil(t, linked)
		require.Equal(t, 1, linked.Hops)
		require.InDelta(t, seed.Score*0.8*0.5, linked.Score, 1e-9)
		require.Less(t, linked.Score, seed.Score)
	})

	t.Run("cyclic links terminate", func(t *testing.T) {
		fs := newFakeStore()
		fs.addCandidate("m-a", 0.9, now)
		fs.addLinked("m-b", now.Add(-time.Hour))
		fs.links = []*store.CausalLink{
			{CauseID: "m-a", EffectID: "m-b", Strength: 0.9},
			{CauseID: "m-b", EffectID: "m-a", Strength: 0.9},
		}

		config := DefaultConfig()
		config.MaxHops = 5
		engine := NewEngine(fs, queryEmbedder, config)

		done := make(chan struct{})
		var result *RankedResult
		var err error
		go func() {
			result, err = engine.Retrieve(context.Background(), &Options{Query: "q", UserID: "u", K: 10})
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("retrieval did not terminate on a cyclic link set")
		}
		require.NoError(t, err)
		require.Len(t, result.Memories, 2)
	})

	t.Run("memory in both pools keeps its higher score", func(t *testing.T) {
		fs := newFakeStore()
		fs.addCandidate("m-seed", 0.9, now)
		weak := fs.addCandidate("m-weak", 0.05, now)
		fs.links = []*store.CausalLink{
			{CauseID: "m-weak", EffectID: "m-seed", Strength: 1.0},
		}

		config := DefaultConfig()
		config.ExpandTop = 1
		engine := NewEngine(fs, queryEmbedder, config)
		result, err := engine.Retrieve(context.Background(), &Options{Query: "q", UserID: "u", K: 5})
		require.NoError(t, err)

		var seedEntry, weakEntry *ScoredMemory
		for _, entry := range result.Memories {
			switch entry.Memory.ID {
			case "m-seed":
				seedEntry = entry
			case weak.ID:
				weakEntry = entry
			}
		}
		require.NotNil(t, seedEntry)
		require.NotNil(t, weakEntry)
		require.Equal(t, 1, weakEntry.Hops, "link score beat the weak direct score")
		require.InDelta(t, seedEntry.Score*1.0*0.5, weakEntry.Score, 1e-9)
	})

	t.Run("ties break toward the more recent memory", func(t *testing.T) {
		fs := newFakeStore()
		fs.addCandidate("m-old", 0.7, now.Add(-48*time.Hour))
		fs.addCandidate("m-new", 0.7, now.Add(-47*time.Hour))

		// Equalize decay so the blended scores tie exactly.
		config := DefaultConfig()
		config.DecayWeight = 0
		config.ReinforceWeight = 0
		engine := NewEngine(fs, queryEmbedder, config)

		result, err := engine.Retrieve(context.Background(), &Options{Query: "q", UserID: "u", K: 2})
		require.NoError(t, err)
		require.Equal(t, "m-new", result.Memories[0].Memory.ID)
		require.Equal(t, "m-old", result.Memories[1].Memory.ID)
	})

	t.Run("repeated retrieval over a fixed snapshot is deterministic", func(t *testing.T) {
		fs := newFakeStore()
		fs.addCandidate("m-1", 0.5, now)
		fs.addCandidate("m-2", 0.5, now)
		fs.addCandidate("m-3", 0.5, now)

		engine := NewEngine(fs, queryEmbedder, DefaultConfig())
		var first []string
		for attempt := 0; attempt < 5; attempt++ {
			result, err := engine.Retrieve(context.Background(), &Options{Query: "q", UserID: "u", K: 3})
			require.NoError(t, err)
			var order []string
			for _, entry := range result.Memories {
				order = append(order, entry.Memory.ID)
			}
			if first == nil {
				first = order
			} else {
				require.Equal(t, first, order)
			}
		}
	})

	t.Run("storage failure surfaces", func(t *testing.T) {
		fs := newFakeStore()
		fs.searchErr = apperrors.TransientStorage("connection reset", nil)
		engine := NewEngine(fs, queryEmbedder, DefaultConfig())
		_, err := engine.Retrieve(context.Background(), &Options{Query: "q", UserID: "u"})
		require.True(t, apperrors.IsCode(err, apperrors.ErrCodeTransientStorage))
	})
}
