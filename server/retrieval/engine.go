// Package retrieval ranks episodic memories for a query by blending vector
// similarity with salience, expanding the result through the causal graph,
// and reinforcing every memory it returns.
package retrieval

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	apperrors "github.com/SilicateWielder/memlayer/internal/errors"
	"github.com/SilicateWielder/memlayer/plugin/ai"
	"github.com/SilicateWielder/memlayer/server/salience"
	"github.com/SilicateWielder/memlayer/server/trace"
	"github.com/SilicateWielder/memlayer/store"
)

// Store is the storage surface the engine needs.
type Store interface {
	SearchMemoriesByVector(ctx context.Context, opts *store.VectorSearchOptions) ([]*store.MemoryWithScore, error)
	ListEpisodicMemories(ctx context.Context, find *store.FindEpisodicMemory) ([]*store.EpisodicMemory, error)
	ListCausalLinks(ctx context.Context, find *store.FindCausalLink) ([]*store.CausalLink, error)
	TouchEpisodicMemory(ctx context.Context, touch *store.TouchEpisodicMemory) error
}

// Config holds the ranking constants. The final score of a direct candidate is
//
//	SimilarityWeight*rawSimilarity + DecayWeight*decayedImportance + ReinforceWeight*reinforcedImportance
//
// and a memory reached over a causal link scores
//
//	parentScore * linkStrength * HopDecay^hop
type Config struct {
	SimilarityWeight float64
	DecayWeight      float64
	ReinforceWeight  float64
	// CandidateMultiplier sets the similarity-search width M = multiplier*k.
	CandidateMultiplier int
	// ExpandTop is how many top-ranked candidates seed causal expansion.
	ExpandTop int
	// HopDecay discounts each traversal hop.
	HopDecay float64
	// MaxHops bounds causal traversal depth when the caller does not override.
	MaxHops int

	Salience salience.Config
}

// DefaultConfig returns the default ranking configuration.
func DefaultConfig() Config {
	return Config{
		SimilarityWeight:    0.6,
		DecayWeight:         0.25,
		ReinforceWeight:     0.15,
		CandidateMultiplier: 4,
		ExpandTop:           3,
		HopDecay:            0.5,
		MaxHops:             1,
		Salience:            salience.DefaultConfig(),
	}
}

// Options carries one retrieval request.
type Options struct {
	Query  string
	UserID string
	// K is the result size; defaults to 5.
	K int
	// MaxHops overrides Config.MaxHops when positive.
	MaxHops int
}

// ScoredMemory is one ranked result entry. Hops is zero for direct similarity
// candidates and the traversal depth for causally expanded ones.
type ScoredMemory struct {
	Memory        *store.EpisodicMemory
	Score         float64
	RawSimilarity float64
	Hops          int
}

// RankedResult is the ordered result of one retrieval call plus its trace.
type RankedResult struct {
	Memories []*ScoredMemory
	Trace    *trace.Trace
}

// Engine ranks memories for queries. All collaborators are injected.
type Engine struct {
	store    Store
	embedder ai.EmbeddingService
	config   Config
}

// NewEngine creates a retrieval engine.
func NewEngine(s Store, embedder ai.EmbeddingService, config Config) *Engine {
	if config.CandidateMultiplier <= 0 {
		config.CandidateMultiplier = DefaultConfig().CandidateMultiplier
	}
	if config.ExpandTop <= 0 {
		config.ExpandTop = DefaultConfig().ExpandTop
	}
	if config.HopDecay <= 0 {
		config.HopDecay = DefaultConfig().HopDecay
	}
	if config.MaxHops <= 0 {
		config.MaxHops = DefaultConfig().MaxHops
	}
	return &Engine{store: s, embedder: embedder, config: config}
}

// Retrieve embeds the query, ranks the user's memories, expands through the
// causal graph, and touches every returned memory. Unlike consolidation,
// retrieval cannot degrade without a query vector: embedder failure is a hard
// error. For a fixed store snapshot and query the result order is
// deterministic (score desc, then recency, then id).
func (e *Engine) Retrieve(ctx context.Context, opts *Options) (*RankedResult, error) {
	k := opts.K
	if k <= 0 {
		k = 5
	}
	maxHops := opts.MaxHops
	if maxHops <= 0 {
		maxHops = e.config.MaxHops
	}

	tr := trace.New("retrieve")

	span := tr.Begin("embed_query")
	queryVector, err := e.embedder.Embedding(ctx, opts.Query)
	if err != nil {
		return nil, apperrors.EmbeddingUnavailable(err)
	}
	if len(queryVector) == 0 {
		return nil, apperrors.EmbeddingUnavailable(nil)
	}
	span.End()

	span = tr.Begin("similarity_search")
	candidates, err := e.store.SearchMemoriesByVector(ctx, &store.VectorSearchOptions{
		UserID: opts.UserID,
		Vector: queryVector,
		Limit:  e.config.CandidateMultiplier * k,
	})
	if err != nil {
		return nil, err
	}
	span.SetMeta("candidates", len(candidates)).End()

	now := time.Now().UTC()
	scored := make(map[string]*ScoredMemory, len(candidates))
	for _, candidate := range candidates {
		scored[candidate.Memory.ID] = &ScoredMemory{
			Memory:        candidate.Memory,
			Score:         e.score(candidate, now),
			RawSimilarity: candidate.Score,
		}
	}

	span = tr.Begin("causal_expansion")
	if err := e.expand(ctx, scored, maxHops); err != nil {
		// Expansion enriches the result; a broken graph read does not void
		// the similarity ranking.
		slog.Warn("causal expansion failed", "error", err)
	}
	span.SetMeta("pool", len(scored)).SetMeta("max_hops", maxHops).End()

	ranked := rank(scored)
	if len(ranked) > k {
		ranked = ranked[:k]
	}

	span = tr.Begin("touch_memories")
	e.touch(ctx, ranked, now)
	span.SetMeta("touched", len(ranked)).End()

	return &RankedResult{Memories: ranked, Trace: tr}, nil
}

// score computes the blended salience score of a direct candidate. Decay runs
// from the last access, or from creation for a never-accessed memory.
func (e *Engine) score(candidate *store.MemoryWithScore, now time.Time) float64 {
	memory := candidate.Memory
	since := memory.Timestamp
	if memory.LastAccessed != nil {
		since = *memory.LastAccessed
	}
	decayed := e.config.Salience.Decay(memory.Importance, now, since)
	reinforced := e.config.Salience.Reinforce(memory.Importance, memory.AttentionCount)
	return e.config.SimilarityWeight*candidate.Score +
		e.config.DecayWeight*decayed +
		e.config.ReinforceWeight*reinforced
}

// expand walks causal links (both directions) outward from the top-ranked
// candidates, adding linked memories with hop-discounted scores. A memory
// already in the pool keeps whichever score is higher. The visited set makes
// traversal loop-safe on cyclic link sets.
func (e *Engine) expand(ctx context.Context, scored map[string]*ScoredMemory, maxHops int) error {
	frontier := rank(scored)
	if len(frontier) > e.config.ExpandTop {
		frontier = frontier[:e.config.ExpandTop]
	}

	visited := make(map[string]bool, len(frontier))
	for _, entry := range frontier {
		visited[entry.Memory.ID] = true
	}

	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		hopDiscount := math.Pow(e.config.HopDecay, float64(hop))
		linkedScores := make(map[string]float64)

		for _, parent := range frontier {
			links, err := e.store.ListCausalLinks(ctx, &store.FindCausalLink{MemoryID: &parent.Memory.ID})
			if err != nil {
				return err
			}
			for _, link := range links {
				neighborID := link.EffectID
				if neighborID == parent.Memory.ID {
					neighborID = link.CauseID
				}
				if visited[neighborID] {
					continue
				}
				linkedScore := parent.Score * link.Strength * hopDiscount
				if linkedScore > linkedScores[neighborID] {
					linkedScores[neighborID] = linkedScore
				}
			}
		}

		ids := make([]string, 0, len(linkedScores))
		for id := range linkedScores {
			ids = append(ids, id)
		}
		if len(ids) == 0 {
			break
		}
		memories, err := e.store.ListEpisodicMemories(ctx, &store.FindEpisodicMemory{IDs: ids})
		if err != nil {
			return err
		}

		frontier = frontier[:0]
		for _, memory := range memories {
			visited[memory.ID] = true
			linkedScore := linkedScores[memory.ID]
			if existing, ok := scored[memory.ID]; ok {
				if linkedScore > existing.Score {
					existing.Score = linkedScore
					existing.Hops = hop
				}
				continue
			}
			entry := &ScoredMemory{Memory: memory, Score: linkedScore, Hops: hop}
			scored[memory.ID] = entry
			frontier = append(frontier, entry)
		}
	}

	return nil
}

// touch records the access on every returned memory. Importance is
// decay-only after creation: the touched value is the decayed importance, and
// reinforcement is carried by the attention counter instead. Touch failures
// are logged, not surfaced; the ranking already happened.
func (e *Engine) touch(ctx context.Context, ranked []*ScoredMemory, now time.Time) {
	for _, entry := range ranked {
		memory := entry.Memory
		since := memory.Timestamp
		if memory.LastAccessed != nil {
			since = *memory.LastAccessed
		}
		err := e.store.TouchEpisodicMemory(ctx, &store.TouchEpisodicMemory{
			ID:         memory.ID,
			Importance: e.config.Salience.Decay(memory.Importance, now, since),
			AccessedAt: now,
		})
		if err != nil {
			slog.Warn("failed to touch memory", "memory_id", memory.ID, "error", err)
		}
	}
}

// rank orders the pool by score descending, breaking ties by more recent
// timestamp and finally by id so repeated calls over the same snapshot return
// the same order.
func rank(scored map[string]*ScoredMemory) []*ScoredMemory {
	ranked := make([]*ScoredMemory, 0, len(scored))
	for _, entry := range scored {
		ranked = append(ranked, entry)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		if !ranked[i].Memory.Timestamp.Equal(ranked[j].Memory.Timestamp) {
			return ranked[i].Memory.Timestamp.After(ranked[j].Memory.Timestamp)
		}
		return ranked[i].Memory.ID < ranked[j].Memory.ID
	})
	return ranked
}
