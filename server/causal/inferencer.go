// Package causal infers directed, typed, strength-weighted links between a
// newly consolidated memory and the existing memory set.
package causal

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/SilicateWielder/memlayer/internal/errors"
	"github.com/SilicateWielder/memlayer/store"
)

// Store is the storage surface the inferencer needs.
type Store interface {
	ListEpisodicMemories(ctx context.Context, find *store.FindEpisodicMemory) ([]*store.EpisodicMemory, error)
	SearchMemoriesByVector(ctx context.Context, opts *store.VectorSearchOptions) ([]*store.MemoryWithScore, error)
	UpsertCausalLinks(ctx context.Context, upserts []*store.CausalLink) ([]*store.CausalLink, error)
}

// Config holds the link-inference tuning constants.
type Config struct {
	// RecentWindow bounds the same-conversation candidate pool.
	RecentWindow int
	// SimilarLimit bounds the cross-history similarity candidates.
	SimilarLimit int
	// MinStrength is the write threshold; weaker candidate links are dropped
	// to keep coincidental correlations out of the graph.
	MinStrength float64
	// TemporalWindow scales the temporal-proximity signal: a candidate this
	// far away in time scores ~1/e on the temporal axis.
	TemporalWindow time.Duration
	// Signal weights for the strength blend.
	TemporalWeight   float64
	SimilarityWeight float64
	LexicalWeight    float64
}

// DefaultConfig returns the default inference configuration.
func DefaultConfig() Config {
	return Config{
		RecentWindow:     20,
		SimilarLimit:     10,
		MinStrength:      0.3,
		TemporalWindow:   24 * time.Hour,
		TemporalWeight:   0.35,
		SimilarityWeight: 0.45,
		LexicalWeight:    0.20,
	}
}

// Inferencer proposes causal links for newly consolidated memories.
type Inferencer struct {
	store  Store
	config Config
}

// NewInferencer creates an inferencer over the given store.
func NewInferencer(s Store, config Config) *Inferencer {
	if config.RecentWindow <= 0 {
		config.RecentWindow = DefaultConfig().RecentWindow
	}
	if config.SimilarLimit <= 0 {
		config.SimilarLimit = DefaultConfig().SimilarLimit
	}
	if config.TemporalWindow <= 0 {
		config.TemporalWindow = DefaultConfig().TemporalWindow
	}
	return &Inferencer{store: s, config: config}
}

// InferLinks relates memory to the user's existing memories and persists the
// links whose strength clears the threshold. The candidate pool is the most
// recent memories of the same conversation plus the most similar memories
// across the user's history, so topical causality is caught alongside
// temporal adjacency. Re-inference for an existing (cause, effect, type)
// updates strength in place.
func (inf *Inferencer) InferLinks(ctx context.Context, memory *store.EpisodicMemory, conversationID, userID string) ([]*store.CausalLink, error) {
	candidates, err := inf.gatherCandidates(ctx, memory, conversationID, userID)
	if err != nil {
		return nil, apperrors.CausalInference(err)
	}

	links := make([]*store.CausalLink, 0, len(candidates))
	for _, candidate := range candidates {
		link := inf.scoreCandidate(memory, candidate)
		if link == nil {
			continue
		}
		links = append(links, link)
	}
	if len(links) == 0 {
		return nil, nil
	}

	written, err := inf.store.UpsertCausalLinks(ctx, links)
	if err != nil {
		return nil, apperrors.CausalInference(err)
	}

	slog.Debug("causal links inferred",
		"memory_id", memory.ID,
		"candidates", len(candidates),
		"links", len(written))
	return written, nil
}

// gatherCandidates fetches the two candidate sets concurrently and merges
// them, deduplicated by memory id.
func (inf *Inferencer) gatherCandidates(ctx context.Context, memory *store.EpisodicMemory, conversationID, userID string) ([]*store.EpisodicMemory, error) {
	var recent []*store.EpisodicMemory
	var similar []*store.MemoryWithScore

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		recent, err = inf.store.ListEpisodicMemories(gctx, &store.FindEpisodicMemory{
			ConversationID: &conversationID,
			Limit:          inf.config.RecentWindow,
		})
		return err
	})
	g.Go(func() error {
		var err error
		similar, err = inf.store.SearchMemoriesByVector(gctx, &store.VectorSearchOptions{
			UserID: userID,
			Vector: memory.Embedding,
			Limit:  inf.config.SimilarLimit,
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := map[string]bool{memory.ID: true}
	candidates := make([]*store.EpisodicMemory, 0, len(recent)+len(similar))
	for _, m := range recent {
		if !seen[m.ID] {
			seen[m.ID] = true
			candidates = append(candidates, m)
		}
	}
	for _, ms := range similar {
		if !seen[ms.Memory.ID] {
			seen[ms.Memory.ID] = true
			candidates = append(candidates, ms.Memory)
		}
	}
	return candidates, nil
}

// scoreCandidate blends the temporal, embedding, and lexical signals into a
// link strength, or returns nil when the candidate falls below threshold.
// The older memory is the cause; the link type follows the dominant signal,
// with ties going to "topical".
func (inf *Inferencer) scoreCandidate(memory, candidate *store.EpisodicMemory) *store.CausalLink {
	temporal := inf.temporalProximity(memory.Timestamp, candidate.Timestamp)
	similarity := embeddingSimilarity(memory.Embedding, candidate.Embedding)
	lexical := lexicalOverlap(memory.Content, candidate.Content)

	temporalSignal := inf.config.TemporalWeight * temporal
	topicalSignal := inf.config.SimilarityWeight*similarity + inf.config.LexicalWeight*lexical
	strength := temporalSignal + topicalSignal
	if strength < inf.config.MinStrength {
		return nil
	}

	linkType := store.LinkTypeTopical
	if temporalSignal > topicalSignal {
		linkType = store.LinkTypeTemporal
	}

	cause, effect := candidate, memory
	if memory.Timestamp.Before(candidate.Timestamp) {
		cause, effect = memory, candidate
	}

	return &store.CausalLink{
		CauseID:  cause.ID,
		EffectID: effect.ID,
		Strength: store.Clamp01(strength),
		Type:     linkType,
	}
}

// temporalProximity maps the absolute time gap onto (0,1]: identical
// timestamps score 1, a gap of TemporalWindow scores 1/e.
func (inf *Inferencer) temporalProximity(a, b time.Time) float64 {
	gap := a.Sub(b)
	if gap < 0 {
		gap = -gap
	}
	return math.Exp(-float64(gap) / float64(inf.config.TemporalWindow))
}

// embeddingSimilarity is cosine similarity floored at zero; anti-correlated
// vectors carry no causal signal.
func embeddingSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if cos < 0 {
		return 0
	}
	return cos
}

// lexicalOverlap is the Jaccard index of the lowercased token sets.
func lexicalOverlap(a, b string) float64 {
	tokensA := tokenSet(a)
	tokensB := tokenSet(b)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}
	intersection := 0
	for token := range tokensA {
		if tokensB[token] {
			intersection++
		}
	}
	union := len(tokensA) + len(tokensB) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		token = strings.Trim(token, ".,!?;:\"'()[]")
		if token != "" {
			set[token] = true
		}
	}
	return set
}
