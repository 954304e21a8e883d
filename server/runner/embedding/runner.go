// Package embedding backfills episodic memories for interactions that were
// persisted without one because the embedder was unavailable at write time.
package embedding

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/SilicateWielder/memlayer/plugin/ai"
	"github.com/SilicateWielder/memlayer/server/consolidation"
	"github.com/SilicateWielder/memlayer/server/salience"
	"github.com/SilicateWielder/memlayer/store"
)

// Store is the storage surface the runner needs.
type Store interface {
	ListInteractions(ctx context.Context, find *store.FindInteraction) ([]*store.Interaction, error)
	CreateEpisodicMemory(ctx context.Context, create *store.EpisodicMemory) (*store.EpisodicMemory, error)
}

// LinkInferencer connects a backfilled memory into the causal graph.
type LinkInferencer interface {
	InferLinks(ctx context.Context, memory *store.EpisodicMemory, conversationID, userID string) ([]*store.CausalLink, error)
}

// Reporter receives backfill counts. *stats.Collector satisfies it.
type Reporter interface {
	RecordBackfill(count int)
}

// Runner periodically sweeps for degraded interactions and completes them.
type Runner struct {
	store      Store
	embedder   ai.EmbeddingService
	inferencer LinkInferencer
	reporter   Reporter
	salience   salience.Config

	interval    time.Duration
	batchSize   int
	concurrency int64
}

// Option configures a Runner.
type Option func(*Runner)

// WithInterval sets the sweep interval.
func WithInterval(interval time.Duration) Option {
	return func(r *Runner) { r.interval = interval }
}

// WithBatchSize sets how many degraded interactions one sweep picks up.
func WithBatchSize(size int) Option {
	return func(r *Runner) { r.batchSize = size }
}

// WithConcurrency bounds concurrent embedding calls per sweep.
func WithConcurrency(n int64) Option {
	return func(r *Runner) { r.concurrency = n }
}

// WithInferencer enables causal link inference for backfilled memories.
func WithInferencer(inferencer LinkInferencer) Option {
	return func(r *Runner) { r.inferencer = inferencer }
}

// WithReporter wires a stats sink.
func WithReporter(reporter Reporter) Option {
	return func(r *Runner) { r.reporter = reporter }
}

// NewRunner creates an embedding backfill runner.
func NewRunner(s Store, embedder ai.EmbeddingService, salienceConfig salience.Config, opts ...Option) *Runner {
	r := &Runner{
		store:       s,
		embedder:    embedder,
		salience:    salienceConfig,
		interval:    2 * time.Minute,
		batchSize:   32,
		concurrency: 3,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run sweeps once on startup and then on every interval tick until the
// context is cancelled.
func (r *Runner) Run(ctx context.Context) {
	r.RunOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.RunOnce(ctx)
		case <-ctx.Done():
			slog.Info("embedding backfill runner stopped")
			return
		}
	}
}

// RunOnce performs a single sweep. Per-interaction failures are logged and
// left for the next sweep; the interaction record itself is never touched.
func (r *Runner) RunOnce(ctx context.Context) {
	interactions, err := r.store.ListInteractions(ctx, &store.FindInteraction{
		WithoutMemory: true,
		Limit:         r.batchSize,
	})
	if err != nil {
		slog.Error("failed to list degraded interactions", "error", err)
		return
	}
	if len(interactions) == 0 {
		return
	}

	slog.Info("backfilling episodic memories", "count", len(interactions))

	sem := semaphore.NewWeighted(r.concurrency)
	done := make(chan bool, len(interactions))
	launched := 0

	for _, interaction := range interactions {
		if err := sem.Acquire(ctx, 1); err != nil {
			slog.Info("backfill sweep cancelled", "error", err)
			break
		}
		launched++
		go func(interaction *store.Interaction) {
			defer sem.Release(1)
			done <- r.backfill(ctx, interaction)
		}(interaction)
	}

	backfilled := 0
	for i := 0; i < launched; i++ {
		if <-done {
			backfilled++
		}
	}

	if backfilled > 0 && r.reporter != nil {
		r.reporter.RecordBackfill(backfilled)
	}
}

func (r *Runner) backfill(ctx context.Context, interaction *store.Interaction) bool {
	content := consolidation.BuildMemoryContent(interaction.UserMessage, interaction.AssistantMessage)

	vector, err := r.embedder.Embedding(ctx, content)
	if err != nil || len(vector) == 0 {
		slog.Warn("backfill embedding failed", "interaction_id", interaction.ID, "error", err)
		return false
	}

	memory, err := r.store.CreateEpisodicMemory(ctx, &store.EpisodicMemory{
		InteractionID: interaction.ID,
		Content:       content,
		Embedding:     vector,
		Timestamp:     interaction.Timestamp,
		Importance:    r.salience.InitialImportance(content),
	})
	if err != nil {
		slog.Error("failed to create backfilled memory", "interaction_id", interaction.ID, "error", err)
		return false
	}

	if r.inferencer != nil {
		if _, err := r.inferencer.InferLinks(ctx, memory, interaction.ConversationID, interaction.UserID); err != nil {
			slog.Warn("backfill link inference failed", "memory_id", memory.ID, "error", err)
		}
	}
	return true
}
