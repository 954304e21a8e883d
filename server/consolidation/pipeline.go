// Package consolidation turns one raw interaction into a persisted, embedded,
// scored episodic memory.
package consolidation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/SilicateWielder/memlayer/plugin/ai"
	"github.com/SilicateWielder/memlayer/server/salience"
	"github.com/SilicateWielder/memlayer/server/trace"
	"github.com/SilicateWielder/memlayer/store"
)

// Store is the storage surface the pipeline needs.
type Store interface {
	UpsertConversation(ctx context.Context, upsert *store.UpsertConversation) (*store.Conversation, error)
	CreateInteraction(ctx context.Context, create *store.Interaction) (*store.Interaction, error)
	CreateEpisodicMemory(ctx context.Context, create *store.EpisodicMemory) (*store.EpisodicMemory, error)
}

// LinkInferencer proposes causal links for a newly consolidated memory.
type LinkInferencer interface {
	InferLinks(ctx context.Context, memory *store.EpisodicMemory, conversationID, userID string) ([]*store.CausalLink, error)
}

// Request carries one interaction to consolidate. ConversationID may be
// empty; a fresh conversation is created then.
type Request struct {
	ConversationID   string
	UserID           string
	UserMessage      string
	AssistantMessage string
}

// Result is the outcome of one consolidation call. Memory is nil when the
// call completed in the degraded state (interaction persisted, embedding
// unavailable). Trace records the steps that actually ran.
type Result struct {
	Interaction *store.Interaction
	Memory      *store.EpisodicMemory
	Links       []*store.CausalLink
	Trace       *trace.Trace
}

// Pipeline orchestrates consolidation. All collaborators are injected.
type Pipeline struct {
	store      Store
	embedder   ai.EmbeddingService
	inferencer LinkInferencer
	salience   salience.Config
}

// NewPipeline creates a consolidation pipeline. inferencer may be nil to
// disable causal inference.
func NewPipeline(s Store, embedder ai.EmbeddingService, inferencer LinkInferencer, salienceConfig salience.Config) *Pipeline {
	return &Pipeline{
		store:      s,
		embedder:   embedder,
		inferencer: inferencer,
		salience:   salienceConfig,
	}
}

// BuildMemoryContent derives the canonical memory text from one turn. The
// format is deterministic so re-consolidating an identical turn embeds
// identical content.
func BuildMemoryContent(userMessage, assistantMessage string) string {
	return fmt.Sprintf("User: %s\nAssistant: %s", userMessage, assistantMessage)
}

// Consolidate persists the interaction, embeds its canonical content, stores
// the resulting episodic memory, and infers causal links.
//
// The interaction write is the durability point: if the embedder fails or
// returns an invalid vector, the call still succeeds with Result.Memory nil.
// Causal inference failures are logged and never affect the memory write.
//
// Each call creates new rows. Retried requests are not deduplicated here;
// callers that need idempotent retries must deduplicate themselves.
func (p *Pipeline) Consolidate(ctx context.Context, req *Request) (*Result, error) {
	tr := trace.New("consolidate")
	result := &Result{Trace: tr}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.New().String()
	}
	now := time.Now().UTC()

	span := tr.Begin("upsert_conversation")
	conversation, err := p.store.UpsertConversation(ctx, &store.UpsertConversation{
		ID:       conversationID,
		UserID:   req.UserID,
		ActiveAt: now,
	})
	if err != nil {
		return nil, err
	}
	span.End()

	// Persist the interaction before any embedding work so the conversational
	// record survives embedder failures.
	span = tr.Begin("create_interaction")
	interaction, err := p.store.CreateInteraction(ctx, &store.Interaction{
		ConversationID:   conversation.ID,
		UserID:           req.UserID,
		Timestamp:        now,
		UserMessage:      req.UserMessage,
		AssistantMessage: req.AssistantMessage,
	})
	if err != nil {
		return nil, err
	}
	span.End()
	result.Interaction = interaction

	content := BuildMemoryContent(req.UserMessage, req.AssistantMessage)

	embedSpan := tr.Begin("embed_content")
	embedding, err := p.embedder.Embedding(ctx, content)
	if err != nil || len(embedding) == 0 {
		// Degraded success: the interaction is authoritative and is never
		// rolled back because the embedding step failed.
		slog.Warn("consolidation degraded: embedding unavailable",
			"interaction_id", interaction.ID,
			"error", err)
		return result, nil
	}
	embedSpan.SetMeta("dimensions", len(embedding)).End()

	span = tr.Begin("create_memory")
	memory, err := p.store.CreateEpisodicMemory(ctx, &store.EpisodicMemory{
		InteractionID: interaction.ID,
		Content:       content,
		Embedding:     embedding,
		Timestamp:     interaction.Timestamp,
		Importance:    p.salience.InitialImportance(content),
	})
	if err != nil {
		return nil, err
	}
	span.End()
	result.Memory = memory

	if p.inferencer != nil {
		span = tr.Begin("infer_links")
		links, err := p.inferencer.InferLinks(ctx, memory, conversation.ID, req.UserID)
		if err != nil {
			// Non-fatal: the memory write stands regardless.
			slog.Warn("causal link inference failed",
				"memory_id", memory.ID,
				"error", err)
		} else {
			result.Links = links
			span.SetMeta("links", len(links)).End()
		}
	}

	return result, nil
}
