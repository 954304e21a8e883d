package consolidation

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/SilicateWielder/memlayer/plugin/ai"
	"github.com/SilicateWielder/memlayer/server/salience"
	"github.com/SilicateWielder/memlayer/store"
)

type fakeStore struct {
	conversations map[string]*store.Conversation
	interactions  []*store.Interaction
	memories      []*store.EpisodicMemory

	interactionErr error
	memoryErr      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{conversations: make(map[string]*store.Conversation)}
}

func (f *fakeStore) UpsertConversation(_ context.Context, upsert *store.UpsertConversation) (*store.Conversation, error) {
	conversation, ok := f.conversations[upsert.ID]
	if !ok {
		conversation = &store.Conversation{
			ID:        upsert.ID,
			UserID:    upsert.UserID,
			CreatedAt: upsert.ActiveAt,
		}
		f.conversations[upsert.ID] = conversation
	}
	conversation.LastActive = upsert.ActiveAt
	return conversation, nil
}

func (f *fakeStore) CreateInteraction(_ context.Context, create *store.Interaction) (*store.Interaction, error) {
	if f.interactionErr != nil {
		return nil, f.interactionErr
	}
	create.ID = "interaction-1"
	f.interactions = append(f.interactions, create)
	return create, nil
}

func (f *fakeStore) CreateEpisodicMemory(_ context.Context, create *store.EpisodicMemory) (*store.EpisodicMemory, error) {
	if f.memoryErr != nil {
		return nil, f.memoryErr
	}
	create.ID = "memory-1"
	f.memories = append(f.memories, create)
	return create, nil
}

type fakeInferencer struct {
	links []*store.CausalLink
	err   error

	gotMemoryID string
}

func (f *fakeInferencer) InferLinks(_ context.Context, memory *store.EpisodicMemory, _, _ string) ([]*store.CausalLink, error) {
	f.gotMemoryID = memory.ID
	return f.links, f.err
}

func TestBuildMemoryContent(t *testing.T) {
	got := BuildMemoryContent("I love sailing", "Noted!")
	require.Equal(t, "User: I love sailing\nAssistant: Noted!", got)
}

func TestConsolidate(t *testing.T) {
	embedder := &ai.StaticEmbedder{Vector: []float32{0.1, 0.2, 0.3}}

	t.Run("full path creates interaction, memory, and links", func(t *testing.T) {
		fs := newFakeStore()
		inferencer := &fakeInferencer{links: []*store.CausalLink{{CauseID: "a", EffectID: "memory-1"}}}
		p := NewPipeline(fs, embedder, inferencer, salience.DefaultConfig())

		result, err := p.Consolidate(context.Background(), &Request{
			ConversationID:   "conv-1",
			UserID:           "user-1",
			UserMessage:      "I adopted a cat",
			AssistantMessage: "Congratulations!",
		})
		require.NoError(t, err)

		require.NotNil(t, result.Interaction)
		require.Equal(t, "conv-1", result.Interaction.ConversationID)
		require.Equal(t, "user-1", result.Interaction.UserID)

		require.NotNil(t, result.Memory)
		require.Equal(t, "User: I adopted a cat\nAssistant: Congratulations!", result.Memory.Content)
		require.Equal(t, []float32{0.1, 0.2, 0.3}, result.Memory.Embedding)
		require.InDelta(t, 0.5, result.Memory.Importance, 1e-9)
		require.Zero(t, result.Memory.AttentionCount)
		require.Nil(t, result.Memory.LastAccessed)
		require.Equal(t, result.Interaction.Timestamp, result.Memory.Timestamp)

		require.Len(t, result.Links, 1)
		require.Equal(t, "memory-1", inferencer.gotMemoryID)

		require.True(t, result.Trace.HasEvent("create_interaction"))
		require.True(t, result.Trace.HasEvent("create_memory"))
	})

	t.Run("empty conversation id creates a fresh conversation", func(t *testing.T) {
		fs := newFakeStore()
		p := NewPipeline(fs, embedder, nil, salience.DefaultConfig())

		result, err := p.Consolidate(context.Background(), &Request{
			UserID:           "user-1",
			UserMessage:      "hello",
			AssistantMessage: "hi",
		})
		require.NoError(t, err)
		require.NotEmpty(t, result.Interaction.ConversationID)
		require.Len(t, fs.conversations, 1)
	})

	t.Run("embedder failure degrades instead of failing", func(t *testing.T) {
		fs := newFakeStore()
		failing := &ai.StaticEmbedder{Err: errors.New("provider down")}
		p := NewPipeline(fs, failing, &fakeInferencer{}, salience.DefaultConfig())

		result, err := p.Consolidate(context.Background(), &Request{
			ConversationID:   "conv-1",
			UserID:           "user-1",
			UserMessage:      "remember this",
			AssistantMessage: "ok",
		})
		require.NoError(t, err, "interaction persistence must survive embedder failure")
		require.NotNil(t, result.Interaction)
		require.Nil(t, result.Memory)
		require.Empty(t, result.Links)
		require.Len(t, fs.interactions, 1)
		require.Empty(t, fs.memories)
		require.False(t, result.Trace.HasEvent("embed_content"))
	})

	t.Run("empty embedding vector degrades too", func(t *testing.T) {
		fs := newFakeStore()
		p := NewPipeline(fs, &ai.StaticEmbedder{Vector: nil}, nil, salience.DefaultConfig())

		result, err := p.Consolidate(context.Background(), &Request{
			ConversationID:   "conv-1",
			UserID:           "user-1",
			UserMessage:      "x",
			AssistantMessage: "y",
		})
		require.NoError(t, err)
		require.Nil(t, result.Memory)
	})

	t.Run("interaction write failure fails the call", func(t *testing.T) {
		fs := newFakeStore()
		fs.interactionErr = errors.New("disk full")
		p := NewPipeline(fs, embedder, nil, salience.DefaultConfig())

		_, err := p.Consolidate(context.Background(), &Request{
			ConversationID:   "conv-1",
			UserID:           "user-1",
			UserMessage:      "x",
			AssistantMessage: "y",
		})
		require.Error(t, err)
	})

	t.Run("inference failure is non-fatal", func(t *testing.T) {
		fs := newFakeStore()
		inferencer := &fakeInferencer{err: errors.New("graph unavailable")}
		p := NewPipeline(fs, embedder, inferencer, salience.DefaultConfig())

		result, err := p.Consolidate(context.Background(), &Request{
			ConversationID:   "conv-1",
			UserID:           "user-1",
			UserMessage:      "x",
			AssistantMessage: "y",
		})
		require.NoError(t, err)
		require.NotNil(t, result.Memory)
		require.Empty(t, result.Links)
	})

	t.Run("salience heuristic drives initial importance", func(t *testing.T) {
		fs := newFakeStore()
		config := salience.DefaultConfig()
		config.Heuristic = func(string) float64 { return 0.8 }
		p := NewPipeline(fs, embedder, nil, config)

		result, err := p.Consolidate(context.Background(), &Request{
			ConversationID:   "conv-1",
			UserID:           "user-1",
			UserMessage:      "important thing",
			AssistantMessage: "got it",
		})
		require.NoError(t, err)
		require.InDelta(t, 0.8, result.Memory.Importance, 1e-9)
	})
}

func TestConsolidateTimestamps(t *testing.T) {
	fs := newFakeStore()
	p := NewPipeline(fs, &ai.StaticEmbedder{Vector: []float32{1}}, nil, salience.DefaultConfig())

	before := time.Now().UTC()
	result, err := p.Consolidate(context.Background(), &Request{
		ConversationID:   "conv-1",
		UserID:           "user-1",
		UserMessage:      "x",
		AssistantMessage: "y",
	})
	after := time.Now().UTC()

	require.NoError(t, err)
	ts := result.Interaction.Timestamp
	require.False(t, ts.Before(before))
	require.False(t, ts.After(after))
}
