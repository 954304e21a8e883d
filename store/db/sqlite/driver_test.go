package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/SilicateWielder/memlayer/internal/errors"
	"github.com/SilicateWielder/memlayer/internal/profile"
	"github.com/SilicateWielder/memlayer/store"
)

func newTestDriver(t *testing.T) store.Driver {
	t.Helper()
	p := &profile.Profile{
		Mode:   "dev",
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "memlayer_test.db"),
	}
	driver, err := NewDB(p)
	require.NoError(t, err)

	st := store.New(driver, p)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() {
		_ = st.Close()
	})
	return driver
}

func seedInteraction(t *testing.T, driver store.Driver, conversationID, userID string) *store.Interaction {
	t.Helper()
	ctx := context.Background()
	_, err := driver.UpsertConversation(ctx, &store.UpsertConversation{ID: conversationID, UserID: userID})
	require.NoError(t, err)
	interaction, err := driver.CreateInteraction(ctx, &store.Interaction{
		ConversationID:   conversationID,
		UserID:           userID,
		UserMessage:      "I adopted a cat",
		AssistantMessage: "Congratulations!",
	})
	require.NoError(t, err)
	return interaction
}

func seedMemory(t *testing.T, driver store.Driver, interactionID string) *store.EpisodicMemory {
	t.Helper()
	memory, err := driver.CreateEpisodicMemory(context.Background(), &store.EpisodicMemory{
		InteractionID: interactionID,
		Content:       "User: I adopted a cat\nAssistant: Congratulations!",
		Embedding:     []float32{0.1, 0.2, 0.3},
		Importance:    0.5,
	})
	require.NoError(t, err)
	return memory
}

func TestUpsertConversationConverges(t *testing.T) {
	driver := newTestDriver(t)
	ctx := context.Background()

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			_, err := driver.UpsertConversation(ctx, &store.UpsertConversation{ID: "conv-1", UserID: "user-1"})
			return err
		})
	}
	require.NoError(t, g.Wait())

	var count int
	err := driver.GetDB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations WHERE id = ?`, "conv-1").Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	id := "conv-1"
	conversation, err := driver.GetConversation(ctx, &store.FindConversation{ID: &id})
	require.NoError(t, err)
	require.NotNil(t, conversation)
	require.Equal(t, "user-1", conversation.UserID)
}

func TestUpsertCausalLinksUpdatesInPlace(t *testing.T) {
	driver := newTestDriver(t)
	ctx := context.Background()

	cause := seedMemory(t, driver, seedInteraction(t, driver, "conv-1", "user-1").ID)
	effect := seedMemory(t, driver, seedInteraction(t, driver, "conv-2", "user-1").ID)

	first, err := driver.UpsertCausalLinks(ctx, []*store.CausalLink{{
		CauseID:  cause.ID,
		EffectID: effect.ID,
		Strength: 0.4,
		Type:     store.LinkTypeTemporal,
	}})
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := driver.UpsertCausalLinks(ctx, []*store.CausalLink{{
		CauseID:  cause.ID,
		EffectID: effect.ID,
		Strength: 0.9,
		Type:     store.LinkTypeTemporal,
	}})
	require.NoError(t, err)
	require.Equal(t, first[0].ID, second[0].ID)

	links, err := driver.ListCausalLinks(ctx, &store.FindCausalLink{MemoryID: &cause.ID})
	require.NoError(t, err)
	require.Len(t, links, 1)
	require.InDelta(t, 0.9, links[0].Strength, 1e-9)

	// A different type on the same pair is a distinct edge.
	_, err = driver.UpsertCausalLinks(ctx, []*store.CausalLink{{
		CauseID:  cause.ID,
		EffectID: effect.ID,
		Strength: 0.6,
		Type:     store.LinkTypeTopical,
	}})
	require.NoError(t, err)

	links, err = driver.ListCausalLinks(ctx, &store.FindCausalLink{MemoryID: &cause.ID})
	require.NoError(t, err)
	require.Len(t, links, 2)
}

func TestTouchEpisodicMemoryIncrementsAttention(t *testing.T) {
	driver := newTestDriver(t)
	ctx := context.Background()

	memory := seedMemory(t, driver, seedInteraction(t, driver, "conv-1", "user-1").ID)
	require.Zero(t, memory.AttentionCount)

	accessedAt := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, driver.TouchEpisodicMemory(ctx, &store.TouchEpisodicMemory{
		ID: memory.ID, Importance: 0.45, AccessedAt: accessedAt,
	}))
	require.NoError(t, driver.TouchEpisodicMemory(ctx, &store.TouchEpisodicMemory{
		ID: memory.ID, Importance: 0.4, AccessedAt: accessedAt.Add(time.Minute),
	}))

	memories, err := driver.ListEpisodicMemories(ctx, &store.FindEpisodicMemory{IDs: []string{memory.ID}})
	require.NoError(t, err)
	require.Len(t, memories, 1)
	require.Equal(t, 2, memories[0].AttentionCount)
	require.InDelta(t, 0.4, memories[0].Importance, 1e-9)
	require.NotNil(t, memories[0].LastAccessed)
	require.True(t, memories[0].LastAccessed.Equal(accessedAt.Add(time.Minute)))
}

func TestTouchEpisodicMemoryConcurrentAccess(t *testing.T) {
	driver := newTestDriver(t)
	ctx := context.Background()

	memory := seedMemory(t, driver, seedInteraction(t, driver, "conv-1", "user-1").ID)

	var g errgroup.Group
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			return driver.TouchEpisodicMemory(ctx, &store.TouchEpisodicMemory{
				ID: memory.ID, Importance: 0.5, AccessedAt: time.Now().UTC(),
			})
		})
	}
	require.NoError(t, g.Wait())

	memories, err := driver.ListEpisodicMemories(ctx, &store.FindEpisodicMemory{IDs: []string{memory.ID}})
	require.NoError(t, err)
	require.Len(t, memories, 1)
	require.Equal(t, 10, memories[0].AttentionCount)
}

func TestDanglingReferencesRejected(t *testing.T) {
	driver := newTestDriver(t)
	memory := seedMemory(t, driver, seedInteraction(t, driver, "conv-1", "user-1").ID)

	t.Run("memory without interaction", func(t *testing.T) {
		_, err := driver.CreateEpisodicMemory(context.Background(), &store.EpisodicMemory{
			InteractionID: "no-such-interaction",
			Content:       "orphan",
			Embedding:     []float32{0.1},
		})
		require.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
	})

	t.Run("interaction without conversation", func(t *testing.T) {
		_, err := driver.CreateInteraction(context.Background(), &store.Interaction{
			ConversationID: "no-such-conversation",
			UserID:         "user-1",
			UserMessage:    "hello",
		})
		require.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
	})

	t.Run("link with missing endpoint", func(t *testing.T) {
		_, err := driver.UpsertCausalLinks(context.Background(), []*store.CausalLink{{
			CauseID:  memory.ID,
			EffectID: "no-such-memory",
			Strength: 0.5,
			Type:     store.LinkTypeTemporal,
		}})
		require.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
	})

	// A rejected write must release its transaction; with a single sqlite
	// connection a leaked one would block every later call.
	t.Run("driver stays usable after rejections", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		conversation, err := driver.UpsertConversation(ctx, &store.UpsertConversation{ID: "conv-2", UserID: "user-1"})
		require.NoError(t, err)
		require.Equal(t, "conv-2", conversation.ID)

		memories, err := driver.ListEpisodicMemories(ctx, &store.FindEpisodicMemory{IDs: []string{memory.ID}})
		require.NoError(t, err)
		require.Len(t, memories, 1)
	})
}

func TestSearchMemoriesByVectorRanksByCosine(t *testing.T) {
	driver := newTestDriver(t)
	ctx := context.Background()

	for i, embedding := range [][]float32{
		{1, 0, 0},
		{0.7, 0.7, 0},
		{0, 1, 0},
	} {
		interaction := seedInteraction(t, driver, fmt.Sprintf("conv-%d", i), "user-1")
		_, err := driver.CreateEpisodicMemory(ctx, &store.EpisodicMemory{
			InteractionID: interaction.ID,
			Content:       fmt.Sprintf("memory %d", i),
			Embedding:     embedding,
			Importance:    0.5,
		})
		require.NoError(t, err)
	}

	results, err := driver.SearchMemoriesByVector(ctx, &store.VectorSearchOptions{
		UserID: "user-1",
		Vector: []float32{1, 0, 0},
		Limit:  2,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "memory 0", results[0].Memory.Content)
	require.InDelta(t, 1.0, results[0].Score, 1e-6)
	require.Equal(t, "memory 1", results[1].Memory.Content)
	require.Greater(t, results[0].Score, results[1].Score)
}
