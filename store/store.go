package store

import (
	"context"
	"time"

	"github.com/SilicateWielder/memlayer/internal/profile"
	"github.com/SilicateWielder/memlayer/store/cache"
)

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver

	// Cache for hot conversation rows. Writes go through the driver first;
	// the cache only ever holds rows that exist.
	conversationCache *cache.Cache
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
		conversationCache: cache.New(cache.Config{
			DefaultTTL:      10 * time.Minute,
			CleanupInterval: 5 * time.Minute,
			MaxItems:        1000,
		}),
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	s.conversationCache.Close()
	return s.driver.Close()
}

// UpsertConversation finds or creates a conversation. The driver-level upsert
// is the synchronization point for concurrent consolidations on the same id.
func (s *Store) UpsertConversation(ctx context.Context, upsert *UpsertConversation) (*Conversation, error) {
	conversation, err := s.driver.UpsertConversation(ctx, upsert)
	if err != nil {
		return nil, err
	}
	s.conversationCache.Set(conversation.ID, conversation)
	return conversation, nil
}

func (s *Store) GetConversation(ctx context.Context, find *FindConversation) (*Conversation, error) {
	if find.ID != nil && find.UserID == nil {
		if v, ok := s.conversationCache.Get(*find.ID); ok {
			return v.(*Conversation), nil
		}
	}
	conversation, err := s.driver.GetConversation(ctx, find)
	if err != nil {
		return nil, err
	}
	if conversation != nil {
		s.conversationCache.Set(conversation.ID, conversation)
	}
	return conversation, nil
}

func (s *Store) CreateInteraction(ctx context.Context, create *Interaction) (*Interaction, error) {
	interaction, err := s.driver.CreateInteraction(ctx, create)
	if err != nil {
		return nil, err
	}
	// The interaction bumped last_active; drop any stale cached row.
	s.conversationCache.Delete(interaction.ConversationID)
	return interaction, nil
}

func (s *Store) UpdateInteraction(ctx context.Context, update *UpdateInteraction) error {
	return s.driver.UpdateInteraction(ctx, update)
}

func (s *Store) ListInteractions(ctx context.Context, find *FindInteraction) ([]*Interaction, error) {
	return s.driver.ListInteractions(ctx, find)
}

func (s *Store) CreateEpisodicMemory(ctx context.Context, create *EpisodicMemory) (*EpisodicMemory, error) {
	create.Importance = Clamp01(create.Importance)
	return s.driver.CreateEpisodicMemory(ctx, create)
}

func (s *Store) ListEpisodicMemories(ctx context.Context, find *FindEpisodicMemory) ([]*EpisodicMemory, error) {
	return s.driver.ListEpisodicMemories(ctx, find)
}

func (s *Store) SearchMemoriesByVector(ctx context.Context, opts *VectorSearchOptions) ([]*MemoryWithScore, error) {
	return s.driver.SearchMemoriesByVector(ctx, opts)
}

func (s *Store) TouchEpisodicMemory(ctx context.Context, touch *TouchEpisodicMemory) error {
	touch.Importance = Clamp01(touch.Importance)
	return s.driver.TouchEpisodicMemory(ctx, touch)
}

func (s *Store) UpsertCausalLinks(ctx context.Context, upserts []*CausalLink) ([]*CausalLink, error) {
	for _, link := range upserts {
		link.Strength = Clamp01(link.Strength)
	}
	return s.driver.UpsertCausalLinks(ctx, upserts)
}

func (s *Store) ListCausalLinks(ctx context.Context, find *FindCausalLink) ([]*CausalLink, error) {
	return s.driver.ListCausalLinks(ctx, find)
}

// Clamp01 clamps v to [0,1]. Importance and link strength always pass through
// here before hitting the driver.
func Clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
