package memory

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/kirillkom/docqa/internal/core/domain"
)

// FocusStore keeps conversation focus in process memory. Entries expire
// after ttl of inactivity.
type FocusStore struct {
	cache *cache.Cache
}

func NewFocusStore(ttl time.Duration) *FocusStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &FocusStore{cache: cache.New(ttl, ttl/6)}
}

func (s *FocusStore) Focus(_ context.Context, conversationID string) (domain.FocusState, error) {
	if x, found := s.cache.Get(conversationID); found {
		return cloneFocus(x.(domain.FocusState)), nil
	}
	return domain.FocusState{}, nil
}

func (s *FocusStore) SaveFocus(_ context.Context, conversationID string, state domain.FocusState) error {
	s.cache.Set(conversationID, cloneFocus(state), cache.DefaultExpiration)
	return nil
}

func (s *FocusStore) Delete(conversationID string) {
	s.cache.Delete(conversationID)
}

func cloneFocus(state domain.FocusState) domain.FocusState {
	return domain.FocusState{
		ListedDocIDs:    append([]string(nil), state.ListedDocIDs...),
		DiscussedDocIDs: append([]string(nil), state.DiscussedDocIDs...),
	}
}
