package state

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps conversations in process. Values are copied on the way in and out so
// callers never share a cart with the store.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string][]byte)}
}

func (s *MemoryStore) Load(ctx context.Context, conversationID string) (*Conversation, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, ErrInvalidSession
	}

	s.mu.RLock()
	raw, ok := s.items[conversationID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrStateNotFound
	}

	var conv Conversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		return nil, fmt.Errorf("unmarshal conversation: %w", err)
	}
	return &conv, nil
}

func (s *MemoryStore) Save(ctx context.Context, conv *Conversation) error {
	if err := prepareForSave(conv); err != nil {
		return err
	}
	raw, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}

	s.mu.Lock()
	s.items[conv.ID] = raw
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, conversationID string) error {
	if strings.TrimSpace(conversationID) == "" {
		return ErrInvalidSession
	}
	s.mu.Lock()
	delete(s.items, conversationID)
	s.mu.Unlock()
	return nil
}
