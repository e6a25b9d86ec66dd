package token

import (
	"context"
	"sync"
)

// MemoryStorage keeps tokens for the lifetime of the process.
type MemoryStorage struct {
	mu     sync.RWMutex
	tokens map[string]*Token
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{tokens: make(map[string]*Token)}
}

func (s *MemoryStorage) Save(_ context.Context, key string, tok *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[key] = tok.Clone()
	return nil
}

func (s *MemoryStorage) Load(_ context.Context, key string) (*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.tokens[key]
	if !ok {
		return nil, ErrNotFound
	}
	return tok.Clone(), nil
}

func (s *MemoryStorage) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, key)
	return nil
}
