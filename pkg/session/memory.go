package session

import (
	"context"
	"sync"
	"time"
)

type memoryToken struct {
	subject   string
	expiresAt time.Time
}

// MemoryTokenStore keeps tokens in process memory. Tokens do not survive a
// restart and are not shared between instances.
type MemoryTokenStore struct {
	mu     sync.Mutex
	tokens map[string]memoryToken
	now    func() time.Time
}

// NewMemoryTokenStore returns an empty store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]memoryToken), now: time.Now}
}

func (s *MemoryTokenStore) Issue(_ context.Context, purpose Purpose, subject string, ttl time.Duration) (string, error) {
	tok, err := GenerateToken()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[tokenKey(purpose, tok)] = memoryToken{subject: subject, expiresAt: s.now().Add(ttl)}
	return tok, nil
}

func (s *MemoryTokenStore) Consume(_ context.Context, purpose Purpose, token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	key := tokenKey(purpose, token)

	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[key]
	if !ok {
		return "", ErrInvalidToken
	}
	delete(s.tokens, key)
	if s.now().After(t.expiresAt) {
		return "", ErrInvalidToken
	}
	return t.subject, nil
}

func (s *MemoryTokenStore) Cleanup(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, t := range s.tokens {
		if now.After(t.expiresAt) {
			delete(s.tokens, k)
		}
	}
	return nil
}

// Len returns the number of stored tokens, expired ones included.
func (s *MemoryTokenStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}
