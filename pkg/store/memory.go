package store

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps everything in process memory. Records are copied on the
// way in and out so callers never share state with the store.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]User
	emails    map[string]string // email -> user ID
	messages  map[string][]ChatMessage
	questions map[string]Question
	attempts  map[string][]Attempt
	taxonomy  map[string]TaxonomyEntry

	now func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]User),
		emails:    make(map[string]string),
		messages:  make(map[string][]ChatMessage),
		questions: make(map[string]Question),
		attempts:  make(map[string][]Attempt),
		taxonomy:  make(map[string]TaxonomyEntry),
		now:       time.Now,
	}
}

func (s *MemoryStore) CreateUser(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prepareUser(u, s.now())
	if _, taken := s.emails[u.Email]; taken {
		return ErrDuplicate
	}
	s.users[u.ID] = *u
	s.emails[u.Email] = u.ID
	return nil
}

func (s *MemoryStore) UserByID(_ context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (s *MemoryStore) UserByEmail(_ context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.emails[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, ErrNotFound
	}
	u := s.users[id]
	return &u, nil
}

func (s *MemoryStore) UpdateUser(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.users[u.ID]
	if !ok {
		return ErrNotFound
	}
	prepareUser(u, s.now())
	if owner, taken := s.emails[u.Email]; taken && owner != u.ID {
		return ErrDuplicate
	}
	delete(s.emails, old.Email)
	s.users[u.ID] = *u
	s.emails[u.Email] = u.ID
	return nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, m *ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == "" {
		m.ID = newID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	s.messages[m.UserID] = append(s.messages[m.UserID], *m)
	return nil
}

func (s *MemoryStore) RecentMessages(_ context.Context, userID string, limit int) ([]ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[userID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return slices.Clone(msgs), nil
}

func (s *MemoryStore) ClearMessages(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.messages[userID])
	delete(s.messages, userID)
	return n, nil
}

func (s *MemoryStore) PutQuestion(_ context.Context, q *Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if q.ID == "" {
		q.ID = newID()
	}
	cp := *q
	cp.Tags = slices.Clone(q.Tags)
	s.questions[q.ID] = cp
	return nil
}

func (s *MemoryStore) Question(_ context.Context, id string) (*Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.questions[id]
	if !ok {
		return nil, ErrNotFound
	}
	q.Tags = slices.Clone(q.Tags)
	return &q, nil
}

func (s *MemoryStore) ListQuestions(_ context.Context, f QuestionFilter) ([]Question, int, error) {
	f = f.Normalize()

	s.mu.RLock()
	var matched []Question
	for _, q := range s.questions {
		if f.Subject != "" && !strings.EqualFold(q.Subject, f.Subject) {
			continue
		}
		if f.Topic != "" && !strings.EqualFold(q.Topic, f.Topic) {
			continue
		}
		if f.Difficulty != "" && !strings.EqualFold(q.Difficulty, f.Difficulty) {
			continue
		}
		if f.Year != 0 && q.Year != f.Year {
			continue
		}
		if !matchesSearch(&q, f.Search) {
			continue
		}
		q.Tags = slices.Clone(q.Tags)
		matched = append(matched, q)
	}
	s.mu.RUnlock()

	slices.SortFunc(matched, func(a, b Question) int {
		if c := cmp.Compare(b.Year, a.Year); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	total := len(matched)
	if f.Offset >= total {
		return []Question{}, total, nil
	}
	end := min(f.Offset+f.Limit, total)
	return matched[f.Offset:end], total, nil
}

func (s *MemoryStore) CreateAttempt(_ context.Context, a *Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = newID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	s.attempts[a.UserID] = append(s.attempts[a.UserID], *a)
	return nil
}

func (s *MemoryStore) ListAttempts(_ context.Context, userID string, limit int) ([]Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.attempts[userID]
	out := make([]Attempt, 0, len(src))
	for i := len(src) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, src[i])
	}
	return out, nil
}

func (s *MemoryStore) PutTaxonomy(_ context.Context, entries []TaxonomyEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		prepareEntry(&e)
		s.taxonomy[e.ID] = e
	}
	return nil
}

func (s *MemoryStore) ListTaxonomy(_ context.Context, subject string) ([]TaxonomyEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]TaxonomyEntry, 0, len(s.taxonomy))
	for _, e := range s.taxonomy {
		if subject != "" && !strings.EqualFold(e.Subject, subject) {
			continue
		}
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b TaxonomyEntry) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *MemoryStore) Close(context.Context) error { return nil }

var _ Store = (*MemoryStore)(nil)
