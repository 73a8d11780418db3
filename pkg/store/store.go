// Package store persists users, chat history, the question bank, attempts and
// the subject taxonomy.
//
// Two backends implement [Store]:
//   - [MemoryStore]: in-process maps, for tests and local development
//   - [MongoStore]: MongoDB, for deployments
//
// Records use string IDs (UUIDs unless the caller supplies one). Lookups of a
// missing record return [ErrNotFound].
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors shared by all backends.
var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when a unique field (a user's email) is taken.
	ErrDuplicate = errors.New("already exists")
)

// Chat roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// User is a registered account.
type User struct {
	ID           string    `json:"id" bson:"_id"`
	Email        string    `json:"email" bson:"email"`
	Name         string    `json:"name" bson:"name"`
	PasswordHash string    `json:"-" bson:"password_hash"`
	Verified     bool      `json:"verified" bson:"verified"`
	CreatedAt    time.Time `json:"createdAt" bson:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" bson:"updated_at"`
}

// ChatMessage is one turn of a user's conversation with the assistant.
type ChatMessage struct {
	ID        string    `json:"id" bson:"_id"`
	UserID    string    `json:"-" bson:"user_id"`
	Role      string    `json:"role" bson:"role"`
	Content   string    `json:"content" bson:"content"`
	CreatedAt time.Time `json:"createdAt" bson:"created_at"`
}

// Question is an exam question from the bank.
type Question struct {
	ID          string   `json:"id" toml:"id" bson:"_id"`
	Subject     string   `json:"subject" toml:"subject" bson:"subject"`
	Topic       string   `json:"topic" toml:"topic" bson:"topic"`
	Subtopic    string   `json:"subtopic,omitempty" toml:"subtopic" bson:"subtopic,omitempty"`
	Difficulty  string   `json:"difficulty,omitempty" toml:"difficulty" bson:"difficulty,omitempty"`
	Year        int      `json:"year,omitempty" toml:"year" bson:"year,omitempty"`
	Paper       string   `json:"paper,omitempty" toml:"paper" bson:"paper,omitempty"`
	Marks       int      `json:"marks" toml:"marks" bson:"marks"`
	Prompt      string   `json:"prompt" toml:"prompt" bson:"prompt"`
	DiagramTikZ string   `json:"diagramTikz,omitempty" toml:"diagram_tikz" bson:"diagram_tikz,omitempty"`
	DiagramDOT  string   `json:"diagramDot,omitempty" toml:"diagram_dot" bson:"diagram_dot,omitempty"`
	MarkScheme  string   `json:"-" toml:"mark_scheme" bson:"mark_scheme,omitempty"`
	Explanation string   `json:"explanation,omitempty" toml:"explanation" bson:"explanation,omitempty"`
	Tags        []string `json:"tags,omitempty" toml:"tags" bson:"tags,omitempty"`
}

// Attempt is a user's answer to a question, graded or not.
type Attempt struct {
	ID         string    `json:"id" bson:"_id"`
	UserID     string    `json:"-" bson:"user_id"`
	QuestionID string    `json:"questionId" bson:"question_id"`
	Answer     string    `json:"answer" bson:"answer"`
	HasImage   bool      `json:"hasImage" bson:"has_image"`
	Graded     bool      `json:"graded" bson:"graded"`
	Score      int       `json:"score" bson:"score"`
	MaxScore   int       `json:"maxScore" bson:"max_score"`
	Feedback   string    `json:"feedback,omitempty" bson:"feedback,omitempty"`
	CreatedAt  time.Time `json:"createdAt" bson:"created_at"`
}

// TaxonomyEntry places a subtopic under a topic and subject. Order sorts
// siblings; ties sort by name.
type TaxonomyEntry struct {
	ID       string `json:"id" toml:"id" bson:"_id"`
	Subject  string `json:"subject" toml:"subject" bson:"subject"`
	Topic    string `json:"topic" toml:"topic" bson:"topic"`
	Subtopic string `json:"subtopic,omitempty" toml:"subtopic" bson:"subtopic,omitempty"`
	Order    int    `json:"order" toml:"order" bson:"order"`
}

// Key returns the natural identity of the entry.
func (e TaxonomyEntry) Key() string {
	return strings.ToLower(e.Subject + "/" + e.Topic + "/" + e.Subtopic)
}

// Pagination bounds for question listings.
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// QuestionFilter selects questions. Empty fields match everything.
type QuestionFilter struct {
	Subject    string
	Topic      string
	Difficulty string
	Year       int
	Search     string // case-insensitive substring of prompt or tags
	Limit      int
	Offset     int
}

// Normalize clamps Limit to 1..MaxLimit (DefaultLimit when unset) and
// Offset to be non-negative.
func (f QuestionFilter) Normalize() QuestionFilter {
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultLimit
	case f.Limit > MaxLimit:
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	f.Search = strings.TrimSpace(f.Search)
	return f
}

// Users stores accounts.
type Users interface {
	// CreateUser inserts u, assigning ID and timestamps when unset. It
	// returns ErrDuplicate when the email is taken.
	CreateUser(ctx context.Context, u *User) error
	UserByID(ctx context.Context, id string) (*User, error)
	UserByEmail(ctx context.Context, email string) (*User, error)
	// UpdateUser replaces an existing user and bumps UpdatedAt.
	UpdateUser(ctx context.Context, u *User) error
}

// Chats stores conversation history.
type Chats interface {
	AppendMessage(ctx context.Context, m *ChatMessage) error
	// RecentMessages returns up to limit of the user's latest messages,
	// oldest first.
	RecentMessages(ctx context.Context, userID string, limit int) ([]ChatMessage, error)
	ClearMessages(ctx context.Context, userID string) (int, error)
}

// Questions stores the question bank.
type Questions interface {
	// PutQuestion inserts or replaces q by ID.
	PutQuestion(ctx context.Context, q *Question) error
	Question(ctx context.Context, id string) (*Question, error)
	// ListQuestions returns one page of matches, newest year first, and the
	// total number of matches.
	ListQuestions(ctx context.Context, f QuestionFilter) ([]Question, int, error)
}

// Attempts stores answers.
type Attempts interface {
	CreateAttempt(ctx context.Context, a *Attempt) error
	// ListAttempts returns up to limit of the user's attempts, newest first.
	ListAttempts(ctx context.Context, userID string, limit int) ([]Attempt, error)
}

// Taxonomy stores the subject tree.
type Taxonomy interface {
	// PutTaxonomy inserts or replaces entries by natural key.
	PutTaxonomy(ctx context.Context, entries []TaxonomyEntry) error
	// ListTaxonomy returns all entries, or one subject's when subject is set.
	ListTaxonomy(ctx context.Context, subject string) ([]TaxonomyEntry, error)
}

// Store is the full persistence surface.
type Store interface {
	Users
	Chats
	Questions
	Attempts
	Taxonomy
	Close(ctx context.Context) error
}

func newID() string { return uuid.NewString() }

// prepareUser fills generated fields and normalizes the email.
func prepareUser(u *User, now time.Time) {
	if u.ID == "" {
		u.ID = newID()
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
}

func prepareEntry(e *TaxonomyEntry) {
	if e.ID == "" {
		e.ID = e.Key()
	}
}

func matchesSearch(q *Question, search string) bool {
	if search == "" {
		return true
	}
	needle := strings.ToLower(search)
	if strings.Contains(strings.ToLower(q.Prompt), needle) {
		return true
	}
	for _, t := range q.Tags {
		if strings.Contains(strings.ToLower(t), needle) {
			return true
		}
	}
	return false
}
