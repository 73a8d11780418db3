package store

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Seed is a question bank file:
//
//	[[taxonomy]]
//	subject = "Physics"
//	topic = "Forces"
//	order = 1
//
//	[[question]]
//	id = "phy-2023-1"
//	subject = "Physics"
//	topic = "Forces"
//	marks = 4
//	prompt = "..."
//	diagram_tikz = '''\draw (0,0) -- (1,0);'''
type Seed struct {
	Taxonomy  []TaxonomyEntry `toml:"taxonomy"`
	Questions []Question      `toml:"question"`
}

// LoadSeed reads and validates a seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Seed
	if err := toml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &s, nil
}

// Validate checks that every question has an ID, subject, topic, prompt and
// positive marks, and that IDs are unique.
func (s *Seed) Validate() error {
	seen := make(map[string]bool, len(s.Questions))
	for i, q := range s.Questions {
		where := fmt.Sprintf("question %d", i+1)
		if q.ID != "" {
			where = fmt.Sprintf("question %q", q.ID)
		}
		switch {
		case strings.TrimSpace(q.ID) == "":
			return fmt.Errorf("%s: id is required", where)
		case strings.ContainsAny(q.ID, "/\\$ "):
			return fmt.Errorf("%s: id contains invalid characters", where)
		case q.Subject == "" || q.Topic == "":
			return fmt.Errorf("%s: subject and topic are required", where)
		case strings.TrimSpace(q.Prompt) == "":
			return fmt.Errorf("%s: prompt is required", where)
		case q.Marks <= 0:
			return fmt.Errorf("%s: marks must be positive", where)
		case q.DiagramTikZ != "" && q.DiagramDOT != "":
			return fmt.Errorf("%s: set diagram_tikz or diagram_dot, not both", where)
		case seen[q.ID]:
			return fmt.Errorf("%s: duplicate id", where)
		}
		seen[q.ID] = true
	}
	for i, e := range s.Taxonomy {
		if e.Subject == "" {
			return fmt.Errorf("taxonomy entry %d: subject is required", i+1)
		}
		if e.Subtopic != "" && e.Topic == "" {
			return fmt.Errorf("taxonomy entry %d: subtopic %q needs a topic", i+1, e.Subtopic)
		}
	}
	return nil
}

// Entries returns the explicit taxonomy plus the entries implied by the
// questions, without duplicates. Implied entries sort after explicit ones.
func (s *Seed) Entries() []TaxonomyEntry {
	seen := make(map[string]bool)
	var out []TaxonomyEntry
	add := func(e TaxonomyEntry) {
		if k := e.Key(); !seen[k] {
			seen[k] = true
			out = append(out, e)
		}
	}
	maxOrder := 0
	for _, e := range s.Taxonomy {
		maxOrder = max(maxOrder, e.Order)
		add(e)
	}
	for _, q := range s.Questions {
		add(TaxonomyEntry{Subject: q.Subject, Topic: q.Topic, Subtopic: q.Subtopic, Order: maxOrder + 1})
	}
	return out
}

// Apply upserts the seed into st.
func (s *Seed) Apply(ctx context.Context, st interface {
	Questions
	Taxonomy
}) error {
	for i := range s.Questions {
		q := s.Questions[i]
		if err := st.PutQuestion(ctx, &q); err != nil {
			return fmt.Errorf("put question %s: %w", q.ID, err)
		}
	}
	if entries := s.Entries(); len(entries) > 0 {
		if err := st.PutTaxonomy(ctx, entries); err != nil {
			return fmt.Errorf("put taxonomy: %w", err)
		}
	}
	return nil
}
