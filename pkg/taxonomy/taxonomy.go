// Package taxonomy assembles flat taxonomy entries into the
// subject → topic → subtopic tree served to the question browser.
package taxonomy

import (
	"cmp"
	"slices"
	"strings"

	"github.com/examprep/examprep/pkg/store"
)

// Subject is a root of the tree.
type Subject struct {
	Name   string  `json:"name"`
	Topics []Topic `json:"topics"`
}

// Topic groups subtopics under a subject.
type Topic struct {
	Name      string   `json:"name"`
	Subtopics []string `json:"subtopics"`
}

// node collects children with the smallest Order seen for each name.
type node struct {
	name     string
	order    int
	children map[string]*node
}

func (n *node) child(name string, order int) *node {
	key := strings.ToLower(name)
	c, ok := n.children[key]
	if !ok {
		c = &node{name: name, order: order, children: map[string]*node{}}
		n.children[key] = c
	} else if order < c.order {
		c.order = order
	}
	return c
}

func (n *node) sorted() []*node {
	out := make([]*node, 0, len(n.children))
	for _, c := range n.children {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b *node) int {
		if c := cmp.Compare(a.order, b.order); c != 0 {
			return c
		}
		return cmp.Compare(strings.ToLower(a.name), strings.ToLower(b.name))
	})
	return out
}

// Build groups entries into a tree. Names are deduplicated case-insensitively
// keeping the first spelling seen; siblings sort by Order, then by name.
// Entries with an empty subject or topic are skipped.
func Build(entries []store.TaxonomyEntry) []Subject {
	root := &node{children: map[string]*node{}}
	for _, e := range entries {
		subject, topic := strings.TrimSpace(e.Subject), strings.TrimSpace(e.Topic)
		if subject == "" || topic == "" {
			continue
		}
		t := root.child(subject, e.Order).child(topic, e.Order)
		if sub := strings.TrimSpace(e.Subtopic); sub != "" {
			t.child(sub, e.Order)
		}
	}

	subjects := []Subject{}
	for _, s := range root.sorted() {
		subj := Subject{Name: s.name, Topics: []Topic{}}
		for _, t := range s.sorted() {
			topic := Topic{Name: t.name, Subtopics: []string{}}
			for _, st := range t.sorted() {
				topic.Subtopics = append(topic.Subtopics, st.name)
			}
			subj.Topics = append(subj.Topics, topic)
		}
		subjects = append(subjects, subj)
	}
	return subjects
}

// Find returns the subject named name, case-insensitively.
func Find(tree []Subject, name string) (Subject, bool) {
	for _, s := range tree {
		if strings.EqualFold(s.Name, name) {
			return s, true
		}
	}
	return Subject{}, false
}
