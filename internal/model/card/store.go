package card

import (
	"sort"
	"strings"

	"github.com/zhouzirui/cardfinder/backend/internal/analysis/audience"
)

// Store exposes card lookups for services and HTTP handlers.
type Store interface {
	List() []Card
	FindByPath(path string) (Card, bool)
	Categories() []Category
	Filter(category, target string) []Card
	ActionsByCategory() map[string][]string
}

// MemoryStore implements Store over an immutable copy of a catalog.
type MemoryStore struct {
	categories []Category
	cards      []Card
	byPath     map[string]int
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied catalog.
func NewMemoryStore(catalog *Catalog) *MemoryStore {
	s := &MemoryStore{byPath: make(map[string]int)}
	if catalog == nil {
		return s
	}

	s.categories = append([]Category(nil), catalog.Categories...)
	s.cards = make([]Card, len(catalog.Cards))
	for i, c := range catalog.Cards {
		s.cards[i] = cloneCard(c)
		s.byPath[c.Path] = i
	}
	return s
}

// List returns every card in catalog order.
func (s *MemoryStore) List() []Card {
	out := make([]Card, len(s.cards))
	for i, c := range s.cards {
		out[i] = cloneCard(c)
	}
	return out
}

// FindByPath looks up a card by identifier.
func (s *MemoryStore) FindByPath(path string) (Card, bool) {
	idx, ok := s.byPath[path]
	if !ok {
		return Card{}, false
	}
	return cloneCard(s.cards[idx]), true
}

// Categories returns the categories in catalog order.
func (s *MemoryStore) Categories() []Category {
	return append([]Category(nil), s.categories...)
}

// Filter returns cards matching the category and target; empty arguments match anything.
// Cards targeted at "all" match the kids and adults targets, the same rule retrieval applies.
// Any other target only matches cards carrying that exact value.
func (s *MemoryStore) Filter(category, target string) []Card {
	target = strings.ToLower(strings.TrimSpace(target))
	label := audience.ParseLabel(target)

	out := make([]Card, 0, len(s.cards))
	for _, c := range s.cards {
		if category != "" && c.Category != category {
			continue
		}
		switch {
		case target == "":
		case label != audience.Any:
			if !audience.Matches(c.Target, label) {
				continue
			}
		case c.Target != target:
			continue
		}
		out = append(out, cloneCard(c))
	}
	return out
}

// ActionsByCategory returns, per category, the sorted distinct "<action> <target>" entries.
func (s *MemoryStore) ActionsByCategory() map[string][]string {
	sets := make(map[string]map[string]struct{})
	for _, c := range s.cards {
		set, ok := sets[c.Category]
		if !ok {
			set = make(map[string]struct{})
			sets[c.Category] = set
		}
		set[c.Action+" "+c.Target] = struct{}{}
	}

	out := make(map[string][]string, len(sets))
	for category, set := range sets {
		actions := make([]string, 0, len(set))
		for action := range set {
			actions = append(actions, action)
		}
		sort.Strings(actions)
		out[category] = actions
	}
	return out
}

func cloneCard(c Card) Card {
	c.Keywords = append([]string(nil), c.Keywords...)
	return c
}
