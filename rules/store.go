package rules

import (
	"fmt"
	"maps"
	"sync"
	"time"
)

// Store is the in-memory rule registry. Rules are keyed by group:name and each
// group keeps its rule ids in registration order.
// Thread-safe: mutations take the write lock, evaluations read cached snapshots.
type Store struct {
	rules      map[string]Rule
	groups     map[string][]string
	groupOrder []string
	cache      SnapshotCache
	mu         sync.RWMutex
}

// Stats summarises the registry for status reporting
type Stats struct {
	TotalRules    int            `json:"totalRules"`
	Groups        []string       `json:"groups"`
	RulesPerGroup map[string]int `json:"rulesPerGroup"`
	Timestamp     time.Time      `json:"timestamp"`
}

// NewStore creates an empty store with the default snapshot cache
func NewStore() *Store {
	return NewStoreWithCache(NewInMemorySnapshotCache(DefaultCacheConfig()))
}

// NewStoreWithCache creates an empty store using the given snapshot cache
func NewStoreWithCache(cache SnapshotCache) *Store {
	return &Store{
		rules:  make(map[string]Rule),
		groups: make(map[string][]string),
		cache:  cache,
	}
}

// AddRule registers spec under group:name. An existing rule with the same id is
// replaced and keeps its position in the group. Only group and name are checked
// here; a rule without a condition fails when it is evaluated.
func (s *Store) AddRule(group, name string, spec RuleSpec) error {
	if group == "" || name == "" {
		return fmt.Errorf("%w: group and name are required (got %q, %q)", ErrInvalidRule, group, name)
	}

	rule := Rule{
		Group:           group,
		Name:            name,
		Type:            spec.Type,
		Severity:        spec.Severity,
		Description:     spec.Description,
		Condition:       spec.Condition,
		Message:         spec.Message,
		Context:         maps.Clone(spec.Context),
		RequiresContext: spec.RequiresContext,
	}
	id := rule.ID()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[id]; !exists {
		if _, ok := s.groups[group]; !ok {
			s.groupOrder = append(s.groupOrder, group)
		}
		s.groups[group] = append(s.groups[group], id)
	}
	s.rules[id] = rule
	s.cache.Invalidate(group)
	return nil
}

// RemoveRule deletes group:name. The group is dropped once its last rule is gone.
// Returns false when the rule did not exist.
func (s *Store) RemoveRule(group, name string) bool {
	id := RuleID(group, name)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[id]; !exists {
		return false
	}
	delete(s.rules, id)

	ids := s.groups[group]
	for i, existing := range ids {
		if existing == id {
			ids = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}

	if len(ids) == 0 {
		delete(s.groups, group)
		for i, g := range s.groupOrder {
			if g == group {
				s.groupOrder = append(s.groupOrder[:i:i], s.groupOrder[i+1:]...)
				break
			}
		}
	} else {
		s.groups[group] = ids
	}

	s.cache.Invalidate(group)
	return true
}

// GetRulesByGroup returns the rules of group in registration order
func (s *Store) GetRulesByGroup(group string) []Rule {
	return s.Snapshot(group)
}

// GetRuleGroups returns the names of all non-empty groups
func (s *Store) GetRuleGroups() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, len(s.groupOrder))
	copy(out, s.groupOrder)
	return out
}

// Has reports whether a rule with the given group:name id is registered
func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.rules[id]
	return ok
}

// Get returns the rule registered under id
func (s *Store) Get(id string) (Rule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.rules[id]
	return rule, ok
}

// Len returns the number of registered rules
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.rules)
}

// Stats returns counts for operational status reporting
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	perGroup := make(map[string]int, len(s.groups))
	for g, ids := range s.groups {
		perGroup[g] = len(ids)
	}
	groups := make([]string, len(s.groupOrder))
	copy(groups, s.groupOrder)

	return Stats{
		TotalRules:    len(s.rules),
		Groups:        groups,
		RulesPerGroup: perGroup,
		Timestamp:     time.Now().UTC(),
	}
}

// Snapshot returns an ordered copy of the rules in group. Later mutations of
// the store do not affect a snapshot already handed out.
func (s *Store) Snapshot(group string) []Rule {
	if cached, ok := s.cache.Get(group); ok {
		return cached
	}

	s.mu.RLock()
	ids := s.groups[group]
	snapshot := make([]Rule, 0, len(ids))
	for _, id := range ids {
		if rule, ok := s.rules[id]; ok {
			snapshot = append(snapshot, rule)
		}
	}
	// Populate while still holding the read lock so a concurrent mutation's
	// invalidation cannot be overwritten by this stale snapshot.
	s.cache.Set(group, snapshot)
	s.mu.RUnlock()

	return snapshot
}
