package stores

import (
	"context"
	"sync"

	"github.com/oarkflow/abac"
)

// MemoryRuleStore keeps rule rows in insertion order in memory. It backs
// tests and single-process deployments without SQL.
type MemoryRuleStore struct {
	mu          sync.Mutex
	rules       []abac.Rule
	unavailable bool
}

func NewMemoryRuleStore() *MemoryRuleStore { return &MemoryRuleStore{} }

// SetUnavailable simulates a backing-store outage: every subsequent call
// fails with ErrStoreUnavailable until cleared.
func (s *MemoryRuleStore) SetUnavailable(v bool) {
	s.mu.Lock()
	s.unavailable = v
	s.mu.Unlock()
}

func (s *MemoryRuleStore) LoadRules(ctx context.Context) ([]abac.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return nil, abac.ErrStoreUnavailable
	}
	return append([]abac.Rule(nil), s.rules...), nil
}

func (s *MemoryRuleStore) InsertRule(ctx context.Context, r abac.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return abac.ErrStoreUnavailable
	}
	s.rules = append(s.rules, r)
	return nil
}

func (s *MemoryRuleStore) DeleteRule(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return abac.ErrStoreUnavailable
	}
	for i, r := range s.rules {
		if r.ID == id {
			s.rules = append(s.rules[:i], s.rules[i+1:]...)
			return nil
		}
	}
	return abac.ErrRuleNotFound
}

// MemoryAuditSink collects entries for inspection in tests.
type MemoryAuditSink struct {
	mu      sync.Mutex
	entries []*abac.AuditEntry
}

func NewMemoryAuditSink() *MemoryAuditSink { return &MemoryAuditSink{} }

func (s *MemoryAuditSink) Record(ctx context.Context, entry *abac.AuditEntry) error {
	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()
	return nil
}

func (s *MemoryAuditSink) Entries() []*abac.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*abac.AuditEntry(nil), s.entries...)
}
