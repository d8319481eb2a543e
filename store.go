package abac

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oarkflow/abac/logger"
)

// RuleStore is the persistence boundary for raw rule rows. Implementations
// live in the stores package; the in-memory one backs most tests.
type RuleStore interface {
	LoadRules(ctx context.Context) ([]Rule, error)
	InsertRule(ctx context.Context, r Rule) error
	DeleteRule(ctx context.Context, id string) error
}

// snapshot is one immutable compiled view of the rule set. Readers grab the
// current snapshot once per request and never see a half-applied mutation.
type snapshot struct {
	rules          []Rule
	permissions    []*Policy
	roles          *RoleGraph
	validationErrs []*ValidationError
	loadedAt       time.Time
}

// PolicyStore compiles raw rows into evaluable policies and publishes them as
// atomically swapped snapshots. Mutations are serialized; reads are lock-free.
type PolicyStore struct {
	rules        RuleStore
	lg           logger.Logger
	maxRoleDepth int

	snap      atomic.Pointer[snapshot]
	available atomic.Bool

	mu     sync.Mutex
	hookMu sync.RWMutex
	hooks  []func()
	idSeq  atomic.Int64
}

type StoreOption func(*PolicyStore)

// WithMaxRoleDepth caps transitive role resolution when building snapshots.
func WithMaxRoleDepth(depth int) StoreOption {
	return func(s *PolicyStore) { s.maxRoleDepth = depth }
}

func NewPolicyStore(rules RuleStore, lg logger.Logger, opts ...StoreOption) *PolicyStore {
	if lg == nil {
		lg = logger.NewNullLogger()
	}
	s := &PolicyStore{rules: rules, lg: lg, maxRoleDepth: DefaultMaxRoleDepth}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnChange registers a hook fired after every successful mutation or reload.
// The enforcer uses it for wholesale decision-cache invalidation; notifiers
// use it to fan the change out to sibling processes.
func (s *PolicyStore) OnChange(fn func()) {
	s.hookMu.Lock()
	s.hooks = append(s.hooks, fn)
	s.hookMu.Unlock()
}

func (s *PolicyStore) fireHooks() {
	s.hookMu.RLock()
	hooks := s.hooks
	s.hookMu.RUnlock()
	for _, fn := range hooks {
		fn()
	}
}

// Available reports whether the last interaction with the backing store
// succeeded. While false, every enforcement denies with a store-unavailable
// reason.
func (s *PolicyStore) Available() bool { return s.available.Load() }

// Load reads all rows, compiles them, and atomically swaps the snapshot.
// Malformed rows are skipped and recorded; a read failure marks the store
// unavailable and leaves the previous snapshot in place.
func (s *PolicyStore) Load(ctx context.Context) error {
	rows, err := s.rules.LoadRules(ctx)
	if err != nil {
		s.available.Store(false)
		s.lg.Error("rule load failed, store marked unavailable", "error", err.Error())
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	snap := s.compile(rows)
	s.snap.Store(snap)
	s.available.Store(true)
	s.lg.Info("rule snapshot loaded",
		"rules", len(rows),
		"permissions", len(snap.permissions),
		"rejected", len(snap.validationErrs))
	s.fireHooks()
	return nil
}

func (s *PolicyStore) compile(rows []Rule) *snapshot {
	snap := &snapshot{rules: rows, loadedAt: time.Now()}
	var groupings []*Policy
	for _, row := range rows {
		p, verr := parseRule(row)
		if verr != nil {
			s.lg.Error("rule rejected", "rule_id", row.ID, "reason", verr.Reason)
			snap.validationErrs = append(snap.validationErrs, verr)
			continue
		}
		switch p.Kind {
		case KindPermission:
			snap.permissions = append(snap.permissions, p)
		case KindGrouping:
			groupings = append(groupings, p)
		}
	}
	snap.roles = NewRoleGraph(groupings, s.maxRoleDepth, s.lg)
	return snap
}

// Add validates and persists one rule, then reloads. Invalid rules are
// rejected up front rather than degraded into the validation-error list.
func (s *PolicyStore) Add(ctx context.Context, r Rule) (Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = s.nextID()
	}
	if _, verr := parseRule(r); verr != nil {
		return Rule{}, verr
	}
	if err := s.rules.InsertRule(ctx, r); err != nil {
		s.available.Store(false)
		return Rule{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := s.Load(ctx); err != nil {
		return Rule{}, err
	}
	return r, nil
}

// Remove deletes one rule by ID, then reloads.
func (s *PolicyStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.rules.DeleteRule(ctx, id); err != nil {
		if err == ErrRuleNotFound {
			return err
		}
		s.available.Store(false)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return s.Load(ctx)
}

// ListFilter narrows List output. Zero values mean "any".
type ListFilter struct {
	Kind    string `json:"kind,omitempty"`
	Subject string `json:"subject,omitempty"`
}

// List returns the raw rows of the current snapshot, optionally filtered.
func (s *PolicyStore) List(filter ListFilter) []Rule {
	snap := s.snap.Load()
	if snap == nil {
		return []Rule{}
	}
	out := make([]Rule, 0, len(snap.rules))
	for _, r := range snap.rules {
		if filter.Kind != "" && r.Kind != filter.Kind {
			continue
		}
		if filter.Subject != "" && r.V0 != filter.Subject {
			continue
		}
		out = append(out, r)
	}
	return out
}

// ValidationErrors lists the rows the current snapshot rejected.
func (s *PolicyStore) ValidationErrors() []*ValidationError {
	snap := s.snap.Load()
	if snap == nil {
		return []*ValidationError{}
	}
	return append([]*ValidationError{}, snap.validationErrs...)
}

func (s *PolicyStore) current() *snapshot { return s.snap.Load() }

func (s *PolicyStore) nextID() string {
	return fmt.Sprintf("r%d-%d", time.Now().UnixNano(), s.idSeq.Add(1))
}

// parseRule compiles a raw row into a typed policy, returning a validation
// error for anything the closed rule grammar does not admit.
func parseRule(r Rule) (*Policy, *ValidationError) {
	p := &Policy{ID: r.ID, Kind: r.Kind}
	switch r.Kind {
	case KindPermission:
		p.SubjectPattern = r.V0
		p.ObjectPattern = r.V1
		p.Action = r.V2
		for i, slot := range []string{r.V3, r.V4, r.V5} {
			if slot == "" {
				continue
			}
			cond, err := ParseCondition(slot)
			if err != nil {
				return nil, &ValidationError{RuleID: r.ID, Field: fmt.Sprintf("v%d", i+3), Reason: err.Error()}
			}
			p.Conditions = append(p.Conditions, cond)
		}
	case KindGrouping:
		p.SubjectPattern = r.V0
		p.Role = r.V1
		if r.V2 != "" || r.V3 != "" || r.V4 != "" || r.V5 != "" {
			return nil, &ValidationError{RuleID: r.ID, Reason: "grouping rule must leave v2..v5 empty"}
		}
	default:
		return nil, &ValidationError{RuleID: r.ID, Field: "kind", Reason: fmt.Sprintf("unknown kind %q", r.Kind)}
	}
	if err := ValidatePolicy(p); err != nil {
		verr, ok := err.(*ValidationError)
		if !ok {
			verr = &ValidationError{RuleID: r.ID, Reason: err.Error()}
		}
		return nil, verr
	}
	return p, nil
}

// encodeRule renders a typed policy back to its persistence row.
func encodeRule(p *Policy) Rule {
	r := Rule{ID: p.ID, Kind: p.Kind}
	switch p.Kind {
	case KindPermission:
		r.V0 = p.SubjectPattern
		r.V1 = p.ObjectPattern
		r.V2 = p.Action
		slots := []*string{&r.V3, &r.V4, &r.V5}
		for i, c := range p.Conditions {
			if i >= len(slots) {
				break
			}
			*slots[i] = c.String()
		}
	case KindGrouping:
		r.V0 = p.SubjectPattern
		r.V1 = p.Role
	}
	return r
}

// summarizeConditions renders a compact, comma-joined condition list for
// decision reasons.
func summarizeConditions(conds []Condition) string {
	if len(conds) == 0 {
		return ""
	}
	parts := make([]string, len(conds))
	for i, c := range conds {
		parts[i] = c.String()
	}
	return strings.Join(parts, ", ")
}
