package abac

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oarkflow/abac/logger"
)

type testAuditSink struct {
	mu      sync.Mutex
	entries []*AuditEntry
}

func (s *testAuditSink) Record(ctx context.Context, entry *AuditEntry) error {
	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()
	return nil
}

func (s *testAuditSink) all() []*AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*AuditEntry(nil), s.entries...)
}

func businessHoursContext() *AttributeContext {
	return BuildContext(RawRequest{
		RemoteAddr:       "10.1.2.3:443",
		Time:             time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC),
		Department:       "engineering",
		Location:         "HQ",
		MFAVerified:      true,
		SessionStartedAt: time.Date(2026, 3, 2, 10, 25, 0, 0, time.UTC),
	})
}

func TestEnforceEmptyStoreDenies(t *testing.T) {
	store, _ := newTestStore(t)
	e := NewEnforcer(store, WithLogger(logger.NewNullLogger()))
	defer e.Close()

	d := e.Enforce(context.Background(), "alice", "doc:1", "read", businessHoursContext())
	if d.Allowed {
		t.Fatalf("empty rule set must deny")
	}
	if d.MatchedPolicyIDs == nil || len(d.MatchedPolicyIDs) != 0 {
		t.Fatalf("denial must carry a non-nil empty policy list, got %v", d.MatchedPolicyIDs)
	}
	if !strings.Contains(d.Reason, "no policy grants") {
		t.Fatalf("unexpected reason %q", d.Reason)
	}
}

func TestEnforceConditionedPolicy(t *testing.T) {
	store, _ := newTestStore(t,
		Rule{ID: "p-doc", Kind: "p", V0: "alice", V1: "doc:*", V2: "read",
			V3: "time:after:09:00", V4: "time:before:17:00", V5: "ipRange:in:10.0.0.0/8"},
	)
	e := NewEnforcer(store, WithLogger(logger.NewNullLogger()))
	defer e.Close()
	ctx := context.Background()

	d := e.Enforce(ctx, "alice", "doc:42", "read", businessHoursContext())
	if !d.Allowed {
		t.Fatalf("expected allow, got %q", d.Reason)
	}
	if len(d.MatchedPolicyIDs) != 1 || d.MatchedPolicyIDs[0] != "p-doc" {
		t.Fatalf("expected matched policy p-doc, got %v", d.MatchedPolicyIDs)
	}
	if !strings.Contains(d.Reason, "p-doc") {
		t.Fatalf("allow reason must name the policy, got %q", d.Reason)
	}

	offHours := businessHoursContext()
	offHours.RequestTime = time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)
	d = e.Enforce(ctx, "alice", "doc:42", "read", offHours)
	if d.Allowed {
		t.Fatalf("expected deny outside business hours")
	}
	if !strings.Contains(d.Reason, "condition") || !strings.Contains(d.Reason, "p-doc") {
		t.Fatalf("condition-failed reason must name policy and condition, got %q", d.Reason)
	}
}

func TestEnforceDistinguishesSubjectMismatch(t *testing.T) {
	store, _ := newTestStore(t,
		Rule{ID: "p-doc", Kind: "p", V0: "alice", V1: "doc:*", V2: "read"},
	)
	e := NewEnforcer(store, WithLogger(logger.NewNullLogger()))
	defer e.Close()

	d := e.Enforce(context.Background(), "mallory", "doc:42", "read", businessHoursContext())
	if d.Allowed {
		t.Fatalf("expected deny for unlisted subject")
	}
	if !strings.Contains(d.Reason, "none match subject") {
		t.Fatalf("expected subject-mismatch reason, got %q", d.Reason)
	}
}

func TestEnforceViaRoleChain(t *testing.T) {
	store, _ := newTestStore(t,
		Rule{ID: "p-edit", Kind: "p", V0: "role:editor", V1: "article:*", V2: "update"},
		Rule{ID: "g-bob", Kind: "g", V0: "bob", V1: "role:senior"},
		Rule{ID: "g-senior", Kind: "g", V0: "role:senior", V1: "role:editor"},
	)
	e := NewEnforcer(store, WithLogger(logger.NewNullLogger()))
	defer e.Close()

	d := e.Enforce(context.Background(), "bob", "article:7", "update", businessHoursContext())
	if !d.Allowed {
		t.Fatalf("bob holds role:editor transitively, got %q", d.Reason)
	}
}

func TestEnforceExactActionOnly(t *testing.T) {
	store, _ := newTestStore(t,
		Rule{ID: "p-write", Kind: "p", V0: "alice", V1: "doc:*", V2: "write"},
	)
	e := NewEnforcer(store, WithLogger(logger.NewNullLogger()))
	defer e.Close()

	if d := e.Enforce(context.Background(), "alice", "doc:1", "read", businessHoursContext()); d.Allowed {
		t.Fatalf("write grant must not imply read")
	}
}

func TestEnforceFirstMatchWins(t *testing.T) {
	store, _ := newTestStore(t,
		Rule{ID: "p-first", Kind: "p", V0: "alice", V1: "doc:*", V2: "read"},
		Rule{ID: "p-second", Kind: "p", V0: "alice", V1: "doc:1", V2: "read"},
	)
	e := NewEnforcer(store, WithLogger(logger.NewNullLogger()))
	defer e.Close()

	d := e.Enforce(context.Background(), "alice", "doc:1", "read", businessHoursContext())
	if !d.Allowed || d.MatchedPolicyIDs[0] != "p-first" {
		t.Fatalf("insertion order must decide the match, got %v", d.MatchedPolicyIDs)
	}
}

func TestEnforceCacheInvalidatedOnMutation(t *testing.T) {
	store, _ := newTestStore(t,
		Rule{ID: "p-doc", Kind: "p", V0: "alice", V1: "doc:*", V2: "read"},
	)
	e := NewEnforcer(store, WithLogger(logger.NewNullLogger()))
	defer e.Close()
	ctx := context.Background()
	attrs := businessHoursContext()

	d1 := e.Enforce(ctx, "alice", "doc:1", "read", attrs)
	d2 := e.Enforce(ctx, "alice", "doc:1", "read", attrs)
	if !d1.Allowed || d1 != d2 {
		t.Fatalf("identical request inside the TTL must be served from cache")
	}

	if err := store.Remove(ctx, "p-doc"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	d3 := e.Enforce(ctx, "alice", "doc:1", "read", attrs)
	if d3.Allowed {
		t.Fatalf("mutation must invalidate cached allows immediately")
	}
}

func TestEnforceStoreUnavailableFailsClosed(t *testing.T) {
	store, backing := newTestStore(t,
		Rule{ID: "p-doc", Kind: "p", V0: "alice", V1: "doc:*", V2: "read"},
	)
	e := NewEnforcer(store, WithLogger(logger.NewNullLogger()))
	defer e.Close()
	ctx := context.Background()
	attrs := businessHoursContext()

	if d := e.Enforce(ctx, "alice", "doc:1", "read", attrs); !d.Allowed {
		t.Fatalf("precondition: allow expected, got %q", d.Reason)
	}

	backing.SetUnavailable(true)
	_ = store.Load(ctx)

	other := businessHoursContext()
	other.SourceIP = net.ParseIP("10.9.9.9")
	d := e.Enforce(ctx, "alice", "doc:1", "read", other)
	if d.Allowed {
		t.Fatalf("unavailable store must deny")
	}
	if !strings.Contains(d.Reason, "policy store unavailable") {
		t.Fatalf("unexpected reason %q", d.Reason)
	}

	backing.SetUnavailable(false)
	if err := store.Load(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if d := e.Enforce(ctx, "alice", "doc:1", "read", other); !d.Allowed {
		t.Fatalf("recovered store must serve again, got %q", d.Reason)
	}
}

func TestEnforceNilContext(t *testing.T) {
	store, _ := newTestStore(t,
		Rule{ID: "p-mfa", Kind: "p", V0: "alice", V1: "doc:*", V2: "read", V3: "mfaVerified:equals:true"},
	)
	e := NewEnforcer(store, WithLogger(logger.NewNullLogger()))
	defer e.Close()

	d := e.Enforce(context.Background(), "alice", "doc:1", "read", nil)
	if d.Allowed {
		t.Fatalf("nil context carries safe defaults and must not satisfy mfa")
	}
}

func TestEnforceAuditsDecisionsOnce(t *testing.T) {
	store, _ := newTestStore(t,
		Rule{ID: "p-doc", Kind: "p", V0: "alice", V1: "doc:*", V2: "read"},
	)
	sink := &testAuditSink{}
	e := NewEnforcer(store, WithLogger(logger.NewNullLogger()), WithAuditSink(sink))
	ctx := context.Background()
	attrs := businessHoursContext()

	e.Enforce(ctx, "alice", "doc:1", "read", attrs)
	e.Enforce(ctx, "alice", "doc:1", "read", attrs) // cache hit
	e.Enforce(ctx, "mallory", "doc:1", "read", attrs)
	e.Close()

	entries := sink.all()
	if len(entries) != 2 {
		t.Fatalf("expected 2 audit entries (cache hits are not re-audited), got %d", len(entries))
	}
	if entries[0].Subject != "alice" || !entries[0].Allowed {
		t.Fatalf("first entry mismatch: %+v", entries[0])
	}
	if entries[1].Subject != "mallory" || entries[1].Allowed {
		t.Fatalf("second entry mismatch: %+v", entries[1])
	}
	if entries[0].SourceIP != "10.1.2.3" || entries[0].Department != "engineering" {
		t.Fatalf("audit entry must carry the request context: %+v", entries[0])
	}
}

func TestEnforceBatch(t *testing.T) {
	store, _ := newTestStore(t,
		Rule{ID: "p-doc", Kind: "p", V0: "alice", V1: "doc:*", V2: "read"},
	)
	e := NewEnforcer(store, WithLogger(logger.NewNullLogger()))
	defer e.Close()
	attrs := businessHoursContext()

	out := e.EnforceBatch(context.Background(), []Request{
		{Subject: "alice", Object: "doc:1", Action: "read", Attributes: attrs},
		{Subject: "alice", Object: "doc:1", Action: "write", Attributes: attrs},
	})
	if len(out) != 2 || !out[0].Allowed || out[1].Allowed {
		t.Fatalf("batch results out of order: %+v", out)
	}
}

func TestExplainTrace(t *testing.T) {
	store, _ := newTestStore(t,
		Rule{ID: "p-other", Kind: "p", V0: "alice", V1: "doc:*", V2: "write"},
		Rule{ID: "p-mfa", Kind: "p", V0: "alice", V1: "doc:*", V2: "read", V3: "mfaVerified:equals:true"},
	)
	e := NewEnforcer(store, WithLogger(logger.NewNullLogger()))
	defer e.Close()

	attrs := businessHoursContext()
	attrs.MFAVerified = false
	d := e.Explain(context.Background(), "alice", "doc:1", "read", attrs)
	if d.Allowed {
		t.Fatalf("expected deny")
	}
	if len(d.Trace) != 2 {
		t.Fatalf("expected one trace line per policy, got %v", d.Trace)
	}
	if !strings.Contains(d.Trace[0], "action") || !strings.Contains(d.Trace[1], "condition") {
		t.Fatalf("trace lines should explain each skip: %v", d.Trace)
	}
}

func TestEnforceDropOldestUnderPressure(t *testing.T) {
	store, _ := newTestStore(t,
		Rule{ID: "p-doc", Kind: "p", V0: "alice", V1: "doc:*", V2: "read"},
	)
	slow := &blockingSink{release: make(chan struct{})}
	e := NewEnforcer(store,
		WithLogger(logger.NewNullLogger()),
		WithAuditSink(slow),
		WithAuditQueueSize(2),
		WithCacheTTL(time.Nanosecond))
	ctx := context.Background()

	// Flood well past the queue size; every call must return promptly.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			e.Enforce(ctx, "alice", "doc:1", "read", businessHoursContext())
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("enforcement blocked on a full audit queue")
	}
	close(slow.release)
	e.Close()
}

type blockingSink struct {
	release chan struct{}
	once    sync.Once
}

func (s *blockingSink) Record(ctx context.Context, entry *AuditEntry) error {
	s.once.Do(func() { <-s.release })
	return nil
}
