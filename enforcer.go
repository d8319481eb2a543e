package abac

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oarkflow/abac/logger"
)

const (
	// DefaultCacheTTL bounds how long a cached decision may outlive the
	// policy state it was computed from.
	DefaultCacheTTL = 30 * time.Second
	// MaxCacheTTL is the hard ceiling; configured TTLs above it are clamped.
	MaxCacheTTL = 60 * time.Second

	DefaultAuditQueueSize    = 1024
	DefaultAuditBlockTimeout = 100 * time.Millisecond

	reasonStoreUnavailable = "denied: policy store unavailable"
)

// Enforcer evaluates requests against the current policy snapshot. It never
// returns an error to callers: every internal failure becomes a denied
// decision or a logged warning.
type Enforcer struct {
	store    *PolicyStore
	lg       logger.Logger
	cache    DecisionCache
	cacheTTL time.Duration

	auditSink         AuditSink
	auditQueueSize    int
	auditPolicy       QueuePolicy
	auditBlockTimeout time.Duration
	auditCh           chan *AuditEntry

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type Option func(*Enforcer)

func WithLogger(lg logger.Logger) Option {
	return func(e *Enforcer) { e.lg = lg }
}

// WithDecisionCache swaps the default mutex-map cache, e.g. for a
// RistrettoCache under high decision throughput.
func WithDecisionCache(c DecisionCache) Option {
	return func(e *Enforcer) { e.cache = c }
}

func WithCacheTTL(ttl time.Duration) Option {
	return func(e *Enforcer) { e.cacheTTL = ttl }
}

func WithAuditSink(sink AuditSink) Option {
	return func(e *Enforcer) { e.auditSink = sink }
}

func WithAuditQueueSize(n int) Option {
	return func(e *Enforcer) { e.auditQueueSize = n }
}

func WithAuditQueuePolicy(p QueuePolicy) Option {
	return func(e *Enforcer) { e.auditPolicy = p }
}

// WithAuditBlockTimeout bounds the wait when the queue policy is QueueBlock.
func WithAuditBlockTimeout(d time.Duration) Option {
	return func(e *Enforcer) { e.auditBlockTimeout = d }
}

func NewEnforcer(store *PolicyStore, opts ...Option) *Enforcer {
	e := &Enforcer{
		store:             store,
		lg:                logger.NewPhusluLogger(),
		cacheTTL:          DefaultCacheTTL,
		auditQueueSize:    DefaultAuditQueueSize,
		auditPolicy:       QueueDropOldest,
		auditBlockTimeout: DefaultAuditBlockTimeout,
		stopCh:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cache == nil {
		e.cache = NewMemoryCache()
	}
	if e.cacheTTL <= 0 || e.cacheTTL > MaxCacheTTL {
		e.cacheTTL = DefaultCacheTTL
	}
	store.OnChange(e.cache.InvalidateAll)
	if e.auditSink != nil {
		e.auditCh = make(chan *AuditEntry, e.auditQueueSize)
		e.wg.Add(1)
		go e.auditWorker()
	}
	return e
}

// Close stops the audit worker after draining queued entries. Enforce may
// still be called afterwards; entries produced then are logged locally only.
func (e *Enforcer) Close() {
	e.closeOnce.Do(func() {
		close(e.stopCh)
		e.wg.Wait()
	})
}

// Enforce answers whether subject may perform action on object under the
// given attribute context. Identical requests inside the cache TTL are served
// from the decision cache and not re-audited.
func (e *Enforcer) Enforce(ctx context.Context, subject, object, action string, attrs *AttributeContext) *Decision {
	start := time.Now()
	if attrs == nil {
		attrs = BuildContext(RawRequest{})
	}
	key := cacheKey(subject, object, action, attrs)
	if d, ok := e.cache.Get(key); ok {
		return d
	}
	snap := e.store.current()
	if snap == nil || !e.store.Available() {
		d := &Decision{
			Allowed:          false,
			MatchedPolicyIDs: []string{},
			Reason:           reasonStoreUnavailable,
			EvaluatedAt:      time.Now(),
		}
		e.finish(subject, object, action, attrs, d, start)
		return d
	}
	d := e.evaluate(snap, subject, object, action, attrs, nil)
	e.cache.Put(key, d, e.cacheTTL)
	e.finish(subject, object, action, attrs, d, start)
	return d
}

// Explain evaluates like Enforce but bypasses the cache and the audit queue
// and returns the per-policy evaluation trace. Intended for operators
// debugging policy sets, not for the request path.
func (e *Enforcer) Explain(ctx context.Context, subject, object, action string, attrs *AttributeContext) *Decision {
	if attrs == nil {
		attrs = BuildContext(RawRequest{})
	}
	snap := e.store.current()
	if snap == nil || !e.store.Available() {
		return &Decision{
			Allowed:          false,
			MatchedPolicyIDs: []string{},
			Reason:           reasonStoreUnavailable,
			EvaluatedAt:      time.Now(),
			Trace:            []string{"policy store unavailable, no policies evaluated"},
		}
	}
	trace := make([]string, 0, len(snap.permissions))
	return e.evaluate(snap, subject, object, action, attrs, &trace)
}

// Request is one element of a batch evaluation.
type Request struct {
	Subject    string            `json:"subject"`
	Object     string            `json:"object"`
	Action     string            `json:"action"`
	Attributes *AttributeContext `json:"attributes"`
}

// EnforceBatch evaluates requests in order. Each element is independent;
// caching and auditing apply per element exactly as in Enforce.
func (e *Enforcer) EnforceBatch(ctx context.Context, reqs []Request) []*Decision {
	out := make([]*Decision, len(reqs))
	for i, r := range reqs {
		out[i] = e.Enforce(ctx, r.Subject, r.Object, r.Action, r.Attributes)
	}
	return out
}

// evaluate scans permission policies in insertion order and returns the first
// allow, or a denial whose reason distinguishes "no policy" from "policy
// matched but a condition did not hold".
func (e *Enforcer) evaluate(snap *snapshot, subject, object, action string, attrs *AttributeContext, trace *[]string) *Decision {
	tracef := func(format string, args ...any) {
		if trace != nil {
			*trace = append(*trace, fmt.Sprintf(format, args...))
		}
	}
	sawObjectAction := false
	var condPolicy *Policy
	var condFailed Condition
	for _, p := range snap.permissions {
		if !ActionMatches(p.Action, action) {
			tracef("policy %s: action %q does not match", p.ID, p.Action)
			continue
		}
		if !ObjectMatches(p.ObjectPattern, object) {
			tracef("policy %s: object pattern %q does not match", p.ID, p.ObjectPattern)
			continue
		}
		sawObjectAction = true
		if !SubjectMatches(p.SubjectPattern, subject, snap.roles) {
			tracef("policy %s: subject pattern %q does not match", p.ID, p.SubjectPattern)
			continue
		}
		ok, failed := evaluateConditions(p.Conditions, attrs, e.lg)
		if ok {
			tracef("policy %s: matched, all conditions hold", p.ID)
			reason := fmt.Sprintf("allowed by policy %s", p.ID)
			if summary := summarizeConditions(p.Conditions); summary != "" {
				reason += " (conditions: " + summary + ")"
			}
			d := &Decision{
				Allowed:          true,
				MatchedPolicyIDs: []string{p.ID},
				Reason:           reason,
				EvaluatedAt:      time.Now(),
			}
			if trace != nil {
				d.Trace = *trace
			}
			return d
		}
		tracef("policy %s: condition %s did not hold", p.ID, failed.String())
		if condPolicy == nil {
			condPolicy = p
			condFailed = failed
		}
	}
	d := &Decision{Allowed: false, MatchedPolicyIDs: []string{}, EvaluatedAt: time.Now()}
	switch {
	case condPolicy != nil:
		d.Reason = fmt.Sprintf("denied: policy %s matched but condition %s did not hold", condPolicy.ID, condFailed.String())
	case sawObjectAction:
		d.Reason = fmt.Sprintf("denied: policies exist for action %q on object %q but none match subject %q", action, object, subject)
	default:
		d.Reason = fmt.Sprintf("denied: no policy grants action %q on object %q", action, object)
	}
	if trace != nil {
		d.Trace = *trace
	}
	return d
}

// finish logs the decision and hands it to the audit queue.
func (e *Enforcer) finish(subject, object, action string, attrs *AttributeContext, d *Decision, start time.Time) {
	e.lg.Info("access decision",
		"subject", subject,
		"object", object,
		"action", action,
		"allowed", d.Allowed,
		"reason", d.Reason)
	if e.auditCh == nil {
		return
	}
	e.enqueueAudit(newAuditEntry(subject, object, action, attrs, d, time.Since(start)))
}

func (e *Enforcer) enqueueAudit(entry *AuditEntry) {
	if e.auditPolicy == QueueBlock {
		t := time.NewTimer(e.auditBlockTimeout)
		defer t.Stop()
		select {
		case e.auditCh <- entry:
		case <-t.C:
			e.lg.Error("audit queue full, entry dropped after block timeout",
				"subject", entry.Subject, "object", entry.Object)
		case <-e.stopCh:
		}
		return
	}
	for {
		select {
		case e.auditCh <- entry:
			return
		default:
		}
		select {
		case <-e.auditCh:
			e.lg.Debug("audit queue full, oldest entry dropped")
		default:
		}
	}
}

func (e *Enforcer) auditWorker() {
	defer e.wg.Done()
	for {
		select {
		case entry := <-e.auditCh:
			e.deliver(entry)
		case <-e.stopCh:
			for {
				select {
				case entry := <-e.auditCh:
					e.deliver(entry)
				default:
					return
				}
			}
		}
	}
}

func (e *Enforcer) deliver(entry *AuditEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.auditSink.Record(ctx, entry); err != nil {
		e.lg.Error("audit sink write failed, entry retained in log only",
			"subject", entry.Subject,
			"object", entry.Object,
			"action", entry.Action,
			"allowed", entry.Allowed,
			"error", err.Error())
	}
}

func cacheKey(subject, object, action string, attrs *AttributeContext) string {
	var b strings.Builder
	b.Grow(len(subject) + len(object) + len(action) + 80)
	b.WriteString(subject)
	b.WriteByte('\x00')
	b.WriteString(object)
	b.WriteByte('\x00')
	b.WriteString(action)
	b.WriteByte('\x00')
	b.WriteString(attrs.Fingerprint())
	return b.String()
}
