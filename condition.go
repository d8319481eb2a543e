package abac

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/oarkflow/date"

	"github.com/oarkflow/abac/logger"
)

// Condition attributes. The set is closed: condition values are data, never
// code, and each attribute admits a fixed operator set validated at load time.
const (
	AttrTime        = "time"
	AttrLocation    = "location"
	AttrDepartment  = "department"
	AttrMFAVerified = "mfaVerified"
	AttrSessionAge  = "sessionAge"
	AttrIPRange     = "ipRange"
)

// Condition operators.
const (
	OpEquals = "equals"
	OpIn     = "in"
	OpBefore = "before"
	OpAfter  = "after"
	OpLTE    = "lessThanOrEqual"
	OpGTE    = "greaterThanOrEqual"
)

// Condition is one attribute guard on a permission policy. Implementations
// are immutable after parse and safe for concurrent evaluation.
type Condition interface {
	Attribute() string
	Operator() string
	// Evaluate reports whether the condition holds for the given context.
	// A non-nil error marks a configuration-integrity problem; callers must
	// treat it as not holding.
	Evaluate(attrs *AttributeContext) (bool, error)
	// String renders the condition back to its attribute:operator:value form.
	String() string
}

// ParseCondition parses an attribute:operator:value triple into a typed
// condition. Unknown attributes, operators not admitted by the attribute, and
// malformed values are all load-time errors.
func ParseCondition(s string) (Condition, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("condition %q: want attribute:operator:value", s)
	}
	attr, op, value := parts[0], parts[1], parts[2]
	if value == "" {
		return nil, fmt.Errorf("condition %q: empty value", s)
	}
	switch attr {
	case AttrTime:
		return parseTimeCondition(op, value)
	case AttrLocation:
		return parseStringCondition(AttrLocation, op, value, func(c *AttributeContext) string { return c.Location })
	case AttrDepartment:
		return parseStringCondition(AttrDepartment, op, value, func(c *AttributeContext) string { return c.Department })
	case AttrMFAVerified:
		return parseMFACondition(op, value)
	case AttrSessionAge:
		return parseSessionAgeCondition(op, value)
	case AttrIPRange:
		return parseIPRangeCondition(op, value)
	default:
		return nil, fmt.Errorf("condition %q: unknown attribute %q", s, attr)
	}
}

// timeCondition compares the request time against either a clock value
// ("15:04", minutes of day, recurring daily) or a full timestamp.
type timeCondition struct {
	op       string
	raw      string
	clockMin int
	at       time.Time
	isClock  bool
}

func parseTimeCondition(op, value string) (Condition, error) {
	if op != OpBefore && op != OpAfter {
		return nil, fmt.Errorf("time condition: operator %q not allowed (want before or after)", op)
	}
	if t, err := time.Parse("15:04", value); err == nil {
		return &timeCondition{op: op, raw: value, clockMin: t.Hour()*60 + t.Minute(), isClock: true}, nil
	}
	t, err := date.Parse(value)
	if err != nil {
		return nil, fmt.Errorf("time condition: value %q is neither HH:MM nor a timestamp: %w", value, err)
	}
	return &timeCondition{op: op, raw: value, at: t}, nil
}

func (c *timeCondition) Attribute() string { return AttrTime }
func (c *timeCondition) Operator() string  { return c.op }
func (c *timeCondition) String() string    { return AttrTime + ":" + c.op + ":" + c.raw }

func (c *timeCondition) Evaluate(attrs *AttributeContext) (bool, error) {
	if attrs.RequestTime.IsZero() {
		return false, fmt.Errorf("request time not set")
	}
	if c.isClock {
		nowMin := attrs.RequestTime.Hour()*60 + attrs.RequestTime.Minute()
		if c.op == OpBefore {
			return nowMin < c.clockMin, nil
		}
		return nowMin > c.clockMin, nil
	}
	if c.op == OpBefore {
		return attrs.RequestTime.Before(c.at), nil
	}
	return attrs.RequestTime.After(c.at), nil
}

// stringCondition covers location and department: case-sensitive equals, or
// membership in a comma-separated value list.
type stringCondition struct {
	attr   string
	op     string
	raw    string
	values []string
	get    func(*AttributeContext) string
}

func parseStringCondition(attr, op, value string, get func(*AttributeContext) string) (Condition, error) {
	switch op {
	case OpEquals:
		return &stringCondition{attr: attr, op: op, raw: value, values: []string{value}, get: get}, nil
	case OpIn:
		values := splitCSV(value)
		if len(values) == 0 {
			return nil, fmt.Errorf("%s condition: empty value list", attr)
		}
		return &stringCondition{attr: attr, op: op, raw: value, values: values, get: get}, nil
	default:
		return nil, fmt.Errorf("%s condition: operator %q not allowed (want equals or in)", attr, op)
	}
}

func (c *stringCondition) Attribute() string { return c.attr }
func (c *stringCondition) Operator() string  { return c.op }
func (c *stringCondition) String() string    { return c.attr + ":" + c.op + ":" + c.raw }

func (c *stringCondition) Evaluate(attrs *AttributeContext) (bool, error) {
	got := c.get(attrs)
	for _, v := range c.values {
		if got == v {
			return true, nil
		}
	}
	return false, nil
}

// mfaCondition requires the session's MFA flag to equal a boolean value.
type mfaCondition struct {
	want bool
	raw  string
}

func parseMFACondition(op, value string) (Condition, error) {
	if op != OpEquals {
		return nil, fmt.Errorf("mfaVerified condition: operator %q not allowed (want equals)", op)
	}
	want, err := strconv.ParseBool(value)
	if err != nil {
		return nil, fmt.Errorf("mfaVerified condition: value %q is not a boolean", value)
	}
	return &mfaCondition{want: want, raw: value}, nil
}

func (c *mfaCondition) Attribute() string { return AttrMFAVerified }
func (c *mfaCondition) Operator() string  { return OpEquals }
func (c *mfaCondition) String() string    { return AttrMFAVerified + ":" + OpEquals + ":" + c.raw }

func (c *mfaCondition) Evaluate(attrs *AttributeContext) (bool, error) {
	return attrs.MFAVerified == c.want, nil
}

// sessionAgeCondition bounds the session age in seconds.
type sessionAgeCondition struct {
	op    string
	bound int
}

func parseSessionAgeCondition(op, value string) (Condition, error) {
	if op != OpLTE && op != OpGTE {
		return nil, fmt.Errorf("sessionAge condition: operator %q not allowed (want lessThanOrEqual or greaterThanOrEqual)", op)
	}
	bound, err := strconv.Atoi(value)
	if err != nil || bound < 0 {
		return nil, fmt.Errorf("sessionAge condition: value %q is not a non-negative integer", value)
	}
	return &sessionAgeCondition{op: op, bound: bound}, nil
}

func (c *sessionAgeCondition) Attribute() string { return AttrSessionAge }
func (c *sessionAgeCondition) Operator() string  { return c.op }
func (c *sessionAgeCondition) String() string {
	return AttrSessionAge + ":" + c.op + ":" + strconv.Itoa(c.bound)
}

func (c *sessionAgeCondition) Evaluate(attrs *AttributeContext) (bool, error) {
	if c.op == OpLTE {
		return attrs.SessionAgeSeconds <= c.bound, nil
	}
	return attrs.SessionAgeSeconds >= c.bound, nil
}

// ipRangeCondition tests source-IP membership in one or more CIDR blocks.
type ipRangeCondition struct {
	raw  string
	nets []*net.IPNet
}

func parseIPRangeCondition(op, value string) (Condition, error) {
	if op != OpIn {
		return nil, fmt.Errorf("ipRange condition: operator %q not allowed (want in)", op)
	}
	parts := splitCSV(value)
	if len(parts) == 0 {
		return nil, fmt.Errorf("ipRange condition: empty CIDR list")
	}
	nets := make([]*net.IPNet, 0, len(parts))
	for _, p := range parts {
		_, ipNet, err := net.ParseCIDR(p)
		if err != nil {
			return nil, fmt.Errorf("ipRange condition: bad CIDR %q: %w", p, err)
		}
		nets = append(nets, ipNet)
	}
	return &ipRangeCondition{raw: value, nets: nets}, nil
}

func (c *ipRangeCondition) Attribute() string { return AttrIPRange }
func (c *ipRangeCondition) Operator() string  { return OpIn }
func (c *ipRangeCondition) String() string    { return AttrIPRange + ":" + OpIn + ":" + c.raw }

func (c *ipRangeCondition) Evaluate(attrs *AttributeContext) (bool, error) {
	if attrs.SourceIP == nil {
		return false, nil
	}
	for _, n := range c.nets {
		if n.Contains(attrs.SourceIP) {
			return true, nil
		}
	}
	return false, nil
}

// evaluateConditions applies AND semantics over a policy's conditions. An
// empty set holds vacuously. On an evaluation error the condition is treated
// as not holding and the error logged once; evaluation never panics.
func evaluateConditions(conds []Condition, attrs *AttributeContext, lg logger.Logger) (bool, Condition) {
	for _, c := range conds {
		ok, err := c.Evaluate(attrs)
		if err != nil {
			lg.Error("condition evaluation failed, treating as not satisfied",
				"condition", c.String(), "error", err.Error())
			return false, c
		}
		if !ok {
			return false, c
		}
	}
	return true, nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
