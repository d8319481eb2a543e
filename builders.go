package abac

import "fmt"

// PermissionBuilder assembles a permission rule row fluently. Used by tests,
// seeding code, and the CLI.
type PermissionBuilder struct {
	r     Rule
	conds []string
}

func NewPermission() *PermissionBuilder { return &PermissionBuilder{r: Rule{Kind: KindPermission}} }

func (b *PermissionBuilder) ID(id string) *PermissionBuilder     { b.r.ID = id; return b }
func (b *PermissionBuilder) Subject(s string) *PermissionBuilder { b.r.V0 = s; return b }
func (b *PermissionBuilder) Object(o string) *PermissionBuilder  { b.r.V1 = o; return b }
func (b *PermissionBuilder) Action(a string) *PermissionBuilder  { b.r.V2 = a; return b }

// When appends an attribute:operator:value condition. At most three fit the
// row format; extras surface as a Build error.
func (b *PermissionBuilder) When(attr, op, value string) *PermissionBuilder {
	b.conds = append(b.conds, attr+":"+op+":"+value)
	return b
}

func (b *PermissionBuilder) Build() (Rule, error) {
	if len(b.conds) > maxConditionSlots {
		return Rule{}, fmt.Errorf("at most %d conditions per rule, got %d", maxConditionSlots, len(b.conds))
	}
	slots := []*string{&b.r.V3, &b.r.V4, &b.r.V5}
	for i, c := range b.conds {
		*slots[i] = c
	}
	if _, verr := parseRule(b.r); verr != nil {
		return Rule{}, verr
	}
	return b.r, nil
}

// MustBuild panics on an invalid rule. For tests and static seed data only.
func (b *PermissionBuilder) MustBuild() Rule {
	r, err := b.Build()
	if err != nil {
		panic(err)
	}
	return r
}

// Grouping returns a subject-inherits-role rule row.
func Grouping(id, subject, role string) Rule {
	return Rule{ID: id, Kind: KindGrouping, V0: subject, V1: role}
}
