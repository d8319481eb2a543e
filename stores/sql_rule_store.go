package stores

import (
	"context"
	"fmt"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/abac"
)

// SQLRuleStore persists rule rows in SQL (squealx). The autoincrement seq
// column preserves insertion order across loads, which first-match evaluation
// depends on.
type SQLRuleStore struct {
	db *squealx.DB
}

func NewSQLRuleStore(db *squealx.DB) *SQLRuleStore {
	return &SQLRuleStore{db: db}
}

func (s *SQLRuleStore) LoadRules(ctx context.Context) ([]abac.Rule, error) {
	q := `SELECT id, kind, v0, v1, v2, v3, v4, v5 FROM policy_rules ORDER BY seq`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{})
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	defer r.Close()
	out := make([]abac.Rule, 0)
	for r.Next() {
		var rule abac.Rule
		if err := r.Scan(&rule.ID, &rule.Kind, &rule.V0, &rule.V1, &rule.V2, &rule.V3, &rule.V4, &rule.V5); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		out = append(out, rule)
	}
	return out, nil
}

func (s *SQLRuleStore) InsertRule(ctx context.Context, rule abac.Rule) error {
	q := `INSERT INTO policy_rules(id, kind, v0, v1, v2, v3, v4, v5) VALUES(:id, :kind, :v0, :v1, :v2, :v3, :v4, :v5)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":   rule.ID,
		"kind": rule.Kind,
		"v0":   rule.V0,
		"v1":   rule.V1,
		"v2":   rule.V2,
		"v3":   rule.V3,
		"v4":   rule.V4,
		"v5":   rule.V5,
	})
	return err
}

func (s *SQLRuleStore) DeleteRule(ctx context.Context, id string) error {
	q := `DELETE FROM policy_rules WHERE id = :id`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return abac.ErrRuleNotFound
	}
	return nil
}
