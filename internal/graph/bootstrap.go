package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/yungbote/metagraph-backend/internal/registry"
)

// Bootstrap creates the uniqueness constraints and indices the write path
// relies on. Best-effort: restricted users get a warning, not a boot
// failure, matching how schema init is handled elsewhere in the stack.
func (w *Writer) Bootstrap(ctx context.Context, reg *registry.Registry) error {
	var stmts []string
	for _, entityType := range reg.EntityTypes() {
		stmts = append(stmts, fmt.Sprintf(
			`CREATE CONSTRAINT %s_urn_unique IF NOT EXISTS FOR (n:%s) REQUIRE n.urn IS UNIQUE`,
			strings.ToLower(entityType), entityType))
	}
	stmts = append(stmts,
		`CREATE CONSTRAINT aspect_id_unique IF NOT EXISTS FOR (a:Aspect) REQUIRE a.id IS UNIQUE`,
		`CREATE INDEX aspect_name_version_idx IF NOT EXISTS FOR (a:Aspect) ON (a.name, a.version)`,
		`CREATE INDEX aspect_name_ts_idx IF NOT EXISTS FOR (a:Aspect) ON (a.name, a.ts)`,
	)
	for _, rule := range reg.Rules() {
		if len(rule.Edge.Discriminators) == 0 {
			continue
		}
		keys := append([]string(nil), rule.Edge.Discriminators...)
		stmts = append(stmts, fmt.Sprintf(
			`CREATE INDEX %s_disc_idx IF NOT EXISTS FOR ()-[r:%s]-() ON (r.%s)`,
			strings.ToLower(rule.Edge.Type), rule.Edge.Type, strings.Join(keys, ", r.")))
	}

	for _, stmt := range stmts {
		stmt := stmt
		_, err := w.run.writeTx(ctx, func(q queryRunner) (interface{}, error) {
			return q.run(ctx, stmt, nil)
		})
		if err != nil {
			w.log.Warn("schema init failed (continuing)", "statement", stmt, "error", err)
		}
	}
	return nil
}
