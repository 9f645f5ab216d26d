package graph

import (
	"context"
	"fmt"

	"github.com/yungbote/metagraph-backend/internal/platform/apierr"
)

// UpsertEntity MERGEs the node keyed by URN. Non-key params are set on
// create and last-writer-wins on re-upsert; the URN itself never changes.
func (w *Writer) UpsertEntity(ctx context.Context, entityType, urn string, params map[string]interface{}) error {
	props := map[string]interface{}{}
	for k, v := range params {
		if v == nil {
			continue
		}
		props[k] = v
	}
	now := w.nowMS()

	return w.withRetry(ctx, "upsert_entity", func() error {
		_, err := w.run.writeTx(ctx, func(q queryRunner) (interface{}, error) {
			cypher := fmt.Sprintf(`
MERGE (e:%s {urn: $urn})
ON CREATE SET e.createdAt = $now
SET e += $props, e.lastUpdated = $now
`, entityType)
			return q.run(ctx, cypher, map[string]interface{}{
				"urn":   urn,
				"props": props,
				"now":   now,
			})
		})
		return classifyStoreError(err)
	})
}

// EnsureEntity materializes an URN-only node when it does not exist yet.
// Used by rule auto-creation and implicit owner creation; never writes
// aspects.
func (w *Writer) EnsureEntity(ctx context.Context, entityType, urn string) error {
	return w.UpsertEntity(ctx, entityType, urn, nil)
}

func (w *Writer) EntityExists(ctx context.Context, entityType, urn string) (bool, error) {
	res, err := w.run.readTx(ctx, func(q queryRunner) (interface{}, error) {
		cypher := fmt.Sprintf(`MATCH (e:%s {urn: $urn}) RETURN e.urn AS urn`, entityType)
		return q.run(ctx, cypher, map[string]interface{}{"urn": urn})
	})
	if err != nil {
		return false, classifyStoreError(err)
	}
	rows, _ := res.([]map[string]interface{})
	return len(rows) > 0, nil
}

// DeleteEntity removes the node. With cascade it takes the node, every
// aspect record and every incident edge; without, it fails when any aspect
// or incoming edge exists.
func (w *Writer) DeleteEntity(ctx context.Context, entityType, urn string, cascade bool) error {
	return w.withRetry(ctx, "delete_entity", func() error {
		_, err := w.run.writeTx(ctx, func(q queryRunner) (interface{}, error) {
			existsCypher := fmt.Sprintf(`MATCH (e:%s {urn: $urn}) RETURN e.urn AS urn`, entityType)
			rows, err := q.run(ctx, existsCypher, map[string]interface{}{"urn": urn})
			if err != nil {
				return nil, err
			}
			if len(rows) == 0 {
				return nil, apierr.Newf(apierr.KindNotFound, "entity %q not found", entityType).WithURN(urn)
			}

			if !cascade {
				checkCypher := fmt.Sprintf(`
MATCH (e:%s {urn: $urn})
OPTIONAL MATCH (e)-[ha:HAS_ASPECT]->(:Aspect)
WITH e, count(ha) AS aspects
OPTIONAL MATCH (other)-[inc]->(e)
WHERE NOT other:Aspect
RETURN aspects, count(inc) AS incoming
`, entityType)
				rows, err := q.run(ctx, checkCypher, map[string]interface{}{"urn": urn})
				if err != nil {
					return nil, err
				}
				if len(rows) > 0 {
					aspects := asInt64(rows[0]["aspects"])
					incoming := asInt64(rows[0]["incoming"])
					if aspects > 0 || incoming > 0 {
						return nil, apierr.Newf(apierr.KindDependencyViolation,
							"entity has dependents: %d aspects, %d incoming edges", aspects, incoming).WithURN(urn)
					}
				}
				deleteCypher := fmt.Sprintf(`MATCH (e:%s {urn: $urn}) DETACH DELETE e`, entityType)
				return q.run(ctx, deleteCypher, map[string]interface{}{"urn": urn})
			}

			cascadeCypher := fmt.Sprintf(`
MATCH (e:%s {urn: $urn})
OPTIONAL MATCH (e)-[:HAS_ASPECT]->(a:Aspect)
DETACH DELETE a
WITH DISTINCT e
DETACH DELETE e
`, entityType)
			return q.run(ctx, cascadeCypher, map[string]interface{}{"urn": urn})
		})
		return classifyStoreError(err)
	})
}
