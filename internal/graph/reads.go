package graph

import (
	"context"
	"fmt"

	"github.com/yungbote/metagraph-backend/internal/platform/apierr"
)

// GetEntity returns the node's properties, or NotFound.
func (w *Writer) GetEntity(ctx context.Context, entityType, urn string) (map[string]interface{}, error) {
	res, err := w.run.readTx(ctx, func(q queryRunner) (interface{}, error) {
		cypher := fmt.Sprintf(`MATCH (e:%s {urn: $urn}) RETURN properties(e) AS props`, entityType)
		return q.run(ctx, cypher, map[string]interface{}{"urn": urn})
	})
	if err != nil {
		return nil, classifyStoreError(err)
	}
	rows, _ := res.([]map[string]interface{})
	if len(rows) == 0 {
		return nil, apierr.Newf(apierr.KindNotFound, "entity %q not found", entityType).WithURN(urn)
	}
	props, _ := rows[0]["props"].(map[string]interface{})
	return props, nil
}

// GetLatestVersionedAspect reads the record carrying the latest pointer.
func (w *Writer) GetLatestVersionedAspect(ctx context.Context, entityType, urn, aspectName string) (*AspectRecord, error) {
	res, err := w.run.readTx(ctx, func(q queryRunner) (interface{}, error) {
		cypher := fmt.Sprintf(`
MATCH (e:%s {urn: $urn})-[r:HAS_ASPECT {name: $an, kind: 'versioned', latest: true}]->(a:Aspect:Versioned)
RETURN a.version AS version, a.json AS payload, a.createdAt AS created_at
`, entityType)
		return q.run(ctx, cypher, map[string]interface{}{"urn": urn, "an": aspectName})
	})
	if err != nil {
		return nil, classifyStoreError(err)
	}
	rows, _ := res.([]map[string]interface{})
	if len(rows) == 0 {
		return nil, apierr.Newf(apierr.KindNotFound, "no %q aspect for entity", aspectName).WithURN(urn)
	}
	return &AspectRecord{
		Name:      aspectName,
		Version:   asInt64(rows[0]["version"]),
		Latest:    true,
		Kind:      "versioned",
		Payload:   unmarshalPayload(rows[0]["payload"]),
		CreatedAt: asInt64(rows[0]["created_at"]),
	}, nil
}

// GetTimeseriesRange returns rows in [fromMS, toMS] (0 bounds are open),
// newest first, capped at limit.
func (w *Writer) GetTimeseriesRange(ctx context.Context, entityType, urn, aspectName string, fromMS, toMS int64, limit int) ([]AspectRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	res, err := w.run.readTx(ctx, func(q queryRunner) (interface{}, error) {
		cypher := fmt.Sprintf(`
MATCH (e:%s {urn: $urn})-[:HAS_ASPECT {name: $an, kind: 'timeseries'}]->(a:Aspect:Timeseries)
WHERE ($from <= 0 OR a.ts >= $from) AND ($to <= 0 OR a.ts <= $to)
RETURN a.ts AS ts, a.json AS payload, a.createdAt AS created_at
ORDER BY a.ts DESC
LIMIT $limit
`, entityType)
		return q.run(ctx, cypher, map[string]interface{}{
			"urn":   urn,
			"an":    aspectName,
			"from":  fromMS,
			"to":    toMS,
			"limit": limit,
		})
	})
	if err != nil {
		return nil, classifyStoreError(err)
	}
	rows, _ := res.([]map[string]interface{})
	out := make([]AspectRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, AspectRecord{
			Name:      aspectName,
			Timestamp: asInt64(row["ts"]),
			Kind:      "timeseries",
			Payload:   unmarshalPayload(row["payload"]),
			CreatedAt: asInt64(row["created_at"]),
		})
	}
	return out, nil
}
