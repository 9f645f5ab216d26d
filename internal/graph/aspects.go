package graph

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/yungbote/metagraph-backend/internal/platform/apierr"
)

// UpsertVersionedAspect writes the next version of the aspect and moves the
// latest pointer, all inside one transaction. Concurrent writers race on the
// Aspect.id uniqueness constraint; the loser retries and observes the new
// max version.
func (w *Writer) UpsertVersionedAspect(ctx context.Context, entityType, urn, aspectName string, payload map[string]interface{}) (int64, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return 0, err
	}

	var version int64
	err = w.withRetry(ctx, "upsert_versioned_aspect", func() error {
		res, err := w.run.writeTx(ctx, func(q queryRunner) (interface{}, error) {
			maxCypher := fmt.Sprintf(`
MATCH (e:%s {urn: $urn})
OPTIONAL MATCH (e)-[:HAS_ASPECT {name: $an}]->(a:Aspect:Versioned)
RETURN e.urn AS urn, coalesce(max(a.version), 0) AS maxv
`, entityType)
			rows, err := q.run(ctx, maxCypher, map[string]interface{}{"urn": urn, "an": aspectName})
			if err != nil {
				return nil, err
			}
			if len(rows) == 0 {
				return nil, apierr.Newf(apierr.KindNotFound, "entity %q not found", entityType).WithURN(urn)
			}
			newVersion := asInt64(rows[0]["maxv"]) + 1

			flipCypher := fmt.Sprintf(`
MATCH (e:%s {urn: $urn})-[r:HAS_ASPECT {name: $an, kind: 'versioned', latest: true}]->(:Aspect)
SET r.latest = false
`, entityType)
			if _, err := q.run(ctx, flipCypher, map[string]interface{}{"urn": urn, "an": aspectName}); err != nil {
				return nil, err
			}

			createCypher := fmt.Sprintf(`
MATCH (e:%s {urn: $urn})
CREATE (a:Aspect:Versioned {id: $id, name: $an, version: $ver, kind: 'versioned', json: $json, createdAt: $now})
CREATE (e)-[:HAS_ASPECT {name: $an, version: $ver, latest: true, kind: 'versioned'}]->(a)
`, entityType)
			_, err = q.run(ctx, createCypher, map[string]interface{}{
				"urn":  urn,
				"id":   aspectID(urn, aspectName, newVersion),
				"an":   aspectName,
				"ver":  newVersion,
				"json": raw,
				"now":  w.nowMS(),
			})
			if err != nil {
				return nil, err
			}
			return newVersion, nil
		})
		if err != nil {
			return classifyStoreError(err)
		}
		version = res.(int64)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return version, nil
}

// AppendTimeseriesAspect inserts one time-series row. Identical timestamps
// are admitted as siblings; the row id carries a uuid so the append never
// conflicts.
func (w *Writer) AppendTimeseriesAspect(ctx context.Context, entityType, urn, aspectName string, payload map[string]interface{}, timestampMS int64) (int64, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return 0, err
	}
	ts := timestampMS
	if ts <= 0 {
		ts = w.nowMS()
	}
	rowID := aspectID(urn, aspectName, fmt.Sprintf("%d|%s", ts, uuid.New().String()))

	err = w.withRetry(ctx, "append_timeseries_aspect", func() error {
		_, err := w.run.writeTx(ctx, func(q queryRunner) (interface{}, error) {
			existsCypher := fmt.Sprintf(`MATCH (e:%s {urn: $urn}) RETURN e.urn AS urn`, entityType)
			rows, err := q.run(ctx, existsCypher, map[string]interface{}{"urn": urn})
			if err != nil {
				return nil, err
			}
			if len(rows) == 0 {
				return nil, apierr.Newf(apierr.KindNotFound, "entity %q not found", entityType).WithURN(urn)
			}
			createCypher := fmt.Sprintf(`
MATCH (e:%s {urn: $urn})
CREATE (a:Aspect:Timeseries {id: $id, name: $an, ts: $ts, kind: 'timeseries', json: $json, createdAt: $now})
CREATE (e)-[:HAS_ASPECT {name: $an, ts: $ts, kind: 'timeseries'}]->(a)
`, entityType)
			return q.run(ctx, createCypher, map[string]interface{}{
				"urn":  urn,
				"id":   rowID,
				"an":   aspectName,
				"ts":   ts,
				"json": raw,
				"now":  w.nowMS(),
			})
		})
		return classifyStoreError(err)
	})
	if err != nil {
		return 0, err
	}
	return ts, nil
}

// DeleteAspect removes every version or time-series row for the pair. The
// owning node is preserved.
func (w *Writer) DeleteAspect(ctx context.Context, entityType, urn, aspectName string) error {
	return w.withRetry(ctx, "delete_aspect", func() error {
		_, err := w.run.writeTx(ctx, func(q queryRunner) (interface{}, error) {
			existsCypher := fmt.Sprintf(`MATCH (e:%s {urn: $urn}) RETURN e.urn AS urn`, entityType)
			rows, err := q.run(ctx, existsCypher, map[string]interface{}{"urn": urn})
			if err != nil {
				return nil, err
			}
			if len(rows) == 0 {
				return nil, apierr.Newf(apierr.KindNotFound, "entity %q not found", entityType).WithURN(urn)
			}
			deleteCypher := fmt.Sprintf(`
MATCH (e:%s {urn: $urn})-[r:HAS_ASPECT {name: $an}]->(a:Aspect)
DELETE r, a
`, entityType)
			return q.run(ctx, deleteCypher, map[string]interface{}{"urn": urn, "an": aspectName})
		})
		return classifyStoreError(err)
	})
}
