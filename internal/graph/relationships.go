package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/yungbote/metagraph-backend/internal/platform/apierr"
)

// RelationshipKey holds an edge's endpoints and type. Discriminating
// properties are passed to CreateRelationship separately and are not part of
// this struct.
type RelationshipKey struct {
	SrcEntity string
	SrcURN    string
	Type      string
	DstEntity string
	DstURN    string
}

// CreateRelationship MERGEs the edge keyed on endpoints + type +
// discriminator properties. Re-creation merges properties: last-writer-wins
// scalars, union arrays. Both endpoints must exist.
func (w *Writer) CreateRelationship(ctx context.Context, key RelationshipKey, properties map[string]interface{}, discriminators []string) error {
	for _, d := range discriminators {
		if !safePropertyKey(d) {
			return apierr.Newf(apierr.KindRuleEvaluation, "discriminator %q is not a valid property key", d).WithField(d)
		}
	}

	incoming := map[string]interface{}{}
	for k, v := range properties {
		if v == nil {
			continue
		}
		incoming[k] = v
	}
	delete(incoming, "createdAt")

	discParams := map[string]interface{}{}
	for _, d := range discriminators {
		discParams["disc_"+d] = incoming[d]
	}

	return w.withRetry(ctx, "create_relationship", func() error {
		_, err := w.run.writeTx(ctx, func(q queryRunner) (interface{}, error) {
			for _, end := range []struct {
				label, urn, side string
			}{
				{key.SrcEntity, key.SrcURN, "source"},
				{key.DstEntity, key.DstURN, "destination"},
			} {
				rows, err := q.run(ctx, fmt.Sprintf(`MATCH (e:%s {urn: $urn}) RETURN e.urn AS urn`, end.label),
					map[string]interface{}{"urn": end.urn})
				if err != nil {
					return nil, err
				}
				if len(rows) == 0 {
					return nil, apierr.Newf(apierr.KindNotFound, "%s entity %q not found", end.side, end.label).WithURN(end.urn)
				}
			}

			discFilter := discriminatorFragment(discriminators)
			readParams := map[string]interface{}{"src": key.SrcURN, "dst": key.DstURN}
			for k, v := range discParams {
				readParams[k] = v
			}
			readCypher := fmt.Sprintf(`
MATCH (a:%s {urn: $src})-[r:%s%s]->(b:%s {urn: $dst})
RETURN properties(r) AS props
`, key.SrcEntity, key.Type, discFilter, key.DstEntity)
			rows, err := q.run(ctx, readCypher, readParams)
			if err != nil {
				return nil, err
			}

			existing := map[string]interface{}{}
			if len(rows) > 0 {
				if m, ok := rows[0]["props"].(map[string]interface{}); ok {
					existing = m
				}
			}
			merged := mergeProps(existing, incoming)
			if _, ok := merged["createdAt"]; !ok {
				merged["createdAt"] = w.nowMS()
			}

			mergeParams := map[string]interface{}{"src": key.SrcURN, "dst": key.DstURN, "props": merged}
			for k, v := range discParams {
				mergeParams[k] = v
			}
			mergeCypher := fmt.Sprintf(`
MATCH (a:%s {urn: $src})
MATCH (b:%s {urn: $dst})
MERGE (a)-[r:%s%s]->(b)
SET r = $props
`, key.SrcEntity, key.DstEntity, key.Type, discFilter)
			return q.run(ctx, mergeCypher, mergeParams)
		})
		return classifyStoreError(err)
	})
}

// discriminatorFragment renders the inline property map that keys the MERGE,
// e.g. ` {type: $disc_type}`. Keys are validated by the caller.
func discriminatorFragment(discriminators []string) string {
	if len(discriminators) == 0 {
		return ""
	}
	keys := append([]string(nil), discriminators...)
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: $disc_%s", k, k))
	}
	return " {" + strings.Join(parts, ", ") + "}"
}

func safePropertyKey(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
