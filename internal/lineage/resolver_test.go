package lineage

import (
	"errors"
	"testing"

	"github.com/yungbote/metagraph-backend/internal/platform/apierr"
	"github.com/yungbote/metagraph-backend/internal/platform/logger"
	"github.com/yungbote/metagraph-backend/internal/registry"
)

func testConfig() *registry.LineageConfig {
	return &registry.LineageConfig{
		TransformationTemplates: registry.TransformationTemplates{
			Default: registry.LineageTemplate{
				DescriptionTemplate: "{transformation_type} applied to {input_columns}",
				RelationshipProperties: map[string]string{
					"subtype": "{transformation_type}",
				},
			},
			Patterns: map[string]registry.LineageTemplate{
				"CONCATENATION": {
					DescriptionTemplate: "Concatenated from {input_columns}",
					RelationshipProperties: map[string]string{
						"subtype": "CONCATENATION",
					},
				},
			},
		},
	}
}

func testResolver(t *testing.T) *Resolver {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return NewResolver(testConfig(), log)
}

const targetColumn = "urn:li:dataset:(urn:li:dataPlatform:mysql,db.final,PROD)#email_hash"

func TestResolveUnknownTypeFallsBackToDefault(t *testing.T) {
	r := testResolver(t)

	edges, err := r.Resolve(targetColumn, map[string]interface{}{
		"transformation_type": "HASHING",
		"input_columns":       []interface{}{"customer_email"},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("edges: want=1 got=%d", len(edges))
	}
	edge := edges[0]
	if edge.SrcColumnURN != targetColumn {
		t.Fatalf("src: got=%q", edge.SrcColumnURN)
	}
	// Bare field joins to the owning column's dataset.
	wantDst := "urn:li:dataset:(urn:li:dataPlatform:mysql,db.final,PROD)#customer_email"
	if edge.DstColumnURN != wantDst {
		t.Fatalf("dst: want=%q got=%q", wantDst, edge.DstColumnURN)
	}
	// HASHING has no pattern: subtype comes from the default template,
	// populated literally from the payload.
	if edge.Properties["subtype"] != "HASHING" {
		t.Fatalf("subtype: want=HASHING got=%v", edge.Properties["subtype"])
	}
	if edge.Properties["description"] != "HASHING applied to customer_email" {
		t.Fatalf("description: got=%v", edge.Properties["description"])
	}
}

func TestResolveMatchesDeclaredPattern(t *testing.T) {
	r := testResolver(t)

	edges, err := r.Resolve(targetColumn, map[string]interface{}{
		"transformation_type": "CONCATENATION",
		"input_columns":       []interface{}{"first_name", "last_name"},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(edges) != 2 {
		t.Fatalf("edges: want=2 got=%d", len(edges))
	}
	if edges[0].Properties["subtype"] != "CONCATENATION" {
		t.Fatalf("subtype: got=%v", edges[0].Properties["subtype"])
	}
	if edges[0].Properties["description"] != "Concatenated from first_name, last_name" {
		t.Fatalf("description: got=%v", edges[0].Properties["description"])
	}
}

func TestResolveUsesSourceDataset(t *testing.T) {
	r := testResolver(t)

	edges, err := r.Resolve(targetColumn, map[string]interface{}{
		"transformation_type": "HASHING",
		"input_columns":       []interface{}{"customer_email"},
		"source_dataset":      "urn:li:dataset:(urn:li:dataPlatform:mysql,db.raw,PROD)",
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	wantDst := "urn:li:dataset:(urn:li:dataPlatform:mysql,db.raw,PROD)#customer_email"
	if edges[0].DstColumnURN != wantDst {
		t.Fatalf("dst: want=%q got=%q", wantDst, edges[0].DstColumnURN)
	}
}

func TestResolveFullColumnURNPassedThrough(t *testing.T) {
	r := testResolver(t)

	full := "urn:li:dataset:(urn:li:dataPlatform:snowflake,staging,PROD)#email"
	edges, err := r.Resolve(targetColumn, map[string]interface{}{
		"transformation_type": "HASHING",
		"input_columns":       []interface{}{full},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if edges[0].DstColumnURN != full {
		t.Fatalf("dst: want=%q got=%q", full, edges[0].DstColumnURN)
	}
}

func TestResolveNoInputColumnsYieldsNothing(t *testing.T) {
	r := testResolver(t)
	edges, err := r.Resolve(targetColumn, map[string]interface{}{"transformation_type": "HASHING"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(edges) != 0 {
		t.Fatalf("edges: want=0 got=%d", len(edges))
	}
}

func TestResolveRejectsNonArrayInputColumns(t *testing.T) {
	r := testResolver(t)
	_, err := r.Resolve(targetColumn, map[string]interface{}{
		"transformation_type": "HASHING",
		"input_columns":       "customer_email",
	})
	var ae *apierr.Error
	if !errors.As(err, &ae) || ae.Kind != apierr.KindRuleEvaluation {
		t.Fatalf("error kind: want=%v got=%v", apierr.KindRuleEvaluation, err)
	}
}

func TestResolveNilConfig(t *testing.T) {
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	r := NewResolver(nil, log)
	edges, err := r.Resolve(targetColumn, map[string]interface{}{
		"transformation_type": "HASHING",
		"input_columns":       []interface{}{"x"},
	})
	if err != nil || edges != nil {
		t.Fatalf("nil config: want no-op, got edges=%v err=%v", edges, err)
	}
}
