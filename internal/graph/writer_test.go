package graph

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yungbote/metagraph-backend/internal/platform/apierr"
	"github.com/yungbote/metagraph-backend/internal/platform/logger"
)

type executedQuery struct {
	cypher string
	params map[string]interface{}
}

// fakeRunner scripts the store boundary: every tx.Run is routed through
// onRun, and every statement is recorded in order.
type fakeRunner struct {
	onRun    func(cypher string, params map[string]interface{}) ([]map[string]interface{}, error)
	executed []executedQuery
	writeTxs int
}

func (f *fakeRunner) run(ctx context.Context, cypher string, params map[string]interface{}) ([]map[string]interface{}, error) {
	f.executed = append(f.executed, executedQuery{cypher: cypher, params: params})
	if f.onRun == nil {
		return nil, nil
	}
	return f.onRun(cypher, params)
}

func (f *fakeRunner) writeTx(ctx context.Context, work func(q queryRunner) (interface{}, error)) (interface{}, error) {
	f.writeTxs++
	return work(f)
}

func (f *fakeRunner) readTx(ctx context.Context, work func(q queryRunner) (interface{}, error)) (interface{}, error) {
	return work(f)
}

func (f *fakeRunner) find(t *testing.T, fragment string) executedQuery {
	t.Helper()
	for _, q := range f.executed {
		if strings.Contains(q.cypher, fragment) {
			return q
		}
	}
	t.Fatalf("no executed query contains %q", fragment)
	return executedQuery{}
}

func (f *fakeRunner) count(fragment string) int {
	n := 0
	for _, q := range f.executed {
		if strings.Contains(q.cypher, fragment) {
			n++
		}
	}
	return n
}

func testWriter(t *testing.T, run *fakeRunner) *Writer {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	w := newWriter(run, log)
	w.nowMS = func() int64 { return 1700000000000 }
	return w
}

const dsURN = "urn:li:dataset:(urn:li:dataPlatform:mysql,test_db.test_table,PROD)"

func TestUpsertEntitySetsParamsAndTimestamps(t *testing.T) {
	run := &fakeRunner{}
	w := testWriter(t, run)

	err := w.UpsertEntity(context.Background(), "Dataset", dsURN, map[string]interface{}{
		"platform": "mysql",
		"name":     "test_db.test_table",
		"env":      "PROD",
		"ignored":  nil,
	})
	if err != nil {
		t.Fatalf("UpsertEntity: %v", err)
	}

	q := run.find(t, "MERGE (e:Dataset {urn: $urn})")
	if q.params["urn"] != dsURN {
		t.Fatalf("urn param: want=%q got=%v", dsURN, q.params["urn"])
	}
	props := q.params["props"].(map[string]interface{})
	if props["platform"] != "mysql" {
		t.Fatalf("props.platform: want=mysql got=%v", props["platform"])
	}
	if _, present := props["ignored"]; present {
		t.Fatalf("nil-valued param must not be written")
	}
	if q.params["now"] != int64(1700000000000) {
		t.Fatalf("now param: got=%v", q.params["now"])
	}
}

func TestUpsertVersionedAspectAssignsNextVersion(t *testing.T) {
	run := &fakeRunner{}
	run.onRun = func(cypher string, params map[string]interface{}) ([]map[string]interface{}, error) {
		if strings.Contains(cypher, "coalesce(max(a.version), 0)") {
			return []map[string]interface{}{{"urn": dsURN, "maxv": int64(2)}}, nil
		}
		return nil, nil
	}
	w := testWriter(t, run)

	version, err := w.UpsertVersionedAspect(context.Background(), "Dataset", dsURN, "datasetProperties",
		map[string]interface{}{"description": "x"})
	if err != nil {
		t.Fatalf("UpsertVersionedAspect: %v", err)
	}
	if version != 3 {
		t.Fatalf("version: want=3 got=%d", version)
	}

	// Latest pointer flips before the new record is created.
	flipIdx, createIdx := -1, -1
	for i, q := range run.executed {
		if strings.Contains(q.cypher, "SET r.latest = false") {
			flipIdx = i
		}
		if strings.Contains(q.cypher, "CREATE (a:Aspect:Versioned") {
			createIdx = i
		}
	}
	if flipIdx < 0 || createIdx < 0 || flipIdx > createIdx {
		t.Fatalf("latest flip must precede create: flip=%d create=%d", flipIdx, createIdx)
	}

	create := run.find(t, "CREATE (a:Aspect:Versioned")
	if create.params["ver"] != int64(3) {
		t.Fatalf("create ver: want=3 got=%v", create.params["ver"])
	}
	if create.params["id"] != dsURN+"|datasetProperties|3" {
		t.Fatalf("aspect id: got=%v", create.params["id"])
	}
	if !strings.Contains(create.params["json"].(string), `"description":"x"`) {
		t.Fatalf("payload json: got=%v", create.params["json"])
	}
	if run.writeTxs != 1 {
		t.Fatalf("writeTxs: want=1 got=%d", run.writeTxs)
	}
}

func TestUpsertVersionedAspectMissingEntity(t *testing.T) {
	run := &fakeRunner{}
	w := testWriter(t, run)

	_, err := w.UpsertVersionedAspect(context.Background(), "Dataset", dsURN, "datasetProperties", nil)
	assertKind(t, err, apierr.KindNotFound)
}

func TestUpsertVersionedAspectRetriesOnConstraintRace(t *testing.T) {
	run := &fakeRunner{}
	conflicted := false
	maxv := int64(4)
	run.onRun = func(cypher string, params map[string]interface{}) ([]map[string]interface{}, error) {
		switch {
		case strings.Contains(cypher, "coalesce(max(a.version), 0)"):
			return []map[string]interface{}{{"urn": dsURN, "maxv": maxv}}, nil
		case strings.Contains(cypher, "CREATE (a:Aspect:Versioned"):
			if !conflicted {
				conflicted = true
				maxv = 5 // another writer won the race
				return nil, &neo4j.Neo4jError{Code: "Neo.ClientError.Schema.ConstraintValidationFailed", Msg: "already exists"}
			}
			return nil, nil
		}
		return nil, nil
	}
	w := testWriter(t, run)
	w.retry.MinBackoff = time.Millisecond
	w.retry.MaxBackoff = 2 * time.Millisecond

	version, err := w.UpsertVersionedAspect(context.Background(), "Dataset", dsURN, "schemaMetadata", nil)
	if err != nil {
		t.Fatalf("UpsertVersionedAspect: %v", err)
	}
	if version != 6 {
		t.Fatalf("version after retry: want=6 got=%d", version)
	}
	if run.writeTxs != 2 {
		t.Fatalf("writeTxs: want=2 got=%d", run.writeTxs)
	}
}

func TestUpsertVersionedAspectExhaustsRetries(t *testing.T) {
	run := &fakeRunner{}
	run.onRun = func(cypher string, params map[string]interface{}) ([]map[string]interface{}, error) {
		if strings.Contains(cypher, "coalesce(max(a.version), 0)") {
			return []map[string]interface{}{{"urn": dsURN, "maxv": int64(0)}}, nil
		}
		if strings.Contains(cypher, "CREATE (a:Aspect:Versioned") {
			return nil, &neo4j.Neo4jError{Code: "Neo.ClientError.Schema.ConstraintValidationFailed", Msg: "always"}
		}
		return nil, nil
	}
	w := testWriter(t, run)
	w.retry = RetryPolicy{Attempts: 3, MinBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

	_, err := w.UpsertVersionedAspect(context.Background(), "Dataset", dsURN, "schemaMetadata", nil)
	assertKind(t, err, apierr.KindStoreConflict)
	if run.writeTxs != 3 {
		t.Fatalf("writeTxs: want=3 got=%d", run.writeTxs)
	}
}

func TestAppendTimeseriesAdmitsIdenticalTimestamps(t *testing.T) {
	run := &fakeRunner{}
	run.onRun = func(cypher string, params map[string]interface{}) ([]map[string]interface{}, error) {
		if strings.Contains(cypher, "RETURN e.urn AS urn") {
			return []map[string]interface{}{{"urn": dsURN}}, nil
		}
		return nil, nil
	}
	w := testWriter(t, run)

	ts1, err := w.AppendTimeseriesAspect(context.Background(), "Dataset", dsURN, "datasetProfile",
		map[string]interface{}{"rowCount": 10}, 42)
	if err != nil {
		t.Fatalf("AppendTimeseriesAspect: %v", err)
	}
	ts2, err := w.AppendTimeseriesAspect(context.Background(), "Dataset", dsURN, "datasetProfile",
		map[string]interface{}{"rowCount": 11}, 42)
	if err != nil {
		t.Fatalf("AppendTimeseriesAspect sibling: %v", err)
	}
	if ts1 != 42 || ts2 != 42 {
		t.Fatalf("timestamps: want=42,42 got=%d,%d", ts1, ts2)
	}
	if got := run.count("CREATE (a:Aspect:Timeseries"); got != 2 {
		t.Fatalf("timeseries creates: want=2 got=%d", got)
	}
	creates := []executedQuery{}
	for _, q := range run.executed {
		if strings.Contains(q.cypher, "CREATE (a:Aspect:Timeseries") {
			creates = append(creates, q)
		}
	}
	if creates[0].params["id"] == creates[1].params["id"] {
		t.Fatalf("sibling rows must have distinct ids")
	}
}

func TestAppendTimeseriesDefaultsTimestamp(t *testing.T) {
	run := &fakeRunner{}
	run.onRun = func(cypher string, params map[string]interface{}) ([]map[string]interface{}, error) {
		if strings.Contains(cypher, "RETURN e.urn AS urn") {
			return []map[string]interface{}{{"urn": dsURN}}, nil
		}
		return nil, nil
	}
	w := testWriter(t, run)

	ts, err := w.AppendTimeseriesAspect(context.Background(), "Dataset", dsURN, "datasetProfile", nil, 0)
	if err != nil {
		t.Fatalf("AppendTimeseriesAspect: %v", err)
	}
	if ts != 1700000000000 {
		t.Fatalf("defaulted timestamp: want=1700000000000 got=%d", ts)
	}
}

func TestCreateRelationshipMergesProperties(t *testing.T) {
	userURN := "urn:li:corpuser:alice"
	run := &fakeRunner{}
	run.onRun = func(cypher string, params map[string]interface{}) ([]map[string]interface{}, error) {
		switch {
		case strings.Contains(cypher, "RETURN e.urn AS urn"):
			return []map[string]interface{}{{"urn": params["urn"]}}, nil
		case strings.Contains(cypher, "RETURN properties(r) AS props"):
			return []map[string]interface{}{{"props": map[string]interface{}{
				"type":      "DATA_OWNER",
				"sources":   []interface{}{"MANUAL"},
				"createdAt": int64(5),
			}}}, nil
		}
		return nil, nil
	}
	w := testWriter(t, run)

	err := w.CreateRelationship(context.Background(), RelationshipKey{
		SrcEntity: "Dataset", SrcURN: dsURN,
		Type:      "OWNED_BY",
		DstEntity: "CorpUser", DstURN: userURN,
	}, map[string]interface{}{
		"type":    "DATA_OWNER",
		"sources": []interface{}{"INGESTION"},
		"via":     "ownership",
	}, []string{"type"})
	if err != nil {
		t.Fatalf("CreateRelationship: %v", err)
	}

	merge := run.find(t, "MERGE (a)-[r:OWNED_BY {type: $disc_type}]->(b)")
	props := merge.params["props"].(map[string]interface{})
	if props["via"] != "ownership" {
		t.Fatalf("props.via: got=%v", props["via"])
	}
	// Array union keeps the existing element and appends the new one.
	sources := props["sources"].([]interface{})
	if len(sources) != 2 || sources[0] != "MANUAL" || sources[1] != "INGESTION" {
		t.Fatalf("props.sources union: got=%v", sources)
	}
	// createdAt survives from the first write.
	if props["createdAt"] != int64(5) {
		t.Fatalf("props.createdAt: want=5 got=%v", props["createdAt"])
	}
	if merge.params["disc_type"] != "DATA_OWNER" {
		t.Fatalf("disc_type: got=%v", merge.params["disc_type"])
	}
}

func TestCreateRelationshipMissingEndpoint(t *testing.T) {
	run := &fakeRunner{}
	run.onRun = func(cypher string, params map[string]interface{}) ([]map[string]interface{}, error) {
		if strings.Contains(cypher, "MATCH (e:Dataset") {
			return []map[string]interface{}{{"urn": params["urn"]}}, nil
		}
		return nil, nil // CorpUser missing
	}
	w := testWriter(t, run)

	err := w.CreateRelationship(context.Background(), RelationshipKey{
		SrcEntity: "Dataset", SrcURN: dsURN,
		Type:      "OWNED_BY",
		DstEntity: "CorpUser", DstURN: "urn:li:corpuser:ghost",
	}, nil, nil)
	assertKind(t, err, apierr.KindNotFound)
}

func TestCreateRelationshipRejectsUnsafeDiscriminator(t *testing.T) {
	run := &fakeRunner{}
	w := testWriter(t, run)
	err := w.CreateRelationship(context.Background(), RelationshipKey{
		SrcEntity: "Dataset", SrcURN: dsURN,
		Type:      "OWNED_BY",
		DstEntity: "CorpUser", DstURN: "urn:li:corpuser:alice",
	}, nil, []string{"bad key"})
	assertKind(t, err, apierr.KindRuleEvaluation)
	if len(run.executed) != 0 {
		t.Fatalf("no query may run for an invalid discriminator")
	}
}

func TestDeleteEntityNonCascadeWithDependents(t *testing.T) {
	run := &fakeRunner{}
	run.onRun = func(cypher string, params map[string]interface{}) ([]map[string]interface{}, error) {
		switch {
		case strings.Contains(cypher, "RETURN e.urn AS urn"):
			return []map[string]interface{}{{"urn": dsURN}}, nil
		case strings.Contains(cypher, "count(inc) AS incoming"):
			return []map[string]interface{}{{"aspects": int64(2), "incoming": int64(1)}}, nil
		}
		return nil, nil
	}
	w := testWriter(t, run)

	err := w.DeleteEntity(context.Background(), "Dataset", dsURN, false)
	assertKind(t, err, apierr.KindDependencyViolation)
	if run.count("DETACH DELETE e") != 0 {
		t.Fatalf("node must not be deleted when dependents exist")
	}
}

func TestDeleteEntityCascade(t *testing.T) {
	run := &fakeRunner{}
	run.onRun = func(cypher string, params map[string]interface{}) ([]map[string]interface{}, error) {
		if strings.Contains(cypher, "RETURN e.urn AS urn") {
			return []map[string]interface{}{{"urn": dsURN}}, nil
		}
		return nil, nil
	}
	w := testWriter(t, run)

	if err := w.DeleteEntity(context.Background(), "Dataset", dsURN, true); err != nil {
		t.Fatalf("DeleteEntity: %v", err)
	}
	cascade := run.find(t, "DETACH DELETE a")
	if !strings.Contains(cascade.cypher, "DETACH DELETE e") {
		t.Fatalf("cascade must remove the node with its aspects: %s", cascade.cypher)
	}
}

func TestDeleteEntityNotFound(t *testing.T) {
	run := &fakeRunner{}
	w := testWriter(t, run)
	err := w.DeleteEntity(context.Background(), "Dataset", dsURN, true)
	assertKind(t, err, apierr.KindNotFound)
}

func TestDeleteAspectRemovesAllVersions(t *testing.T) {
	run := &fakeRunner{}
	run.onRun = func(cypher string, params map[string]interface{}) ([]map[string]interface{}, error) {
		if strings.Contains(cypher, "RETURN e.urn AS urn") {
			return []map[string]interface{}{{"urn": dsURN}}, nil
		}
		return nil, nil
	}
	w := testWriter(t, run)

	if err := w.DeleteAspect(context.Background(), "Dataset", dsURN, "schemaMetadata"); err != nil {
		t.Fatalf("DeleteAspect: %v", err)
	}
	q := run.find(t, "DELETE r, a")
	if q.params["an"] != "schemaMetadata" {
		t.Fatalf("aspect name param: got=%v", q.params["an"])
	}
	if !strings.Contains(q.cypher, "HAS_ASPECT {name: $an}") {
		t.Fatalf("delete must target every row of the pair: %s", q.cypher)
	}
}

func TestGetLatestVersionedAspect(t *testing.T) {
	run := &fakeRunner{}
	run.onRun = func(cypher string, params map[string]interface{}) ([]map[string]interface{}, error) {
		if strings.Contains(cypher, "latest: true") {
			return []map[string]interface{}{{
				"version":    int64(3),
				"payload":    `{"description":"x"}`,
				"created_at": int64(99),
			}}, nil
		}
		return nil, nil
	}
	w := testWriter(t, run)

	rec, err := w.GetLatestVersionedAspect(context.Background(), "Dataset", dsURN, "datasetProperties")
	if err != nil {
		t.Fatalf("GetLatestVersionedAspect: %v", err)
	}
	if rec.Version != 3 || !rec.Latest {
		t.Fatalf("record: want version=3 latest=true got=%+v", rec)
	}
	if rec.Payload["description"] != "x" {
		t.Fatalf("payload roundtrip: got=%v", rec.Payload)
	}
}

func TestGetLatestVersionedAspectNotFound(t *testing.T) {
	run := &fakeRunner{}
	w := testWriter(t, run)
	_, err := w.GetLatestVersionedAspect(context.Background(), "Dataset", dsURN, "datasetProperties")
	assertKind(t, err, apierr.KindNotFound)
}

func TestGetTimeseriesRange(t *testing.T) {
	run := &fakeRunner{}
	run.onRun = func(cypher string, params map[string]interface{}) ([]map[string]interface{}, error) {
		return []map[string]interface{}{
			{"ts": int64(20), "payload": `{"rowCount":2}`, "created_at": int64(20)},
			{"ts": int64(10), "payload": `{"rowCount":1}`, "created_at": int64(10)},
		}, nil
	}
	w := testWriter(t, run)

	records, err := w.GetTimeseriesRange(context.Background(), "Dataset", dsURN, "datasetProfile", 0, 0, 10)
	if err != nil {
		t.Fatalf("GetTimeseriesRange: %v", err)
	}
	if len(records) != 2 || records[0].Timestamp != 20 {
		t.Fatalf("records: got=%+v", records)
	}
}

func assertKind(t *testing.T, err error, want apierr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v error, got nil", want)
	}
	var ae *apierr.Error
	if !errors.As(err, &ae) {
		t.Fatalf("expected *apierr.Error, got %T: %v", err, err)
	}
	if ae.Kind != want {
		t.Fatalf("error kind: want=%v got=%v (%v)", want, ae.Kind, err)
	}
}
