package aspect

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/yungbote/metagraph-backend/internal/platform/apierr"
	"github.com/yungbote/metagraph-backend/internal/platform/logger"
	"github.com/yungbote/metagraph-backend/internal/registry"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.yaml")
	content := `
entities:
  Dataset:
    identifying_params: [platform, name, env]
    urn_template: "urn:li:dataset:({platform},{name},{env})"
    aspects:
      schemaMetadata: versioned
      datasetProfile: timeseries
aspects:
  schemaMetadata:
    type: versioned
    properties: [schemaName, fields, version]
    required: [schemaName, fields]
    defaults:
      version: 0
  datasetProfile:
    type: timeseries
    properties: [rowCount, kind]
    required: []
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write registry: %v", err)
	}
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	reg, err := registry.Load(path, log)
	if err != nil {
		t.Fatalf("registry.Load: %v", err)
	}
	return reg
}

func TestValidateExactRequiredFieldsSucceeds(t *testing.T) {
	v := NewValidator(testRegistry(t))
	payload := map[string]interface{}{
		"schemaName": "db.table",
		"fields":     []interface{}{map[string]interface{}{"fieldPath": "id"}},
	}
	enriched, err := v.Validate("Dataset", "schemaMetadata", payload, registry.KindVersioned)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	// Registry default applied.
	if enriched["version"] != 0 {
		t.Fatalf("default version: want=0 got=%v", enriched["version"])
	}
	// Input map untouched.
	if _, mutated := payload["version"]; mutated {
		t.Fatalf("Validate mutated the caller's payload")
	}
}

func TestValidateEachRequiredFieldRemovalFails(t *testing.T) {
	v := NewValidator(testRegistry(t))
	full := map[string]interface{}{
		"schemaName": "db.table",
		"fields":     []interface{}{},
	}
	for _, drop := range []string{"schemaName", "fields"} {
		payload := map[string]interface{}{}
		for k, val := range full {
			if k != drop {
				payload[k] = val
			}
		}
		_, err := v.Validate("Dataset", "schemaMetadata", payload, registry.KindVersioned)
		assertKind(t, err, apierr.KindMissingRequiredField)
		var ae *apierr.Error
		errors.As(err, &ae)
		if ae.Field != drop {
			t.Fatalf("error field: want=%q got=%q", drop, ae.Field)
		}
	}
}

func TestValidateNullRequiredFieldFails(t *testing.T) {
	v := NewValidator(testRegistry(t))
	_, err := v.Validate("Dataset", "schemaMetadata", map[string]interface{}{
		"schemaName": nil,
		"fields":     []interface{}{},
	}, registry.KindVersioned)
	assertKind(t, err, apierr.KindMissingRequiredField)
}

func TestValidateUnknownFieldsPreserved(t *testing.T) {
	v := NewValidator(testRegistry(t))
	enriched, err := v.Validate("Dataset", "schemaMetadata", map[string]interface{}{
		"schemaName":  "db.table",
		"fields":      []interface{}{},
		"futureField": "kept",
	}, registry.KindVersioned)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if enriched["futureField"] != "kept" {
		t.Fatalf("unknown field dropped: %v", enriched)
	}
}

func TestValidateKindMismatch(t *testing.T) {
	v := NewValidator(testRegistry(t))
	_, err := v.Validate("Dataset", "datasetProfile", map[string]interface{}{}, registry.KindVersioned)
	assertKind(t, err, apierr.KindAspectKindMismatch)
}

func TestValidateUnknownAspect(t *testing.T) {
	v := NewValidator(testRegistry(t))
	_, err := v.Validate("Dataset", "ghost", map[string]interface{}{}, registry.KindVersioned)
	assertKind(t, err, apierr.KindUnknownAspect)
}

func TestValidateAspectNotDeclaredOnEntity(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.yaml")
	content := `
entities:
  Dataset:
    identifying_params: [name]
    urn_template: "urn:li:dataset:{name}"
    aspects: {}
  DataJob:
    identifying_params: [name]
    urn_template: "urn:li:dataJob:{name}"
    aspects:
      ownership: versioned
aspects:
  ownership:
    type: versioned
    properties: [owners]
    required: []
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write registry: %v", err)
	}
	log, _ := logger.New("test")
	reg, err := registry.Load(path, log)
	if err != nil {
		t.Fatalf("registry.Load: %v", err)
	}
	v := NewValidator(reg)
	_, err = v.Validate("Dataset", "ownership", map[string]interface{}{}, registry.KindVersioned)
	assertKind(t, err, apierr.KindUnknownAspect)
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
