package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/metagraph-backend/internal/platform/apierr"
)

func record(t *testing.T, err error) (*httptest.ResponseRecorder, ErrorEnvelope) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	RespondError(c, err)

	var envelope ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return rec, envelope
}

func TestRespondErrorMapsKindsToStatuses(t *testing.T) {
	cases := []struct {
		kind   apierr.Kind
		status int
	}{
		{apierr.KindMissingRequiredField, http.StatusBadRequest},
		{apierr.KindURNConstruction, http.StatusBadRequest},
		{apierr.KindNotFound, http.StatusNotFound},
		{apierr.KindStoreConflict, http.StatusConflict},
		{apierr.KindDependencyViolation, http.StatusConflict},
		{apierr.KindRuleEvaluation, http.StatusUnprocessableEntity},
		{apierr.KindStoreUnavailable, http.StatusServiceUnavailable},
		{apierr.KindInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec, envelope := record(t, apierr.Newf(tc.kind, "boom"))
		if rec.Code != tc.status {
			t.Fatalf("%s: status want=%d got=%d", tc.kind, tc.status, rec.Code)
		}
		if envelope.Error.Code != string(tc.kind) {
			t.Fatalf("%s: code want=%q got=%q", tc.kind, tc.kind, envelope.Error.Code)
		}
	}
}

func TestRespondErrorCarriesFieldURNAndCorrelation(t *testing.T) {
	err := apierr.Newf(apierr.KindMissingRequiredField, "required field missing").
		WithField("owners").
		WithURN("urn:li:dataset:x").
		WithCorrelationID("req-7")
	rec, envelope := record(t, err)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: want=400 got=%d", rec.Code)
	}
	if envelope.Error.Field != "owners" {
		t.Fatalf("field: want=owners got=%q", envelope.Error.Field)
	}
	if envelope.Error.URN != "urn:li:dataset:x" {
		t.Fatalf("urn: got=%q", envelope.Error.URN)
	}
	if envelope.Error.CorrelationID != "req-7" {
		t.Fatalf("correlation_id: got=%q", envelope.Error.CorrelationID)
	}
}

func TestRespondErrorUntypedFallsBackToInternal(t *testing.T) {
	rec, envelope := record(t, errors.New("boom"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status: want=500 got=%d", rec.Code)
	}
	if envelope.Error.Code != string(apierr.KindInternal) {
		t.Fatalf("code: got=%q", envelope.Error.Code)
	}
}

func TestRespondErrorMarksTransient(t *testing.T) {
	_, envelope := record(t, apierr.Newf(apierr.KindStoreUnavailable, "down").AsTransient())
	if !envelope.Error.Transient {
		t.Fatalf("transient flag must survive the envelope")
	}
}
