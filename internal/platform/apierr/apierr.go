package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies every user-visible error produced by the write core.
type Kind string

const (
	KindRegistryParse        Kind = "REGISTRY_PARSE"
	KindRegistryReference    Kind = "REGISTRY_REFERENCE"
	KindRegistryKindMismatch Kind = "REGISTRY_KIND_MISMATCH"
	KindValidation           Kind = "VALIDATION"
	KindUnknownAspect        Kind = "UNKNOWN_ASPECT"
	KindAspectKindMismatch   Kind = "ASPECT_KIND_MISMATCH"
	KindMissingRequiredField Kind = "MISSING_REQUIRED_FIELD"
	KindURNConstruction      Kind = "URN_CONSTRUCTION"
	KindStoreConflict        Kind = "STORE_CONFLICT"
	KindStoreUnavailable     Kind = "STORE_UNAVAILABLE"
	KindRuleEvaluation       Kind = "RULE_EVALUATION"
	KindNotFound             Kind = "NOT_FOUND"
	KindDependencyViolation  Kind = "DEPENDENCY_VIOLATION"
	KindInternal             Kind = "INTERNAL"
)

// Error carries the kind, the offending field or URN, and the correlation id
// for log cross-reference.
type Error struct {
	Kind          Kind
	Status        int
	Field         string
	URN           string
	CorrelationID string
	Transient     bool
	Err           error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := string(e.Kind)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", e.Kind, e.Err.Error())
	}
	if e.Field != "" {
		msg = fmt.Sprintf("%s (field=%s)", msg, e.Field)
	}
	if e.URN != "" {
		msg = fmt.Sprintf("%s (urn=%s)", msg, e.URN)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so callers can compare against kind sentinels.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Status: statusFor(kind), Err: err}
}

func Newf(kind Kind, format string, args ...interface{}) *Error {
	return New(kind, fmt.Errorf(format, args...))
}

func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

func (e *Error) WithURN(urn string) *Error {
	e.URN = urn
	return e
}

func (e *Error) WithCorrelationID(id string) *Error {
	e.CorrelationID = id
	return e
}

func (e *Error) AsTransient() *Error {
	e.Transient = true
	return e
}

// KindOf extracts the Kind from any error chain; KindInternal when untyped.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// IsTransient reports whether callers may safely retry the request.
func IsTransient(err error) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Transient
	}
	return false
}

// Annotate stamps a correlation id on the error when it is one of ours and
// has none yet; untyped errors are wrapped as KindInternal.
func Annotate(err error, correlationID string) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		if ae.CorrelationID == "" {
			ae.CorrelationID = correlationID
		}
		return err
	}
	return New(KindInternal, err).WithCorrelationID(correlationID)
}

func statusFor(kind Kind) int {
	switch kind {
	case KindValidation, KindUnknownAspect, KindAspectKindMismatch, KindMissingRequiredField, KindURNConstruction:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindStoreConflict, KindDependencyViolation:
		return http.StatusConflict
	case KindRuleEvaluation:
		return http.StatusUnprocessableEntity
	case KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
