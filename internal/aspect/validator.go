package aspect

import (
	"github.com/yungbote/metagraph-backend/internal/platform/apierr"
	"github.com/yungbote/metagraph-backend/internal/registry"
)

// Validator checks aspect writes against the registry before anything
// touches the store. Unknown payload fields pass through untouched.
type Validator struct {
	reg *registry.Registry
}

func NewValidator(reg *registry.Registry) *Validator {
	return &Validator{reg: reg}
}

// Validate confirms the aspect is declared on the entity with the expected
// kind and that every required field is present and non-null. It returns the
// payload with registry defaults applied; the input map is not mutated.
func (v *Validator) Validate(entityType, aspectName string, payload map[string]interface{}, wantKind registry.AspectKind) (map[string]interface{}, error) {
	def, ok := v.reg.Aspect(aspectName)
	if !ok {
		return nil, apierr.Newf(apierr.KindUnknownAspect, "aspect %q is not defined in the registry", aspectName).WithField(aspectName)
	}
	ent, ok := v.reg.Entity(entityType)
	if !ok {
		return nil, apierr.Newf(apierr.KindValidation, "unknown entity type %q", entityType).WithField(entityType)
	}
	declaredKind, declared := ent.Aspects[aspectName]
	if !declared {
		return nil, apierr.Newf(apierr.KindUnknownAspect,
			"aspect %q is not declared on entity %q", aspectName, entityType).WithField(aspectName)
	}
	if declaredKind != wantKind || def.Type != wantKind {
		return nil, apierr.Newf(apierr.KindAspectKindMismatch,
			"aspect %q on entity %q is %q, not %q", aspectName, entityType, declaredKind, wantKind).WithField(aspectName)
	}

	enriched := make(map[string]interface{}, len(payload)+len(def.Defaults))
	for k, val := range payload {
		enriched[k] = val
	}
	for k, dflt := range def.Defaults {
		if _, present := enriched[k]; !present {
			enriched[k] = dflt
		}
	}

	for _, field := range def.Required {
		val, present := enriched[field]
		if !present || val == nil {
			return nil, apierr.Newf(apierr.KindMissingRequiredField,
				"aspect %q: required field %q is missing", aspectName, field).WithField(field)
		}
	}
	return enriched, nil
}

// Kind returns the declared kind of an aspect.
func (v *Validator) Kind(aspectName string) (registry.AspectKind, error) {
	kind, ok := v.reg.AspectKind(aspectName)
	if !ok {
		return "", apierr.Newf(apierr.KindUnknownAspect, "aspect %q is not defined in the registry", aspectName).WithField(aspectName)
	}
	return kind, nil
}
