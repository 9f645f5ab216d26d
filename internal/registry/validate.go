package registry

import (
	"github.com/yungbote/metagraph-backend/internal/platform/apierr"
	"github.com/yungbote/metagraph-backend/internal/urn"
)

// validate runs the referential-integrity passes over a loaded registry, in
// order. The first failure aborts the load.
func validate(r *Registry) error {
	if err := validateNames(r); err != nil {
		return err
	}
	if err := validateEntityAspects(r); err != nil {
		return err
	}
	if err := validateURNTemplates(r); err != nil {
		return err
	}
	if err := validateRules(r); err != nil {
		return err
	}
	return nil
}

// Entity labels, aspect names and edge types become cypher labels and
// relationship types, which cannot be parameterized; restrict them to a safe
// identifier charset at load so the writer never interpolates hostile text.
func validateNames(r *Registry) error {
	for _, name := range r.entityOrder {
		if !safeIdentifier(name) {
			return apierr.Newf(apierr.KindRegistryParse, "entity name %q is not a valid identifier", name).WithField(name)
		}
		ent := r.entities[name]
		if len(ent.IdentifyingParams) == 0 {
			return apierr.Newf(apierr.KindRegistryParse, "entity %q declares no identifying_params", name).WithField(name)
		}
		if ent.URNTemplate == "" {
			return apierr.Newf(apierr.KindRegistryParse, "entity %q declares no urn_template", name).WithField(name)
		}
	}
	for name, def := range r.aspects {
		if !safeIdentifier(name) {
			return apierr.Newf(apierr.KindRegistryParse, "aspect name %q is not a valid identifier", name).WithField(name)
		}
		if !def.Type.Valid() {
			return apierr.Newf(apierr.KindRegistryParse, "aspect %q: unknown type %q", name, def.Type).WithField(name)
		}
	}
	for _, rule := range r.rules {
		if rule.Edge.Type == "" || !safeIdentifier(rule.Edge.Type) {
			return apierr.Newf(apierr.KindRegistryParse, "relationship rule for %q: edge type %q is not a valid identifier", rule.Trigger, rule.Edge.Type).WithField(rule.Edge.Type)
		}
		for _, disc := range rule.Edge.Discriminators {
			if !safeIdentifier(disc) {
				return apierr.Newf(apierr.KindRegistryParse, "relationship rule for %q: discriminator %q is not a valid identifier", rule.Trigger, disc).WithField(disc)
			}
		}
	}
	return nil
}

func validateEntityAspects(r *Registry) error {
	for _, name := range r.entityOrder {
		ent := r.entities[name]
		for aspectName, kind := range ent.Aspects {
			def, ok := r.aspects[aspectName]
			if !ok {
				return apierr.Newf(apierr.KindRegistryReference,
					"entity %q references undefined aspect %q", name, aspectName).WithField(aspectName)
			}
			if def.Type != kind {
				return apierr.Newf(apierr.KindRegistryKindMismatch,
					"entity %q declares aspect %q as %q but the aspect is %q", name, aspectName, kind, def.Type).WithField(aspectName)
			}
		}
	}
	return nil
}

func validateURNTemplates(r *Registry) error {
	for _, name := range r.entityOrder {
		ent := r.entities[name]
		if _, err := urn.Compile(name, ent.URNTemplate, ent.IdentifyingParams, ent.OptionalParams); err != nil {
			return err
		}
	}
	return nil
}

func validateRules(r *Registry) error {
	for i, rule := range r.rules {
		def, ok := r.aspects[rule.Trigger]
		if !ok {
			return apierr.Newf(apierr.KindRegistryReference,
				"relationship rule %d: trigger aspect %q is not defined", i, rule.Trigger).WithField(rule.Trigger)
		}
		if rule.Entity != "" {
			ent, ok := r.entities[rule.Entity]
			if !ok {
				return apierr.Newf(apierr.KindRegistryReference,
					"relationship rule %d: entity %q is not defined", i, rule.Entity).WithField(rule.Entity)
			}
			kind, declared := ent.Aspects[rule.Trigger]
			if !declared {
				return apierr.Newf(apierr.KindRegistryReference,
					"relationship rule %d: entity %q does not declare aspect %q", i, rule.Entity, rule.Trigger).WithField(rule.Trigger)
			}
			if kind != def.Type {
				return apierr.Newf(apierr.KindRegistryKindMismatch,
					"relationship rule %d: aspect %q kind mismatch on entity %q", i, rule.Trigger, rule.Entity).WithField(rule.Trigger)
			}
		}
		if err := validateSelector(r, i, "source_selector", rule.SourceSelector); err != nil {
			return err
		}
		if err := validateSelector(r, i, "destination_selector", rule.DestinationSelector); err != nil {
			return err
		}
		if rule.DestinationSelector.Kind != SelectorOwning && rule.Extract.Dst == "" && rule.DestinationSelector.Kind != SelectorFromParams {
			return apierr.Newf(apierr.KindRegistryReference,
				"relationship rule %d: destination_selector %q requires extract.dst", i, rule.DestinationSelector.Kind)
		}
	}
	return nil
}

func validateSelector(r *Registry, i int, which string, sel Selector) error {
	switch sel.Kind {
	case SelectorOwning:
		return nil
	case SelectorFromURN, SelectorFromParams:
		if sel.Entity == "" {
			return apierr.Newf(apierr.KindRegistryReference,
				"relationship rule %d: %s kind %q requires entity", i, which, sel.Kind)
		}
		if _, ok := r.entities[sel.Entity]; !ok {
			return apierr.Newf(apierr.KindRegistryReference,
				"relationship rule %d: %s references undefined entity %q", i, which, sel.Entity).WithField(sel.Entity)
		}
		if sel.Kind == SelectorFromParams && len(sel.Params) == 0 {
			return apierr.Newf(apierr.KindRegistryReference,
				"relationship rule %d: %s kind from_params requires params", i, which)
		}
		return nil
	default:
		return apierr.Newf(apierr.KindRegistryReference,
			"relationship rule %d: %s has unknown kind %q", i, which, sel.Kind)
	}
}

func safeIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r == '_':
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
