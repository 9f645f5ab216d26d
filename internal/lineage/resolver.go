package lineage

import (
	"strings"

	"github.com/yungbote/metagraph-backend/internal/platform/apierr"
	"github.com/yungbote/metagraph-backend/internal/platform/logger"
	"github.com/yungbote/metagraph-backend/internal/registry"
)

// Edge is one derives-from relationship expanded from a transformation
// aspect: from the owning (target) column to one input column.
type Edge struct {
	SrcColumnURN string
	DstColumnURN string
	Properties   map[string]interface{}
}

const EdgeType = "DERIVES_FROM"

// Resolver expands transformation aspect payloads through the registry's
// transformation templates. Immutable after construction.
type Resolver struct {
	cfg *registry.LineageConfig
	log *logger.Logger
}

func NewResolver(cfg *registry.LineageConfig, log *logger.Logger) *Resolver {
	return &Resolver{cfg: cfg, log: log.With("component", "LineageResolver")}
}

// Resolve emits one edge per input column. Payloads without input columns
// resolve to nothing; a payload whose input_columns is not an array of
// strings is a rule evaluation error.
func (r *Resolver) Resolve(ownerColumnURN string, payload map[string]interface{}) ([]Edge, error) {
	if r == nil || r.cfg == nil {
		return nil, nil
	}
	inputsRaw, present := payload["input_columns"]
	if !present || inputsRaw == nil {
		return nil, nil
	}
	inputs, ok := inputsRaw.([]interface{})
	if !ok {
		return nil, apierr.Newf(apierr.KindRuleEvaluation, "input_columns: expected an array").WithField("input_columns")
	}

	transformationType := strings.TrimSpace(stringField(payload, "transformation_type"))
	tmpl := r.templateFor(transformationType)
	values := templateValues(payload, transformationType)

	props := map[string]interface{}{
		"transformation": transformationType,
	}
	for k, v := range tmpl.RelationshipProperties {
		props[k] = renderTemplate(v, values)
	}
	if _, has := props["description"]; !has {
		props["description"] = renderTemplate(tmpl.DescriptionTemplate, values)
	}

	edges := make([]Edge, 0, len(inputs))
	for i, in := range inputs {
		field, ok := in.(string)
		if !ok {
			return nil, apierr.Newf(apierr.KindRuleEvaluation,
				"input_columns[%d]: expected a string, got %T", i, in).WithField("input_columns")
		}
		edgeProps := make(map[string]interface{}, len(props))
		for k, v := range props {
			edgeProps[k] = v
		}
		edges = append(edges, Edge{
			SrcColumnURN: ownerColumnURN,
			DstColumnURN: columnURN(field, payload, ownerColumnURN),
			Properties:   edgeProps,
		})
	}
	return edges, nil
}

// templateFor matches the declared pattern for the transformation type;
// unknown types fall back to the generic default.
func (r *Resolver) templateFor(transformationType string) registry.LineageTemplate {
	if transformationType != "" {
		if tmpl, ok := r.cfg.TransformationTemplates.Patterns[transformationType]; ok {
			return tmpl
		}
	}
	return r.cfg.TransformationTemplates.Default
}

// columnURN resolves an input column reference: a value already containing
// '#' is a full column URN; bare field paths join to the payload's
// source_dataset, else to the owning column's dataset prefix.
func columnURN(field string, payload map[string]interface{}, ownerColumnURN string) string {
	if strings.Contains(field, "#") {
		return field
	}
	if src := stringField(payload, "source_dataset"); src != "" {
		return src + "#" + field
	}
	if idx := strings.Index(ownerColumnURN, "#"); idx > 0 {
		return ownerColumnURN[:idx] + "#" + field
	}
	return field
}

func templateValues(payload map[string]interface{}, transformationType string) map[string]string {
	values := map[string]string{
		"transformation_type": transformationType,
	}
	if desc := stringField(payload, "description"); desc != "" {
		values["description"] = desc
	}
	if inputs, ok := payload["input_columns"].([]interface{}); ok {
		parts := make([]string, 0, len(inputs))
		for _, in := range inputs {
			if s, ok := in.(string); ok {
				parts = append(parts, s)
			}
		}
		values["input_columns"] = strings.Join(parts, ", ")
	}
	for k, v := range payload {
		if _, has := values[k]; has {
			continue
		}
		if s, ok := v.(string); ok {
			values[k] = s
		}
	}
	return values
}

// renderTemplate substitutes {field} placeholders literally from the
// payload-derived values; unknown placeholders render empty.
func renderTemplate(tmpl string, values map[string]string) string {
	var sb strings.Builder
	rest := tmpl
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			sb.WriteString(rest)
			break
		}
		sb.WriteString(rest[:open])
		rest = rest[open+1:]
		close := strings.IndexByte(rest, '}')
		if close < 0 {
			sb.WriteString("{")
			sb.WriteString(rest)
			break
		}
		name := rest[:close]
		rest = rest[close+1:]
		sb.WriteString(values[name])
	}
	return sb.String()
}

func stringField(payload map[string]interface{}, key string) string {
	s, _ := payload[key].(string)
	return s
}
