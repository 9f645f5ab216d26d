package urn

import (
	"fmt"
	"strings"

	"github.com/yungbote/metagraph-backend/internal/platform/apierr"
)

// A template is literal text with {param} placeholders. The typed form
// {param:urn} substitutes the value verbatim, for parameters that are
// themselves URNs. Plain placeholders escape the reserved characters of the
// template grammar (paren, comma, colon) in substituted values.

type segKind int

const (
	segLiteral segKind = iota
	segParam
)

type segment struct {
	kind  segKind
	text  string // literal text, or param name
	raw   bool   // {param:urn}: substitute without escaping
}

// Builder is the compiled URN template for one entity type. Immutable after
// Compile; safe for concurrent use.
type Builder struct {
	entityType  string
	template    string
	segments    []segment
	identifying []string
	known       map[string]struct{}
	canParse    bool
}

// Compile parses the template and checks that every placeholder names a
// declared identifying or optional parameter.
func Compile(entityType, template string, identifying, optional []string) (*Builder, error) {
	segs, err := parseTemplate(template)
	if err != nil {
		return nil, apierr.Newf(apierr.KindRegistryParse, "entity %q: %v", entityType, err)
	}

	known := make(map[string]struct{}, len(identifying)+len(optional))
	for _, p := range identifying {
		known[p] = struct{}{}
	}
	for _, p := range optional {
		known[p] = struct{}{}
	}
	for _, s := range segs {
		if s.kind != segParam {
			continue
		}
		if _, ok := known[s.text]; !ok {
			return nil, apierr.Newf(apierr.KindRegistryReference,
				"entity %q: urn_template placeholder {%s} is not a declared parameter", entityType, s.text).WithField(s.text)
		}
	}

	return &Builder{
		entityType:  entityType,
		template:    template,
		segments:    segs,
		identifying: append([]string(nil), identifying...),
		known:       known,
		canParse:    reversible(segs),
	}, nil
}

func parseTemplate(template string) ([]segment, error) {
	var segs []segment
	rest := template
	for len(rest) > 0 {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			if strings.IndexByte(rest, '}') >= 0 {
				return nil, fmt.Errorf("unbalanced '}' in urn_template %q", template)
			}
			segs = append(segs, segment{kind: segLiteral, text: rest})
			break
		}
		if open > 0 {
			segs = append(segs, segment{kind: segLiteral, text: rest[:open]})
		}
		rest = rest[open+1:]
		close := strings.IndexByte(rest, '}')
		if close < 0 {
			return nil, fmt.Errorf("unbalanced '{' in urn_template %q", template)
		}
		name := rest[:close]
		rest = rest[close+1:]
		raw := false
		if idx := strings.IndexByte(name, ':'); idx >= 0 {
			mod := name[idx+1:]
			name = name[:idx]
			if mod != "urn" {
				return nil, fmt.Errorf("unknown placeholder type %q in urn_template %q", mod, template)
			}
			raw = true
		}
		if name == "" {
			return nil, fmt.Errorf("empty placeholder in urn_template %q", template)
		}
		segs = append(segs, segment{kind: segParam, text: name, raw: raw})
	}
	return segs, nil
}

// reversible reports whether the template admits an unambiguous reverse
// parse: no verbatim placeholders, and every pair of adjacent placeholders
// separated by a non-empty literal.
func reversible(segs []segment) bool {
	prevParam := false
	for _, s := range segs {
		if s.kind == segParam {
			if s.raw || prevParam {
				return false
			}
			prevParam = true
			continue
		}
		if s.text != "" {
			prevParam = false
		}
	}
	return true
}

func (b *Builder) EntityType() string { return b.entityType }

// IdentifyingParams returns the declared identifying parameters in order.
func (b *Builder) IdentifyingParams() []string {
	return append([]string(nil), b.identifying...)
}

// CanParse reports whether Parse is supported for this template.
func (b *Builder) CanParse() bool { return b.canParse }

// Build renders the URN. Same input, byte-identical output. A missing
// identifying parameter fails with URNConstructionError naming the param.
func (b *Builder) Build(params map[string]string) (string, error) {
	for _, p := range b.identifying {
		if strings.TrimSpace(params[p]) == "" {
			return "", apierr.Newf(apierr.KindURNConstruction,
				"entity %q: missing identifying param %q", b.entityType, p).WithField(p)
		}
	}
	var sb strings.Builder
	for _, s := range b.segments {
		switch s.kind {
		case segLiteral:
			sb.WriteString(s.text)
		case segParam:
			v, ok := params[s.text]
			if !ok || v == "" {
				return "", apierr.Newf(apierr.KindURNConstruction,
					"entity %q: missing param %q for urn_template", b.entityType, s.text).WithField(s.text)
			}
			if s.raw {
				sb.WriteString(v)
			} else {
				sb.WriteString(Escape(v))
			}
		}
	}
	return sb.String(), nil
}

// Parse inverts Build for reversible templates.
func (b *Builder) Parse(urn string) (map[string]string, error) {
	if !b.canParse {
		return nil, apierr.Newf(apierr.KindURNConstruction,
			"entity %q: urn_template is not reversible", b.entityType)
	}
	params := map[string]string{}
	rest := urn
	for i := 0; i < len(b.segments); i++ {
		s := b.segments[i]
		if s.kind == segLiteral {
			if !strings.HasPrefix(rest, s.text) {
				return nil, parseMismatch(b.entityType, urn)
			}
			rest = rest[len(s.text):]
			continue
		}
		// Placeholder: consume up to the next literal, or the rest of the urn.
		var value string
		if i+1 < len(b.segments) {
			next := b.segments[i+1].text
			idx := strings.Index(rest, next)
			if idx < 0 {
				return nil, parseMismatch(b.entityType, urn)
			}
			value = rest[:idx]
			rest = rest[idx:]
		} else {
			value = rest
			rest = ""
		}
		if value == "" {
			return nil, parseMismatch(b.entityType, urn)
		}
		params[s.text] = Unescape(value)
	}
	if rest != "" {
		return nil, parseMismatch(b.entityType, urn)
	}
	return params, nil
}

func parseMismatch(entityType, urn string) error {
	return apierr.Newf(apierr.KindURNConstruction,
		"urn does not match template for entity %q", entityType).WithURN(urn)
}

// Placeholders returns the parameter names referenced by a template, in
// appearance order.
func Placeholders(template string) ([]string, error) {
	segs, err := parseTemplate(template)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, s := range segs {
		if s.kind == segParam {
			names = append(names, s.text)
		}
	}
	return names, nil
}

var escaper = strings.NewReplacer(
	"%", "%25",
	"(", "%28",
	")", "%29",
	",", "%2C",
	":", "%3A",
)

var unescaper = strings.NewReplacer(
	"%28", "(",
	"%29", ")",
	"%2C", ",",
	"%3A", ":",
	"%25", "%",
)

// Escape percent-encodes the reserved characters of the template grammar.
func Escape(v string) string { return escaper.Replace(v) }

// Unescape inverts Escape.
func Unescape(v string) string { return unescaper.Replace(v) }
