package registry

// AspectKind distinguishes monotone-versioned aspects from append-only
// time-series aspects.
type AspectKind string

const (
	KindVersioned  AspectKind = "versioned"
	KindTimeseries AspectKind = "timeseries"
)

func (k AspectKind) Valid() bool {
	return k == KindVersioned || k == KindTimeseries
}

type EntityDef struct {
	IdentifyingParams []string              `yaml:"identifying_params"`
	OptionalParams    []string              `yaml:"optional_params"`
	URNTemplate       string                `yaml:"urn_template"`
	Aspects           map[string]AspectKind `yaml:"aspects"`
}

type AspectDef struct {
	Type       AspectKind             `yaml:"type"`
	Properties []string               `yaml:"properties"`
	Required   []string               `yaml:"required"`
	Defaults   map[string]interface{} `yaml:"defaults"`
	// Lineage routes this aspect's payload through the transformation
	// template resolver in addition to the relationship rules.
	Lineage bool `yaml:"lineage"`
}

type SelectorKind string

const (
	SelectorOwning     SelectorKind = "owning"
	SelectorFromURN    SelectorKind = "from_urn"
	SelectorFromParams SelectorKind = "from_params"
)

type Selector struct {
	Kind   SelectorKind      `yaml:"kind"`
	Entity string            `yaml:"entity"`
	Params map[string]string `yaml:"params"`
}

type Extract struct {
	Src   string            `yaml:"src"`
	Dst   string            `yaml:"dst"`
	Props map[string]string `yaml:"props"`
}

type EdgeDef struct {
	Type           string                 `yaml:"type"`
	Properties     map[string]interface{} `yaml:"properties"`
	Discriminators []string               `yaml:"discriminators"`
}

type RelationshipRule struct {
	Trigger             string   `yaml:"trigger"`
	Entity              string   `yaml:"entity"`
	Extract             Extract  `yaml:"extract"`
	SourceSelector      Selector `yaml:"source_selector"`
	DestinationSelector Selector `yaml:"destination_selector"`
	Edge                EdgeDef  `yaml:"edge"`
	AllowSelfLoops      bool     `yaml:"allow_self_loops"`
	AutoCreateMissing   bool     `yaml:"auto_create_missing"`
}

type LineageTemplate struct {
	DescriptionTemplate    string            `yaml:"description_template"`
	RelationshipProperties map[string]string `yaml:"relationship_properties"`
}

type TransformationTemplates struct {
	Default  LineageTemplate            `yaml:"default"`
	Patterns map[string]LineageTemplate `yaml:"patterns"`
}

type LineageConfig struct {
	TransformationTemplates TransformationTemplates `yaml:"transformation_templates"`
}

// document is the on-disk shape of one registry file.
type document struct {
	Include           []string              `yaml:"include"`
	Entities          map[string]EntityDef  `yaml:"entities"`
	Aspects           map[string]AspectDef  `yaml:"aspects"`
	RelationshipRules []RelationshipRule    `yaml:"relationship_rules"`
	LineageConfig     *LineageConfig        `yaml:"lineage_config"`
}

// Registry is the validated, immutable registry. All query methods are safe
// for concurrent use after Load.
type Registry struct {
	entities map[string]EntityDef
	aspects  map[string]AspectDef
	rules    []RelationshipRule
	byAspect map[string][]RelationshipRule
	lineage  *LineageConfig

	entityOrder []string
}

func (r *Registry) EntityTypes() []string {
	return append([]string(nil), r.entityOrder...)
}

func (r *Registry) Entity(name string) (EntityDef, bool) {
	def, ok := r.entities[name]
	return def, ok
}

func (r *Registry) AspectsOf(entityType string) map[string]AspectKind {
	ent, ok := r.entities[entityType]
	if !ok {
		return nil
	}
	out := make(map[string]AspectKind, len(ent.Aspects))
	for k, v := range ent.Aspects {
		out[k] = v
	}
	return out
}

func (r *Registry) Aspect(name string) (AspectDef, bool) {
	def, ok := r.aspects[name]
	return def, ok
}

func (r *Registry) AspectKind(name string) (AspectKind, bool) {
	def, ok := r.aspects[name]
	if !ok {
		return "", false
	}
	return def.Type, true
}

func (r *Registry) AspectNames() []string {
	out := make([]string, 0, len(r.aspects))
	for name := range r.aspects {
		out = append(out, name)
	}
	return out
}

func (r *Registry) URNTemplate(entityType string) (string, bool) {
	ent, ok := r.entities[entityType]
	if !ok {
		return "", false
	}
	return ent.URNTemplate, true
}

// RulesFor returns the relationship rules triggered by an aspect, in
// declaration order.
func (r *Registry) RulesFor(aspect string) []RelationshipRule {
	return r.byAspect[aspect]
}

func (r *Registry) Rules() []RelationshipRule {
	return append([]RelationshipRule(nil), r.rules...)
}

func (r *Registry) Lineage() *LineageConfig {
	return r.lineage
}

// OwnersOf returns the entity types that declare the aspect, sorted by
// entity type name.
func (r *Registry) OwnersOf(aspect string) []string {
	var out []string
	for _, name := range r.entityOrder {
		if _, ok := r.entities[name].Aspects[aspect]; ok {
			out = append(out, name)
		}
	}
	return out
}
