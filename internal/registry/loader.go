package registry

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/metagraph-backend/internal/platform/apierr"
	"github.com/yungbote/metagraph-backend/internal/platform/logger"
)

// Load reads the registry document at path, resolves includes, validates and
// returns the immutable Registry. Any failure is fatal to the caller; a
// partially valid registry is never returned.
func Load(path string, log *logger.Logger) (*Registry, error) {
	doc, err := loadDocument(path, map[string]bool{})
	if err != nil {
		return nil, err
	}

	reg := &Registry{
		entities: doc.Entities,
		aspects:  doc.Aspects,
		rules:    doc.RelationshipRules,
		byAspect: map[string][]RelationshipRule{},
		lineage:  doc.LineageConfig,
	}
	if reg.entities == nil {
		reg.entities = map[string]EntityDef{}
	}
	if reg.aspects == nil {
		reg.aspects = map[string]AspectDef{}
	}
	for name := range reg.entities {
		reg.entityOrder = append(reg.entityOrder, name)
	}
	sort.Strings(reg.entityOrder)
	for _, rule := range reg.rules {
		reg.byAspect[rule.Trigger] = append(reg.byAspect[rule.Trigger], rule)
	}

	if err := validate(reg); err != nil {
		return nil, err
	}

	if log != nil {
		log.Info("Registry loaded",
			"path", path,
			"entities", len(reg.entities),
			"aspects", len(reg.aspects),
			"relationship_rules", len(reg.rules),
		)
	}
	return reg, nil
}

func loadDocument(path string, seen map[string]bool) (*document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, apierr.Newf(apierr.KindRegistryParse, "resolve %q: %v", path, err)
	}
	if seen[abs] {
		return nil, apierr.Newf(apierr.KindRegistryParse, "include cycle at %q", path)
	}
	seen[abs] = true

	raw, err := os.ReadFile(abs)
	if err != nil {
		return nil, apierr.Newf(apierr.KindRegistryParse, "read registry %q: %v", path, err)
	}

	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, apierr.Newf(apierr.KindRegistryParse, "parse registry %q: %v", path, err)
	}

	for _, inc := range doc.Include {
		incPath := inc
		if !filepath.IsAbs(incPath) {
			incPath = filepath.Join(filepath.Dir(abs), incPath)
		}
		child, err := loadDocument(incPath, seen)
		if err != nil {
			return nil, err
		}
		if err := merge(&doc, child, inc); err != nil {
			return nil, err
		}
	}
	doc.Include = nil
	return &doc, nil
}

// merge folds an included document into the parent. Includes may add
// definitions but never redefine ones the parent already carries.
func merge(dst *document, src *document, from string) error {
	if len(src.Entities) > 0 && dst.Entities == nil {
		dst.Entities = map[string]EntityDef{}
	}
	for name, def := range src.Entities {
		if _, exists := dst.Entities[name]; exists {
			return redefined("entity", name, from)
		}
		dst.Entities[name] = def
	}
	if len(src.Aspects) > 0 && dst.Aspects == nil {
		dst.Aspects = map[string]AspectDef{}
	}
	for name, def := range src.Aspects {
		if _, exists := dst.Aspects[name]; exists {
			return redefined("aspect", name, from)
		}
		dst.Aspects[name] = def
	}
	dst.RelationshipRules = append(dst.RelationshipRules, src.RelationshipRules...)
	if src.LineageConfig != nil {
		if dst.LineageConfig != nil {
			return redefined("lineage_config", "lineage_config", from)
		}
		dst.LineageConfig = src.LineageConfig
	}
	return nil
}

func redefined(kind, name, from string) error {
	return apierr.New(apierr.KindRegistryParse,
		fmt.Errorf("include %q redefines %s %q", from, kind, name))
}
