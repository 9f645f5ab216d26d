package ops

import (
	"context"
	"fmt"
	"sort"

	"github.com/yungbote/metagraph-backend/internal/aspect"
	"github.com/yungbote/metagraph-backend/internal/graph"
	"github.com/yungbote/metagraph-backend/internal/lineage"
	"github.com/yungbote/metagraph-backend/internal/platform/apierr"
	"github.com/yungbote/metagraph-backend/internal/platform/logger"
	"github.com/yungbote/metagraph-backend/internal/registry"
	"github.com/yungbote/metagraph-backend/internal/rules"
	"github.com/yungbote/metagraph-backend/internal/urn"
)

// GraphWriter is the slice of the graph writer the synthesized operations
// call through.
type GraphWriter interface {
	InTransaction(ctx context.Context, fn func(tx graph.Tx) (interface{}, error)) (interface{}, error)
	GetEntity(ctx context.Context, entityType, urn string) (map[string]interface{}, error)
	GetLatestVersionedAspect(ctx context.Context, entityType, urn, aspectName string) (*graph.AspectRecord, error)
	GetTimeseriesRange(ctx context.Context, entityType, urn, aspectName string, fromMS, toMS int64, limit int) ([]graph.AspectRecord, error)
}

type RuleEngine interface {
	Evaluate(ctx context.Context, writer rules.GraphWriter, ownerEntity, ownerURN, aspectName string, payload map[string]interface{}) ([]rules.CreatedRelationship, error)
}

type LineageResolver interface {
	Resolve(ownerColumnURN string, payload map[string]interface{}) ([]lineage.Edge, error)
}

type Kind string

const (
	KindEntityUpsert Kind = "entity_upsert"
	KindEntityGet    Kind = "entity_get"
	KindEntityDelete Kind = "entity_delete"
	KindAspectUpsert Kind = "aspect_upsert"
	KindAspectGet    Kind = "aspect_get"
	KindAspectDelete Kind = "aspect_delete"
)

// Request is the caller-facing input of every synthesized operation.
type Request struct {
	EntityType  string                 `json:"entity_type,omitempty"`
	URN         string                 `json:"urn,omitempty"`
	Params      map[string]string      `json:"params,omitempty"`
	Properties  map[string]interface{} `json:"properties,omitempty"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	TimestampMS int64                  `json:"timestamp_ms,omitempty"`
	Cascade     bool                   `json:"cascade,omitempty"`
	FromMS      int64                  `json:"from_ms,omitempty"`
	ToMS        int64                  `json:"to_ms,omitempty"`
	Limit       int                    `json:"limit,omitempty"`
}

// Result is the structured outcome of a synthesized operation.
type Result struct {
	URN                  string                      `json:"urn"`
	Version              int64                       `json:"version,omitempty"`
	Timestamp            int64                       `json:"timestamp,omitempty"`
	CreatedEntity        string                      `json:"created_entity,omitempty"`
	CreatedRelationships []rules.CreatedRelationship `json:"created_relationships"`
	Entity               map[string]interface{}      `json:"entity,omitempty"`
	Aspect               *graph.AspectRecord         `json:"aspect,omitempty"`
	Timeseries           []graph.AspectRecord        `json:"timeseries,omitempty"`
}

// Operation is one entry of the descriptor table. Its name, kind, entity and
// aspect are bound at synthesis; Run still consults the registry to resolve
// owners and validate payloads.
type Operation struct {
	Name       string
	Kind       Kind
	EntityType string
	AspectName string
	AspectKind registry.AspectKind

	Run func(ctx context.Context, req Request) (*Result, error)
}

// Synthesizer holds the operation table built from the registry at boot.
// Read-only afterwards.
type Synthesizer struct {
	reg       *registry.Registry
	builders  map[string]*urn.Builder
	validator *aspect.Validator
	writer    GraphWriter
	engine    RuleEngine
	lineage   LineageResolver
	log       *logger.Logger

	table map[string]*Operation
	names []string
}

// Synthesize emits the per-entity and per-aspect operation descriptors,
// binding each to its URN builder, validator inputs, writer call and rule
// bindings. Runs once at boot.
func Synthesize(
	reg *registry.Registry,
	builders map[string]*urn.Builder,
	validator *aspect.Validator,
	writer GraphWriter,
	engine RuleEngine,
	lineageResolver LineageResolver,
	log *logger.Logger,
) (*Synthesizer, error) {
	s := &Synthesizer{
		reg:       reg,
		builders:  builders,
		validator: validator,
		writer:    writer,
		engine:    engine,
		lineage:   lineageResolver,
		log:       log.With("component", "OperationSynthesizer"),
		table:     map[string]*Operation{},
	}

	for _, entityType := range reg.EntityTypes() {
		if _, ok := builders[entityType]; !ok {
			return nil, apierr.Newf(apierr.KindRegistryReference, "no urn builder for entity %q", entityType)
		}
		s.add(s.entityUpsertOp(entityType))
		s.add(s.entityGetOp(entityType))
		s.add(s.entityDeleteOp(entityType))
	}

	aspectNames := reg.AspectNames()
	sort.Strings(aspectNames)
	for _, aspectName := range aspectNames {
		def, _ := reg.Aspect(aspectName)
		s.add(s.aspectUpsertOp(aspectName, def))
		s.add(s.aspectGetOp(aspectName, def))
		s.add(s.aspectDeleteOp(aspectName, def))
	}

	s.log.Info("Synthesized operation table",
		"entities", len(reg.EntityTypes()),
		"aspects", len(aspectNames),
		"operations", len(s.table),
	)
	return s, nil
}

func (s *Synthesizer) add(op *Operation) {
	s.table[op.Name] = op
	s.names = append(s.names, op.Name)
}

// Op resolves a synthesized operation by name.
func (s *Synthesizer) Op(name string) (*Operation, bool) {
	op, ok := s.table[name]
	return op, ok
}

// Names lists the table in synthesis order.
func (s *Synthesizer) Names() []string {
	return append([]string(nil), s.names...)
}

// resolveOwner determines the owning entity type for an aspect request:
// explicit, or unambiguous from the registry.
func (s *Synthesizer) resolveOwner(aspectName, explicit string) (string, error) {
	if explicit != "" {
		if _, ok := s.reg.Entity(explicit); !ok {
			return "", apierr.Newf(apierr.KindValidation, "unknown entity type %q", explicit).WithField("entity_type")
		}
		return explicit, nil
	}
	owners := s.reg.OwnersOf(aspectName)
	switch len(owners) {
	case 1:
		return owners[0], nil
	case 0:
		return "", apierr.Newf(apierr.KindUnknownAspect, "aspect %q is not declared on any entity", aspectName).WithField(aspectName)
	default:
		return "", apierr.Newf(apierr.KindValidation,
			"aspect %q is declared on %d entities; entity_type is required", aspectName, len(owners)).WithField("entity_type")
	}
}

func upsertEntityName(entityType string) string { return fmt.Sprintf("upsert_%s", entityType) }
func getEntityName(entityType string) string    { return fmt.Sprintf("get_%s", entityType) }
func deleteEntityName(entityType string) string { return fmt.Sprintf("delete_%s", entityType) }
func upsertAspectName(aspect string) string     { return fmt.Sprintf("upsert_%s_aspect", aspect) }
func getAspectName(aspect string) string        { return fmt.Sprintf("get_%s_aspect", aspect) }
func deleteAspectName(aspect string) string     { return fmt.Sprintf("delete_%s_aspect", aspect) }
