package rules

import (
	"context"
	"fmt"

	"github.com/yungbote/metagraph-backend/internal/graph"
	"github.com/yungbote/metagraph-backend/internal/platform/apierr"
	"github.com/yungbote/metagraph-backend/internal/platform/logger"
	"github.com/yungbote/metagraph-backend/internal/registry"
	"github.com/yungbote/metagraph-backend/internal/urn"
)

// GraphWriter is the slice of the writer the engine needs.
type GraphWriter interface {
	EntityExists(ctx context.Context, entityType, urn string) (bool, error)
	EnsureEntity(ctx context.Context, entityType, urn string) error
	CreateRelationship(ctx context.Context, key graph.RelationshipKey, properties map[string]interface{}, discriminators []string) error
}

// CreatedRelationship reports one edge materialized during evaluation.
type CreatedRelationship struct {
	SrcURN      string                 `json:"src_urn"`
	Type        string                 `json:"type"`
	DstURN      string                 `json:"dst_urn"`
	Properties  map[string]interface{} `json:"properties,omitempty"`
	AutoCreated string                 `json:"auto_created,omitempty"`
}

// Engine evaluates declarative relationship rules against aspect payloads.
// Immutable after construction; the writer is passed per evaluation so the
// edges land in the caller's transaction.
type Engine struct {
	reg      *registry.Registry
	builders map[string]*urn.Builder
	log      *logger.Logger
}

func NewEngine(reg *registry.Registry, builders map[string]*urn.Builder, log *logger.Logger) *Engine {
	return &Engine{
		reg:      reg,
		builders: builders,
		log:      log.With("component", "RuleEngine"),
	}
}

// Evaluate runs every rule triggered by the aspect, in declaration order,
// and materializes the projected edges through writer. Errors roll the whole
// request back.
func (e *Engine) Evaluate(ctx context.Context, writer GraphWriter, ownerEntity, ownerURN, aspectName string, payload map[string]interface{}) ([]CreatedRelationship, error) {
	var created []CreatedRelationship
	seen := map[string]struct{}{}

	for _, rule := range e.reg.RulesFor(aspectName) {
		if rule.Entity != "" && rule.Entity != ownerEntity {
			continue
		}
		edges, err := e.project(rule, ownerEntity, ownerURN, payload)
		if err != nil {
			return nil, err
		}
		for _, edge := range edges {
			dedupKey := rule.Edge.Type + "|" + edge.dedupKey(rule.Edge.Discriminators)
			if _, dup := seen[dedupKey]; dup {
				continue
			}
			seen[dedupKey] = struct{}{}

			if edge.srcURN == edge.dstURN && !rule.AllowSelfLoops {
				e.log.Debug("skipping self-loop edge", "edge_type", rule.Edge.Type, "urn", edge.srcURN)
				continue
			}

			rel := CreatedRelationship{
				SrcURN:     edge.srcURN,
				Type:       rule.Edge.Type,
				DstURN:     edge.dstURN,
				Properties: edge.props,
			}
			// Auto-creation is opt-in per rule and only ever yields URN-only
			// nodes; with the flag off a missing endpoint surfaces as
			// NotFound from the relationship merge and rolls the write back.
			if rule.AutoCreateMissing {
				for _, end := range []struct {
					entity, urn string
				}{
					{edge.srcEntity, edge.srcURN},
					{edge.dstEntity, edge.dstURN},
				} {
					exists, err := writer.EntityExists(ctx, end.entity, end.urn)
					if err != nil {
						return nil, err
					}
					if !exists {
						if err := writer.EnsureEntity(ctx, end.entity, end.urn); err != nil {
							return nil, err
						}
						rel.AutoCreated = end.urn
					}
				}
			}

			err = writer.CreateRelationship(ctx, graph.RelationshipKey{
				SrcEntity: edge.srcEntity,
				SrcURN:    edge.srcURN,
				Type:      rule.Edge.Type,
				DstEntity: edge.dstEntity,
				DstURN:    edge.dstURN,
			}, edge.props, rule.Edge.Discriminators)
			if err != nil {
				return nil, err
			}
			created = append(created, rel)
		}
	}
	return created, nil
}

type projectedEdge struct {
	srcEntity, srcURN string
	dstEntity, dstURN string
	props             map[string]interface{}
}

func (p projectedEdge) dedupKey(discriminators []string) string {
	key := fmt.Sprintf("%s|%s|%s", p.srcURN, p.dstURN, p.srcEntity)
	for _, d := range discriminators {
		key += fmt.Sprintf("|%s=%v", d, p.props[d])
	}
	return key
}

// project derives the (source, destination, props) tuples of one rule from
// the payload. The expansion array, when any extract path carries `[]`,
// drives one row per element in index order.
func (e *Engine) project(rule registry.RelationshipRule, ownerEntity, ownerURN string, payload map[string]interface{}) ([]projectedEdge, error) {
	base := expansionBase(rule)

	var rows []rowContext
	if base == "" {
		rows = []rowContext{{payload: payload}}
	} else {
		arr, present, err := resolveArray(payload, base)
		if err != nil {
			return nil, err
		}
		if !present {
			return nil, nil
		}
		for _, element := range arr {
			rows = append(rows, rowContext{payload: payload, base: base, element: element})
		}
	}

	var edges []projectedEdge
	for _, rc := range rows {
		srcEntity, srcURN, ok, err := e.selectEndpoint(rule.SourceSelector, rule.Extract.Src, rc, ownerEntity, ownerURN)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		dstEntity, dstURN, ok, err := e.selectEndpoint(rule.DestinationSelector, rule.Extract.Dst, rc, ownerEntity, ownerURN)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		props := map[string]interface{}{}
		for k, v := range rule.Edge.Properties {
			props[k] = v
		}
		for k, path := range rule.Extract.Props {
			val, present, err := rc.resolve(path)
			if err != nil {
				return nil, err
			}
			if present {
				props[k] = val
			}
		}
		props["via"] = rule.Trigger

		edges = append(edges, projectedEdge{
			srcEntity: srcEntity,
			srcURN:    srcURN,
			dstEntity: dstEntity,
			dstURN:    dstURN,
			props:     props,
		})
	}
	return edges, nil
}

// expansionBase finds the array every `[]` path of the rule expands over.
func expansionBase(rule registry.RelationshipRule) string {
	paths := []string{rule.Extract.Dst, rule.Extract.Src}
	for _, p := range rule.Extract.Props {
		paths = append(paths, p)
	}
	for _, sel := range []registry.Selector{rule.SourceSelector, rule.DestinationSelector} {
		for _, p := range sel.Params {
			paths = append(paths, p)
		}
	}
	for _, p := range paths {
		if base, _, has := splitArrayPath(p); has {
			return base
		}
	}
	return ""
}

func (e *Engine) selectEndpoint(sel registry.Selector, path string, rc rowContext, ownerEntity, ownerURN string) (entity string, urnStr string, ok bool, err error) {
	switch sel.Kind {
	case registry.SelectorOwning:
		return ownerEntity, ownerURN, true, nil

	case registry.SelectorFromURN:
		val, present, err := rc.resolve(path)
		if err != nil {
			return "", "", false, err
		}
		if !present {
			return "", "", false, nil
		}
		s, err := resolveString(val, path)
		if err != nil {
			return "", "", false, err
		}
		return sel.Entity, s, true, nil

	case registry.SelectorFromParams:
		builder, okB := e.builders[sel.Entity]
		if !okB {
			return "", "", false, apierr.Newf(apierr.KindRuleEvaluation,
				"no urn builder for entity %q", sel.Entity).WithField(sel.Entity)
		}
		params := map[string]string{}
		for name, paramPath := range sel.Params {
			val, present, err := rc.resolve(paramPath)
			if err != nil {
				return "", "", false, err
			}
			if !present {
				return "", "", false, nil
			}
			s, err := resolveString(val, paramPath)
			if err != nil {
				return "", "", false, err
			}
			params[name] = s
		}
		built, err := builder.Build(params)
		if err != nil {
			return "", "", false, apierr.New(apierr.KindRuleEvaluation, err)
		}
		return sel.Entity, built, true, nil

	default:
		return "", "", false, apierr.Newf(apierr.KindRuleEvaluation, "unknown selector kind %q", sel.Kind)
	}
}
