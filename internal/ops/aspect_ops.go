package ops

import (
	"context"

	"github.com/yungbote/metagraph-backend/internal/graph"
	"github.com/yungbote/metagraph-backend/internal/lineage"
	"github.com/yungbote/metagraph-backend/internal/registry"
	"github.com/yungbote/metagraph-backend/internal/rules"
)

func (s *Synthesizer) aspectUpsertOp(aspectName string, def registry.AspectDef) *Operation {
	op := &Operation{
		Name:       upsertAspectName(aspectName),
		Kind:       KindAspectUpsert,
		AspectName: aspectName,
		AspectKind: def.Type,
	}
	op.Run = func(ctx context.Context, req Request) (*Result, error) {
		entityType, err := s.resolveOwner(aspectName, req.EntityType)
		if err != nil {
			return nil, err
		}

		// Validation happens before any transaction is opened.
		enriched, err := s.validator.Validate(entityType, aspectName, req.Payload, def.Type)
		if err != nil {
			return nil, err
		}

		ownerURN := req.URN
		implicitOwner := false
		if ownerURN == "" {
			built, err := s.builders[entityType].Build(req.Params)
			if err != nil {
				return nil, err
			}
			ownerURN = built
			implicitOwner = true
		}

		res, err := s.writer.InTransaction(ctx, func(tx graph.Tx) (interface{}, error) {
			result := &Result{URN: ownerURN, CreatedRelationships: []rules.CreatedRelationship{}}

			if implicitOwner {
				exists, err := tx.EntityExists(ctx, entityType, ownerURN)
				if err != nil {
					return nil, err
				}
				if !exists {
					if err := tx.EnsureEntity(ctx, entityType, ownerURN); err != nil {
						return nil, err
					}
					result.CreatedEntity = ownerURN
				}
			}

			switch def.Type {
			case registry.KindVersioned:
				version, err := tx.UpsertVersionedAspect(ctx, entityType, ownerURN, aspectName, enriched)
				if err != nil {
					return nil, err
				}
				result.Version = version
			case registry.KindTimeseries:
				ts, err := tx.AppendTimeseriesAspect(ctx, entityType, ownerURN, aspectName, enriched, req.TimestampMS)
				if err != nil {
					return nil, err
				}
				result.Timestamp = ts
			}

			created, err := s.engine.Evaluate(ctx, tx, entityType, ownerURN, aspectName, enriched)
			if err != nil {
				return nil, err
			}
			result.CreatedRelationships = append(result.CreatedRelationships, created...)

			if def.Lineage && s.lineage != nil {
				edges, err := s.lineage.Resolve(ownerURN, enriched)
				if err != nil {
					return nil, err
				}
				lineageRels, err := applyLineage(ctx, tx, entityType, edges)
				if err != nil {
					return nil, err
				}
				result.CreatedRelationships = append(result.CreatedRelationships, lineageRels...)
			}
			return result, nil
		})
		if err != nil {
			return nil, err
		}
		return res.(*Result), nil
	}
	return op
}

// applyLineage materializes derives-from edges. Input columns are
// auto-created URN-only, the way the source columns arrive before their
// datasets are ingested.
func applyLineage(ctx context.Context, tx graph.Tx, entityType string, edges []lineage.Edge) ([]rules.CreatedRelationship, error) {
	var created []rules.CreatedRelationship
	for _, edge := range edges {
		rel := rules.CreatedRelationship{
			SrcURN:     edge.SrcColumnURN,
			Type:       lineage.EdgeType,
			DstURN:     edge.DstColumnURN,
			Properties: edge.Properties,
		}
		exists, err := tx.EntityExists(ctx, entityType, edge.DstColumnURN)
		if err != nil {
			return nil, err
		}
		if !exists {
			if err := tx.EnsureEntity(ctx, entityType, edge.DstColumnURN); err != nil {
				return nil, err
			}
			rel.AutoCreated = edge.DstColumnURN
		}
		err = tx.CreateRelationship(ctx, graph.RelationshipKey{
			SrcEntity: entityType,
			SrcURN:    edge.SrcColumnURN,
			Type:      lineage.EdgeType,
			DstEntity: entityType,
			DstURN:    edge.DstColumnURN,
		}, edge.Properties, nil)
		if err != nil {
			return nil, err
		}
		created = append(created, rel)
	}
	return created, nil
}

func (s *Synthesizer) aspectGetOp(aspectName string, def registry.AspectDef) *Operation {
	op := &Operation{
		Name:       getAspectName(aspectName),
		Kind:       KindAspectGet,
		AspectName: aspectName,
		AspectKind: def.Type,
	}
	op.Run = func(ctx context.Context, req Request) (*Result, error) {
		entityType, ownerURN, err := s.resolveTarget(aspectName, req)
		if err != nil {
			return nil, err
		}
		result := &Result{URN: ownerURN, CreatedRelationships: []rules.CreatedRelationship{}}
		switch def.Type {
		case registry.KindVersioned:
			rec, err := s.writer.GetLatestVersionedAspect(ctx, entityType, ownerURN, aspectName)
			if err != nil {
				return nil, err
			}
			result.Aspect = rec
			result.Version = rec.Version
		case registry.KindTimeseries:
			records, err := s.writer.GetTimeseriesRange(ctx, entityType, ownerURN, aspectName, req.FromMS, req.ToMS, req.Limit)
			if err != nil {
				return nil, err
			}
			result.Timeseries = records
		}
		return result, nil
	}
	return op
}

func (s *Synthesizer) aspectDeleteOp(aspectName string, def registry.AspectDef) *Operation {
	op := &Operation{
		Name:       deleteAspectName(aspectName),
		Kind:       KindAspectDelete,
		AspectName: aspectName,
		AspectKind: def.Type,
	}
	op.Run = func(ctx context.Context, req Request) (*Result, error) {
		entityType, ownerURN, err := s.resolveTarget(aspectName, req)
		if err != nil {
			return nil, err
		}
		_, err = s.writer.InTransaction(ctx, func(tx graph.Tx) (interface{}, error) {
			return nil, tx.DeleteAspect(ctx, entityType, ownerURN, aspectName)
		})
		if err != nil {
			return nil, err
		}
		return &Result{URN: ownerURN, CreatedRelationships: []rules.CreatedRelationship{}}, nil
	}
	return op
}

// resolveTarget resolves the owning entity type and URN of an aspect
// read/delete from either an explicit URN or identifying params.
func (s *Synthesizer) resolveTarget(aspectName string, req Request) (string, string, error) {
	entityType, err := s.resolveOwner(aspectName, req.EntityType)
	if err != nil {
		return "", "", err
	}
	if req.URN != "" {
		return entityType, req.URN, nil
	}
	built, err := s.builders[entityType].Build(req.Params)
	if err != nil {
		return "", "", err
	}
	return entityType, built, nil
}
