package ops

import (
	"context"

	"github.com/yungbote/metagraph-backend/internal/graph"
	"github.com/yungbote/metagraph-backend/internal/rules"
)

func (s *Synthesizer) entityUpsertOp(entityType string) *Operation {
	builder := s.builders[entityType]
	op := &Operation{
		Name:       upsertEntityName(entityType),
		Kind:       KindEntityUpsert,
		EntityType: entityType,
	}
	op.Run = func(ctx context.Context, req Request) (*Result, error) {
		built, err := builder.Build(req.Params)
		if err != nil {
			return nil, err
		}
		props := make(map[string]interface{}, len(req.Params)+len(req.Properties))
		for k, v := range req.Params {
			props[k] = v
		}
		for k, v := range req.Properties {
			props[k] = v
		}
		_, err = s.writer.InTransaction(ctx, func(tx graph.Tx) (interface{}, error) {
			return nil, tx.UpsertEntity(ctx, entityType, built, props)
		})
		if err != nil {
			return nil, err
		}
		return &Result{URN: built, CreatedRelationships: []rules.CreatedRelationship{}}, nil
	}
	return op
}

func (s *Synthesizer) entityGetOp(entityType string) *Operation {
	builder := s.builders[entityType]
	op := &Operation{
		Name:       getEntityName(entityType),
		Kind:       KindEntityGet,
		EntityType: entityType,
	}
	op.Run = func(ctx context.Context, req Request) (*Result, error) {
		target := req.URN
		if target == "" {
			built, err := builder.Build(req.Params)
			if err != nil {
				return nil, err
			}
			target = built
		}
		props, err := s.writer.GetEntity(ctx, entityType, target)
		if err != nil {
			return nil, err
		}
		return &Result{URN: target, Entity: props, CreatedRelationships: []rules.CreatedRelationship{}}, nil
	}
	return op
}

func (s *Synthesizer) entityDeleteOp(entityType string) *Operation {
	builder := s.builders[entityType]
	op := &Operation{
		Name:       deleteEntityName(entityType),
		Kind:       KindEntityDelete,
		EntityType: entityType,
	}
	op.Run = func(ctx context.Context, req Request) (*Result, error) {
		target := req.URN
		if target == "" {
			built, err := builder.Build(req.Params)
			if err != nil {
				return nil, err
			}
			target = built
		}
		_, err := s.writer.InTransaction(ctx, func(tx graph.Tx) (interface{}, error) {
			return nil, tx.DeleteEntity(ctx, entityType, target, req.Cascade)
		})
		if err != nil {
			return nil, err
		}
		return &Result{URN: target, CreatedRelationships: []rules.CreatedRelationship{}}, nil
	}
	return op
}
