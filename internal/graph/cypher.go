package graph

import (
	"context"
	"errors"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yungbote/metagraph-backend/internal/platform/apierr"
	"github.com/yungbote/metagraph-backend/internal/platform/neo4jdb"
)

// queryRunner dispatches one cypher statement inside an open transaction.
type queryRunner interface {
	run(ctx context.Context, cypher string, params map[string]interface{}) ([]map[string]interface{}, error)
}

// cypherRunner executes a function inside one managed transaction. The whole
// function commits or none of it does.
type cypherRunner interface {
	writeTx(ctx context.Context, work func(q queryRunner) (interface{}, error)) (interface{}, error)
	readTx(ctx context.Context, work func(q queryRunner) (interface{}, error)) (interface{}, error)
}

type neo4jRunner struct {
	client *neo4jdb.Client
}

type neo4jQuery struct {
	tx neo4j.ManagedTransaction
}

func (q neo4jQuery) run(ctx context.Context, cypher string, params map[string]interface{}) ([]map[string]interface{}, error) {
	res, err := q.tx.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	records, err := res.Collect(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]interface{}, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.AsMap())
	}
	return out, nil
}

func (r *neo4jRunner) writeTx(ctx context.Context, work func(q queryRunner) (interface{}, error)) (interface{}, error) {
	session := r.client.WriteSession(ctx)
	defer session.Close(ctx)
	return session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		return work(neo4jQuery{tx: tx})
	})
}

func (r *neo4jRunner) readTx(ctx context.Context, work func(q queryRunner) (interface{}, error)) (interface{}, error) {
	session := r.client.ReadSession(ctx)
	defer session.Close(ctx)
	return session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		return work(neo4jQuery{tx: tx})
	})
}

// classifyStoreError folds driver errors into the error taxonomy. Errors
// already typed upstream pass through unchanged.
func classifyStoreError(err error) error {
	if err == nil {
		return nil
	}
	var typed *apierr.Error
	if errors.As(err, &typed) {
		return err
	}
	var neoErr *neo4j.Neo4jError
	if errors.As(err, &neoErr) {
		if strings.Contains(neoErr.Code, "ConstraintValidationFailed") || neo4j.IsRetryable(err) {
			return apierr.New(apierr.KindStoreConflict, err)
		}
		return apierr.New(apierr.KindInternal, err)
	}
	if neo4j.IsConnectivityError(err) || errors.Is(err, context.DeadlineExceeded) {
		return apierr.New(apierr.KindStoreUnavailable, err).AsTransient()
	}
	if neo4j.IsRetryable(err) {
		return apierr.New(apierr.KindStoreConflict, err)
	}
	return apierr.New(apierr.KindStoreUnavailable, err).AsTransient()
}

// retryableStoreError reports whether the writer should re-run the
// transaction: version-uniqueness races and deadlocks, per the retry policy.
func retryableStoreError(err error) bool {
	return apierr.KindOf(err) == apierr.KindStoreConflict
}
