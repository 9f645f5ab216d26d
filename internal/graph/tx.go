package graph

import "context"

// Tx is the writer's operation set as seen from inside one request
// transaction. *Writer implements it both standalone (one transaction per
// operation) and scoped through InTransaction.
type Tx interface {
	UpsertEntity(ctx context.Context, entityType, urn string, params map[string]interface{}) error
	EnsureEntity(ctx context.Context, entityType, urn string) error
	EntityExists(ctx context.Context, entityType, urn string) (bool, error)
	UpsertVersionedAspect(ctx context.Context, entityType, urn, aspectName string, payload map[string]interface{}) (int64, error)
	AppendTimeseriesAspect(ctx context.Context, entityType, urn, aspectName string, payload map[string]interface{}, timestampMS int64) (int64, error)
	CreateRelationship(ctx context.Context, key RelationshipKey, properties map[string]interface{}, discriminators []string) error
	DeleteEntity(ctx context.Context, entityType, urn string, cascade bool) error
	DeleteAspect(ctx context.Context, entityType, urn, aspectName string) error
	GetEntity(ctx context.Context, entityType, urn string) (map[string]interface{}, error)
	GetLatestVersionedAspect(ctx context.Context, entityType, urn, aspectName string) (*AspectRecord, error)
	GetTimeseriesRange(ctx context.Context, entityType, urn, aspectName string, fromMS, toMS int64, limit int) ([]AspectRecord, error)
}

// txRunner replays every writeTx/readTx against one already-open managed
// transaction, so a whole request's writes commit or roll back together.
type txRunner struct {
	q queryRunner
}

func (r txRunner) writeTx(ctx context.Context, work func(q queryRunner) (interface{}, error)) (interface{}, error) {
	return work(r.q)
}

func (r txRunner) readTx(ctx context.Context, work func(q queryRunner) (interface{}, error)) (interface{}, error) {
	return work(r.q)
}

// InTransaction runs fn with a writer whose operations all execute inside a
// single store transaction. Retryable conflicts re-run fn from scratch under
// the writer's retry policy; fn must therefore be free of external side
// effects.
func (w *Writer) InTransaction(ctx context.Context, fn func(tx Tx) (interface{}, error)) (interface{}, error) {
	var result interface{}
	err := w.withRetry(ctx, "request_tx", func() error {
		res, err := w.run.writeTx(ctx, func(q queryRunner) (interface{}, error) {
			txw := &Writer{
				run:   txRunner{q: q},
				log:   w.log,
				retry: RetryPolicy{Attempts: 1},
				nowMS: w.nowMS,
			}
			return fn(txw)
		})
		if err != nil {
			return classifyStoreError(err)
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
