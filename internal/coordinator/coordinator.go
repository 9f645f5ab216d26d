package coordinator

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/semaphore"

	"github.com/google/uuid"

	"github.com/yungbote/metagraph-backend/internal/platform/apierr"
	"github.com/yungbote/metagraph-backend/internal/platform/ctxutil"
	"github.com/yungbote/metagraph-backend/internal/platform/logger"
	"github.com/yungbote/metagraph-backend/internal/ops"
)

type Config struct {
	// MaxConcurrent bounds in-flight requests, reads and writes alike;
	// matches the store session pool size.
	MaxConcurrent int
	// RequestTimeout applies when the caller carries no deadline.
	RequestTimeout time.Duration
	// IdempotencyWindow is how long a request id pins its recorded result.
	IdempotencyWindow time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrent:     16,
		RequestTimeout:    30 * time.Second,
		IdempotencyWindow: 5 * time.Minute,
	}
}

// Coordinator runs one logical write transaction per request: bounded
// admission, deadline propagation, correlation ids, and an idempotency
// window that replays recorded results for repeated request ids.
type Coordinator struct {
	cfg    Config
	sem    *semaphore.Weighted
	window *gocache.Cache
	log    *logger.Logger
}

func New(cfg Config, log *logger.Logger) *Coordinator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}
	if cfg.IdempotencyWindow <= 0 {
		cfg.IdempotencyWindow = DefaultConfig().IdempotencyWindow
	}
	return &Coordinator{
		cfg:    cfg,
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		window: gocache.New(cfg.IdempotencyWindow, cfg.IdempotencyWindow),
		log:    log.With("component", "Coordinator"),
	}
}

// Execute runs op with the request under the coordinator's policies. A
// repeated non-empty requestID inside the window returns the recorded result
// without re-running the write.
func (c *Coordinator) Execute(ctx context.Context, requestID string, op *ops.Operation, req ops.Request) (*ops.Result, error) {
	if requestID == "" {
		requestID = uuid.New().String()
	}
	if ctxutil.GetTraceData(ctx) == nil {
		ctx = ctxutil.WithTraceData(ctx, &ctxutil.TraceData{RequestID: requestID})
	}
	correlationID := ctxutil.CorrelationID(ctx)

	if isWrite(op.Kind) {
		if cached, found := c.window.Get(idempotencyKey(op.Name, requestID)); found {
			c.log.Debug("idempotent replay", "op", op.Name, "request_id", requestID)
			return cached.(*ops.Result), nil
		}
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, apierr.New(apierr.KindStoreUnavailable, err).AsTransient().WithCorrelationID(correlationID)
	}
	defer c.sem.Release(1)

	result, err := op.Run(ctx, req)
	if err != nil {
		return nil, apierr.Annotate(err, correlationID)
	}

	if isWrite(op.Kind) {
		c.window.Set(idempotencyKey(op.Name, requestID), result, gocache.DefaultExpiration)
	}
	return result, nil
}

// isWrite gates the idempotency window; reads always run.
func isWrite(kind ops.Kind) bool {
	switch kind {
	case ops.KindEntityUpsert, ops.KindEntityDelete, ops.KindAspectUpsert, ops.KindAspectDelete:
		return true
	default:
		return false
	}
}

func idempotencyKey(opName, requestID string) string {
	return opName + "|" + requestID
}
