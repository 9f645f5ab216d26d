package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yungbote/metagraph-backend/internal/ops"
	"github.com/yungbote/metagraph-backend/internal/platform/apierr"
	"github.com/yungbote/metagraph-backend/internal/platform/logger"
)

func testCoordinator(t *testing.T, cfg Config) *Coordinator {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return New(cfg, log)
}

func writeOp(name string, fn func(ctx context.Context, req ops.Request) (*ops.Result, error)) *ops.Operation {
	return &ops.Operation{Name: name, Kind: ops.KindAspectUpsert, Run: fn}
}

func TestExecuteReplaysIdempotentRequests(t *testing.T) {
	c := testCoordinator(t, DefaultConfig())
	var calls int32
	op := writeOp("upsert_ownership_aspect", func(ctx context.Context, req ops.Request) (*ops.Result, error) {
		atomic.AddInt32(&calls, 1)
		return &ops.Result{URN: "urn:li:dataset:x", Version: 1}, nil
	})

	first, err := c.Execute(context.Background(), "req-1", op, ops.Request{})
	if err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	second, err := c.Execute(context.Background(), "req-1", op, ops.Request{})
	if err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("op calls: want=1 got=%d", calls)
	}
	if first != second {
		t.Fatalf("replay must return the recorded result")
	}
}

func TestExecuteDistinctRequestIDsRunSeparately(t *testing.T) {
	c := testCoordinator(t, DefaultConfig())
	var calls int32
	op := writeOp("upsert_ownership_aspect", func(ctx context.Context, req ops.Request) (*ops.Result, error) {
		return &ops.Result{Version: int64(atomic.AddInt32(&calls, 1)), URN: "u"}, nil
	})

	if _, err := c.Execute(context.Background(), "req-1", op, ops.Request{}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, err := c.Execute(context.Background(), "req-2", op, ops.Request{}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("op calls: want=2 got=%d", calls)
	}
}

func TestExecuteFailedRequestsAreNotRecorded(t *testing.T) {
	c := testCoordinator(t, DefaultConfig())
	var calls int32
	op := writeOp("upsert_ownership_aspect", func(ctx context.Context, req ops.Request) (*ops.Result, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, apierr.Newf(apierr.KindStoreConflict, "race")
		}
		return &ops.Result{URN: "u", Version: 1}, nil
	})

	if _, err := c.Execute(context.Background(), "req-1", op, ops.Request{}); err == nil {
		t.Fatalf("first Execute: expected error")
	}
	res, err := c.Execute(context.Background(), "req-1", op, ops.Request{})
	if err != nil {
		t.Fatalf("retry Execute: %v", err)
	}
	if res.Version != 1 || atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("retry must re-run the op: calls=%d", calls)
	}
}

func TestExecuteReadsBypassIdempotencyWindow(t *testing.T) {
	c := testCoordinator(t, DefaultConfig())
	var calls int32
	op := &ops.Operation{Name: "get_Dataset", Kind: ops.KindEntityGet, Run: func(ctx context.Context, req ops.Request) (*ops.Result, error) {
		atomic.AddInt32(&calls, 1)
		return &ops.Result{URN: "u"}, nil
	}}

	for i := 0; i < 2; i++ {
		if _, err := c.Execute(context.Background(), "req-1", op, ops.Request{}); err != nil {
			t.Fatalf("Execute: %v", err)
		}
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("reads must always run: calls=%d", calls)
	}
}

func TestExecuteAnnotatesErrorsWithCorrelationID(t *testing.T) {
	c := testCoordinator(t, DefaultConfig())
	op := writeOp("upsert_ownership_aspect", func(ctx context.Context, req ops.Request) (*ops.Result, error) {
		return nil, apierr.Newf(apierr.KindNotFound, "missing")
	})

	_, err := c.Execute(context.Background(), "req-42", op, ops.Request{})
	var ae *apierr.Error
	if !errors.As(err, &ae) {
		t.Fatalf("expected *apierr.Error, got %T", err)
	}
	if ae.CorrelationID != "req-42" {
		t.Fatalf("correlation id: want=req-42 got=%q", ae.CorrelationID)
	}
}

func TestExecuteAppliesDefaultDeadline(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RequestTimeout = 50 * time.Millisecond
	c := testCoordinator(t, cfg)

	op := writeOp("upsert_ownership_aspect", func(ctx context.Context, req ops.Request) (*ops.Result, error) {
		if _, ok := ctx.Deadline(); !ok {
			return nil, apierr.Newf(apierr.KindValidation, "no deadline propagated")
		}
		return &ops.Result{URN: "u"}, nil
	})
	if _, err := c.Execute(context.Background(), "", op, ops.Request{}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
}

func TestExecuteBoundsConcurrentAdmission(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrent = 2
	c := testCoordinator(t, cfg)

	var running, peak int32
	release := make(chan struct{})
	op := writeOp("upsert_ownership_aspect", func(ctx context.Context, req ops.Request) (*ops.Result, error) {
		cur := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		<-release
		atomic.AddInt32(&running, -1)
		return &ops.Result{URN: "u"}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = c.Execute(context.Background(), "", op, ops.Request{})
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&peak); got > 2 {
		t.Fatalf("admission bound: want<=2 got=%d", got)
	}
	close(release)
	wg.Wait()
	if got := atomic.LoadInt32(&peak); got > 2 {
		t.Fatalf("admission bound after drain: want<=2 got=%d", got)
	}
}
