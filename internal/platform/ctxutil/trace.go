package ctxutil

import "context"

type traceDataKey struct{}

type TraceData struct {
	TraceID   string
	RequestID string
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	return context.WithValue(ctx, traceDataKey{}, td)
}

func GetTraceData(ctx context.Context) *TraceData {
	if ctx == nil {
		return nil
	}
	if td, ok := ctx.Value(traceDataKey{}).(*TraceData); ok {
		return td
	}
	return nil
}

// CorrelationID returns the request id carried on ctx, or "" when none is set.
func CorrelationID(ctx context.Context) string {
	td := GetTraceData(ctx)
	if td == nil {
		return ""
	}
	return td.RequestID
}
