package util

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gridport-io/gridport/internal/models"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// GoWithWaitGroup runs fn in a goroutine with an optional *sync.WaitGroup to
// track when fn finishes executing.
func GoWithWaitGroup(wg *sync.WaitGroup, fn func()) {
	if wg != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	} else {
		go fn()
	}
}

// WithTrace attaches the current trace id to the logger so request logs can
// be correlated with spans.
func WithTrace(ctx context.Context, l *zap.SugaredLogger) *zap.SugaredLogger {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if sc.HasTraceID() {
		l = l.With(zap.String("traceID", sc.TraceID().String()))
	}
	return l
}

// ToRecord converts a typed model into its generic Record form by a json
// round trip, so gorm models and introspected rows share one change-feed
// payload shape.
func ToRecord(v interface{}) (models.Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var rec models.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}
