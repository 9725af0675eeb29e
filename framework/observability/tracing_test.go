package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/akriventsev/activities/framework/activity"
)

func newTestTracing(t *testing.T) (*TracingManager, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	cfg := DefaultTracingConfig()
	cfg.Enabled = true
	tm, err := NewTracingManagerWithExporter(cfg, exporter, true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tm.Stop(context.Background()) })
	return tm, exporter
}

func TestTracingManager_DisabledIsNoop(t *testing.T) {
	tm, err := NewTracingManager(DefaultTracingConfig())
	require.NoError(t, err)

	_, span := tm.Tracer().Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	assert.NoError(t, tm.Stop(context.Background()))
}

func TestTracingManager_UnknownExporter(t *testing.T) {
	cfg := DefaultTracingConfig()
	cfg.Enabled = true
	cfg.Exporter = "carrier-pigeon"

	_, err := NewTracingManager(cfg)
	assert.Error(t, err)
}

func TestInterceptor_SpanPerActivity(t *testing.T) {
	tm, exporter := newTestTracing(t)
	exec := activity.NewExecutor(activity.NewRegistry()).WithInterceptor(tm.Interceptor())

	_, err := tm.TraceRun(context.Background(), "greet", "run-1", func(ctx context.Context) (any, error) {
		return exec.Run(ctx, []any{
			map[string]any{"activity": "assign", "name": "x", "value": 1},
			map[string]any{"activity": "eval", "value": "$.data.x"},
		}, nil)
	})
	require.NoError(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 4)

	byName := map[string]tracetest.SpanStub{}
	for _, s := range spans {
		byName[s.Name] = s
	}
	run := byName["run greet"]
	seq := byName["activity sequence"]
	require.True(t, run.SpanContext.IsValid())
	assert.Equal(t, run.SpanContext.SpanID(), seq.Parent.SpanID())
	assert.Equal(t, seq.SpanContext.SpanID(), byName["activity assign"].Parent.SpanID())
	assert.Equal(t, seq.SpanContext.SpanID(), byName["activity eval"].Parent.SpanID())
}

func TestInterceptor_RecordsError(t *testing.T) {
	tm, exporter := newTestTracing(t)
	exec := activity.NewExecutor(activity.NewRegistry()).WithInterceptor(tm.Interceptor())

	_, err := exec.Run(context.Background(), map[string]any{"activity": "throw", "error": "Boom"}, nil)
	require.Error(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
}

func TestTraceRun_RecordsError(t *testing.T) {
	tm, exporter := newTestTracing(t)

	_, err := tm.TraceRun(context.Background(), "w", "r", func(ctx context.Context) (any, error) {
		return nil, errors.New("failed")
	})
	require.Error(t, err)
	require.Len(t, exporter.GetSpans(), 1)
	assert.Equal(t, codes.Error, exporter.GetSpans()[0].Status.Code)
}

func TestCorrelationID(t *testing.T) {
	ctx := InjectCorrelationID(context.Background(), "abc-123")
	assert.Equal(t, "abc-123", ExtractCorrelationID(ctx))
	assert.Empty(t, ExtractCorrelationID(context.Background()))

	headers := http.Header{}
	PropagateCorrelationID(ctx, headers)
	assert.Equal(t, "abc-123", headers.Get(CorrelationIDHeader))
}

func TestCorrelationIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CorrelationIDMiddleware())
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, ExtractCorrelationID(c.Request.Context()))
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(CorrelationIDHeader, "given")
	router.ServeHTTP(w, req)
	assert.Equal(t, "given", w.Body.String())
	assert.Equal(t, "given", w.Header().Get(CorrelationIDHeader))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, w.Header().Get(CorrelationIDHeader))
	assert.Equal(t, w.Header().Get(CorrelationIDHeader), w.Body.String())
}
