package mongodb

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newTestTracerProvider(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = provider.Shutdown(context.Background())
	})

	return recorder
}

func TestSpanAttributes(t *testing.T) {
	recorder := newTestTracerProvider(t)

	_, span := startSpan(context.Background(), "update", "ordersaga")
	endSpan(span, nil)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	got := spans[0]
	assert.Equal(t, "sagastore.mongodb.update", got.Name())
	assert.Equal(t, trace.SpanKindClient, got.SpanKind())
	assert.Equal(t, codes.Unset, got.Status().Code)
	assert.Contains(t, got.Attributes(), attribute.String("db.system", "mongodb"))
	assert.Contains(t, got.Attributes(), attribute.String("db.collection.name", "ordersaga"))
	assert.Contains(t, got.Attributes(), attribute.String("db.operation.name", "update"))
}

func TestSpanRecordsError(t *testing.T) {
	recorder := newTestTracerProvider(t)

	_, span := startSpan(context.Background(), "save", "ordersaga")
	endSpan(span, errors.New("insert failed"))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "insert failed", spans[0].Status().Description)
	require.Len(t, spans[0].Events(), 1)
	assert.Equal(t, "exception", spans[0].Events()[0].Name)
}

func TestOutboxGetSpan(t *testing.T) {
	recorder := newTestTracerProvider(t)
	mt := newMock(t)

	mt.Run("miss", func(mt *mtest.T) {
		storage := mockOutbox(mt)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns(mt, "outboxrecord"), mtest.FirstBatch))

		_, found, err := storage.Get(context.Background(), "m-1")
		require.NoError(mt, err)
		assert.False(mt, found)
	})

	var names []string
	for _, span := range recorder.Ended() {
		names = append(names, span.Name())
	}
	assert.Contains(t, names, "sagastore.mongodb.outbox_get")
}
