package transport

import (
	"context"
	"strings"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"pubclient/internal/pub"
	"pubclient/internal/pub/metrics"
	"pubclient/internal/pub/mocks"
	"pubclient/internal/pub/tracing"
)

func TestMetricsTransport_RecordsResultByKind(t *testing.T) {
	ctrl := gomock.NewController(t)
	inner := mocks.NewMockTransport(ctrl)

	inner.EXPECT().Read(gomock.Any(), coord, 1).Return([]pub.Event{}, nil)
	inner.EXPECT().Commit(gomock.Any(), coord, gomock.Any()).Return(0, &pub.Error{Op: opCommit, Kind: pub.KindConflict, Status: 409})
	inner.EXPECT().Publish(gomock.Any(), "org", "topic", gomock.Any()).Return(1, nil)

	registry := metrics.NewRegistry()
	tr := NewMetricsTransport(inner, registry)
	ctx := context.Background()

	_, _ = tr.Read(ctx, coord, 1)
	_, _ = tr.Commit(ctx, coord, []uuid.UUID{uuid.New()})
	_, _ = tr.Publish(ctx, "org", "topic", []pub.PublishRequest{{Data: 1}})

	expected := `
# HELP pubclient_transport_request_total Total number of requests sent to the service
# TYPE pubclient_transport_request_total counter
pubclient_transport_request_total{operation="commit",result="conflict"} 1
pubclient_transport_request_total{operation="publish",result="ok"} 1
pubclient_transport_request_total{operation="read",result="ok"} 1
`
	require.NoError(t, testutil.GatherAndCompare(registry.Gatherer(), strings.NewReader(expected), "pubclient_transport_request_total"))
}

func TestTracedTransport_ClientSpans(t *testing.T) {
	ctrl := gomock.NewController(t)
	inner := mocks.NewMockTransport(ctrl)

	inner.EXPECT().Read(gomock.Any(), coord, 2).Return(nil, &pub.Error{Op: opRead, Kind: pub.KindNotFound, Status: 404})
	inner.EXPECT().Commit(gomock.Any(), coord, gomock.Any()).Return(1, nil)

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	tr := NewTracedTransport(inner, tracing.NewTracerFromProvider(tp, tracing.Config{ServiceName: "test"}))
	_, err := tr.Read(context.Background(), coord, 2)
	require.ErrorIs(t, err, pub.ErrNotFound)
	_, err = tr.Commit(context.Background(), coord, []uuid.UUID{uuid.New()})
	require.NoError(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "transport.read", spans[0].Name())
	assert.Equal(t, trace.SpanKindClient, spans[0].SpanKind())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "transport.commit", spans[1].Name())
	assert.Equal(t, codes.Ok, spans[1].Status().Code)
}
