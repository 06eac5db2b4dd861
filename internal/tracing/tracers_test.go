package tracing

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/stretchr/testify/require"
)

func TestGetTracer(t *testing.T) {
	t.Setenv("JAEGER_DISABLED", "true")

	tracer, err := GetTracer("ledger")
	require.NoError(t, err)
	require.NotNil(t, tracer)

	again, err := GetTracer("ledger")
	require.NoError(t, err)
	require.Equal(t, tracer, again)

	require.NoError(t, CloseAll())
	require.Empty(t, catalog.tracerByName)
}

func TestGetTracer_BadEnv(t *testing.T) {
	t.Setenv("JAEGER_SAMPLER_PARAM", "not a number")

	_, err := GetTracer("bad")
	require.Error(t, err)
	require.Regexp(t, "^error parsing jaeger configuration from environment: ", err.Error())
}

func TestSpans_Propagation(t *testing.T) {
	tracer := mocktracer.New()

	req := httptest.NewRequest(http.MethodPost, "http://127.0.0.1/tx", nil)

	client := StartClientSpan(tracer, req, "submit")
	client.Finish()

	server := StartServerSpan(tracer, req, "tx")
	server.Finish()

	spans := tracer.FinishedSpans()
	require.Len(t, spans, 2)

	require.Equal(t, spans[0].SpanContext.TraceID, spans[1].SpanContext.TraceID)
	require.Equal(t, spans[0].SpanContext.SpanID, spans[1].ParentID)
	require.Equal(t, "/tx", spans[1].Tag("http.url"))

	orphan := StartServerSpan(tracer, httptest.NewRequest(http.MethodGet, "/height", nil), "height")
	orphan.Finish()

	require.Equal(t, 0, tracer.FinishedSpans()[2].ParentID)
}
