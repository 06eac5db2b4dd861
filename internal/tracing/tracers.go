// Package tracing provides the OpenTracing tracers of the components. The
// tracers report to Jaeger and are configured from the JAEGER_* environment
// variables.
package tracing

import (
	"io"
	"net/http"
	"sync"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	jaegercfg "github.com/uber/jaeger-client-go/config"
	"golang.org/x/xerrors"
)

type tracerCatalog struct {
	sync.Mutex
	tracerByName map[string]closableTracer
}

type closableTracer struct {
	tracer opentracing.Tracer
	closer io.Closer
}

var catalog = tracerCatalog{
	tracerByName: make(map[string]closableTracer),
}

// GetTracer returns the tracer of the service. The tracers are cached so the
// same one is returned for the same name.
func GetTracer(service string) (opentracing.Tracer, error) {
	catalog.Lock()
	defer catalog.Unlock()

	tc, ok := catalog.tracerByName[service]
	if ok {
		return tc.tracer, nil
	}

	cfg, err := jaegercfg.FromEnv()
	if err != nil {
		return nil, xerrors.Errorf("error parsing jaeger configuration from environment: %v", err)
	}

	cfg.ServiceName = service

	tracer, closer, err := cfg.NewTracer()
	if err != nil {
		return nil, xerrors.Errorf("error creating new tracer: %v", err)
	}

	catalog.tracerByName[service] = closableTracer{
		tracer: tracer,
		closer: closer,
	}

	return tracer, nil
}

// CloseAll closes all the tracers and empties the cache.
func CloseAll() error {
	catalog.Lock()
	defer catalog.Unlock()

	for name, tc := range catalog.tracerByName {
		err := tc.closer.Close()
		if err != nil {
			return xerrors.Errorf("failed to close tracer '%s': %v", name, err)
		}

		delete(catalog.tracerByName, name)
	}

	return nil
}

// StartClientSpan starts the span of an outgoing request and injects its
// context in the headers.
func StartClientSpan(tracer opentracing.Tracer, req *http.Request, operation string) opentracing.Span {
	span := tracer.StartSpan(operation, ext.SpanKindRPCClient)

	ext.HTTPMethod.Set(span, req.Method)
	ext.HTTPUrl.Set(span, req.URL.String())

	// The request is not correlated when the tracer does not support the
	// format.
	_ = tracer.Inject(span.Context(), opentracing.HTTPHeaders,
		opentracing.HTTPHeadersCarrier(req.Header))

	return span
}

// StartServerSpan starts the span of an incoming request as a child of the
// span of the client, if any.
func StartServerSpan(tracer opentracing.Tracer, req *http.Request, operation string) opentracing.Span {
	parent, err := tracer.Extract(opentracing.HTTPHeaders,
		opentracing.HTTPHeadersCarrier(req.Header))

	var span opentracing.Span
	if err == nil {
		span = tracer.StartSpan(operation, ext.RPCServerOption(parent))
	} else {
		span = tracer.StartSpan(operation, ext.SpanKindRPCServer)
	}

	ext.HTTPMethod.Set(span, req.Method)
	ext.HTTPUrl.Set(span, req.URL.Path)

	return span
}
