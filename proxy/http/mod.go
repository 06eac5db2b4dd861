// Package http implements the proxy with the HTTP server of the standard
// library. Every request is logged and tagged with a request ID.
package http

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.dedis.ch/fedchain"
	"golang.org/x/xerrors"
)

type key int

const (
	requestIDKey key = 0
)

// RequestIDHeader is the header carrying the ID of a request.
const RequestIDHeader = "X-Request-Id"

const shutdownTimeout = 10 * time.Second

// HTTP is a proxy backed by an HTTP server.
//
// - implements proxy.Proxy
type HTTP struct {
	sync.Mutex

	mux        *http.ServeMux
	server     *http.Server
	logger     zerolog.Logger
	listenAddr string
	ln         net.Listener
	quit       chan struct{}
	listenFn   func(network, addr string) (net.Listener, error)
}

// NewHTTP creates a new proxy that listens on the address. An empty address
// selects a random port on the loopback interface.
func NewHTTP(listenAddr string) *HTTP {
	logger := fedchain.Logger.With().Str("role", "http proxy").Logger()

	if listenAddr == "" {
		listenAddr = "127.0.0.1:0"
	}

	nextRequestID := func() string {
		return strconv.FormatInt(time.Now().UnixNano(), 10)
	}

	mux := http.NewServeMux()

	return &HTTP{
		mux: mux,
		server: &http.Server{
			Handler:           tagging(nextRequestID)(logging(logger)(mux)),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger:     logger,
		listenAddr: listenAddr,
		quit:       make(chan struct{}, 1),
		listenFn:   net.Listen,
	}
}

// Listen implements proxy.Proxy. It serves the requests until Stop is called.
func (h *HTTP) Listen() error {
	ln, err := h.listenFn("tcp", h.listenAddr)
	if err != nil {
		return xerrors.Errorf("failed to create conn '%s': %v", h.listenAddr, err)
	}

	h.Lock()
	h.ln = ln
	h.Unlock()

	done := make(chan struct{})

	go func() {
		defer close(done)

		<-h.quit

		h.logger.Info().Msg("server is shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		h.server.SetKeepAlivesEnabled(false)

		err := h.server.Shutdown(ctx)
		if err != nil {
			h.logger.Err(err).Msg("could not gracefully shutdown the server")
		}
	}()

	h.logger.Info().Msgf("server is ready to handle requests at http://%s", ln.Addr())

	err = h.server.Serve(ln)
	if err != nil && err != http.ErrServerClosed {
		return xerrors.Errorf("failed to serve: %v", err)
	}

	<-done

	h.logger.Info().Msg("server stopped")

	return nil
}

// Stop implements proxy.Proxy. It can be called multiple times.
func (h *HTTP) Stop() {
	select {
	case h.quit <- struct{}{}:
	default:
	}
}

// GetAddr implements proxy.Proxy.
func (h *HTTP) GetAddr() net.Addr {
	h.Lock()
	defer h.Unlock()

	if h.ln == nil {
		return nil
	}

	return h.ln.Addr()
}

// RegisterHandler implements proxy.Proxy.
func (h *HTTP) RegisterHandler(path string, handler func(http.ResponseWriter, *http.Request)) {
	h.mux.HandleFunc(path, handler)
}

// RequestID returns the ID of the request carried by the context, or an empty
// string.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// logging logs every request once it has been served.
func logging(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			defer func() {
				requestID := RequestID(r.Context())
				if requestID == "" {
					requestID = "unknown"
				}

				logger.Debug().Str("requestID", requestID).
					Str("method", r.Method).
					Str("url", r.URL.Path).
					Str("remoteAddr", r.RemoteAddr).
					Str("agent", r.UserAgent()).
					Dur("duration", time.Since(start)).
					Msg("request served")
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// tagging sets the request ID of the incoming request, or a new one, in the
// context and the response.
func tagging(nextRequestID func() string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = nextRequestID()
			}

			ctx := context.WithValue(r.Context(), requestIDKey, requestID)
			w.Header().Set(RequestIDHeader, requestID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
