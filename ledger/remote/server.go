package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/rs/zerolog"
	"go.dedis.ch/fedchain"
	"go.dedis.ch/fedchain/core/execution"
	"go.dedis.ch/fedchain/core/ordering"
	"go.dedis.ch/fedchain/core/txn"
	"go.dedis.ch/fedchain/internal/tracing"
	"golang.org/x/xerrors"
)

const (
	maxBodySize = 1 << 20
	maxWait     = 30 * time.Second
)

// Registrar is the part of a proxy the server needs to serve its routes.
type Registrar interface {
	RegisterHandler(path string, handler func(http.ResponseWriter, *http.Request))
}

// Server serves an ordering service over HTTP.
type Server struct {
	ledger ordering.Service
	txFac  txn.Factory
	tracer opentracing.Tracer
	logger zerolog.Logger
}

// ServerOption is the type of option to set some fields of the server.
type ServerOption func(*Server)

// WithServerTracer sets the tracer of the spans of the requests.
func WithServerTracer(tracer opentracing.Tracer) ServerOption {
	return func(s *Server) {
		s.tracer = tracer
	}
}

// NewServer returns a server of the ledger. The factory decodes the submitted
// transactions.
func NewServer(ledger ordering.Service, fac txn.Factory, opts ...ServerOption) *Server {
	s := &Server{
		ledger: ledger,
		txFac:  fac,
		tracer: opentracing.GlobalTracer(),
		logger: fedchain.Logger.With().Str("component", "ledger server").Logger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Register registers the routes of the server.
func (s *Server) Register(r Registrar) {
	r.RegisterHandler(PathTx, s.traced(PathTx, http.MethodPost, s.handleTx))
	r.RegisterHandler(PathCall, s.traced(PathCall, http.MethodPost, s.handleCall))
	r.RegisterHandler(PathNonce, s.traced(PathNonce, http.MethodGet, s.handleNonce))
	r.RegisterHandler(PathHeight, s.traced(PathHeight, http.MethodGet, s.handleHeight))
	r.RegisterHandler(PathLogs, s.traced(PathLogs, http.MethodGet, s.handleLogs))
}

type handler func(ctx context.Context, r *http.Request) (interface{}, int, error)

// traced wraps the handler with the span of the request, the check of the
// method and the encoding of the response.
func (s *Server) traced(path, method string, h handler) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		span := tracing.StartServerSpan(s.tracer, r, "ledger"+path)
		defer span.Finish()

		ctx := opentracing.ContextWithSpan(r.Context(), span)

		var resp interface{}
		var code int
		var err error

		if r.Method != method {
			code = http.StatusMethodNotAllowed
			err = xerrors.Errorf("only %s requests are supported", method)
		} else {
			resp, code, err = h(ctx, r)
		}

		ext.HTTPStatusCode.Set(span, uint16(code))
		promRequests.WithLabelValues(path, strconv.Itoa(code)).Inc()

		if err != nil {
			ext.Error.Set(span, true)

			s.logger.Debug().Err(err).Str("path", path).Int("code", code).
				Msg("request failed")

			resp = ErrorJSON{Error: err.Error()}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)

		err = json.NewEncoder(w).Encode(resp)
		if err != nil {
			s.logger.Warn().Err(err).Msg("failed to write response")
		}
	}
}

func (s *Server) handleTx(ctx context.Context, r *http.Request) (interface{}, int, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return nil, http.StatusBadRequest, xerrors.Errorf("failed to read body: %v", err)
	}

	tx, err := s.txFac.TransactionOf(data)
	if err != nil {
		return nil, http.StatusConflict, xerrors.Errorf("invalid transaction: %v", err)
	}

	receipt, err := s.ledger.Submit(ctx, tx)
	if err != nil {
		return nil, statusOf(err), err
	}

	return receipt, http.StatusOK, nil
}

func (s *Server) handleCall(ctx context.Context, r *http.Request) (interface{}, int, error) {
	var query execution.Query

	err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&query)
	if err != nil {
		return nil, http.StatusBadRequest, xerrors.Errorf("failed to decode query: %v", err)
	}

	value, err := s.ledger.Call(ctx, query)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}

	return CallResponseJSON{Value: value}, http.StatusOK, nil
}

func (s *Server) handleNonce(ctx context.Context, r *http.Request) (interface{}, int, error) {
	addr := r.URL.Query().Get("address")
	if addr == "" {
		return nil, http.StatusBadRequest, xerrors.New("missing address")
	}

	nonce, err := s.ledger.GetNonce(ctx, addr)
	if err != nil {
		return nil, statusOf(err), err
	}

	return NonceJSON{Nonce: nonce}, http.StatusOK, nil
}

func (s *Server) handleHeight(ctx context.Context, r *http.Request) (interface{}, int, error) {
	height, err := s.ledger.Height(ctx)
	if err != nil {
		return nil, statusOf(err), err
	}

	return HeightJSON{Height: height}, http.StatusOK, nil
}

// handleLogs returns the logs of the filter. When there are none and a wait
// duration is given, it waits for new blocks until one brings a matching log
// or the duration expires.
func (s *Server) handleLogs(ctx context.Context, r *http.Request) (interface{}, int, error) {
	params := r.URL.Query()

	filter := ordering.Filter{Name: params.Get("name")}

	var err error

	if params.Get("from") != "" {
		filter.From, err = strconv.ParseUint(params.Get("from"), 10, 64)
		if err != nil {
			return nil, http.StatusBadRequest, xerrors.Errorf("invalid from: %v", err)
		}
	}

	var wait time.Duration

	if params.Get("wait") != "" {
		wait, err = time.ParseDuration(params.Get("wait"))
		if err != nil {
			return nil, http.StatusBadRequest, xerrors.Errorf("invalid wait: %v", err)
		}
	}

	if wait > maxWait {
		wait = maxWait
	}

	logs, err := s.ledger.Logs(ctx, filter)
	if err != nil {
		return nil, statusOf(err), err
	}

	if len(logs) > 0 || wait <= 0 {
		return nonNil(logs), http.StatusOK, nil
	}

	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	blocks := s.ledger.Watch(ctx)

	// A block could have been appended before the watch started.
	logs, err = s.ledger.Logs(ctx, filter)

	for err == nil && len(logs) == 0 {
		_, more := <-blocks
		if !more {
			break
		}

		logs, err = s.ledger.Logs(ctx, filter)
	}

	if err != nil {
		return nil, statusOf(err), err
	}

	return nonNil(logs), http.StatusOK, nil
}

func statusOf(err error) int {
	switch {
	case xerrors.Is(err, ordering.ErrRejected):
		return http.StatusConflict
	case xerrors.Is(err, ordering.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func nonNil(logs []ordering.Log) []ordering.Log {
	if logs == nil {
		return []ordering.Log{}
	}

	return logs
}
