// Package prober verifies that a deployed service answers at its external
// address. A probe is a single HTTP request with a short timeout, and the
// retries are bounded.
package prober

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.dedis.ch/fedchain"
	"golang.org/x/xerrors"
)

// ErrUnreachable is returned when the service did not answer after the
// retries.
var ErrUnreachable = xerrors.New("service unreachable")

const (
	defaultTimeout = 5 * time.Second
	maxPayload     = 1 << 20
)

var promProbes = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "fedchain_prober_probes_total",
	Help: "total number of connectivity probes per result",
}, []string{"result"})

func init() {
	fedchain.PromCollectors = append(fedchain.PromCollectors, promProbes)
}

// Prober checks the reachability of an address.
type Prober interface {
	// Probe makes a single attempt and returns true with the answer of the
	// service if it is reachable.
	Probe(ctx context.Context, address string) (bool, []byte)
}

// HTTPProber probes a service with a GET request.
//
// - implements Prober
type HTTPProber struct {
	client *http.Client
	port   string
	path   string
	logger zerolog.Logger
}

// Option is the type of option to set some fields of the prober.
type Option func(*HTTPProber)

// WithPort sets the port of the requests when the address has none.
func WithPort(port string) Option {
	return func(p *HTTPProber) {
		p.port = port
	}
}

// WithPath sets the path of the requests.
func WithPath(path string) Option {
	return func(p *HTTPProber) {
		p.path = path
	}
}

// WithTimeout sets the timeout of a single probe.
func WithTimeout(timeout time.Duration) Option {
	return func(p *HTTPProber) {
		p.client.Timeout = timeout
	}
}

// NewHTTPProber returns a prober of HTTP services.
func NewHTTPProber(opts ...Option) HTTPProber {
	p := HTTPProber{
		client: &http.Client{Timeout: defaultTimeout},
		path:   "/",
		logger: fedchain.Logger.With().Str("component", "prober").Logger(),
	}

	for _, opt := range opts {
		opt(&p)
	}

	return p
}

// Probe implements Prober. Any 2xx answer means the service is reachable. The
// address is either a host, optionally with a port, or a URL.
func (p HTTPProber) Probe(ctx context.Context, address string) (bool, []byte) {
	target := p.url(address)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		p.logger.Debug().Err(err).Str("url", target).Msg("invalid request")
		promProbes.WithLabelValues("invalid").Inc()

		return false, nil
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug().Err(err).Str("url", target).Msg("probe failed")
		promProbes.WithLabelValues("unreachable").Inc()

		return false, nil
	}

	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxPayload))
	if err != nil {
		p.logger.Debug().Err(err).Str("url", target).Msg("failed to read answer")
		promProbes.WithLabelValues("unreachable").Inc()

		return false, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.logger.Debug().Int("code", resp.StatusCode).Str("url", target).Msg("unexpected status")
		promProbes.WithLabelValues("unhealthy").Inc()

		return false, payload
	}

	promProbes.WithLabelValues("reachable").Inc()

	return true, payload
}

func (p HTTPProber) url(address string) string {
	if strings.Contains(address, "://") {
		return strings.TrimSuffix(address, "/") + p.path
	}

	host := address
	if p.port != "" && !strings.Contains(address, ":") {
		host += ":" + p.port
	}

	return "http://" + host + p.path
}

// Retry probes the address until it is reachable, at most the given number of
// attempts with a fixed wait in between. It returns the answer of the service,
// or ErrUnreachable when the attempts are exhausted.
func Retry(ctx context.Context, p Prober, address string, attempts int, wait time.Duration) ([]byte, error) {
	if attempts < 1 {
		attempts = 1
	}

	op := func() ([]byte, error) {
		ok, payload := p.Probe(ctx, address)
		if !ok {
			return nil, ErrUnreachable
		}

		return payload, nil
	}

	payload, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(wait)),
		backoff.WithMaxTries(uint(attempts)))
	if err != nil {
		if ctx.Err() != nil {
			return nil, xerrors.Errorf("probe of '%s' interrupted: %w", address, ctx.Err())
		}

		return nil, xerrors.Errorf("'%s' after %d attempts: %w", address, attempts, ErrUnreachable)
	}

	return payload, nil
}
