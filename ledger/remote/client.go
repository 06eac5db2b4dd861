package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"go.dedis.ch/fedchain/core/execution"
	"go.dedis.ch/fedchain/core/ordering"
	"go.dedis.ch/fedchain/core/txn"
	"go.dedis.ch/fedchain/internal/tracing"
	"golang.org/x/xerrors"
)

const defaultTimeout = 30 * time.Second

// Client is a ledger reached over HTTP.
//
// - implements ordering.Ledger
type Client struct {
	base   string
	client *http.Client
	tracer opentracing.Tracer
	wait   time.Duration
}

// ClientOption is the type of option to set some fields of the client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client of the requests.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.client = c
	}
}

// WithClientTracer sets the tracer of the spans of the requests.
func WithClientTracer(tracer opentracing.Tracer) ClientOption {
	return func(cl *Client) {
		cl.tracer = tracer
	}
}

// WithLongPoll makes the server wait up to the duration for a matching log
// when there is none yet.
func WithLongPoll(wait time.Duration) ClientOption {
	return func(cl *Client) {
		cl.wait = wait
	}
}

// NewClient returns a client of the ledger at the given URL.
func NewClient(base string, opts ...ClientOption) *Client {
	cl := &Client{
		base:   strings.TrimSuffix(base, "/"),
		client: &http.Client{Timeout: defaultTimeout},
		tracer: opentracing.GlobalTracer(),
	}

	for _, opt := range opts {
		opt(cl)
	}

	if cl.wait > 0 && cl.client.Timeout > 0 && cl.client.Timeout <= cl.wait {
		cl.client.Timeout = cl.wait + defaultTimeout
	}

	return cl
}

// Submit implements ordering.Ledger. The transaction must support the JSON
// encoding.
func (c *Client) Submit(ctx context.Context, tx txn.Transaction) (ordering.Receipt, error) {
	var receipt ordering.Receipt

	data, err := json.Marshal(tx)
	if err != nil {
		return receipt, xerrors.Errorf("failed to encode tx: %v", err)
	}

	err = c.do(ctx, http.MethodPost, PathTx, nil, data, &receipt)
	if err != nil {
		return receipt, err
	}

	return receipt, nil
}

// Call implements ordering.Ledger.
func (c *Client) Call(ctx context.Context, query execution.Query) ([]byte, error) {
	data, err := json.Marshal(query)
	if err != nil {
		return nil, xerrors.Errorf("failed to encode query: %v", err)
	}

	var resp CallResponseJSON

	err = c.do(ctx, http.MethodPost, PathCall, nil, data, &resp)
	if err != nil {
		return nil, err
	}

	return resp.Value, nil
}

// GetNonce implements ordering.Ledger.
func (c *Client) GetNonce(ctx context.Context, address string) (uint64, error) {
	var resp NonceJSON

	err := c.do(ctx, http.MethodGet, PathNonce, url.Values{"address": {address}}, nil, &resp)
	if err != nil {
		return 0, err
	}

	return resp.Nonce, nil
}

// Height implements ordering.Ledger.
func (c *Client) Height(ctx context.Context) (uint64, error) {
	var resp HeightJSON

	err := c.do(ctx, http.MethodGet, PathHeight, nil, nil, &resp)
	if err != nil {
		return 0, err
	}

	return resp.Height, nil
}

// Logs implements ordering.Ledger. With a long poll, the call returns when a
// matching log exists or when the duration expires.
func (c *Client) Logs(ctx context.Context, filter ordering.Filter) ([]ordering.Log, error) {
	params := url.Values{}

	if filter.Name != "" {
		params.Set("name", filter.Name)
	}

	if filter.From > 0 {
		params.Set("from", strconv.FormatUint(filter.From, 10))
	}

	if c.wait > 0 {
		params.Set("wait", c.wait.String())
	}

	var logs []ordering.Log

	err := c.do(ctx, http.MethodGet, PathLogs, params, nil, &logs)
	if err != nil {
		return nil, err
	}

	return logs, nil
}

// do sends the request and decodes the response. A transport failure or a
// server error is reported as ErrUnavailable, and a conflict as ErrRejected.
func (c *Client) do(ctx context.Context, method, path string, params url.Values,
	body []byte, out interface{}) error {

	target := c.base + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return xerrors.Errorf("failed to create request: %v", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	span := tracing.StartClientSpan(c.tracer, req, "ledger"+path)
	defer span.Finish()

	res, err := c.client.Do(req)
	if err != nil {
		ext.Error.Set(span, true)
		return xerrors.Errorf("request failed: %v: %w", err, ordering.ErrUnavailable)
	}

	defer res.Body.Close()

	ext.HTTPStatusCode.Set(span, uint16(res.StatusCode))

	if res.StatusCode != http.StatusOK {
		ext.Error.Set(span, true)
		return responseError(res)
	}

	err = json.NewDecoder(res.Body).Decode(out)
	if err != nil {
		return xerrors.Errorf("failed to decode response: %v", err)
	}

	return nil
}

func responseError(res *http.Response) error {
	var resp ErrorJSON

	err := json.NewDecoder(io.LimitReader(res.Body, maxBodySize)).Decode(&resp)
	if err != nil || resp.Error == "" {
		resp.Error = http.StatusText(res.StatusCode)
	}

	switch {
	case res.StatusCode == http.StatusConflict:
		msg := strings.TrimSuffix(resp.Error, ": "+ordering.ErrRejected.Error())
		return xerrors.Errorf("%s: %w", msg, ordering.ErrRejected)
	case res.StatusCode >= http.StatusInternalServerError:
		msg := strings.TrimSuffix(resp.Error, ": "+ordering.ErrUnavailable.Error())
		return xerrors.Errorf("%s: %w", msg, ordering.ErrUnavailable)
	default:
		return xerrors.Errorf("request failed with status %d: %s", res.StatusCode, resp.Error)
	}
}
