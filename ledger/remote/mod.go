// Package remote implements the HTTP transport of the ledger. The server
// exposes an ordering service on a proxy and the client implements the ledger
// interface on top of it, so that a domain can use a remote ledger as it would
// use an in-process one.
//
// The routes are:
//
//	POST /tx      submits a signed transaction and returns its receipt
//	POST /call    runs a read-only query
//	GET  /nonce   returns the next nonce of ?address=
//	GET  /height  returns the height of the latest block
//	GET  /logs    returns the logs matching ?name= and ?from=, waiting up to
//	              ?wait= for a new block when there are none yet
//
// A refused transaction is answered with 409 Conflict and an unavailable
// ledger with 503 Service Unavailable. The receipts, the queries and the logs
// are encoded as the JSON form of the ordering types. Every request carries a
// tracing span.
package remote

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.dedis.ch/fedchain"
)

// Paths of the routes.
const (
	PathTx     = "/tx"
	PathCall   = "/call"
	PathNonce  = "/nonce"
	PathHeight = "/height"
	PathLogs   = "/logs"
)

var promRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "fedchain_ledger_http_requests_total",
	Help: "total number of requests served by the ledger per path and status",
}, []string{"path", "code"})

func init() {
	fedchain.PromCollectors = append(fedchain.PromCollectors, promRequests)
}

// ErrorJSON is the body of an error response.
type ErrorJSON struct {
	Error string `json:"error"`
}

// CallResponseJSON is the body of the response to a call.
type CallResponseJSON struct {
	Value []byte `json:"value"`
}

// NonceJSON is the body of the response to a nonce request.
type NonceJSON struct {
	Nonce uint64 `json:"nonce"`
}

// HeightJSON is the body of the response to a height request.
type HeightJSON struct {
	Height uint64 `json:"height"`
}
