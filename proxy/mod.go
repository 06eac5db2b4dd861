// Package proxy defines the HTTP front of a process. The ledger node serves its
// transport on it and every process can expose its metrics there.
package proxy

import (
	"net"
	"net/http"
)

// Proxy defines the primitives of an HTTP server that handles the requests of
// the clients.
type Proxy interface {
	// Listen starts the server. The call blocks until the server is stopped.
	Listen() error

	// Stop stops the server.
	Stop()

	// GetAddr returns the address the server is listening on, or nil if it is
	// not listening yet.
	GetAddr() net.Addr

	// RegisterHandler registers a new handler for the path.
	RegisterHandler(path string, handler func(http.ResponseWriter, *http.Request))
}
