// Package main implements the ledger node of a federation. A single node
// sequences the transactions of every domain and serves the ledger over HTTP.
//
//	ledgerd --config /tmp/ledger start --listen 127.0.0.1:8080
//	ledgerd --config /tmp/ledger ledger height
//	ledgerd --config /tmp/ledger ledger logs --name ServiceAnnouncement
//	ledgerd --config /tmp/ledger proxy prom
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"go.dedis.ch/fedchain/cli/node"
	ledger "go.dedis.ch/fedchain/core/ordering/local/controller"
	db "go.dedis.ch/fedchain/core/store/kv/controller"
	proxy "go.dedis.ch/fedchain/proxy/controller"
)

func main() {
	err := run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	builder := node.NewBuilder("ledgerd", filepath.Join(os.TempDir(), "ledgerd"),
		db.NewController("ledger.db"),
		proxy.NewController(),
		ledger.NewController(),
	)

	return builder.Build().Run(args)
}
