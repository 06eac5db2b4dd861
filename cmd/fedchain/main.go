// Package main implements the daemon of a domain taking part in a federation
// of services, either as a consumer or as a provider.
//
//	fedchain signer new --save /tmp/consumer/private.key
//	fedchain --config /tmp/consumer start --domain consumer.yaml \
//		--ledger http://127.0.0.1:8080 --listen 127.0.0.1:9090
//	fedchain --config /tmp/consumer federation run
//
//	fedchain --config /tmp/provider start --domain provider.yaml \
//		--ledger http://127.0.0.1:8080 --listen 127.0.0.1:9091 \
//		--kubeconfig ~/.kube/config --catalog workloads
//	fedchain --config /tmp/provider federation run
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"go.dedis.ch/fedchain/cli/node"
	db "go.dedis.ch/fedchain/core/store/kv/controller"
	signer "go.dedis.ch/fedchain/crypto/ed25519/command"
	federation "go.dedis.ch/fedchain/federation/controller"
	client "go.dedis.ch/fedchain/ledger/client/controller"
	orchestrator "go.dedis.ch/fedchain/orchestrator/controller"
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
	builder := node.NewBuilder("fedchain", filepath.Join(os.TempDir(), "fedchain"),
		db.NewController("nonce.db"),
		proxy.NewController(),
		client.NewController(),
		orchestrator.NewController(),
		federation.NewController(),
	)

	signer.Initializer{}.SetCommands(builder)

	return builder.Build().Run(args)
}
