package controller

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"go.dedis.ch/fedchain/cli/node"
	"go.dedis.ch/fedchain/core/ordering"
	"golang.org/x/xerrors"
)

const (
	defaultWatch   = 10 * time.Second
	requestTimeout = 10 * time.Second
)

type heightAction struct{}

// Execute implements node.ActionTemplate. It prints the height of the ledger.
func (heightAction) Execute(ctx node.Context) error {
	var ledger ordering.Service

	err := ctx.Injector.Resolve(&ledger)
	if err != nil {
		return xerrors.Errorf("failed to resolve ledger: %v", err)
	}

	rctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	height, err := ledger.Height(rctx)
	if err != nil {
		return xerrors.Errorf("failed to read height: %v", err)
	}

	fmt.Fprintln(ctx.Out, height)

	return nil
}

type logsAction struct{}

// Execute implements node.ActionTemplate. It prints one line per event.
func (logsAction) Execute(ctx node.Context) error {
	var ledger ordering.Service

	err := ctx.Injector.Resolve(&ledger)
	if err != nil {
		return xerrors.Errorf("failed to resolve ledger: %v", err)
	}

	from := ctx.Flags.Int("from")
	if from < 0 {
		return xerrors.Errorf("invalid height %d", from)
	}

	rctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	logs, err := ledger.Logs(rctx, ordering.Filter{
		Name: ctx.Flags.String("name"),
		From: uint64(from),
	})
	if err != nil {
		return xerrors.Errorf("failed to read logs: %v", err)
	}

	for _, log := range logs {
		fmt.Fprintln(ctx.Out, formatLog(log))
	}

	return nil
}

type watchAction struct{}

// Execute implements node.ActionTemplate. It prints the height of the new
// blocks until the duration is over.
func (watchAction) Execute(ctx node.Context) error {
	var ledger ordering.Service

	err := ctx.Injector.Resolve(&ledger)
	if err != nil {
		return xerrors.Errorf("failed to resolve ledger: %v", err)
	}

	duration := ctx.Flags.Duration("duration")
	if duration <= 0 {
		duration = defaultWatch
	}

	wctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	for evt := range ledger.Watch(wctx) {
		fmt.Fprintf(ctx.Out, "block %d\n", evt.Height)
	}

	return nil
}

// formatLog returns the text form of a log where the attributes are trimmed of
// their padding when they are printable.
func formatLog(log ordering.Log) string {
	attrs := make([]string, len(log.Attributes))

	for i, attr := range log.Attributes {
		value := strings.TrimRight(string(attr.Value), "\x00")
		if !printable(value) {
			value = "0x" + hex.EncodeToString(attr.Value)
		}

		attrs[i] = attr.Key + "=" + value
	}

	return fmt.Sprintf("%d %s %s", log.Height, log.Name, strings.Join(attrs, " "))
}

func printable(value string) bool {
	for _, r := range value {
		if r < 0x20 || r > 0x7e {
			return false
		}
	}

	return true
}
