package local

import (
	"encoding/binary"

	"go.dedis.ch/fedchain/core/ordering"
	"go.dedis.ch/fedchain/crypto"
	"golang.org/x/xerrors"
)

// Block is the unit of the chain. The node creates one block per transaction
// and links it to the previous one with its digest.
type Block struct {
	Index    uint64
	Previous []byte
	Hash     []byte
	Receipt  ordering.Receipt
}

// NewBlock creates a block at the given index on top of the previous digest and
// computes its own digest.
func NewBlock(index uint64, previous []byte, receipt ordering.Receipt, fac crypto.HashFactory) (Block, error) {
	block := Block{
		Index:    index,
		Previous: previous,
		Receipt:  receipt,
	}

	h := fac.New()

	buffer := make([]byte, 8)
	binary.LittleEndian.PutUint64(buffer, index)

	_, err := h.Write(buffer)
	if err != nil {
		return block, xerrors.Errorf("failed to write index: %v", err)
	}

	_, err = h.Write(previous)
	if err != nil {
		return block, xerrors.Errorf("failed to write previous: %v", err)
	}

	_, err = h.Write(receipt.TxID)
	if err != nil {
		return block, xerrors.Errorf("failed to write tx: %v", err)
	}

	status := []byte{0}
	if receipt.Accepted {
		status[0] = 1
	}

	_, err = h.Write(status)
	if err != nil {
		return block, xerrors.Errorf("failed to write status: %v", err)
	}

	block.Hash = h.Sum(nil)

	return block, nil
}
