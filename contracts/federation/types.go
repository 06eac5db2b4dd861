package federation

import (
	"bytes"
	"encoding/binary"

	"golang.org/x/xerrors"
)

// FieldSize is the width of the string fields of the contract. Shorter values
// are padded with null bytes.
const FieldSize = 32

// State is the lifecycle of a service. It only ever moves forward, one step at
// a time.
type State uint64

const (
	// StateOpen is the state of an announced service accepting bids.
	StateOpen State = iota

	// StateClosed is the state of a service whose provider has been chosen.
	StateClosed

	// StateDeployed is the state of a service running at the provider.
	StateDeployed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "Open"
	case StateClosed:
		return "Closed"
	case StateDeployed:
		return "Deployed"
	default:
		return "Unknown"
	}
}

// Bid is an offer of a provider for a service.
type Bid struct {
	Provider string
	Price    uint64
	Endpoint string
}

// Service is the record of a service kept in the state of the contract.
type Service struct {
	ID               string
	Requirements     string
	Consumer         string
	ConsumerEndpoint string
	State            State
	Bids             []Bid
	Winner           int
	ProviderEndpoint string
	ExternalIP       string
}

// BidInfo is the answer of a GetBid query.
type BidInfo struct {
	Provider string
	Price    uint64
	Index    uint64
}

// ServiceInfo is the answer of a GetServiceInfo query.
type ServiceInfo struct {
	ID         string
	Endpoint   string
	ExternalIP string
}

// EncodeField returns the value padded with null bytes to the field size. It
// returns an error if the value does not fit.
func EncodeField(value string) ([]byte, error) {
	if len(value) > FieldSize {
		return nil, xerrors.Errorf("field '%s' is longer than %d bytes", value, FieldSize)
	}

	field := make([]byte, FieldSize)
	copy(field, value)

	return field, nil
}

// DecodeField returns the value of a field without the padding.
func DecodeField(field []byte) string {
	return string(bytes.TrimRight(field, "\x00"))
}

// EncodeUint returns the big-endian representation of the value.
func EncodeUint(value uint64) []byte {
	buffer := make([]byte, 8)
	binary.BigEndian.PutUint64(buffer, value)

	return buffer
}

// DecodeUint returns the value of a big-endian representation. It returns an
// error if the data is not 8 bytes long.
func DecodeUint(data []byte) (uint64, error) {
	if len(data) != 8 {
		return 0, xerrors.Errorf("invalid integer of length %d", len(data))
	}

	return binary.BigEndian.Uint64(data), nil
}

// EncodeBool returns the one-byte representation of the value.
func EncodeBool(value bool) []byte {
	if value {
		return []byte{1}
	}

	return []byte{0}
}

// DecodeBool returns true if the data is the one-byte representation of true.
func DecodeBool(data []byte) bool {
	return len(data) == 1 && data[0] == 1
}
