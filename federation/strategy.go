package federation

import "golang.org/x/xerrors"

// DefaultThreshold is the bid index under which FirstQualifying accepts a bid.
const DefaultThreshold = 2

// Strategy selects the winner among the bids collected by a consumer.
type Strategy interface {
	// Name returns the name of the strategy in a configuration.
	Name() string

	// Select returns the winning bid, or false if none qualifies yet.
	Select(bids []Bid) (Bid, bool)
}

// FirstQualifying selects the first bid whose index is below the threshold.
// With the default threshold, the first provider to bid wins.
//
// - implements Strategy
type FirstQualifying struct {
	Threshold uint64
}

// Name implements Strategy.
func (FirstQualifying) Name() string {
	return "first-qualifying"
}

// Select implements Strategy.
func (s FirstQualifying) Select(bids []Bid) (Bid, bool) {
	threshold := s.Threshold
	if threshold == 0 {
		threshold = DefaultThreshold
	}

	for _, bid := range bids {
		if bid.Index < threshold {
			return bid, true
		}
	}

	return Bid{}, false
}

// LowestPrice selects the cheapest bid, the earliest one on a tie.
//
// - implements Strategy
type LowestPrice struct{}

// Name implements Strategy.
func (LowestPrice) Name() string {
	return "lowest-price"
}

// Select implements Strategy.
func (LowestPrice) Select(bids []Bid) (Bid, bool) {
	if len(bids) == 0 {
		return Bid{}, false
	}

	best := bids[0]
	for _, bid := range bids[1:] {
		if bid.Price < best.Price || (bid.Price == best.Price && bid.Index < best.Index) {
			best = bid
		}
	}

	return best, true
}

// ParseStrategy returns the strategy of the given name. An empty name is the
// default strategy.
func ParseStrategy(name string) (Strategy, error) {
	switch name {
	case "", FirstQualifying{}.Name():
		return FirstQualifying{Threshold: DefaultThreshold}, nil
	case LowestPrice{}.Name():
		return LowestPrice{}, nil
	default:
		return nil, xerrors.Errorf("unknown strategy '%s'", name)
	}
}
