package federation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	role, err := ParseRole("consumer")
	require.NoError(t, err)
	require.Equal(t, RoleConsumer, role)

	role, err = ParseRole("provider")
	require.NoError(t, err)
	require.Equal(t, RoleProvider, role)

	_, err = ParseRole("broker")
	require.EqualError(t, err, "unknown role 'broker'")
}

func TestParseRequirements(t *testing.T) {
	req, err := ParseRequirements("service=detector;replicas=3")
	require.NoError(t, err)
	require.Equal(t, Requirements{Service: "detector", Replicas: 3}, req)
	require.Equal(t, "service=detector;replicas=3", req.String())

	req, err = ParseRequirements(" service = detector ; ")
	require.NoError(t, err)
	require.Equal(t, Requirements{Service: "detector", Replicas: 1}, req)

	_, err = ParseRequirements("service")
	require.EqualError(t, err, "malformed requirement 'service'")

	_, err = ParseRequirements("service=detector;replicas=zero")
	require.EqualError(t, err, "invalid replicas 'zero'")

	_, err = ParseRequirements("service=detector;replicas=0")
	require.EqualError(t, err, "invalid replicas '0'")

	_, err = ParseRequirements("service=detector;bitrate=3000")
	require.EqualError(t, err, "unknown requirement 'bitrate'")

	_, err = ParseRequirements("replicas=2")
	require.EqualError(t, err, "missing service")
}

func TestFirstQualifying_Select(t *testing.T) {
	strategy := FirstQualifying{}
	require.Equal(t, "first-qualifying", strategy.Name())

	_, found := strategy.Select(nil)
	require.False(t, found)

	bids := []Bid{
		{Index: 1, Provider: "alice", Price: 20},
		{Index: 2, Provider: "bob", Price: 10},
	}

	bid, found := strategy.Select(bids)
	require.True(t, found)
	require.Equal(t, "alice", bid.Provider)

	_, found = strategy.Select(bids[1:])
	require.False(t, found)

	bid, found = FirstQualifying{Threshold: 3}.Select(bids[1:])
	require.True(t, found)
	require.Equal(t, "bob", bid.Provider)
}

func TestLowestPrice_Select(t *testing.T) {
	strategy := LowestPrice{}
	require.Equal(t, "lowest-price", strategy.Name())

	_, found := strategy.Select(nil)
	require.False(t, found)

	bid, found := strategy.Select([]Bid{
		{Index: 1, Provider: "alice", Price: 20},
		{Index: 2, Provider: "bob", Price: 10},
		{Index: 3, Provider: "carol", Price: 10},
	})
	require.True(t, found)
	require.Equal(t, "bob", bid.Provider)
}

func TestParseStrategy(t *testing.T) {
	strategy, err := ParseStrategy("")
	require.NoError(t, err)
	require.Equal(t, FirstQualifying{Threshold: DefaultThreshold}, strategy)

	strategy, err = ParseStrategy("lowest-price")
	require.NoError(t, err)
	require.Equal(t, LowestPrice{}, strategy)

	_, err = ParseStrategy("random")
	require.EqualError(t, err, "unknown strategy 'random'")
}
