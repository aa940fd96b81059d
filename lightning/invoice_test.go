package lightning

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAmountMicroUnit(t *testing.T) {
	msat, err := parseAmount("lnbc2500u")
	require.NoError(t, err)
	require.Equal(t, uint64(250_000_000), msat)
}

func TestParseAmountNoAmount(t *testing.T) {
	msat, err := parseAmount("lnbc")
	require.NoError(t, err)
	require.Equal(t, uint64(0), msat)
}

func TestParseAmountTestnet(t *testing.T) {
	msat, err := parseAmount("lntb1m")
	require.NoError(t, err)
	require.Equal(t, uint64(100_000_000), msat)
}

func TestBase32ToUint64RoundTripsSmallValues(t *testing.T) {
	// 5-bit groups [0, 1] encode the value 1.
	require.Equal(t, uint64(1), base32ToUint64([]byte{0, 1}))
}
