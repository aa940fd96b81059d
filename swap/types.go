package swap

import "github.com/btcsuite/btcd/btcec/v2"

// OutputType selects how the HTLC redeem script is wrapped into a funding
// output address. Compatibility is the default; native segwit or legacy are
// available as explicit choices. The chosen type is persisted per swap so
// claim/refund know how to rebuild the scriptSig.
type OutputType uint8

const (
	// Compatibility wraps a P2WSH output inside a P2SH output, spendable
	// by wallets that don't understand native segwit.
	Compatibility OutputType = iota

	// Bech32 is a native P2WSH output.
	Bech32

	// Legacy is a bare P2SH output with no segwit witness program.
	Legacy
)

func (t OutputType) String() string {
	switch t {
	case Compatibility:
		return "compatibility"
	case Bech32:
		return "bech32"
	case Legacy:
		return "legacy"
	default:
		return "unknown"
	}
}

// HTLCDetails is the result of building a swap's redeem script and lockup
// address: everything the nursery needs to persist and later reconstruct a
// claim or refund transaction.
type HTLCDetails struct {
	RedeemScript   []byte
	LockupAddress  string
	LockupPkScript []byte
	OutputType     OutputType
}

// SubmarineScriptParams are the inputs to building a submarine swap's HTLC
// redeem script.
type SubmarineScriptParams struct {
	// PreimageHash160 is RIPEMD160(SHA256(preimage)) -- the compact hash
	// committed inside the redeem script. It is NOT the same hash the
	// Lightning invoice commits to; see PreimageHash160FromPaymentHash.
	PreimageHash160 [20]byte
	ClaimPubKey     *btcec.PublicKey
	RefundPubKey    *btcec.PublicKey
	TimeoutHeight   uint32
}

// ReverseScriptParams are the inputs to building a reverse submarine swap's
// HTLC redeem script. Unlike the submarine script, the claim branch is
// gated on the full 32-byte SHA256 preimage hash, since the user must
// reveal the secret on-chain to claim.
type ReverseScriptParams struct {
	PreimageHash  [32]byte
	ClaimPubKey   *btcec.PublicKey
	RefundPubKey  *btcec.PublicKey
	TimeoutHeight uint32
}
