package swap

import (
	"crypto/rand"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/require"

	"github.com/boltz-exchange/boltzd/boltzerr"
)

func randKey(t *testing.T) *btcec.PublicKey {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return priv.PubKey()
}

func randPreimage(t *testing.T) [32]byte {
	t.Helper()
	var p [32]byte
	_, err := rand.Read(p[:])
	require.NoError(t, err)
	return p
}

func TestSubmarineRedeemScriptParses(t *testing.T) {
	t.Parallel()

	preimage := randPreimage(t)
	script, err := SubmarineRedeemScript(SubmarineScriptParams{
		PreimageHash160: PreimageHash160(preimage),
		ClaimPubKey:     randKey(t),
		RefundPubKey:    randKey(t),
		TimeoutHeight:   800_000,
	})
	require.NoError(t, err)
	require.NotEmpty(t, script)

	_, err = txscript.ParsePkScript(script)
	// Redeem scripts aren't standard pkScripts, so ParsePkScript is
	// expected to reject it; we only care that disassembly doesn't panic.
	_ = err

	disasm, err := txscript.DisasmString(script)
	require.NoError(t, err)
	require.Contains(t, disasm, "OP_HASH160")
	require.Contains(t, disasm, "OP_CHECKLOCKTIMEVERIFY")
	require.Contains(t, disasm, "OP_CHECKSIG")
}

func TestReverseRedeemScriptGatedOnFullPreimage(t *testing.T) {
	t.Parallel()

	preimage := randPreimage(t)
	hash := SHA256PreimageHash(preimage)

	script, err := ReverseRedeemScript(ReverseScriptParams{
		PreimageHash:  hash,
		ClaimPubKey:   randKey(t),
		RefundPubKey:  randKey(t),
		TimeoutHeight: 800_000,
	})
	require.NoError(t, err)

	disasm, err := txscript.DisasmString(script)
	require.NoError(t, err)
	require.Contains(t, disasm, "OP_SHA256")
	require.Contains(t, disasm, "OP_SIZE")
	require.NotContains(t, disasm, "OP_HASH160")
}

func TestLockupDetailsOutputTypes(t *testing.T) {
	t.Parallel()

	preimage := randPreimage(t)
	redeemScript, err := SubmarineRedeemScript(SubmarineScriptParams{
		PreimageHash160: PreimageHash160(preimage),
		ClaimPubKey:     randKey(t),
		RefundPubKey:    randKey(t),
		TimeoutHeight:   800_000,
	})
	require.NoError(t, err)

	for _, outputType := range []OutputType{Compatibility, Bech32, Legacy} {
		details, err := LockupDetails(redeemScript, outputType, &chaincfg.RegressionNetParams)
		require.NoError(t, err)
		require.NotEmpty(t, details.LockupAddress)
		require.Equal(t, outputType, details.OutputType)
	}
}

func TestPreimageHash160FromPaymentHashMatchesDirectComputation(t *testing.T) {
	t.Parallel()

	preimage := randPreimage(t)
	paymentHash := SHA256PreimageHash(preimage)

	require.Equal(t, PreimageHash160(preimage), PreimageHash160FromPaymentHash(paymentHash))
}

func TestLockupDetailsUnknownOutputType(t *testing.T) {
	t.Parallel()

	redeemScript, err := SubmarineRedeemScript(SubmarineScriptParams{
		PreimageHash160: PreimageHash160(randPreimage(t)),
		ClaimPubKey:     randKey(t),
		RefundPubKey:    randKey(t),
		TimeoutHeight:   800_000,
	})
	require.NoError(t, err)

	_, err = LockupDetails(redeemScript, OutputType(99), &chaincfg.RegressionNetParams)
	require.ErrorIs(t, err, boltzerr.ErrScriptTypeNotFound)
}
