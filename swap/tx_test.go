package swap

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"

	"github.com/boltz-exchange/boltzd/boltzerr"
)

type fakeSigner struct {
	priv *btcec.PrivateKey
}

func (f *fakeSigner) Sign(hash []byte) (*btcec.Signature, error) {
	return ecdsa.Sign(f.priv, hash), nil
}

func (f *fakeSigner) PubKey() *btcec.PublicKey {
	return f.priv.PubKey()
}

func newFakeSigner(t *testing.T) *fakeSigner {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return &fakeSigner{priv: priv}
}

func testLockup(t *testing.T, outputType OutputType, value btcutil.Amount) (LockupOutput, [32]byte) {
	t.Helper()

	preimage := randPreimage(t)
	redeemScript, err := SubmarineRedeemScript(SubmarineScriptParams{
		PreimageHash160: PreimageHash160(preimage),
		ClaimPubKey:     randKey(t),
		RefundPubKey:    randKey(t),
		TimeoutHeight:   800_000,
	})
	require.NoError(t, err)

	var txid chainhash.Hash
	txid[0] = 1

	return LockupOutput{
		TxID:         txid,
		Vout:         0,
		Value:        value,
		RedeemScript: redeemScript,
		OutputType:   outputType,
	}, preimage
}

func TestBuildClaimTransactionSpendsSingleInput(t *testing.T) {
	t.Parallel()

	lockup, preimage := testLockup(t, Compatibility, 101_500)
	signer := newFakeSigner(t)

	tx, err := BuildClaimTransaction(lockup, preimage, []byte{0, 20, 1}, 10, signer)
	require.NoError(t, err)
	require.Len(t, tx.TxIn, 1)
	require.Len(t, tx.TxOut, 1)
	require.Equal(t, lockup.outPoint(), tx.TxIn[0].PreviousOutPoint)
	require.Equal(t, uint32(sequenceClaim), tx.TxIn[0].Sequence)
	require.Equal(t, uint32(0), tx.LockTime)
	require.Less(t, tx.TxOut[0].Value, int64(lockup.Value))
}

func TestBuildRefundTransactionSetsLockTime(t *testing.T) {
	t.Parallel()

	lockup, _ := testLockup(t, Compatibility, 101_500)
	signer := newFakeSigner(t)

	tx, err := BuildRefundTransaction(lockup, []byte{0, 20, 1}, 800_100, 10, signer)
	require.NoError(t, err)
	require.Equal(t, uint32(sequenceRefund), tx.TxIn[0].Sequence)
	require.Equal(t, uint32(800_100), tx.LockTime)
}

func TestBuildSpendTransactionRejectsDustAfterFee(t *testing.T) {
	t.Parallel()

	lockup, preimage := testLockup(t, Compatibility, 100)
	signer := newFakeSigner(t)

	_, err := BuildClaimTransaction(lockup, preimage, []byte{0, 20, 1}, 1000, signer)
	require.ErrorIs(t, err, boltzerr.ErrInsufficientAmount)
}
