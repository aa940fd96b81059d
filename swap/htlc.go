package swap

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"golang.org/x/crypto/ripemd160"

	"github.com/boltz-exchange/boltzd/boltzerr"
)

// PreimageHash160 computes RIPEMD160(SHA256(preimage)), the compact hash
// committed inside a submarine swap's redeem script. The Lightning invoice
// the user pays commits to the plain SHA256 of the same preimage -- the
// nursery is the only component allowed to convert between the two forms,
// and this function is where that conversion happens.
func PreimageHash160(preimage [32]byte) [20]byte {
	var out [20]byte
	copy(out[:], btcutil.Hash160(preimage[:]))
	return out
}

// SHA256PreimageHash computes the payment hash a Lightning invoice commits
// to: the plain SHA256 of the 32-byte preimage.
func SHA256PreimageHash(preimage [32]byte) [32]byte {
	return sha256.Sum256(preimage[:])
}

// PreimageHash160FromPaymentHash computes RIPEMD160(SHA256(preimage)) given
// only paymentHash = SHA256(preimage) -- the hash an invoice commits to --
// without ever learning preimage itself. It exists because the service
// builds a submarine swap's redeem script from the user's invoice, which
// reveals paymentHash, never the preimage; RIPEMD160(paymentHash) is
// definitionally the same value PreimageHash160 would compute from the
// preimage directly.
func PreimageHash160FromPaymentHash(paymentHash [32]byte) [20]byte {
	h := ripemd160.New()
	h.Write(paymentHash[:])
	var out [20]byte
	copy(out[:], h.Sum(nil))
	return out
}

// SubmarineRedeemScript builds the HTLC redeem script for a submarine swap:
//
//	OP_HASH160 <RIPEMD160(SHA256(preimage))> OP_EQUAL
//	OP_IF
//	    <claimPubKey>
//	OP_ELSE
//	    <timeoutHeight> OP_CHECKLOCKTIMEVERIFY OP_DROP
//	    <refundPubKey>
//	OP_ENDIF
//	OP_CHECKSIG
//
// The claim branch only requires a signature under claimPubKey once the
// preimage satisfying the OP_HASH160 comparison is on the stack; the refund
// branch additionally enforces the absolute locktime via CLTV.
func SubmarineRedeemScript(p SubmarineScriptParams) ([]byte, error) {
	builder := txscript.NewScriptBuilder()

	builder.AddOp(txscript.OP_HASH160)
	builder.AddData(p.PreimageHash160[:])
	builder.AddOp(txscript.OP_EQUAL)

	builder.AddOp(txscript.OP_IF)
	builder.AddData(p.ClaimPubKey.SerializeCompressed())
	builder.AddOp(txscript.OP_ELSE)
	builder.AddInt64(int64(p.TimeoutHeight))
	builder.AddOp(txscript.OP_CHECKLOCKTIMEVERIFY)
	builder.AddOp(txscript.OP_DROP)
	builder.AddData(p.RefundPubKey.SerializeCompressed())
	builder.AddOp(txscript.OP_ENDIF)

	builder.AddOp(txscript.OP_CHECKSIG)

	return builder.Script()
}

// ReverseRedeemScript builds the HTLC redeem script for a reverse submarine
// swap. It is structurally identical to SubmarineRedeemScript, except the
// claim branch is gated on the full 32-byte SHA256 preimage rather than its
// RIPEMD160(SHA256(.)) compaction, since the user reveals the complete
// secret on-chain in order to claim:
//
//	OP_SIZE 32 OP_EQUALVERIFY OP_SHA256 <preimageHash> OP_EQUAL
//	OP_IF
//	    <claimPubKey>
//	OP_ELSE
//	    <timeoutHeight> OP_CHECKLOCKTIMEVERIFY OP_DROP
//	    <refundPubKey>
//	OP_ENDIF
//	OP_CHECKSIG
func ReverseRedeemScript(p ReverseScriptParams) ([]byte, error) {
	builder := txscript.NewScriptBuilder()

	builder.AddOp(txscript.OP_SIZE)
	builder.AddInt64(32)
	builder.AddOp(txscript.OP_EQUALVERIFY)
	builder.AddOp(txscript.OP_SHA256)
	builder.AddData(p.PreimageHash[:])
	builder.AddOp(txscript.OP_EQUAL)

	builder.AddOp(txscript.OP_IF)
	builder.AddData(p.ClaimPubKey.SerializeCompressed())
	builder.AddOp(txscript.OP_ELSE)
	builder.AddInt64(int64(p.TimeoutHeight))
	builder.AddOp(txscript.OP_CHECKLOCKTIMEVERIFY)
	builder.AddOp(txscript.OP_DROP)
	builder.AddData(p.RefundPubKey.SerializeCompressed())
	builder.AddOp(txscript.OP_ENDIF)

	builder.AddOp(txscript.OP_CHECKSIG)

	return builder.Script()
}

// witnessScriptHash generates a P2WSH output script paying to a version-0
// witness program committing to redeemScript.
func witnessScriptHash(redeemScript []byte) ([]byte, error) {
	scriptHash := sha256.Sum256(redeemScript)

	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_0)
	builder.AddData(scriptHash[:])
	return builder.Script()
}

// LockupDetails builds the funding output script and address for redeemScript
// under the requested OutputType. Compatibility (the default) P2SH-wraps the
// P2WSH program; Bech32 exposes the P2WSH program directly; Legacy produces
// a bare P2SH output with no witness program at all.
//
// Compatibility is the recommended default since it is spendable by wallets
// that don't understand native segwit; Bech32 and Legacy are exposed as
// explicit choices for counterparties that want them.
func LockupDetails(redeemScript []byte, outputType OutputType,
	params *chaincfg.Params) (*HTLCDetails, error) {

	switch outputType {
	case Compatibility:
		witnessProgram, err := witnessScriptHash(redeemScript)
		if err != nil {
			return nil, err
		}

		addr, err := btcutil.NewAddressScriptHash(witnessProgram, params)
		if err != nil {
			return nil, err
		}

		pkScript, err := txscript.PayToAddrScript(addr)
		if err != nil {
			return nil, err
		}

		return &HTLCDetails{
			RedeemScript:   redeemScript,
			LockupAddress:  addr.EncodeAddress(),
			LockupPkScript: pkScript,
			OutputType:     Compatibility,
		}, nil

	case Bech32:
		addr, err := btcutil.NewAddressWitnessScriptHash(
			sha256Sum(redeemScript), params,
		)
		if err != nil {
			return nil, err
		}

		pkScript, err := txscript.PayToAddrScript(addr)
		if err != nil {
			return nil, err
		}

		return &HTLCDetails{
			RedeemScript:   redeemScript,
			LockupAddress:  addr.EncodeAddress(),
			LockupPkScript: pkScript,
			OutputType:     Bech32,
		}, nil

	case Legacy:
		addr, err := btcutil.NewAddressScriptHash(redeemScript, params)
		if err != nil {
			return nil, err
		}

		pkScript, err := txscript.PayToAddrScript(addr)
		if err != nil {
			return nil, err
		}

		return &HTLCDetails{
			RedeemScript:   redeemScript,
			LockupAddress:  addr.EncodeAddress(),
			LockupPkScript: pkScript,
			OutputType:     Legacy,
		}, nil
	}

	return nil, boltzerr.ErrScriptTypeNotFound
}

func sha256Sum(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:]
}
