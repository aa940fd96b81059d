package swap

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/boltz-exchange/boltzd/boltzerr"
)

// sequenceRefund is the nSequence value for refund transactions: it does
// not signal RBF, and being below 0xffffffff it keeps nLockTime (and so
// CLTV) in force.
const sequenceRefund = 0xfffffffe

// sequenceClaim is the nSequence value for claim transactions: final, no
// locktime semantics in play.
const sequenceClaim = 0xffffffff

// Signer abstracts over the wallet-held key used to sign a claim/refund
// input; concrete implementations live in walletrpc and are supplied by the
// caller so this package stays free of any key-custody concerns.
type Signer interface {
	Sign(hash []byte) (*ecdsa.Signature, error)
	PubKey() *btcec.PublicKey
}

// LockupOutput identifies the single HTLC output a claim or refund
// transaction spends.
type LockupOutput struct {
	TxID        chainhash.Hash
	Vout        uint32
	Value       btcutil.Amount
	RedeemScript []byte
	OutputType  OutputType
}

// outPoint returns the wire.OutPoint for the lockup output.
func (l LockupOutput) outPoint() wire.OutPoint {
	return wire.OutPoint{Hash: l.TxID, Index: l.Vout}
}

// BuildClaimTransaction builds and signs the transaction claiming lockup,
// revealing preimage, to destination. feeRate is in sat/vB; a rate below
// 2 sat/vB is raised to 2 sat/vB before the fee is computed.
func BuildClaimTransaction(lockup LockupOutput, preimage [32]byte,
	destination []byte, feeRate btcutil.Amount, signer Signer) (*wire.MsgTx, error) {

	return buildSpendTransaction(lockup, destination, feeRate, signer, &preimage, 0)
}

// BuildRefundTransaction builds and signs the transaction refunding lockup
// back to destination after timeoutHeight has passed. feeRate is in sat/vB.
func BuildRefundTransaction(lockup LockupOutput, destination []byte,
	timeoutHeight uint32, feeRate btcutil.Amount, signer Signer) (*wire.MsgTx, error) {

	return buildSpendTransaction(lockup, destination, feeRate, signer, nil, timeoutHeight)
}

// buildSpendTransaction implements the common shape of claim/refund: a
// single input spending the lockup output, a single output paying
// destination, fee computed from vsize * feeRate.
func buildSpendTransaction(lockup LockupOutput, destination []byte,
	feeRate btcutil.Amount, signer Signer, preimage *[32]byte,
	timeoutHeight uint32) (*wire.MsgTx, error) {

	if feeRate < 2 {
		feeRate = 2
	}

	isClaim := preimage != nil

	vsize := EstimateVSize(lockup.OutputType, len(lockup.RedeemScript), isClaim)
	fee := btcutil.Amount(vsize) * feeRate

	if lockup.Value <= fee {
		return nil, boltzerr.ErrInsufficientAmount
	}

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: lockup.outPoint()})

	tx.AddTxOut(&wire.TxOut{
		Value:    int64(lockup.Value - fee),
		PkScript: destination,
	})

	if isClaim {
		tx.TxIn[0].Sequence = sequenceClaim
		tx.LockTime = 0
	} else {
		tx.TxIn[0].Sequence = sequenceRefund
		tx.LockTime = timeoutHeight
	}

	var sigHash []byte
	var err error
	if lockup.OutputType == Legacy {
		// A bare P2SH output carries no witness program, so it must be
		// signed with the legacy (pre-BIP143) sighash algorithm over the
		// redeem script, not CalcWitnessSigHash.
		sigHash, err = txscript.CalcSignatureHash(
			lockup.RedeemScript, txscript.SigHashAll, tx, 0,
		)
	} else {
		hashCache := txscript.NewTxSigHashes(tx)
		sigHash, err = txscript.CalcWitnessSigHash(
			lockup.RedeemScript, hashCache, txscript.SigHashAll, tx, 0,
			int64(lockup.Value),
		)
	}
	if err != nil {
		return nil, err
	}

	sig, err := signer.Sign(sigHash)
	if err != nil {
		return nil, err
	}
	sigWithType := append(sig.Serialize(), byte(txscript.SigHashAll))

	witness, scriptSig, err := assembleSpend(
		lockup.OutputType, lockup.RedeemScript, sigWithType, preimage,
	)
	if err != nil {
		return nil, err
	}

	tx.TxIn[0].Witness = witness
	tx.TxIn[0].SignatureScript = scriptSig

	return tx, nil
}

// assembleSpend builds the witness/scriptSig pair:
// `<signature> <preimage|OP_0> <redeemScript>`. For Compatibility outputs
// the P2SH scriptSig additionally pushes the witness program.
func assembleSpend(outputType OutputType, redeemScript, sig []byte,
	preimage *[32]byte) (wire.TxWitness, []byte, error) {

	preimageElem := []byte{}
	if preimage != nil {
		preimageElem = preimage[:]
	}

	witness := wire.TxWitness{sig, preimageElem, redeemScript}

	var scriptSig []byte
	if outputType == Compatibility {
		witnessProgram, err := witnessScriptHash(redeemScript)
		if err != nil {
			return nil, nil, err
		}

		builder := txscript.NewScriptBuilder()
		builder.AddData(witnessProgram)
		scriptSig, err = builder.Script()
		if err != nil {
			return nil, nil, err
		}
	}

	if outputType == Legacy {
		builder := txscript.NewScriptBuilder()
		builder.AddData(sig)
		if preimage != nil {
			builder.AddData(preimage[:])
		} else {
			builder.AddOp(txscript.OP_0)
		}
		builder.AddData(redeemScript)
		legacyScriptSig, err := builder.Script()
		if err != nil {
			return nil, nil, err
		}
		return nil, legacyScriptSig, nil
	}

	return witness, scriptSig, nil
}
