package nursery

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"

	"github.com/boltz-exchange/boltzd/chain"
	"github.com/boltz-exchange/boltzd/rate"
)

// rbfSequenceThreshold is the nSequence value at and above which an input
// does not opt in to BIP-125 replace-by-fee. Any input below this value
// signals RBF and disqualifies the funding transaction from zero-conf
// acceptance: a replaced transaction could drop the swap's lockup output
// entirely after the service has already acted on it.
const rbfSequenceThreshold = 0xfffffffe

// acceptsZeroConf decides whether a funding transaction sighted in the
// mempool can be treated as confirmed immediately: amount cap via the
// oracle's quote, a minimum fee-rate floor, and outright rejection of any
// RBF-signalling input.
func (n *Nursery) acceptsZeroConf(ctx context.Context, entry *chain.Entry,
	acceptZeroConf bool, pair rate.Pair, side rate.OrderSide, value btcutil.Amount,
	tx *wire.MsgTx) (bool, error) {

	if !acceptZeroConf {
		return false, nil
	}

	quote, err := n.cfg.Oracle.Quote(pair, side)
	if err != nil {
		return false, err
	}
	if quote.ZeroConfMaxAmt > 0 && value > quote.ZeroConfMaxAmt {
		return false, nil
	}

	if signalsRBF(tx) {
		return false, nil
	}

	feeRate, err := n.transactionFeeRate(ctx, entry, tx)
	if err != nil {
		// A prevout the node no longer has (e.g. pruned) makes the fee
		// rate uncheckable; fail closed rather than accept blind.
		log.Warnf("unable to compute fee rate for zero-conf candidate %v: %v",
			tx.TxHash(), err)
		return false, nil
	}
	if feeRate < rate.FloorFeeRate(0) {
		return false, nil
	}

	return true, nil
}

func signalsRBF(tx *wire.MsgTx) bool {
	for _, in := range tx.TxIn {
		if in.Sequence < rbfSequenceThreshold {
			return true
		}
	}
	return false
}

// transactionFeeRate computes tx's fee rate in sat/vB by fetching each
// input's previous output value over the chain client. Unlike
// swap.EstimateVSize, which estimates a not-yet-built claim/refund
// transaction's size, this measures an already-built, arbitrary,
// user-supplied transaction -- so it uses the real virtual size via
// blockchain.GetTransactionWeight rather than a witness-shape estimate.
func (n *Nursery) transactionFeeRate(ctx context.Context, entry *chain.Entry,
	tx *wire.MsgTx) (btcutil.Amount, error) {

	var totalIn, totalOut btcutil.Amount

	for _, out := range tx.TxOut {
		totalOut += btcutil.Amount(out.Value)
	}

	for _, in := range tx.TxIn {
		prevTx, err := entry.Client.Transaction(ctx, &in.PreviousOutPoint.Hash)
		if err != nil {
			return 0, err
		}
		if int(in.PreviousOutPoint.Index) >= len(prevTx.TxOut) {
			return 0, fmt.Errorf("prevout index %d out of range for %v",
				in.PreviousOutPoint.Index, in.PreviousOutPoint.Hash)
		}
		totalIn += btcutil.Amount(prevTx.TxOut[in.PreviousOutPoint.Index].Value)
	}

	fee := totalIn - totalOut
	if fee <= 0 {
		return 0, fmt.Errorf("non-positive fee for %v", tx.TxHash())
	}

	weight := blockchain.GetTransactionWeight(btcutil.NewTx(tx))
	vsize := (weight + 3) / 4
	if vsize <= 0 {
		return 0, fmt.Errorf("non-positive vsize for %v", tx.TxHash())
	}

	return fee / btcutil.Amount(vsize), nil
}
