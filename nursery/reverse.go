package nursery

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/boltz-exchange/boltzd/chain"
	"github.com/boltz-exchange/boltzd/notification"
	"github.com/boltz-exchange/boltzd/swap"
	"github.com/boltz-exchange/boltzd/swaprepo"
)

// onReverseLockupSeen tracks confirmation of the lockup transaction the
// service itself broadcast at creation. Reverse lockups never take the
// zero-conf path -- the service is both broadcaster and beneficiary of
// waiting for a real confirmation before it reveals the settlement
// preimage, so there is no counterparty risk to trade off against.
func (n *Nursery) onReverseLockupSeen(ctx context.Context, entry *chain.Entry, id string,
	txHash chainhash.Hash, vout uint32, value btcutil.Amount, ev chain.TransactionEvent) {

	n.withReverseSwapLock(id, func() bool {
		rs, err := n.cfg.ReverseSwaps.GetByID(ctx, id)
		if err != nil {
			log.Errorf("loading reverse swap %s: %v", id, err)
			return false
		}
		if rs.Status.Terminal() {
			return true
		}

		if rs.Status == swaprepo.StatusSwapCreated {
			rs.Status = swaprepo.StatusTransactionMempool
			if err := n.cfg.ReverseSwaps.ApplyTransition(ctx, rs); err != nil {
				log.Errorf("persisting mempool sighting for reverse swap %s: %v", id, err)
				return false
			}
			n.publish(notification.Event{
				Kind: notification.KindSwapUpdate, SwapID: id, IsReverse: true,
				Status: string(rs.Status),
			})
		}

		if rs.Status == swaprepo.StatusTransactionMempool && ev.Confirmed {
			rs.Status = swaprepo.StatusTransactionConfirmed
			if err := n.cfg.ReverseSwaps.ApplyTransition(ctx, rs); err != nil {
				log.Errorf("persisting confirmation for reverse swap %s: %v", id, err)
				return false
			}
			n.publish(notification.Event{
				Kind: notification.KindSwapUpdate, SwapID: id, IsReverse: true,
				Status: string(rs.Status),
			})

			if n.hasHTLCAccepted(id) {
				return n.settleReverseSwap(ctx, rs)
			}
		}

		return false
	})
}

// onReverseHTLCAccepted fires once the user's payment has locked an HTLC
// against the hold invoice. The service already holds the preimage -- it
// generated it at creation -- so it only has to decide whether the
// on-chain lockup is confirmed enough to settle against. If not, the
// confirmation path above will settle once it catches up.
func (n *Nursery) onReverseHTLCAccepted(ctx context.Context, id string) {
	n.markHTLCAccepted(id)

	n.withReverseSwapLock(id, func() bool {
		rs, err := n.cfg.ReverseSwaps.GetByID(ctx, id)
		if err != nil {
			log.Errorf("loading reverse swap %s: %v", id, err)
			return false
		}
		if rs.Status.Terminal() {
			return true
		}
		if rs.Status != swaprepo.StatusTransactionConfirmed {
			return false
		}

		return n.settleReverseSwap(ctx, rs)
	})
}

// settleReverseSwap reveals rs's preimage over Lightning by settling its
// hold invoice, the step that lets the payer learn the preimage and go
// claim the on-chain lockup. Called with rs's reverseSwapLock already held.
func (n *Nursery) settleReverseSwap(ctx context.Context, rs *swaprepo.ReverseSwap) bool {
	if rs.Preimage == nil {
		log.Errorf("reverse swap %s has no known preimage to settle with", rs.ID)
		return false
	}

	if err := n.cfg.Lightning.SettleInvoice(ctx, *rs.Preimage); err != nil {
		log.Errorf("settling invoice for reverse swap %s: %v", rs.ID, err)
		return false
	}

	rs.Status = swaprepo.StatusInvoiceSettled
	if err := n.cfg.ReverseSwaps.ApplyTransition(ctx, rs); err != nil {
		log.Errorf("persisting invoice.settled for reverse swap %s: %v", rs.ID, err)
		return false
	}

	n.publish(notification.Event{
		Kind: notification.KindSwapUpdate, SwapID: rs.ID, IsReverse: true,
		Status: string(rs.Status),
	})
	n.publish(notification.Event{
		Kind: notification.KindSwapSuccess, SwapID: rs.ID, IsReverse: true,
		Status: string(rs.Status),
	})

	if entry, ok := n.cfg.Chains.Lookup(chainCodeFor(rs.ChainSymbol)); ok {
		if script, err := addressPkScript(rs.LockupAddress, entry); err == nil {
			entry.Observer.UnregisterOutput(script)
			n.forgetScript(script)
		}
	}
	n.forgetPaymentHash(rs.PreimageHash)
	n.forgetHTLCAccepted(rs.ID)

	return true
}

// onReverseLockupSpent records the spend of a reverse swap's lockup output.
// In the ordinary path the service already settled (and reached a terminal
// status) before the payer gets around to claiming on-chain, so this is a
// no-op; it only does real work in two non-ordinary cases: confirming the
// service's own expiry refund, or -- a resilience path for a settle call
// that was attempted but whose resulting status update didn't make it to
// the repository before a crash -- extracting the preimage straight from
// the claim witness and settling from there.
func (n *Nursery) onReverseLockupSpent(ctx context.Context, entry *chain.Entry, id string, ev chain.TransactionEvent) {
	n.withReverseSwapLock(id, func() bool {
		rs, err := n.cfg.ReverseSwaps.GetByID(ctx, id)
		if err != nil {
			log.Errorf("loading reverse swap %s: %v", id, err)
			return false
		}
		if rs.Status.Terminal() {
			return true
		}

		spendTxID := ev.Tx.TxHash().String()

		if rs.RefundTransactionID != "" && rs.RefundTransactionID == spendTxID {
			if !ev.Confirmed {
				return false
			}
			rs.Status = swaprepo.StatusTransactionRefunded
			if err := n.cfg.ReverseSwaps.ApplyTransition(ctx, rs); err != nil {
				log.Errorf("persisting transaction.refunded for reverse swap %s: %v", id, err)
				return false
			}
			n.publish(notification.Event{
				Kind: notification.KindSwapUpdate, SwapID: id, IsReverse: true,
				Status: string(rs.Status), TransactionID: spendTxID,
			})
			n.publish(notification.Event{
				Kind: notification.KindSwapFailure, SwapID: id, IsReverse: true,
				Status: string(rs.Status), Reason: "lockup expired and was refunded",
			})
			n.forgetPaymentHash(rs.PreimageHash)
			n.forgetHTLCAccepted(rs.ID)
			return true
		}

		preimage, ok := extractClaimPreimage(ev.Tx, rs.TransactionID)
		if !ok {
			log.Warnf("unable to extract preimage from spend of reverse swap %s lockup", id)
			return false
		}
		if swap.SHA256PreimageHash(preimage) != rs.PreimageHash {
			log.Errorf("extracted preimage for reverse swap %s does not match its payment hash", id)
			return false
		}

		rs.Preimage = &preimage
		rs.ClaimTransactionID = spendTxID
		if err := n.cfg.ReverseSwaps.ApplyTransition(ctx, rs); err != nil {
			log.Errorf("persisting recovered preimage for reverse swap %s: %v", id, err)
			return false
		}

		return n.settleReverseSwap(ctx, rs)
	})
}

// extractClaimPreimage scans tx for the input spending lockupTxID's output
// and pulls the 32-byte preimage out of its witness/scriptSig, matching the
// `<sig> <preimage> <redeemScript>` shape assembleSpend produces in
// swap/tx.go for a claim (as opposed to a refund, which pushes OP_0 /
// an empty element in the preimage slot).
func extractClaimPreimage(tx *wire.MsgTx, lockupTxID string) ([32]byte, bool) {
	for _, in := range tx.TxIn {
		if in.PreviousOutPoint.Hash.String() != lockupTxID {
			continue
		}

		if len(in.Witness) >= 2 && len(in.Witness[1]) == 32 {
			var preimage [32]byte
			copy(preimage[:], in.Witness[1])
			return preimage, true
		}

		pushes, err := txscript.PushedData(in.SignatureScript)
		if err == nil && len(pushes) >= 2 && len(pushes[1]) == 32 {
			var preimage [32]byte
			copy(preimage[:], pushes[1])
			return preimage, true
		}
	}

	return [32]byte{}, false
}
