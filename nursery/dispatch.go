package nursery

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/boltz-exchange/boltzd/chain"
	"github.com/boltz-exchange/boltzd/lightning"
)

// onTransaction routes a single Observer sighting to every swap or reverse
// swap it touches: its outputs against the scriptPubKey index (funding),
// its inputs against the outpoint index (claim/refund spend).
func (n *Nursery) onTransaction(ctx context.Context, code chain.Code, entry *chain.Entry, ev chain.TransactionEvent) {
	txHash := ev.Tx.TxHash()

	for vout, out := range ev.Tx.TxOut {
		ref, ok := n.lookupScript(out.PkScript)
		if !ok {
			continue
		}
		value := btcutil.Amount(out.Value)
		if ref.reverse {
			n.onReverseLockupSeen(ctx, entry, ref.id, txHash, uint32(vout), value, ev)
		} else {
			n.onSubmarineLockupSeen(ctx, entry, ref.id, txHash, uint32(vout), value, ev)
		}
	}

	for _, in := range ev.Tx.TxIn {
		ref, ok := n.lookupOutpoint(in.PreviousOutPoint)
		if !ok {
			continue
		}
		if ref.reverse {
			n.onReverseLockupSpent(ctx, entry, ref.id, ev)
		} else {
			n.onSubmarineLockupSpent(ctx, entry, ref.id, ev)
		}
	}
}

// onBlock advances the timeout scheduler and, for chains that track
// confirmation depth, nothing else -- claim/refund confirmation itself is
// driven by onTransaction's Confirmed flag on the same input-spend
// sighting, not by a separate depth count.
func (n *Nursery) onBlock(ctx context.Context, code chain.Code, entry *chain.Entry, ev chain.BlockEvent) {
	n.checkTimeouts(ctx, code, entry, ev.Height)
}

// onLightningEvent routes an Adapter event to the reverse swap whose hold
// invoice it belongs to. Submarine PayInvoice calls are made synchronously
// from within the submarine flow and don't need routing here.
func (n *Nursery) onLightningEvent(ctx context.Context, ev lightning.Event) {
	if ev.Kind != lightning.EventHTLCAccepted {
		return
	}

	ref, ok := n.lookupPaymentHash(ev.PaymentHash)
	if !ok {
		log.Warnf("htlc.accepted for unknown payment hash %x", ev.PaymentHash)
		return
	}
	if !ref.reverse {
		return
	}

	n.onReverseHTLCAccepted(ctx, ref.id)
}
