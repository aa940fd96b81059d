package nursery

import (
	"context"

	"github.com/btcsuite/btcd/txscript"

	"github.com/boltz-exchange/boltzd/chain"
	"github.com/boltz-exchange/boltzd/notification"
	"github.com/boltz-exchange/boltzd/rate"
	"github.com/boltz-exchange/boltzd/swap"
	"github.com/boltz-exchange/boltzd/swaprepo"
)

// checkTimeouts expires every pending swap and reverse swap on code's chain
// whose TimeoutBlockHeight has passed as of height: submarine swaps move
// straight to SwapExpired, reverse swaps go through a refund broadcast that
// only reaches TransactionRefunded once onReverseLockupSpent later observes
// it confirmed.
func (n *Nursery) checkTimeouts(ctx context.Context, code chain.Code, entry *chain.Entry, height int32) {
	pending, err := n.cfg.Swaps.GetPending(ctx)
	if err != nil {
		log.Errorf("loading pending swaps for timeout check: %v", err)
		return
	}
	for _, s := range pending {
		if chainCodeFor(s.ChainSymbol) != code || uint32(height) < s.TimeoutBlockHeight {
			continue
		}
		n.expireSwap(ctx, entry, s.ID)
	}

	reversePending, err := n.cfg.ReverseSwaps.GetPending(ctx)
	if err != nil {
		log.Errorf("loading pending reverse swaps for timeout check: %v", err)
		return
	}
	for _, rs := range reversePending {
		if chainCodeFor(rs.ChainSymbol) != code || uint32(height) < rs.TimeoutBlockHeight {
			continue
		}
		n.refundReverseSwap(ctx, entry, rs.ID)
	}
}

// expireSwap marks a submarine swap that never completed in time as
// expired and stops watching its lockup address; the user remains free to
// spend the still-unclaimed lockup output back to themselves via the
// refund branch of the redeem script, which onSubmarineLockupSpent would
// have already caught had it happened before this point.
func (n *Nursery) expireSwap(ctx context.Context, entry *chain.Entry, id string) {
	n.withSwapLock(id, func() bool {
		s, err := n.cfg.Swaps.GetByID(ctx, id)
		if err != nil {
			log.Errorf("loading swap %s for expiry: %v", id, err)
			return false
		}
		if s.Status.Terminal() {
			return true
		}

		n.cancelPayment(id)

		s.Status = swaprepo.StatusSwapExpired
		if err := n.cfg.Swaps.ApplyTransition(ctx, s); err != nil {
			log.Errorf("persisting swap.expired for swap %s: %v", id, err)
			return false
		}

		n.publish(notification.Event{
			Kind: notification.KindSwapUpdate, SwapID: id, Status: string(s.Status),
		})
		n.publish(notification.Event{
			Kind: notification.KindSwapFailure, SwapID: id, Status: string(s.Status),
			Reason: "swap expired before completion",
		})

		if script, err := addressPkScript(s.LockupAddress, entry); err == nil {
			entry.Observer.UnregisterOutput(script)
			n.forgetScript(script)
		}

		return true
	})
}

// refundReverseSwap builds, signs, and broadcasts the transaction reclaiming
// an expired reverse swap's lockup back to the service's own wallet. The
// swap stays non-terminal (and its lock un-evicted) after a successful
// broadcast -- onReverseLockupSpent moves it to TransactionRefunded once
// the broadcast is actually observed confirming, the same
// persist-before-observe discipline the claim path follows.
func (n *Nursery) refundReverseSwap(ctx context.Context, entry *chain.Entry, id string) {
	n.withReverseSwapLock(id, func() bool {
		rs, err := n.cfg.ReverseSwaps.GetByID(ctx, id)
		if err != nil {
			log.Errorf("loading reverse swap %s for refund: %v", id, err)
			return false
		}
		if rs.Status.Terminal() {
			return true
		}
		if rs.TransactionID == "" {
			// Nothing was ever locked up on-chain; there's nothing to
			// refund and no funds at risk.
			return false
		}
		if rs.RefundTransactionID != "" {
			// Already broadcast; waiting on confirmation.
			return false
		}

		lockupTxID, err := chainHashFromHex(rs.TransactionID)
		if err != nil {
			log.Errorf("parsing lockup txid for reverse swap %s: %v", id, err)
			return false
		}

		signer, _, err := n.cfg.Wallet.DeriveRefundKey(ctx, rs.KeyIndex)
		if err != nil {
			log.Errorf("deriving refund key for reverse swap %s: %v", id, err)
			return false
		}

		destAddr, err := n.cfg.Wallet.NewAddress(ctx)
		if err != nil {
			log.Errorf("allocating refund destination for reverse swap %s: %v", id, err)
			return false
		}
		destScript, err := txscript.PayToAddrScript(destAddr)
		if err != nil {
			log.Errorf("building refund destination script for reverse swap %s: %v", id, err)
			return false
		}

		feeRate, err := n.cfg.Oracle.FeePerVByte(n.cfg.ClaimConfTarget)
		if err != nil {
			feeRate = rate.FloorFeeRate(0)
		}

		tx, err := swap.BuildRefundTransaction(swap.LockupOutput{
			TxID:         *lockupTxID,
			Vout:         0,
			Value:        rs.OnchainAmount,
			RedeemScript: rs.RedeemScript,
			OutputType:   rs.OutputType,
		}, destScript, rs.TimeoutBlockHeight, feeRate, signer)
		if err != nil {
			log.Errorf("building refund transaction for reverse swap %s: %v", id, err)
			return false
		}

		txid, err := entry.Client.SendRawTransaction(ctx, tx)
		if err != nil {
			log.Errorf("broadcasting refund transaction for reverse swap %s: %v", id, err)
			return false
		}

		rs.RefundTransactionID = txid.String()
		if err := n.cfg.ReverseSwaps.ApplyTransition(ctx, rs); err != nil {
			log.Errorf("persisting refund broadcast for reverse swap %s: %v", id, err)
			return false
		}

		n.publish(notification.Event{
			Kind: notification.KindSwapUpdate, SwapID: id, IsReverse: true,
			Status: string(rs.Status), TransactionID: rs.RefundTransactionID,
		})

		return false
	})
}
