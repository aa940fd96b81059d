package nursery

import (
	"context"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/boltz-exchange/boltzd/chain"
	"github.com/boltz-exchange/boltzd/notification"
	"github.com/boltz-exchange/boltzd/rate"
	"github.com/boltz-exchange/boltzd/swap"
	"github.com/boltz-exchange/boltzd/swaprepo"
)

// onSubmarineLockupSeen advances a submarine swap's state machine on a
// sighting of its lockup address being funded. Underfunding (value below
// ExpectedAmount) is left for the timeout scheduler to resolve: the swap
// stays in whatever status it already holds, and the service never pays an
// invoice on the strength of an insufficient payment.
func (n *Nursery) onSubmarineLockupSeen(ctx context.Context, entry *chain.Entry, id string,
	txHash chainhash.Hash, vout uint32, value btcutil.Amount, ev chain.TransactionEvent) {

	var readyToPay bool

	n.withSwapLock(id, func() bool {
		s, err := n.cfg.Swaps.GetByID(ctx, id)
		if err != nil {
			log.Errorf("loading swap %s: %v", id, err)
			return false
		}
		if s.Status.Terminal() {
			return true
		}
		if value < s.ExpectedAmount {
			log.Warnf("swap %s underfunded: got %d sat, expected %d sat", id, value, s.ExpectedAmount)
			return false
		}

		if s.Status == swaprepo.StatusSwapCreated {
			s.LockupTransactionID = txHash.String()
			s.LockupVout = vout
			s.OnchainAmount = value
			s.Status = swaprepo.StatusTransactionMempool
			if err := n.cfg.Swaps.ApplyTransition(ctx, s); err != nil {
				log.Errorf("persisting mempool sighting for swap %s: %v", id, err)
				return false
			}

			op := wire.OutPoint{Hash: txHash, Index: vout}
			n.registerOutpoint(op, swapRef{id: id})
			entry.Observer.RegisterInput(op)

			n.publish(notification.Event{
				Kind: notification.KindSwapUpdate, SwapID: id,
				Status: string(s.Status), TransactionID: s.LockupTransactionID,
			})
		}

		confirmed := ev.Confirmed
		if !confirmed {
			ok, err := n.acceptsZeroConf(ctx, entry, s.AcceptZeroConf, s.Pair, s.OrderSide, value, ev.Tx)
			if err != nil {
				log.Errorf("zero-conf check for swap %s: %v", id, err)
			}
			confirmed = ok
		}

		if confirmed && s.Status == swaprepo.StatusTransactionMempool {
			s.Status = swaprepo.StatusTransactionConfirmed
			if err := n.cfg.Swaps.ApplyTransition(ctx, s); err != nil {
				log.Errorf("persisting confirmation for swap %s: %v", id, err)
				return false
			}
			n.publish(notification.Event{
				Kind: notification.KindSwapUpdate, SwapID: id, Status: string(s.Status),
			})
			readyToPay = true
		}

		return false
	})

	if readyToPay {
		payCtx, cancel := context.WithCancel(context.Background())
		n.trackPaymentCancel(id, cancel)

		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			defer cancel()
			defer n.forgetPaymentCancel(id)
			n.payAndClaimSubmarine(payCtx, entry, id)
		}()
	}
}

// payAndClaimSubmarine pays the swap's invoice and, on success, builds and
// broadcasts the claim transaction. It runs in its own goroutine so a slow
// or retried Lightning payment never blocks the chain dispatch loop; the
// swap's own keyed lock still serializes it against any concurrent chain
// event for the same id. The lock is released for the duration of the
// PayInvoice call itself, since that RPC can legitimately take seconds
// across retries and holding the lock that long would stall an unrelated
// timeout check on the same swap.
func (n *Nursery) payAndClaimSubmarine(ctx context.Context, entry *chain.Entry, id string) {
	var (
		s             *swaprepo.Swap
		shouldPay     bool
	)

	n.withSwapLock(id, func() bool {
		loaded, err := n.cfg.Swaps.GetByID(ctx, id)
		if err != nil {
			log.Errorf("loading swap %s for payment: %v", id, err)
			return false
		}
		if loaded.Status.Terminal() || loaded.Status != swaprepo.StatusTransactionConfirmed {
			return false
		}

		loaded.Status = swaprepo.StatusInvoicePending
		if err := n.cfg.Swaps.ApplyTransition(ctx, loaded); err != nil {
			log.Errorf("persisting invoice.pending for swap %s: %v", id, err)
			return false
		}
		n.publish(notification.Event{
			Kind: notification.KindSwapUpdate, SwapID: id, Status: string(loaded.Status),
		})

		s = loaded
		shouldPay = true
		return false
	})

	if !shouldPay {
		return
	}

	maxFeeMsat := uint64(s.MinerFee) * 1000
	preimage, payErr := n.cfg.Lightning.PayInvoice(ctx, s.PreimageHash, s.Invoice, maxFeeMsat)

	n.withSwapLock(id, func() bool {
		s, err := n.cfg.Swaps.GetByID(ctx, id)
		if err != nil {
			log.Errorf("reloading swap %s after payment attempt: %v", id, err)
			return false
		}
		if s.Status.Terminal() {
			return true
		}

		if payErr != nil {
			s.Status = swaprepo.StatusInvoiceFailedToPay
			if err := n.cfg.Swaps.ApplyTransition(ctx, s); err != nil {
				log.Errorf("persisting invoice.failedToPay for swap %s: %v", id, err)
				return false
			}
			n.publish(notification.Event{
				Kind: notification.KindSwapFailure, SwapID: id,
				Status: string(s.Status), Reason: payErr.Error(),
			})
			if script, scriptErr := addressPkScript(s.LockupAddress, entry); scriptErr == nil {
				entry.Observer.UnregisterOutput(script)
				n.forgetScript(script)
			}
			return true
		}

		s.Status = swaprepo.StatusInvoicePaid
		if err := n.cfg.Swaps.ApplyTransition(ctx, s); err != nil {
			log.Errorf("persisting invoice.paid for swap %s: %v", id, err)
			return false
		}
		n.publish(notification.Event{
			Kind: notification.KindSwapUpdate, SwapID: id, Status: string(s.Status),
		})

		terminal := n.claimSubmarine(ctx, entry, s, preimage)
		return terminal
	})
}

// claimSubmarine builds, signs, and broadcasts the transaction spending s's
// lockup output to the service's own wallet, revealing preimage. It is
// called with s's swapLock already held. Broadcast failure leaves the swap
// at InvoicePaid -- a non-terminal status the recovery path does not retry
// automatically, since the claim only needs to succeed once before the
// refund timeout; this is an accepted gap, noted in the design ledger.
func (n *Nursery) claimSubmarine(ctx context.Context, entry *chain.Entry, s *swaprepo.Swap, preimage [32]byte) bool {
	lockupTxID, err := chainHashFromHex(s.LockupTransactionID)
	if err != nil {
		log.Errorf("parsing lockup txid for swap %s: %v", s.ID, err)
		return false
	}

	signer, _, err := n.cfg.Wallet.DeriveClaimKey(ctx, s.KeyIndex)
	if err != nil {
		log.Errorf("deriving claim key for swap %s: %v", s.ID, err)
		return false
	}

	destAddr, err := n.cfg.Wallet.NewAddress(ctx)
	if err != nil {
		log.Errorf("allocating claim destination for swap %s: %v", s.ID, err)
		return false
	}
	destScript, err := txscript.PayToAddrScript(destAddr)
	if err != nil {
		log.Errorf("building claim destination script for swap %s: %v", s.ID, err)
		return false
	}

	feeRate, err := n.cfg.Oracle.FeePerVByte(n.cfg.ClaimConfTarget)
	if err != nil {
		feeRate = rate.FloorFeeRate(0)
	}

	tx, err := swap.BuildClaimTransaction(swap.LockupOutput{
		TxID:         *lockupTxID,
		Vout:         s.LockupVout,
		Value:        s.OnchainAmount,
		RedeemScript: s.RedeemScript,
		OutputType:   s.OutputType,
	}, preimage, destScript, feeRate, signer)
	if err != nil {
		log.Errorf("building claim transaction for swap %s: %v", s.ID, err)
		return false
	}

	txid, err := entry.Client.SendRawTransaction(ctx, tx)
	if err != nil {
		log.Errorf("broadcasting claim transaction for swap %s: %v", s.ID, err)
		return false
	}

	s.ClaimTransactionID = txid.String()
	s.Status = swaprepo.StatusTransactionClaimed
	if err := n.cfg.Swaps.ApplyTransition(ctx, s); err != nil {
		log.Errorf("persisting transaction.claimed for swap %s: %v", s.ID, err)
		return false
	}

	n.publish(notification.Event{
		Kind: notification.KindSwapUpdate, SwapID: s.ID,
		Status: string(s.Status), TransactionID: s.ClaimTransactionID,
		Preimage: hex.EncodeToString(preimage[:]),
	})
	n.publish(notification.Event{
		Kind: notification.KindSwapSuccess, SwapID: s.ID, Status: string(s.Status),
	})

	if script, err := addressPkScript(s.LockupAddress, entry); err == nil {
		entry.Observer.UnregisterOutput(script)
		n.forgetScript(script)
	}

	return true
}

// onSubmarineLockupSpent records who spent a submarine swap's lockup
// output. If it wasn't the service's own recorded claim transaction, the
// only other spender is the user reclaiming an expired lockup.
func (n *Nursery) onSubmarineLockupSpent(ctx context.Context, entry *chain.Entry, id string, ev chain.TransactionEvent) {
	n.withSwapLock(id, func() bool {
		s, err := n.cfg.Swaps.GetByID(ctx, id)
		if err != nil {
			log.Errorf("loading swap %s: %v", id, err)
			return false
		}
		if s.Status.Terminal() {
			return true
		}

		spendTxID := ev.Tx.TxHash().String()
		if s.ClaimTransactionID == spendTxID {
			return false
		}

		s.RefundTransactionID = spendTxID
		s.Status = swaprepo.StatusTransactionRefunded
		if err := n.cfg.Swaps.ApplyTransition(ctx, s); err != nil {
			log.Errorf("persisting transaction.refunded for swap %s: %v", id, err)
			return false
		}

		n.publish(notification.Event{
			Kind: notification.KindSwapUpdate, SwapID: id,
			Status: string(s.Status), TransactionID: spendTxID,
		})
		n.publish(notification.Event{
			Kind: notification.KindSwapFailure, SwapID: id,
			Status: string(s.Status), Reason: "lockup spent by a transaction other than the service's own claim",
		})

		if script, err := addressPkScript(s.LockupAddress, entry); err == nil {
			entry.Observer.UnregisterOutput(script)
			n.forgetScript(script)
		}

		return true
	})
}
