package nursery

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/google/uuid"

	"github.com/boltz-exchange/boltzd/boltzerr"
	"github.com/boltz-exchange/boltzd/lightning"
	"github.com/boltz-exchange/boltzd/notification"
	"github.com/boltz-exchange/boltzd/rate"
	"github.com/boltz-exchange/boltzd/swap"
	"github.com/boltz-exchange/boltzd/swaprepo"
)

// CreateSwapParams is the caller-supplied input to CreateSwap: everything
// needed except what the nursery derives or looks up itself (the service's
// own claim key, the current chain tip, the pricing quote).
type CreateSwapParams struct {
	Pair              rate.Pair
	OrderSide         rate.OrderSide
	ChainSymbol       swaprepo.ChainSymbol
	LightningCurrency swaprepo.LightningCurrency

	Invoice         string
	RefundPublicKey *btcec.PublicKey
	OutputType      swap.OutputType
	AcceptZeroConf  bool
}

// newSwapAmounts computes the on-chain amount a submarine-swap user must
// pay in to fund an invoice of invoiceAmount: the on-chain equivalent of
// the invoice plus the service's base and percentage fee, collected on top.
// The invoice-to-onchain conversion is rounded up so a fractional rate can
// never under-charge the user by a satoshi.
func newSwapAmounts(invoiceAmount btcutil.Amount, quote rate.Quote) (expected, minerFee, percentageFee btcutil.Amount) {
	onchain := btcutil.Amount(math.Ceil(float64(invoiceAmount) * quote.Rate))
	percentageFee = btcutil.Amount(float64(onchain) * quote.PercentageFee)
	expected = onchain + quote.BaseFee + percentageFee
	return expected, quote.BaseFee, percentageFee
}

// newReverseSwapAmounts computes the on-chain amount the service locks up
// for a reverse-swap invoice of invoiceAmount: the on-chain equivalent of
// the invoice minus the service's base and percentage fee, collected out of
// it.
func newReverseSwapAmounts(invoiceAmount btcutil.Amount, quote rate.Quote) (onchain, minerFee, percentageFee btcutil.Amount) {
	gross := btcutil.Amount(float64(invoiceAmount) * quote.Rate)
	percentageFee = btcutil.Amount(float64(gross) * quote.PercentageFee)
	onchain = gross - quote.BaseFee - percentageFee
	return onchain, quote.BaseFee, percentageFee
}

// CreateSwap validates params, prices the swap via the Oracle, derives the
// service's claim key, builds the HTLC redeem script and lockup address,
// persists the new swap, and starts watching its lockup address. The
// invoice's own payment hash becomes the redeem script's commitment
// (through PreimageHash160FromPaymentHash) since the service never learns
// the preimage itself until it successfully pays.
func (n *Nursery) CreateSwap(ctx context.Context, params CreateSwapParams) (*swaprepo.Swap, error) {
	entry, ok := n.cfg.Chains.Lookup(chainCodeFor(params.ChainSymbol))
	if !ok {
		return nil, boltzerr.New(boltzerr.DomainChain, 1, boltzerr.KindValidationFailure,
			fmt.Sprintf("chain %s is not configured", params.ChainSymbol))
	}

	invoice, err := lightning.DecodeInvoice(params.Invoice)
	if err != nil {
		return nil, boltzerr.Wrap(boltzerr.DomainSwap, 10, boltzerr.KindValidationFailure,
			"invalid invoice", err)
	}
	if invoice.MilliSat == 0 {
		return nil, boltzerr.New(boltzerr.DomainSwap, 11, boltzerr.KindValidationFailure,
			"amountless invoices are not supported")
	}

	quote, err := n.cfg.Oracle.Quote(params.Pair, params.OrderSide)
	if err != nil {
		return nil, boltzerr.Wrap(boltzerr.DomainSwap, 12, boltzerr.KindValidationFailure,
			"no quote available", err)
	}

	invoiceAmount := btcutil.Amount(invoice.MilliSat / 1000)
	expectedAmount, minerFee, percentageFee := newSwapAmounts(invoiceAmount, quote)

	tipHeight, _, err := entry.Client.BlockchainInfo(ctx)
	if err != nil {
		return nil, boltzerr.Wrap(boltzerr.DomainChain, 2, boltzerr.KindTransientRPC,
			"unable to fetch chain tip", err)
	}
	// +1 so the timeout strictly exceeds tip+MinTimeoutBlocks rather than
	// merely equaling it.
	timeoutBlockHeight := uint32(tipHeight) + n.cfg.MinTimeoutBlocks + 1
	if timeoutBlockHeight <= uint32(tipHeight)+n.cfg.MinTimeoutBlocks {
		return nil, boltzerr.ErrTimeoutTooSoon
	}

	keyIndex, err := n.cfg.Wallet.NextKeyIndex(ctx)
	if err != nil {
		return nil, boltzerr.Wrap(boltzerr.DomainWallet, 1, boltzerr.KindTransientRPC,
			"unable to derive claim key", err)
	}
	_, claimPubKey, err := n.cfg.Wallet.DeriveClaimKey(ctx, keyIndex)
	if err != nil {
		return nil, boltzerr.Wrap(boltzerr.DomainWallet, 2, boltzerr.KindTransientRPC,
			"unable to derive claim key", err)
	}

	redeemScript, err := swap.SubmarineRedeemScript(swap.SubmarineScriptParams{
		PreimageHash160: swap.PreimageHash160FromPaymentHash(invoice.PaymentHash),
		ClaimPubKey:     claimPubKey,
		RefundPubKey:    params.RefundPublicKey,
		TimeoutHeight:   timeoutBlockHeight,
	})
	if err != nil {
		return nil, boltzerr.Wrap(boltzerr.DomainSwap, 13, boltzerr.KindValidationFailure,
			"unable to build redeem script", err)
	}

	details, err := swap.LockupDetails(redeemScript, params.OutputType, entry.Params)
	if err != nil {
		return nil, boltzerr.Wrap(boltzerr.DomainSwap, 2, boltzerr.KindValidationFailure,
			"unable to build lockup address", err)
	}

	s := &swaprepo.Swap{
		ID:                 uuid.NewString(),
		Pair:               params.Pair,
		OrderSide:          params.OrderSide,
		ChainSymbol:        params.ChainSymbol,
		LightningCurrency:  params.LightningCurrency,
		Invoice:            params.Invoice,
		PreimageHash:       invoice.PaymentHash,
		RedeemScript:       redeemScript,
		LockupAddress:      details.LockupAddress,
		OutputType:         details.OutputType,
		KeyIndex:           keyIndex,
		ExpectedAmount:     expectedAmount,
		AcceptZeroConf:     params.AcceptZeroConf,
		TimeoutBlockHeight: timeoutBlockHeight,
		Status:             swaprepo.StatusSwapCreated,
		MinerFee:           minerFee,
		PercentageFee:      percentageFee,
		CreatedAt:          time.Now(),
		CreatedHeight:      uint32(tipHeight),
	}

	if existing, err := n.cfg.Swaps.GetByPreimageHash(ctx, s.PreimageHash); err == nil && existing != nil {
		return nil, boltzerr.ErrPreimageHashInUse
	}

	if err := n.cfg.Swaps.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("persisting swap: %w", err)
	}

	if err := n.indexAndWatchSwap(entry, s); err != nil {
		log.Errorf("watching new swap %s: %v", s.ID, err)
	}

	n.publish(notification.Event{
		Kind:   notification.KindSwapUpdate,
		SwapID: s.ID,
		Status: string(s.Status),
	})

	return s, nil
}

// CreateReverseSwapParams is the caller-supplied input to CreateReverseSwap.
type CreateReverseSwapParams struct {
	Pair              rate.Pair
	OrderSide         rate.OrderSide
	ChainSymbol       swaprepo.ChainSymbol
	LightningCurrency swaprepo.LightningCurrency

	InvoiceAmount  btcutil.Amount
	ClaimPublicKey *btcec.PublicKey
	OutputType     swap.OutputType
}

// CreateReverseSwap prices and persists a new reverse swap, derives a fresh
// hold invoice gated on a newly generated preimage, builds and broadcasts
// the lockup transaction from the service's own wallet, and starts
// watching the lockup address for the user's claim.
func (n *Nursery) CreateReverseSwap(ctx context.Context, params CreateReverseSwapParams) (*swaprepo.ReverseSwap, error) {
	entry, ok := n.cfg.Chains.Lookup(chainCodeFor(params.ChainSymbol))
	if !ok {
		return nil, boltzerr.New(boltzerr.DomainChain, 1, boltzerr.KindValidationFailure,
			fmt.Sprintf("chain %s is not configured", params.ChainSymbol))
	}

	quote, err := n.cfg.Oracle.Quote(params.Pair, params.OrderSide)
	if err != nil {
		return nil, boltzerr.Wrap(boltzerr.DomainSwap, 12, boltzerr.KindValidationFailure,
			"no quote available", err)
	}

	onchainAmount, minerFee, _ := newReverseSwapAmounts(params.InvoiceAmount, quote)
	if onchainAmount <= 0 {
		return nil, boltzerr.ErrInsufficientAmount
	}

	balance, err := n.cfg.Wallet.GetBalance(ctx)
	if err != nil {
		return nil, boltzerr.Wrap(boltzerr.DomainWallet, 3, boltzerr.KindTransientRPC,
			"unable to check wallet balance", err)
	}
	if balance < onchainAmount {
		return nil, boltzerr.New(boltzerr.DomainWallet, 4, boltzerr.KindValidationFailure,
			"insufficient wallet balance to fund reverse swap")
	}

	tipHeight, _, err := entry.Client.BlockchainInfo(ctx)
	if err != nil {
		return nil, boltzerr.Wrap(boltzerr.DomainChain, 2, boltzerr.KindTransientRPC,
			"unable to fetch chain tip", err)
	}
	// +1 so the timeout strictly exceeds tip+MinTimeoutBlocks rather than
	// merely equaling it.
	timeoutBlockHeight := uint32(tipHeight) + n.cfg.MinTimeoutBlocks + 1
	if timeoutBlockHeight <= uint32(tipHeight)+n.cfg.MinTimeoutBlocks {
		return nil, boltzerr.ErrTimeoutTooSoon
	}

	var preimage [32]byte
	if _, err := rand.Read(preimage[:]); err != nil {
		return nil, fmt.Errorf("generating preimage: %w", err)
	}
	paymentHash := swap.SHA256PreimageHash(preimage)

	keyIndex, err := n.cfg.Wallet.NextKeyIndex(ctx)
	if err != nil {
		return nil, boltzerr.Wrap(boltzerr.DomainWallet, 1, boltzerr.KindTransientRPC,
			"unable to derive refund key", err)
	}
	_, refundPubKey, err := n.cfg.Wallet.DeriveRefundKey(ctx, keyIndex)
	if err != nil {
		return nil, boltzerr.Wrap(boltzerr.DomainWallet, 2, boltzerr.KindTransientRPC,
			"unable to derive refund key", err)
	}

	redeemScript, err := swap.ReverseRedeemScript(swap.ReverseScriptParams{
		PreimageHash:  paymentHash,
		ClaimPubKey:   params.ClaimPublicKey,
		RefundPubKey:  refundPubKey,
		TimeoutHeight: timeoutBlockHeight,
	})
	if err != nil {
		return nil, boltzerr.Wrap(boltzerr.DomainSwap, 13, boltzerr.KindValidationFailure,
			"unable to build redeem script", err)
	}

	details, err := swap.LockupDetails(redeemScript, params.OutputType, entry.Params)
	if err != nil {
		return nil, boltzerr.Wrap(boltzerr.DomainSwap, 2, boltzerr.KindValidationFailure,
			"unable to build lockup address", err)
	}

	invoiceStr, err := n.cfg.Lightning.AddHoldInvoice(ctx, paymentHash,
		uint64(params.InvoiceAmount)*1000, holdInvoiceExpiry(timeoutBlockHeight, tipHeight),
		"reverse submarine swap")
	if err != nil {
		return nil, boltzerr.Wrap(boltzerr.DomainLightning, 5, boltzerr.KindTransientRPC,
			"unable to create hold invoice", err)
	}

	s := &swaprepo.ReverseSwap{
		ID:                 uuid.NewString(),
		Pair:               params.Pair,
		OrderSide:          params.OrderSide,
		ChainSymbol:        params.ChainSymbol,
		LightningCurrency:  params.LightningCurrency,
		Invoice:            invoiceStr,
		PreimageHash:       paymentHash,
		Preimage:           &preimage,
		RedeemScript:       redeemScript,
		LockupAddress:      details.LockupAddress,
		OutputType:         details.OutputType,
		ClaimPublicKey:     params.ClaimPublicKey.SerializeCompressed(),
		KeyIndex:           keyIndex,
		TimeoutBlockHeight: timeoutBlockHeight,
		Status:             swaprepo.StatusSwapCreated,
		OnchainAmount:      onchainAmount,
		InvoiceAmount:      params.InvoiceAmount,
		MinerFee:           minerFee,
		CreatedAt:          time.Now(),
		CreatedHeight:      uint32(tipHeight),
	}

	if err := n.cfg.ReverseSwaps.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("persisting reverse swap: %w", err)
	}

	if err := n.indexAndWatchReverseSwap(entry, s); err != nil {
		log.Errorf("watching new reverse swap %s: %v", s.ID, err)
	}

	feeRate, err := n.cfg.Oracle.FeePerVByte(n.cfg.LockupConfTarget)
	if err != nil {
		feeRate = rate.FloorFeeRate(0)
	}

	txid, vout, err := n.cfg.Wallet.SendToAddress(ctx, s.LockupAddress, onchainAmount, feeRate, false)
	if err != nil {
		s.Status = swaprepo.StatusTransactionFailed
		_ = n.cfg.ReverseSwaps.ApplyTransition(ctx, s)
		n.publish(notification.Event{
			Kind: notification.KindSwapFailure, SwapID: s.ID, IsReverse: true,
			Status: string(s.Status), Reason: err.Error(),
		})
		return nil, boltzerr.Wrap(boltzerr.DomainChain, 3, boltzerr.KindPermanentRPC,
			"unable to broadcast lockup transaction", err)
	}

	s.TransactionID = txid.String()
	s.Status = swaprepo.StatusTransactionMempool
	op := wire.OutPoint{Hash: *txid, Index: vout}
	entry.Observer.RegisterInput(op)
	n.registerOutpoint(op, swapRef{id: s.ID, reverse: true})

	if err := n.cfg.ReverseSwaps.ApplyTransition(ctx, s); err != nil {
		log.Errorf("persisting lockup broadcast for reverse swap %s: %v", s.ID, err)
	}

	n.publish(notification.Event{
		Kind: notification.KindSwapUpdate, SwapID: s.ID, IsReverse: true,
		Status: string(s.Status), TransactionID: s.TransactionID,
	})

	return s, nil
}

// holdInvoiceExpiry bounds the hold invoice's own expiry by the swap's
// remaining block-height budget, converted at an assumed 10-minute block
// interval -- the Lightning payment timeout is min(invoice expiry, swap
// timeout block ETA).
func holdInvoiceExpiry(timeoutBlockHeight uint32, tipHeight int32) time.Duration {
	remainingBlocks := int64(timeoutBlockHeight) - int64(tipHeight)
	if remainingBlocks <= 0 {
		return time.Minute
	}
	return time.Duration(remainingBlocks) * 10 * time.Minute
}
