package swaprepo

import (
	"time"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/boltz-exchange/boltzd/rate"
	"github.com/boltz-exchange/boltzd/swap"
)

// Status is a swap's position in its state DAG. The submarine and reverse
// chains share the creation/mempool/confirmed prefix and the SwapExpired
// terminal-failure state, then diverge.
type Status string

const (
	StatusSwapCreated          Status = "swap.created"
	StatusTransactionMempool   Status = "transaction.mempool"
	StatusTransactionConfirmed Status = "transaction.confirmed"
	StatusInvoicePending       Status = "invoice.pending"
	StatusInvoicePaid          Status = "invoice.paid"
	StatusTransactionClaimed   Status = "transaction.claimed"
	StatusInvoiceFailedToPay   Status = "invoice.failedToPay"
	StatusInvoiceSettled       Status = "invoice.settled"
	StatusTransactionFailed    Status = "transaction.failed"
	StatusTransactionRefunded  Status = "transaction.refunded"
	StatusSwapExpired          Status = "swap.expired"
)

// Terminal reports whether status is a terminal state: once reached, the
// nursery evicts the swap from its in-memory maps.
func (s Status) Terminal() bool {
	switch s {
	case StatusTransactionClaimed, StatusInvoiceFailedToPay,
		StatusInvoiceSettled, StatusTransactionRefunded, StatusSwapExpired:
		return true
	default:
		return false
	}
}

// ChainSymbol and LightningCurrency together identify the two legs of a
// swap's pair, e.g. ChainSymbol="LTC", LightningCurrency="BTC" for an
// "LTC/BTC" pair. Persisted per swap since a deployment may serve more than
// one base-chain/Lightning-currency combination concurrently.
type ChainSymbol string
type LightningCurrency string

// Swap is a submarine swap: the user funds on-chain, the service pays a
// Lightning invoice.
type Swap struct {
	ID                 string
	Pair               rate.Pair
	OrderSide          rate.OrderSide
	ChainSymbol        ChainSymbol
	LightningCurrency  LightningCurrency

	Invoice      string
	PreimageHash [32]byte

	RedeemScript   []byte
	LockupAddress  string
	OutputType     swap.OutputType
	KeyIndex       uint32

	ExpectedAmount btcutil.Amount
	AcceptZeroConf bool
	TimeoutBlockHeight uint32

	Status Status

	LockupTransactionID string
	LockupVout          uint32
	OnchainAmount        btcutil.Amount

	MinerFee       btcutil.Amount
	PercentageFee  btcutil.Amount

	RefundAddress string

	// ClaimTransactionID is the id of the transaction the service
	// broadcast to spend LockupTransactionID once it held the preimage.
	ClaimTransactionID string

	// RefundTransactionID is populated if the nursery observes the
	// lockup outpoint being spent by someone other than the service's
	// own claim -- the user's refund after expiry.
	RefundTransactionID string

	CreatedAt     time.Time
	CreatedHeight uint32
}

// ReverseSwap is a reverse submarine swap: the service funds on-chain, the
// user pays a Lightning hold-invoice.
type ReverseSwap struct {
	ID                string
	Pair              rate.Pair
	OrderSide         rate.OrderSide
	ChainSymbol       ChainSymbol
	LightningCurrency LightningCurrency

	Invoice      string
	PreimageHash [32]byte
	Preimage     *[32]byte

	RedeemScript  []byte
	LockupAddress string
	OutputType    swap.OutputType
	ClaimPublicKey []byte

	// KeyIndex is the service's own derivation index for this swap's
	// refund key -- the key whose pubkey went into the redeem script's
	// refund branch, used to reclaim the lockup if the user never
	// claims.
	KeyIndex uint32

	TimeoutBlockHeight uint32

	Status Status

	TransactionID string
	OnchainAmount btcutil.Amount
	InvoiceAmount btcutil.Amount
	MinerFee      btcutil.Amount

	// ClaimTransactionID is the id of the user's transaction spending the
	// lockup through the claim branch. The nursery records it only when it
	// recovers the preimage from that spend; a claim seen after the swap
	// reached a terminal status is not recorded.
	ClaimTransactionID string

	// RefundTransactionID is the id of the transaction the service
	// broadcast to reclaim an expired, unclaimed lockup.
	RefundTransactionID string

	CreatedAt     time.Time
	CreatedHeight uint32
}
