package lightning

import (
	"context"
	"time"
)

// Client is the narrow interface the Adapter consumes from a concrete
// Lightning node implementation (e.g. an LND gRPC client). Modeled on
// lnd's htlcswitch.Switch as the thing that actually moves money,
// generalized from an in-process channel link to an out-of-process node
// reached over RPC.
type Client interface {
	// PayInvoice attempts to pay invoice, blocking until the payment
	// either succeeds, definitively fails, or ctx is canceled.
	PayInvoice(ctx context.Context, invoice string, maxFee uint64) (preimage [32]byte, err error)

	// AddHoldInvoice creates a hold invoice for the given payment hash,
	// amount, and expiry, returning its encoded BOLT11 string.
	AddHoldInvoice(ctx context.Context, paymentHash [32]byte, amountMsat uint64,
		expiry time.Duration, description string) (invoice string, err error)

	// SettleInvoice releases a held HTLC by revealing preimage, crediting
	// the invoice as paid.
	SettleInvoice(ctx context.Context, preimage [32]byte) error

	// CancelInvoice releases a held HTLC without paying it, identified by
	// its payment hash.
	CancelInvoice(ctx context.Context, paymentHash [32]byte) error

	// SubscribeInvoiceAccepted streams hold-invoice accept notifications;
	// an hold invoice transitions here the instant the inbound HTLC locks
	// in, before it is settled or canceled.
	SubscribeInvoiceAccepted(ctx context.Context) (<-chan [32]byte, error)
}

// EventKind enumerates the Lightning-side events the nursery reacts to.
type EventKind uint8

const (
	EventInvoicePaid EventKind = iota
	EventInvoiceSettled
	EventInvoiceFailedToPay
	EventHTLCAccepted
)

// Event is a single Lightning-side occurrence the Adapter emits.
type Event struct {
	Kind         EventKind
	PaymentHash  [32]byte
	Preimage     [32]byte
	Err          error
}
