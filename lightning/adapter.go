package lightning

import (
	"context"
	"sync"
	"time"

	"github.com/boltz-exchange/boltzd/boltzerr"
)

// defaultMaxPaymentAttempts bounds how many times Adapter.PayInvoice retries
// a transient routing failure before giving up. A swap may hold at most one
// payment attempt in flight at any time; retries happen sequentially, never
// concurrently, for a given payment hash.
const defaultMaxPaymentAttempts = 3

// pendingPayment tracks an in-flight PayInvoice call the way
// lnd's htlcswitch.Switch tracks a pendingPayment: a result the
// caller blocks on via channels, looked up by payment hash so a duplicate
// PayInvoice call for the same hash can be rejected rather than racing.
type pendingPayment struct {
	preimage chan [32]byte
	err      chan error
}

// Adapter wraps a Client with the retry policy, hold-invoice event fan-out,
// and in-flight-payment bookkeeping the nursery depends on.
type Adapter struct {
	client Client

	mu       sync.Mutex
	inFlight map[[32]byte]*pendingPayment

	events chan Event

	maxAttempts int
}

// NewAdapter wraps client with the default retry policy.
func NewAdapter(client Client) *Adapter {
	return &Adapter{
		client:      client,
		inFlight:    make(map[[32]byte]*pendingPayment),
		events:      make(chan Event, 64),
		maxAttempts: defaultMaxPaymentAttempts,
	}
}

// Events returns the channel of invoice.paid / invoice.settled /
// invoice.failedToPay / htlc.accepted notifications.
func (a *Adapter) Events() <-chan Event { return a.events }

// PayInvoice pays invoice, retrying transient routing failures up to
// maxAttempts times. Terminal failure kinds (NO_ROUTE, TIMEOUT,
// INVOICE_ALREADY_PAID, INCORRECT_PAYMENT_DETAILS) are not retried.
func (a *Adapter) PayInvoice(ctx context.Context, paymentHash [32]byte,
	invoice string, maxFeeMsat uint64) ([32]byte, error) {

	a.mu.Lock()
	if _, exists := a.inFlight[paymentHash]; exists {
		a.mu.Unlock()
		return [32]byte{}, boltzerr.ErrAlreadyBroadcasting
	}
	payment := &pendingPayment{
		preimage: make(chan [32]byte, 1),
		err:      make(chan error, 1),
	}
	a.inFlight[paymentHash] = payment
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		delete(a.inFlight, paymentHash)
		a.mu.Unlock()
	}()

	var (
		preimage [32]byte
		lastErr  error
	)

	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		log.Debugf("paying invoice for hash %x, attempt %d/%d",
			paymentHash, attempt, a.maxAttempts)

		preimage, lastErr = a.client.PayInvoice(ctx, invoice, maxFeeMsat)
		if lastErr == nil {
			a.events <- Event{Kind: EventInvoicePaid, PaymentHash: paymentHash, Preimage: preimage}
			return preimage, nil
		}

		if !isTransient(lastErr) {
			break
		}

		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt = a.maxAttempts
		case <-time.After(backoff(attempt)):
		}
	}

	a.events <- Event{Kind: EventInvoiceFailedToPay, PaymentHash: paymentHash, Err: lastErr}
	return [32]byte{}, lastErr
}

// isTransient reports whether err is worth retrying. Payment-kind domain
// errors (NO_ROUTE, TIMEOUT, INVOICE_ALREADY_PAID,
// INCORRECT_PAYMENT_DETAILS) are terminal; anything else -- connection
// drops, context deadline on the RPC itself -- is assumed transient.
func isTransient(err error) bool {
	switch err {
	case boltzerr.ErrNoRoute, boltzerr.ErrPaymentTimeout,
		boltzerr.ErrInvoiceAlreadyPaid, boltzerr.ErrIncorrectPaymentDetails:
		return false
	default:
		return true
	}
}

func backoff(attempt int) time.Duration {
	return time.Duration(attempt) * 50 * time.Millisecond
}

// AddHoldInvoice creates a hold invoice gated on paymentHash, which the
// service only settles once it independently observes the matching
// on-chain claim (the reverse-swap flow).
func (a *Adapter) AddHoldInvoice(ctx context.Context, paymentHash [32]byte,
	amountMsat uint64, expiry time.Duration, description string) (string, error) {

	return a.client.AddHoldInvoice(ctx, paymentHash, amountMsat, expiry, description)
}

// SettleInvoice releases a held HTLC by revealing preimage.
func (a *Adapter) SettleInvoice(ctx context.Context, preimage [32]byte) error {
	if err := a.client.SettleInvoice(ctx, preimage); err != nil {
		return err
	}
	a.events <- Event{Kind: EventInvoiceSettled}
	return nil
}

// CancelInvoice releases a held HTLC without paying it.
func (a *Adapter) CancelInvoice(ctx context.Context, paymentHash [32]byte) error {
	return a.client.CancelInvoice(ctx, paymentHash)
}

// Start begins forwarding htlc.accepted notifications from the underlying
// Client's SubscribeInvoiceAccepted stream onto Events. It blocks until ctx
// is canceled or the subscription terminates.
func (a *Adapter) Start(ctx context.Context) error {
	accepted, err := a.client.SubscribeInvoiceAccepted(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case paymentHash, ok := <-accepted:
			if !ok {
				return nil
			}
			a.events <- Event{Kind: EventHTLCAccepted, PaymentHash: paymentHash}
		}
	}
}
