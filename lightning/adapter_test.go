package lightning

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/boltz-exchange/boltzd/boltzerr"
)

type fakeClient struct {
	payResults []struct {
		preimage [32]byte
		err      error
	}
	callCount int

	acceptedCh chan [32]byte
}

func (f *fakeClient) PayInvoice(context.Context, string, uint64) ([32]byte, error) {
	result := f.payResults[f.callCount]
	f.callCount++
	return result.preimage, result.err
}

func (f *fakeClient) AddHoldInvoice(context.Context, [32]byte, uint64, time.Duration, string) (string, error) {
	return "lnbc1...", nil
}

func (f *fakeClient) SettleInvoice(context.Context, [32]byte) error { return nil }
func (f *fakeClient) CancelInvoice(context.Context, [32]byte) error { return nil }

func (f *fakeClient) SubscribeInvoiceAccepted(context.Context) (<-chan [32]byte, error) {
	return f.acceptedCh, nil
}

func TestAdapterRetriesTransientFailures(t *testing.T) {
	client := &fakeClient{
		payResults: []struct {
			preimage [32]byte
			err      error
		}{
			{err: boltzerr.ErrPaymentTimeout},
			{err: nil, preimage: [32]byte{9, 9, 9}},
		},
	}
	client.payResults[0].err = boltzerr.Wrap(boltzerr.DomainLightning, 99, boltzerr.KindTransientRPC, "connection reset", nil)

	adapter := NewAdapter(client)
	adapter.maxAttempts = 2

	preimage, err := adapter.PayInvoice(context.Background(), [32]byte{1}, "lnbc1...", 1000)
	require.NoError(t, err)
	require.Equal(t, [32]byte{9, 9, 9}, preimage)
	require.Equal(t, 2, client.callCount)
}

func TestAdapterDoesNotRetryTerminalFailures(t *testing.T) {
	client := &fakeClient{
		payResults: []struct {
			preimage [32]byte
			err      error
		}{
			{err: boltzerr.ErrNoRoute},
		},
	}

	adapter := NewAdapter(client)
	adapter.maxAttempts = 3

	_, err := adapter.PayInvoice(context.Background(), [32]byte{2}, "lnbc1...", 1000)
	require.ErrorIs(t, err, boltzerr.ErrNoRoute)
	require.Equal(t, 1, client.callCount)
}

func TestAdapterRejectsDuplicateInFlightPayment(t *testing.T) {
	client := &fakeClient{
		payResults: []struct {
			preimage [32]byte
			err      error
		}{
			{},
		},
	}
	adapter := NewAdapter(client)

	hash := [32]byte{3}
	adapter.mu.Lock()
	adapter.inFlight[hash] = &pendingPayment{
		preimage: make(chan [32]byte, 1),
		err:      make(chan error, 1),
	}
	adapter.mu.Unlock()

	_, err := adapter.PayInvoice(context.Background(), hash, "lnbc1...", 1000)
	require.ErrorIs(t, err, boltzerr.ErrAlreadyBroadcasting)
}

func TestAdapterForwardsHTLCAccepted(t *testing.T) {
	client := &fakeClient{acceptedCh: make(chan [32]byte, 1)}
	adapter := NewAdapter(client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = adapter.Start(ctx)
	}()

	client.acceptedCh <- [32]byte{4}

	select {
	case ev := <-adapter.Events():
		require.Equal(t, EventHTLCAccepted, ev.Kind)
		require.Equal(t, [32]byte{4}, ev.PaymentHash)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for htlc.accepted event")
	}
}
