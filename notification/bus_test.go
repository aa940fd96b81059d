package notification

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus(prometheus.NewRegistry())
	bus.Start()
	defer bus.Stop()

	subA, unsubA := bus.Subscribe()
	defer unsubA()
	subB, unsubB := bus.Subscribe()
	defer unsubB()

	bus.Publish(Event{Kind: KindSwapUpdate, SwapID: "abc", Status: "transaction.mempool"})

	for _, sub := range []<-chan Event{subA, subB} {
		select {
		case ev := <-sub:
			require.Equal(t, "abc", ev.SwapID)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event delivery")
		}
	}
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(prometheus.NewRegistry())
	bus.Start()
	defer bus.Stop()

	sub, unsubscribe := bus.Subscribe()
	unsubscribe()

	bus.Publish(Event{Kind: KindSwapSuccess, SwapID: "xyz"})

	_, ok := <-sub
	require.False(t, ok, "channel should be closed after unsubscribe")
}

func TestBusStopClosesAllSubscribers(t *testing.T) {
	bus := NewBus(prometheus.NewRegistry())
	bus.Start()

	sub, _ := bus.Subscribe()
	bus.Stop()

	select {
	case _, ok := <-sub:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscriber channel to close")
	}
}
