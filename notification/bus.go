package notification

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Kind enumerates the event types the stream gateway (HTTP/EventSource
// layer, outside this core) relays to subscribed clients.
type Kind string

const (
	KindSwapUpdate  Kind = "swap.update"
	KindSwapSuccess Kind = "swap.success"
	KindSwapFailure Kind = "swap.failure"
)

// Event is a single occurrence the nursery publishes after persisting the
// state change it describes; see Bus.Publish for the write-before-emit
// ordering contract. TransactionID and Preimage are populated only for the
// transitions that carry them; Reason is populated only on swap.failure.
type Event struct {
	Kind   Kind
	SwapID string
	Status string

	IsReverse bool

	TransactionID string
	Preimage      string

	Reason string
}

// Bus is a fan-out event publisher modeled on lnd's dispatcher
// goroutines (e.g. the breach arbiter's contractObserver): a single
// incoming channel is drained by one goroutine, which forwards each event
// to every currently registered subscriber without blocking on a slow one.
type Bus struct {
	mu          sync.Mutex
	subscribers map[int]chan Event
	nextID      int

	incoming chan Event
	quit     chan struct{}

	eventsPublished *prometheus.CounterVec
}

// NewBus constructs a Bus and registers its Prometheus counters against
// reg. Start must be called to begin dispatching.
func NewBus(reg prometheus.Registerer) *Bus {
	eventsPublished := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "boltzd",
		Subsystem: "notification",
		Name:      "events_published_total",
		Help:      "Total number of swap events published to the event bus, by kind.",
	}, []string{"kind"})

	if reg != nil {
		reg.MustRegister(eventsPublished)
	}

	return &Bus{
		subscribers:     make(map[int]chan Event),
		incoming:        make(chan Event, 256),
		quit:            make(chan struct{}),
		eventsPublished: eventsPublished,
	}
}

// Start begins the dispatcher goroutine. Call Stop to tear it down.
func (b *Bus) Start() {
	go b.dispatch()
}

// Stop shuts the dispatcher down and closes every subscriber channel.
func (b *Bus) Stop() {
	close(b.quit)
}

func (b *Bus) dispatch() {
	for {
		select {
		case <-b.quit:
			b.mu.Lock()
			for _, sub := range b.subscribers {
				close(sub)
			}
			b.subscribers = nil
			b.mu.Unlock()
			return

		case event := <-b.incoming:
			b.eventsPublished.WithLabelValues(string(event.Kind)).Inc()

			b.mu.Lock()
			for _, sub := range b.subscribers {
				select {
				case sub <- event:
				default:
					log.Warnf("subscriber channel full, dropping %s event for swap %s",
						event.Kind, event.SwapID)
				}
			}
			b.mu.Unlock()
		}
	}
}

// Publish enqueues event for delivery to every current subscriber.
// Callers -- the nursery -- must persist the state transition an event
// describes before calling Publish: a consumer seeing "claimed" before the
// repository durably records it would observe state the service can't yet
// reconstruct after a crash.
func (b *Bus) Publish(event Event) {
	select {
	case b.incoming <- event:
	case <-b.quit:
	}
}

// Subscribe registers a new subscriber and returns its event channel and an
// unsubscribe function.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	ch := make(chan Event, 32)
	b.subscribers[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(sub)
		}
	}

	return ch, unsubscribe
}
