package broker

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/loqui/pulse/internal/metrics"
	"github.com/loqui/pulse/internal/sse"
)

const (
	pollTimeout = time.Second
	pollYield   = 10 * time.Millisecond
	queueSize   = 64
)

// envelope is the wire form of an event on the transport.
type envelope struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

// Subscription binds a channel to one delivery queue. It is owned by the
// session that created it; the broker keeps only a registry entry.
type Subscription struct {
	channel string
	queue   chan *sse.Event
	cancel  context.CancelFunc
	done    chan struct{}
}

func (s *Subscription) Events() <-chan *sse.Event {
	return s.queue
}

// Broker routes published events to subscriber queues through the transport,
// so a publish in any process reaches subscriptions held anywhere.
type Broker struct {
	transport Transport

	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
}

func New(transport Transport) *Broker {
	return &Broker{
		transport: transport,
		subs:      make(map[string]map[*Subscription]struct{}),
	}
}

// Publish serializes the event and hands it to the transport. Transport
// failures are logged and returned, but callers on the write path treat
// publishing as fire-and-forget.
func (b *Broker) Publish(ctx context.Context, channel string, event *sse.Event) error {
	payload, err := json.Marshal(envelope{Event: event.Name, Data: event.Data})
	if err != nil {
		return err
	}

	if err := b.transport.Publish(ctx, channel, payload); err != nil {
		log.Printf("broker: publish to %s failed: %v", channel, err)
		metrics.EventsPublished.WithLabelValues("error").Inc()
		return err
	}

	metrics.EventsPublished.WithLabelValues("ok").Inc()
	return nil
}

// Subscribe allocates a delivery queue, registers it and starts a listener
// bound to the channel. It returns once the transport has confirmed the
// subscription, so events published afterwards are not missed.
func (b *Broker) Subscribe(channel string) (*Subscription, error) {
	ctx, cancel := context.WithCancel(context.Background())

	transportSub, err := b.transport.Subscribe(ctx, channel)
	if err != nil {
		cancel()
		return nil, err
	}

	sub := &Subscription{
		channel: channel,
		queue:   make(chan *sse.Event, queueSize),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	set, ok := b.subs[channel]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[channel] = set
		metrics.ChannelsActive.Inc()
	}
	set[sub] = struct{}{}
	b.mu.Unlock()

	metrics.SubscribersActive.Inc()

	go b.listen(ctx, transportSub, sub)

	log.Printf("broker: subscribed to channel %s", channel)
	return sub, nil
}

// Unsubscribe stops the subscription's listener and removes its registry
// entry. It is idempotent; unsubscribing an already removed subscription is
// a no-op.
func (b *Broker) Unsubscribe(channel string, sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	set, ok := b.subs[channel]
	if !ok {
		b.mu.Unlock()
		return
	}
	if _, ok := set[sub]; !ok {
		b.mu.Unlock()
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(b.subs, channel)
		metrics.ChannelsActive.Dec()
	}
	b.mu.Unlock()

	sub.cancel()
	<-sub.done

	metrics.SubscribersActive.Dec()
	log.Printf("broker: unsubscribed from channel %s", channel)
}

// Close stops every listener and releases the transport.
func (b *Broker) Close() {
	b.mu.Lock()
	remaining := make([]*Subscription, 0)
	for channel, set := range b.subs {
		for sub := range set {
			remaining = append(remaining, sub)
		}
		delete(b.subs, channel)
		metrics.ChannelsActive.Dec()
	}
	b.mu.Unlock()

	for _, sub := range remaining {
		sub.cancel()
		<-sub.done
		metrics.SubscribersActive.Dec()
	}

	if err := b.transport.Close(); err != nil {
		log.Printf("broker: transport close: %v", err)
	}
}

// Subscribers reports the number of live subscriptions on a channel.
func (b *Broker) Subscribers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}

// Channels reports the number of channels with at least one subscription.
func (b *Broker) Channels() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// listen polls the transport in short slices so cancellation is observed
// promptly, and forwards each decoded event onto the delivery queue.
// Malformed payloads and transport errors are logged and absorbed; the loop
// runs until the subscription is cancelled.
func (b *Broker) listen(ctx context.Context, transportSub TransportSub, sub *Subscription) {
	defer close(sub.done)
	defer func() {
		if err := transportSub.Close(); err != nil {
			log.Printf("broker: closing listener on %s: %v", sub.channel, err)
		}
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		payload, err := transportSub.Receive(ctx, pollTimeout)
		switch {
		case err == nil:
			b.forward(sub, payload)
		case errors.Is(err, ErrReceiveTimeout):
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return
		default:
			log.Printf("broker: listener on %s: %v", sub.channel, err)
			metrics.TransportErrors.Inc()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(pollYield):
		}
	}
}

func (b *Broker) forward(sub *Subscription, payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		log.Printf("broker: dropping malformed payload on %s: %v", sub.channel, err)
		metrics.EventsDropped.WithLabelValues("malformed").Inc()
		return
	}

	event := &sse.Event{Name: env.Event, Data: env.Data}
	if event.Name == "" {
		event.Name = sse.EventMessage
	}

	select {
	case sub.queue <- event:
		metrics.EventsDelivered.Inc()
	default:
		log.Printf("broker: queue full on %s, dropping event", sub.channel)
		metrics.EventsDropped.WithLabelValues("queue_full").Inc()
	}
}
