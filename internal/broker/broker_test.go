package broker_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loqui/pulse/internal/broker"
	"github.com/loqui/pulse/internal/sse"
)

// fakeTransport delivers payloads in-process through buffered channels.
type fakeTransport struct {
	mu   sync.Mutex
	subs map[string][]*fakeSub
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{subs: make(map[string][]*fakeSub)}
}

func (t *fakeTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, sub := range t.subs[channel] {
		select {
		case sub.messages <- payload:
		default:
		}
	}
	return nil
}

func (t *fakeTransport) Subscribe(ctx context.Context, channel string) (broker.TransportSub, error) {
	sub := &fakeSub{messages: make(chan []byte, 16)}

	t.mu.Lock()
	t.subs[channel] = append(t.subs[channel], sub)
	t.mu.Unlock()

	return sub, nil
}

func (t *fakeTransport) Close() error {
	return nil
}

type fakeSub struct {
	messages chan []byte
}

func (s *fakeSub) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	select {
	case payload := <-s.messages:
		return payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, broker.ErrReceiveTimeout
	}
}

func (s *fakeSub) Close() error {
	return nil
}

func receiveEvent(t *testing.T, sub *broker.Subscription) *sse.Event {
	t.Helper()

	select {
	case event := <-sub.Events():
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
		return nil
	}
}

func TestPublishReachesSubscriber(t *testing.T) {
	b := broker.New(newFakeTransport())
	defer b.Close()

	sub, err := b.Subscribe("user-1")
	require.NoError(t, err)
	defer b.Unsubscribe("user-1", sub)

	err = b.Publish(context.Background(), "user-1", &sse.Event{
		Name: sse.EventMessage,
		Data: map[string]any{"content": "hello"},
	})
	require.NoError(t, err)

	event := receiveEvent(t, sub)
	require.Equal(t, sse.EventMessage, event.Name)
	require.Equal(t, "hello", event.Data["content"])
}

func TestPublishDoesNotCrossChannels(t *testing.T) {
	b := broker.New(newFakeTransport())
	defer b.Close()

	sub, err := b.Subscribe("user-1")
	require.NoError(t, err)
	defer b.Unsubscribe("user-1", sub)

	require.NoError(t, b.Publish(context.Background(), "user-2", &sse.Event{
		Name: sse.EventMessage,
		Data: map[string]any{"content": "not for you"},
	}))

	select {
	case event := <-sub.Events():
		t.Fatalf("unexpected event: %+v", event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := broker.New(newFakeTransport())
	defer b.Close()

	sub, err := b.Subscribe("user-1")
	require.NoError(t, err)

	b.Unsubscribe("user-1", sub)
	b.Unsubscribe("user-1", sub)

	require.Equal(t, 0, b.Subscribers("user-1"))
	require.Equal(t, 0, b.Channels())
}

func TestMalformedPayloadIsDropped(t *testing.T) {
	transport := newFakeTransport()
	b := broker.New(transport)
	defer b.Close()

	sub, err := b.Subscribe("user-1")
	require.NoError(t, err)
	defer b.Unsubscribe("user-1", sub)

	ctx := context.Background()
	require.NoError(t, transport.Publish(ctx, "user-1", []byte("{not json")))

	payload, err := json.Marshal(map[string]any{
		"event": "message",
		"data":  map[string]any{"content": "still alive"},
	})
	require.NoError(t, err)
	require.NoError(t, transport.Publish(ctx, "user-1", payload))

	event := receiveEvent(t, sub)
	require.Equal(t, "still alive", event.Data["content"])
}

func TestRegistryClearedAfterUnsubscribe(t *testing.T) {
	b := broker.New(newFakeTransport())
	defer b.Close()

	first, err := b.Subscribe("user-1")
	require.NoError(t, err)
	second, err := b.Subscribe("user-1")
	require.NoError(t, err)

	require.Equal(t, 2, b.Subscribers("user-1"))
	require.Equal(t, 1, b.Channels())

	b.Unsubscribe("user-1", first)
	require.Equal(t, 1, b.Subscribers("user-1"))
	require.Equal(t, 1, b.Channels())

	b.Unsubscribe("user-1", second)
	require.Equal(t, 0, b.Subscribers("user-1"))
	require.Equal(t, 0, b.Channels())
}

func TestConcurrentSubscribeUnsubscribe(t *testing.T) {
	b := broker.New(newFakeTransport())
	defer b.Close()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				sub, err := b.Subscribe("user-1")
				if err != nil {
					t.Errorf("subscribe: %v", err)
					return
				}
				b.Unsubscribe("user-1", sub)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 0, b.Subscribers("user-1"))
	require.Equal(t, 0, b.Channels())
}
