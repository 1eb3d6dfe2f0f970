package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/apache/pulsar-client-go/pulsar"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// PulsarTransport carries events over Apache Pulsar. Producers are cached
// per channel; every subscription gets its own exclusive consumer so
// fan-out stays per-connection.
type PulsarTransport struct {
	client pulsar.Client

	mu        sync.Mutex
	producers map[string]pulsar.Producer
}

func NewPulsarTransport(url string) (*PulsarTransport, error) {
	client, err := pulsar.NewClient(pulsar.ClientOptions{URL: url})
	if err != nil {
		return nil, err
	}

	return &PulsarTransport{
		client:    client,
		producers: make(map[string]pulsar.Producer),
	}, nil
}

func (t *PulsarTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	producer, err := t.producer(channel)
	if err != nil {
		return err
	}

	_, err = producer.Send(ctx, &pulsar.ProducerMessage{Payload: payload})
	return err
}

func (t *PulsarTransport) producer(channel string) (pulsar.Producer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if producer, ok := t.producers[channel]; ok {
		return producer, nil
	}

	producer, err := t.client.CreateProducer(pulsar.ProducerOptions{Topic: channel})
	if err != nil {
		return nil, err
	}

	t.producers[channel] = producer
	return producer, nil
}

func (t *PulsarTransport) Subscribe(ctx context.Context, channel string) (TransportSub, error) {
	name, err := gonanoid.New()
	if err != nil {
		return nil, err
	}

	consumer, err := t.client.Subscribe(pulsar.ConsumerOptions{
		Topic:            channel,
		SubscriptionName: name,
		Type:             pulsar.Exclusive,
	})
	if err != nil {
		return nil, err
	}

	return &pulsarSub{consumer: consumer}, nil
}

func (t *PulsarTransport) Close() error {
	t.mu.Lock()
	for channel, producer := range t.producers {
		producer.Close()
		delete(t.producers, channel)
	}
	t.mu.Unlock()

	t.client.Close()
	return nil
}

type pulsarSub struct {
	consumer pulsar.Consumer
}

func (s *pulsarSub) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	receiveCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := s.consumer.Receive(receiveCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, ErrReceiveTimeout
		}
		return nil, err
	}

	s.consumer.Ack(msg)
	return msg.Payload(), nil
}

func (s *pulsarSub) Close() error {
	s.consumer.Close()
	return nil
}
