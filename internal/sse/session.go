package sse

import (
	"log"
	"net/http"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/loqui/pulse/internal/metrics"
)

const defaultHeartbeatInterval = 30 * time.Second

// Subscription is a live registration on a channel, backed by a delivery
// queue the session drains.
type Subscription interface {
	Events() <-chan *Event
}

// Broker is the slice of the pub/sub fabric a session needs.
type Broker interface {
	Subscribe(channel string) (Subscription, error)
	Unsubscribe(channel string, sub Subscription)
}

type SessionOptions struct {
	Broker            Broker
	Origin            string
	HeartbeatInterval time.Duration
}

// Session owns one streaming connection end to end: it opens the stream,
// drains its subscription queue, emits heartbeats on idle and always
// unsubscribes on the way out.
type Session struct {
	id      string
	channel string
	options SessionOptions
}

func NewSession(channel string, options SessionOptions) *Session {
	if options.HeartbeatInterval <= 0 {
		options.HeartbeatInterval = defaultHeartbeatInterval
	}

	id, err := gonanoid.New()
	if err != nil {
		id = channel
	}

	return &Session{
		id:      id,
		channel: channel,
		options: options,
	}
}

func (s *Session) Serve(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported.", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if s.options.Origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", s.options.Origin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}

	log.Printf("sse: session %s connected on %s", s.id, s.channel)

	if err := writeEvent(w, flusher, &Event{
		Name: EventConnectionEstablished,
		Data: map[string]any{"status": "connected", "channel": s.channel},
	}); err != nil {
		log.Printf("sse: session %s: open frame failed: %v", s.id, err)
		return
	}

	sub, err := s.options.Broker.Subscribe(s.channel)
	if err != nil {
		log.Printf("sse: session %s: subscribe failed: %v", s.id, err)
		s.writeError(w, flusher)
		return
	}
	// Every exit path below releases the subscription exactly once.
	defer s.options.Broker.Unsubscribe(s.channel, sub)

	s.stream(w, r, flusher, sub)

	log.Printf("sse: session %s closed on %s", s.id, s.channel)
}

func (s *Session) stream(w http.ResponseWriter, r *http.Request, flusher http.Flusher, sub Subscription) {
	idle := time.NewTimer(s.options.HeartbeatInterval)
	defer idle.Stop()

	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				return
			}

			if err := writeEvent(w, flusher, event); err != nil {
				// Client is gone; nothing left to tell it.
				log.Printf("sse: session %s: write failed: %v", s.id, err)
				return
			}

			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(s.options.HeartbeatInterval)

		case <-idle.C:
			if err := writeEvent(w, flusher, &Event{
				Name: EventHeartbeat,
				Data: map[string]any{"timestamp": time.Now().Format(time.RFC3339)},
			}); err != nil {
				log.Printf("sse: session %s: heartbeat failed: %v", s.id, err)
				return
			}
			metrics.Heartbeats.Inc()
			idle.Reset(s.options.HeartbeatInterval)

		case <-r.Context().Done():
			return
		}
	}
}

func (s *Session) writeError(w http.ResponseWriter, flusher http.Flusher) {
	_ = writeEvent(w, flusher, &Event{
		Name: EventError,
		Data: map[string]any{"message": "Connection error occurred"},
	})
}
