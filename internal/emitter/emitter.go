package emitter

import (
	"context"
	"log"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/loqui/pulse/internal/channel"
	"github.com/loqui/pulse/internal/metrics"
	"github.com/loqui/pulse/internal/sse"
	"github.com/loqui/pulse/internal/store"
)

const jobQueueSize = 256

// Publisher is the slice of the broker the emitter needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, event *sse.Event) error
}

// messagePayload is the normalized event body clients receive for a new
// direct message.
type messagePayload struct {
	ID           string `mapstructure:"id"`
	Content      string `mapstructure:"content"`
	SenderID     string `mapstructure:"sender_id"`
	SenderName   string `mapstructure:"sender_name"`
	SenderAvatar string `mapstructure:"sender_avatar"`
	RecipientID  string `mapstructure:"recipient_id"`
	CreatedAt    string `mapstructure:"created_at"`
	IsRead       bool   `mapstructure:"is_read"`
	MessageType  string `mapstructure:"message_type"`
}

type job struct {
	channels []string
	event    *sse.Event
}

// Emitter turns data-layer writes into channel publishes. The hook enqueues
// onto a bounded queue and returns immediately, so the write path never
// blocks on broker I/O.
type Emitter struct {
	publisher Publisher
	jobs      chan job
	done      chan struct{}
}

func New(publisher Publisher) *Emitter {
	return &Emitter{
		publisher: publisher,
		jobs:      make(chan job, jobQueueSize),
		done:      make(chan struct{}),
	}
}

// Run drains the job queue until ctx is cancelled.
func (e *Emitter) Run(ctx context.Context) {
	defer close(e.done)

	for {
		select {
		case <-ctx.Done():
			return
		case j := <-e.jobs:
			for _, name := range j.channels {
				if err := e.publisher.Publish(ctx, name, j.event); err != nil {
					log.Printf("emitter: publish to %s failed: %v", name, err)
				}
			}
		}
	}
}

// Wait blocks until Run has exited.
func (e *Emitter) Wait() {
	<-e.done
}

// MessageCreated is the persistence on-create hook. The event fans out to
// the sender's and the recipient's channels so every open device of either
// party sees it.
func (e *Emitter) MessageCreated(message *store.DirectMessage, sender, recipient *store.User) {
	payload := messagePayload{
		ID:           message.ID,
		Content:      message.Content,
		SenderID:     sender.ID,
		SenderName:   sender.FullName,
		SenderAvatar: sender.AvatarURL,
		RecipientID:  recipient.ID,
		CreatedAt:    message.CreatedAt.Format(time.RFC3339),
		IsRead:       message.IsRead,
		MessageType:  message.MessageType,
	}

	var data map[string]any
	if err := mapstructure.Decode(&payload, &data); err != nil {
		log.Printf("emitter: encode message %s: %v", message.ID, err)
		return
	}

	j := job{
		channels: []string{channel.ForUser(sender.ID), channel.ForUser(recipient.ID)},
		event:    &sse.Event{Name: sse.EventMessage, Data: data},
	}

	select {
	case e.jobs <- j:
	default:
		log.Printf("emitter: queue full, dropping event for message %s", message.ID)
		metrics.EventsDropped.WithLabelValues("emitter_backlog").Inc()
	}
}
