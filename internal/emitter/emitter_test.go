package emitter_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loqui/pulse/internal/emitter"
	"github.com/loqui/pulse/internal/sse"
	"github.com/loqui/pulse/internal/store"
)

type publishRecord struct {
	channel string
	event   *sse.Event
}

type fakePublisher struct {
	mu      sync.Mutex
	records []publishRecord
	err     error
}

func (p *fakePublisher) Publish(ctx context.Context, channel string, event *sse.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, publishRecord{channel: channel, event: event})
	return p.err
}

func (p *fakePublisher) published() []publishRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishRecord(nil), p.records...)
}

func testMessage() (*store.DirectMessage, *store.User, *store.User) {
	sender := &store.User{ID: "7", FullName: "Ada L", AvatarURL: "https://cdn/a.png"}
	recipient := &store.User{ID: "42", FullName: "Bob M"}
	message := &store.DirectMessage{
		ID:          "m-1",
		SenderID:    sender.ID,
		RecipientID: recipient.ID,
		Content:     "hello",
		MessageType: "text",
		CreatedAt:   time.Date(2026, 2, 14, 9, 30, 0, 0, time.UTC),
	}
	return message, sender, recipient
}

func runEmitter(t *testing.T, e *emitter.Emitter) context.CancelFunc {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	go e.Run(ctx)
	t.Cleanup(func() {
		cancel()
		e.Wait()
	})
	return cancel
}

func TestMessageFansOutToBothChannels(t *testing.T) {
	publisher := &fakePublisher{}
	e := emitter.New(publisher)
	runEmitter(t, e)

	message, sender, recipient := testMessage()
	e.MessageCreated(message, sender, recipient)

	require.Eventually(t, func() bool {
		return len(publisher.published()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	records := publisher.published()
	require.Equal(t, "user-7", records[0].channel)
	require.Equal(t, "user-42", records[1].channel)

	// Same payload on both channels.
	require.Equal(t, records[0].event, records[1].event)

	data := records[0].event.Data
	require.Equal(t, sse.EventMessage, records[0].event.Name)
	require.Equal(t, "m-1", data["id"])
	require.Equal(t, "hello", data["content"])
	require.Equal(t, "7", data["sender_id"])
	require.Equal(t, "Ada L", data["sender_name"])
	require.Equal(t, "https://cdn/a.png", data["sender_avatar"])
	require.Equal(t, "42", data["recipient_id"])
	require.Equal(t, "2026-02-14T09:30:00Z", data["created_at"])
	require.Equal(t, false, data["is_read"])
	require.Equal(t, "text", data["message_type"])
}

func TestPublishFailureIsAbsorbed(t *testing.T) {
	publisher := &fakePublisher{err: errors.New("transport down")}
	e := emitter.New(publisher)
	runEmitter(t, e)

	message, sender, recipient := testMessage()
	e.MessageCreated(message, sender, recipient)

	// Both publishes are still attempted; the hook caller never sees the error.
	require.Eventually(t, func() bool {
		return len(publisher.published()) == 2
	}, 2*time.Second, 10*time.Millisecond)
}
