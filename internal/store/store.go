package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	ErrNotFound    = errors.New("store: not found")
	ErrSelfMessage = errors.New("store: cannot send message to yourself")
	ErrNotFriends  = errors.New("store: users are not accepted friends")
)

type User struct {
	ID        string
	Name      string
	FullName  string
	Email     string
	AvatarURL string
}

type DirectMessage struct {
	ID          string
	SenderID    string
	RecipientID string
	Content     string
	MessageType string
	FileURL     string
	IsRead      bool
	CreatedAt   time.Time
}

// Store is the persistence collaborator: user lookup for the auth gate and
// the message write that feeds the real-time hook.
type Store struct {
	pool *pgxpool.Pool

	// OnMessageCreated fires after a direct message commits. Failures inside
	// the hook must never fail the write.
	OnMessageCreated func(message *DirectMessage, sender, recipient *User)
}

func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// FindUserBySubject resolves an identity-provider subject to a local user.
func (s *Store) FindUserBySubject(ctx context.Context, subject string) (*User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, full_name, email, avatar_url FROM users WHERE identity_id = $1`,
		subject)

	return scanUser(row)
}

func (s *Store) findUserByID(ctx context.Context, id string) (*User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, full_name, email, avatar_url FROM users WHERE id = $1`,
		id)

	return scanUser(row)
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Name, &u.FullName, &u.Email, &u.AvatarURL); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// acceptedFriends reports whether an accepted friendship exists between the
// two users, in either direction. Blocked or pending rows do not qualify.
func (s *Store) acceptedFriends(ctx context.Context, a, b string) (bool, error) {
	var accepted bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM friendships
			WHERE ((user1_id = $1 AND user2_id = $2) OR (user1_id = $2 AND user2_id = $1))
			AND lower(status) = 'accepted'
		)`,
		a, b).Scan(&accepted)
	if err != nil {
		return false, err
	}
	return accepted, nil
}

// CreateDirectMessage persists a direct message from the user behind
// senderSubject to recipientID and fires the on-create hook. The hook is
// best-effort: the committed write stands no matter what delivery does.
func (s *Store) CreateDirectMessage(ctx context.Context, senderSubject, recipientID, content, messageType, fileURL string) (*DirectMessage, error) {
	sender, err := s.FindUserBySubject(ctx, senderSubject)
	if err != nil {
		return nil, err
	}

	if sender.ID == recipientID {
		return nil, ErrSelfMessage
	}

	recipient, err := s.findUserByID(ctx, recipientID)
	if err != nil {
		return nil, err
	}

	accepted, err := s.acceptedFriends(ctx, sender.ID, recipient.ID)
	if err != nil {
		return nil, err
	}
	if !accepted {
		return nil, ErrNotFriends
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, err
	}

	message := &DirectMessage{
		ID:          id,
		SenderID:    sender.ID,
		RecipientID: recipient.ID,
		Content:     content,
		MessageType: messageType,
		FileURL:     fileURL,
		CreatedAt:   time.Now().UTC(),
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO direct_messages (id, sender_id, recipient_id, content, message_type, file_url, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		message.ID, message.SenderID, message.RecipientID, message.Content,
		message.MessageType, message.FileURL, message.IsRead, message.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: insert direct message: %w", err)
	}

	if s.OnMessageCreated != nil {
		s.OnMessageCreated(message, sender, recipient)
	} else {
		log.Printf("store: no on-create hook registered, message %s not broadcast", message.ID)
	}

	return message, nil
}
