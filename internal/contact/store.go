package contact

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"talkingrock/internal/pkg/id"
	"talkingrock/internal/pkg/storage"
)

// Message is a visitor message left for the site owner. Records are
// owner-readable only; the raw visitor IP is never stored.
type Message struct {
	ID             string `json:"id"`
	Timestamp      string `json:"timestamp"`
	Message        string `json:"message"`
	SenderName     string `json:"sender_name,omitempty"`
	SenderEmail    string `json:"sender_email,omitempty"`
	Context        string `json:"context,omitempty"`
	IPHash         string `json:"ip_hash,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// Store persists contact messages append-only, one object per message,
// through the configured storage backend. Writes are serialized behind a
// single writer lock.
type Store struct {
	mu      sync.Mutex
	backend storage.Storage

	// now is replaceable for tests
	now func() time.Time
}

// NewStore creates a contact store over a storage backend
func NewStore(backend storage.Storage) *Store {
	return &Store{
		backend: backend,
		now:     time.Now,
	}
}

// Save persists a new contact message and returns it with its id
func (s *Store) Save(ctx context.Context, msg Message) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	msg.ID = id.NewShort()
	msg.Timestamp = now.Format(time.RFC3339)

	data, err := json.MarshalIndent(msg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode contact message: %w", err)
	}

	key := fmt.Sprintf("%s_%s.json", now.Format("2006-01-02"), msg.ID)
	if err := s.backend.Put(ctx, key, data, "application/json"); err != nil {
		return nil, fmt.Errorf("failed to store contact message: %w", err)
	}

	log.Info().Str("message_id", msg.ID).Str("ip_hash", msg.IPHash).Msg("stored contact message")
	return &msg, nil
}

// ListRecent returns up to limit messages, newest day first. Within one
// day messages come in descending id order, which is not time order.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]Message, error) {
	keys, err := s.backend.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list contact messages: %w", err)
	}

	if limit <= 0 {
		limit = 50
	}

	messages := make([]Message, 0, limit)
	for _, key := range keys {
		if len(messages) >= limit {
			break
		}
		data, err := s.backend.Get(ctx, key)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("failed to read contact message")
			continue
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("failed to decode contact message")
			continue
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

// Get returns a message by id, or nil when not found
func (s *Store) Get(ctx context.Context, messageID string) (*Message, error) {
	keys, err := s.backend.List(ctx, "")
	if err != nil {
		return nil, err
	}

	suffix := "_" + messageID + ".json"
	for _, key := range keys {
		if len(key) >= len(suffix) && key[len(key)-len(suffix):] == suffix {
			data, err := s.backend.Get(ctx, key)
			if err != nil {
				return nil, err
			}
			var msg Message
			if err := json.Unmarshal(data, &msg); err != nil {
				return nil, err
			}
			return &msg, nil
		}
	}

	return nil, nil
}

// Count returns the number of stored messages
func (s *Store) Count(ctx context.Context) (int, error) {
	keys, err := s.backend.List(ctx, "")
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// SetClock replaces the store clock; test hook
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}
