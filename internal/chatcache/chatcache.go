// Package chatcache keeps a last-known copy of each ticket's recent messages.
// It is a degraded-mode fallback consulted only when the primary read path
// fails; it is never the source of truth. Entries are created on first write
// and must be cleared explicitly when a ticket is finished so a reused id can
// never resurface stale messages.
package chatcache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/peopledesk/ticketd/internal/domain"
)

// Store is the fallback cache contract.
type Store interface {
	Put(ctx context.Context, ticketID string, msgs []domain.Message) error
	Get(ctx context.Context, ticketID string) ([]domain.Message, error)
	Clear(ctx context.Context, ticketID string) error
}

const keyPrefix = "chat:recent:"

// RedisStore persists fallback entries in Redis with a TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore builds a Redis-backed store.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

type cachedMessage struct {
	ID        string    `json:"id"`
	TicketID  string    `json:"ticket_id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *RedisStore) Put(ctx context.Context, ticketID string, msgs []domain.Message) error {
	entries := make([]cachedMessage, 0, len(msgs))
	for _, msg := range msgs {
		entries = append(entries, cachedMessage(msg))
	}
	payload, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, keyPrefix+ticketID, payload, s.ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, ticketID string) ([]domain.Message, error) {
	payload, err := s.client.Get(ctx, keyPrefix+ticketID).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var entries []cachedMessage
	if err := json.Unmarshal(payload, &entries); err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(entries))
	for _, entry := range entries {
		msgs = append(msgs, domain.Message(entry))
	}
	domain.SortMessages(msgs)
	return msgs, nil
}

func (s *RedisStore) Clear(ctx context.Context, ticketID string) error {
	return s.client.Del(ctx, keyPrefix+ticketID).Err()
}

// MemoryStore is the in-process implementation used without Redis.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]domain.Message
}

// NewMemoryStore initializes an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]domain.Message)}
}

func (s *MemoryStore) Put(ctx context.Context, ticketID string, msgs []domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[ticketID] = append([]domain.Message(nil), msgs...)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, ticketID string) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs, ok := s.entries[ticketID]
	if !ok {
		return nil, nil
	}
	out := append([]domain.Message(nil), msgs...)
	domain.SortMessages(out)
	return out, nil
}

func (s *MemoryStore) Clear(ctx context.Context, ticketID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, ticketID)
	return nil
}
