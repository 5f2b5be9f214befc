package repair

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a message is not outstanding
var ErrNotFound = errors.New("repair message not found")

// Store keeps outstanding messages until they are acknowledged
type Store interface {
	// Put inserts or replaces a message
	Put(ctx context.Context, msg *Message) error

	// Get returns an outstanding message or ErrNotFound
	Get(ctx context.Context, id uuid.UUID) (*Message, error)

	// Remove drops a message; removing an absent message is not an error
	Remove(ctx context.Context, id uuid.UUID) error

	// Due returns up to limit messages whose deadline is at or before now,
	// earliest deadline first
	Due(ctx context.Context, now time.Time, limit int) ([]*Message, error)

	// RecordAttempt counts a failed delivery and moves the deadline to retryAt,
	// so messages that keep failing do not hold the head of the due queue. The
	// message stays outstanding.
	RecordAttempt(ctx context.Context, id uuid.UUID, lastErr string, retryAt time.Time) error

	// Count returns the number of outstanding messages
	Count(ctx context.Context) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// MemoryStore is a process-local Store. Messages do not survive a restart.
type MemoryStore struct {
	mu       sync.Mutex
	messages map[uuid.UUID]*Message
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{messages: make(map[uuid.UUID]*Message)}
}

func (s *MemoryStore) Put(_ context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ID] = msg.clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return msg.clone(), nil
}

func (s *MemoryStore) Remove(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, id)
	return nil
}

func (s *MemoryStore) Due(_ context.Context, now time.Time, limit int) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]*Message, 0)
	for _, msg := range s.messages {
		if msg.Overdue(now) {
			due = append(due, msg.clone())
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].Deadline.Before(due[j].Deadline) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *MemoryStore) RecordAttempt(_ context.Context, id uuid.UUID, lastErr string, retryAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil
	}
	msg.Attempts++
	msg.LastError = lastErr
	msg.Deadline = retryAt
	return nil
}

func (s *MemoryStore) Count(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.messages)), nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
