package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/kavindya12/soa-microservices-platform/internal/domain"
)

// Store maps a workflow id to the order payload last seen for it.
// Get returns (nil, nil) when the id is unknown or expired.
type Store interface {
	Get(ctx context.Context, id string) (*domain.WorkflowOrder, error)
	Put(ctx context.Context, order domain.WorkflowOrder) error
	Remove(ctx context.Context, id string) error
}

type memoryEntry struct {
	order     domain.WorkflowOrder
	expiresAt time.Time
}

// MemoryStore is a mutex-guarded in-process Store with per-entry TTL.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns a MemoryStore whose entries expire ttl after their last Put.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, entries: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*domain.WorkflowOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return nil, nil
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.entries, id)
		return nil, nil
	}
	order := entry.order
	if order.ShippingAddress != nil {
		addr := *order.ShippingAddress
		order.ShippingAddress = &addr
	}
	return &order, nil
}

// Put overwrites unconditionally.
func (s *MemoryStore) Put(ctx context.Context, order domain.WorkflowOrder) error {
	if order.ShippingAddress != nil {
		addr := *order.ShippingAddress
		order.ShippingAddress = &addr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[order.ID] = memoryEntry{order: order, expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

// Sweep drops expired entries and reports how many were removed.
func (s *MemoryStore) Sweep(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for id, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of stored entries, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
