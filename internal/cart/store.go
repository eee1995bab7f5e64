package cart

import (
	"context"
	"sync"

	"botikapos/backend/internal/domain"
)

// Store persists carts and the offline replay queue. Carts are single-owner
// (one cashier session) so the store needs no cross-session coordination
// beyond basic safety.
type Store interface {
	Save(ctx context.Context, cart domain.Cart) error
	Get(ctx context.Context, id string) (*domain.Cart, bool, error)
	Delete(ctx context.Context, id string) error

	Enqueue(ctx context.Context, pending domain.PendingCommit) error
	// Dequeue drains all pending commits for a terminal in FIFO order.
	Dequeue(ctx context.Context, terminalID string) ([]domain.PendingCommit, error)
}

// MemoryStore keeps carts in process memory. Used for tests and for
// deployments without Redis; carts then do not survive a process restart.
type MemoryStore struct {
	mu      sync.RWMutex
	carts   map[string]domain.Cart
	pending map[string][]domain.PendingCommit
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		carts:   make(map[string]domain.Cart),
		pending: make(map[string][]domain.PendingCommit),
	}
}

func (s *MemoryStore) Save(_ context.Context, cart domain.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.carts[cart.ID] = cloneCart(cart)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*domain.Cart, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cart, ok := s.carts[id]
	if !ok {
		return nil, false, nil
	}
	copied := cloneCart(cart)
	return &copied, true, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, id)
	return nil
}

func (s *MemoryStore) Enqueue(_ context.Context, pending domain.PendingCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[pending.TerminalID] = append(s.pending[pending.TerminalID], pending)
	return nil
}

func (s *MemoryStore) Dequeue(_ context.Context, terminalID string) ([]domain.PendingCommit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	queued := s.pending[terminalID]
	delete(s.pending, terminalID)
	return queued, nil
}

func cloneCart(cart domain.Cart) domain.Cart {
	copied := cart
	copied.Items = make([]domain.CartItem, len(cart.Items))
	copy(copied.Items, cart.Items)
	return copied
}
