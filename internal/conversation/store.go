// Package conversation tracks each contact's order conversation and decides how to answer
// their replies.
package conversation

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Stage is the lifecycle stage of a conversation, derived from store membership.
type Stage string

const (
	// StageNoPending means no order is waiting for this identity.
	StageNoPending Stage = "no_pending"
	// StageAwaitingDecision means an order is pending but the menu has not been delivered.
	StageAwaitingDecision Stage = "awaiting_decision"
	// StageMenuShown means an order is pending and the confirmation menu was delivered.
	StageMenuShown Stage = "menu_shown"
	// StageCompleted means the user chose an option; replies are ignored until the next order.
	StageCompleted Stage = "completed"
)

// PendingOrder is the payment link and price waiting for the user's confirmation.
type PendingOrder struct {
	PaymentLink string
	Price       decimal.Decimal
}

// Store holds per-identity conversation state in memory. It is safe for concurrent use, but
// multi-step transitions must be serialized per identity by the caller.
type Store struct {
	mu        sync.RWMutex
	pending   map[string]PendingOrder
	sentMenu  map[string]struct{}
	completed map[string]struct{}
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		pending:   make(map[string]PendingOrder),
		sentMenu:  make(map[string]struct{}),
		completed: make(map[string]struct{}),
	}
}

// SetPending stores the pending order for id, replacing any previous one.
// Menu and completion flags are left untouched.
func (s *Store) SetPending(id string, order PendingOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[id] = order
}

// GetPending returns the pending order for id, if any.
func (s *Store) GetPending(id string) (PendingOrder, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.pending[id]
	return order, ok
}

// ClearPending removes the pending order and the menu flag for id.
func (s *Store) ClearPending(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
	delete(s.sentMenu, id)
}

// MarkSentMenu records that the confirmation menu was delivered to id.
func (s *Store) MarkSentMenu(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentMenu[id] = struct{}{}
}

// HasSentMenu reports whether the confirmation menu was delivered to id.
func (s *Store) HasSentMenu(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sentMenu[id]
	return ok
}

// MarkCompleted latches id as completed.
func (s *Store) MarkCompleted(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed[id] = struct{}{}
}

// IsCompleted reports whether id has completed its decision.
func (s *Store) IsCompleted(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.completed[id]
	return ok
}

// Reset forgets everything about id. A new order always starts from here.
func (s *Store) Reset(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
	delete(s.sentMenu, id)
	delete(s.completed, id)
}

// Stage returns the lifecycle stage of id.
func (s *Store) Stage(id string) Stage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.completed[id]; ok {
		return StageCompleted
	}
	if _, ok := s.pending[id]; !ok {
		return StageNoPending
	}
	if _, ok := s.sentMenu[id]; ok {
		return StageMenuShown
	}
	return StageAwaitingDecision
}

// Counts returns the number of identities per stage.
func (s *Store) Counts() map[Stage]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := map[Stage]int{StageCompleted: len(s.completed)}
	for id := range s.pending {
		if _, ok := s.completed[id]; ok {
			continue
		}
		if _, ok := s.sentMenu[id]; ok {
			counts[StageMenuShown]++
		} else {
			counts[StageAwaitingDecision]++
		}
	}
	return counts
}
