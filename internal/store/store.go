// Package store holds the in-memory ticket collection shared by the refresh
// cycle, the ticket actions and every read view.
package store

import (
	"errors"
	"fmt"
	"sync"

	"ticketdesk/internal/domain"
)

var (
	ErrNotFound       = errors.New("ticket not found")
	ErrHistoryRewrite = errors.New("ticket messages are append-only")
	// ErrImmutableField rejects changes to the id, sender or creation time
	// of a fetched ticket.
	ErrImmutableField = errors.New("ticket field is immutable")
)

// Store is the single source of truth for tickets during a session. Detail
// views read through Get rather than keeping their own copy.
type Store struct {
	mu      sync.RWMutex
	tickets []domain.Ticket
	index   map[int]int
}

func New() *Store {
	return &Store{index: map[int]int{}}
}

// Replace swaps the whole ticket list for a freshly fetched one. Duplicate ids
// collapse onto the first position with the later payload.
func (s *Store) Replace(tickets []domain.Ticket) {
	next := make([]domain.Ticket, 0, len(tickets))
	index := make(map[int]int, len(tickets))
	for _, t := range tickets {
		if i, ok := index[t.ID]; ok {
			next[i] = t.Clone()
			continue
		}
		index[t.ID] = len(next)
		next = append(next, t.Clone())
	}
	s.mu.Lock()
	s.tickets = next
	s.index = index
	s.mu.Unlock()
}

// All returns a copy of every ticket in fetch order.
func (s *Store) All() []domain.Ticket {
	return s.List(domain.FilterAll, "")
}

// List returns the tickets matching both the status bucket and the search query.
func (s *Store) List(filter domain.Filter, query string) []domain.Ticket {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Ticket, 0, len(s.tickets))
	for _, t := range s.tickets {
		if !domain.MatchesQuery(t, query) || !filter.Matches(t) {
			continue
		}
		out = append(out, t.Clone())
	}
	return out
}

func (s *Store) Get(id int) (domain.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return domain.Ticket{}, fmt.Errorf("ticket %d: %w", id, ErrNotFound)
	}
	return s.tickets[i].Clone(), nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tickets)
}

func (s *Store) Counts() domain.Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.CountTickets(s.tickets)
}

// Update applies fn to a copy of the ticket and commits it only when fn
// succeeds, the identity fields are untouched and the existing message
// history is preserved.
func (s *Store) Update(id int, fn func(*domain.Ticket) error) (domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return domain.Ticket{}, fmt.Errorf("ticket %d: %w", id, ErrNotFound)
	}
	current := s.tickets[i]
	next := current.Clone()
	if err := fn(&next); err != nil {
		return current.Clone(), err
	}
	switch {
	case next.ID != current.ID:
		return current.Clone(), fmt.Errorf("ticket %d: id: %w", id, ErrImmutableField)
	case next.Sender != current.Sender:
		return current.Clone(), fmt.Errorf("ticket %d: sender: %w", id, ErrImmutableField)
	case next.Created != current.Created:
		return current.Clone(), fmt.Errorf("ticket %d: created: %w", id, ErrImmutableField)
	}
	if !extends(current.Messages, next.Messages) {
		return current.Clone(), fmt.Errorf("ticket %d: %w", id, ErrHistoryRewrite)
	}
	s.tickets[i] = next
	return next.Clone(), nil
}

func extends(prev, next []domain.Message) bool {
	if len(next) < len(prev) {
		return false
	}
	for i := range prev {
		if prev[i] != next[i] {
			return false
		}
	}
	return true
}
