package notification

import (
	"slices"
	"sync"
	"time"
)

// ActiveStore holds the currently active notifications keyed by hash code.
// Implementations return copies so callers never share stored state.
type ActiveStore interface {
	Save(n *Notification) error
	Get(hashCode string) (*Notification, bool)
	Delete(hashCode string) (*Notification, bool)
	List(filter *FilterOptions) []*Notification
	Count(filter *FilterOptions) int
	Expired(now time.Time) []*Notification
}

// FilterOptions narrows List and Count. The zero value matches everything.
type FilterOptions struct {
	Bundle        string
	UID           int32 // only applied when Bundle is set and UID is non-zero
	RemovableOnly bool
	Limit         int
	Offset        int
}

func (f *FilterOptions) matches(n *Notification) bool {
	if f == nil {
		return true
	}
	if f.Bundle != "" {
		if n.Request.CreatorBundle != f.Bundle {
			return false
		}
		if f.UID != 0 && n.Request.CreatorUID != f.UID {
			return false
		}
	}
	if f.RemovableOnly && n.Request.IsUnremovable {
		return false
	}
	return true
}

// InMemoryStore is a thread-safe ActiveStore.
type InMemoryStore struct {
	mu            sync.RWMutex
	notifications map[string]*Notification
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		notifications: make(map[string]*Notification),
	}
}

// Save inserts or replaces a notification by hash code.
func (s *InMemoryStore) Save(n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications[n.HashCode()] = n.Clone()
	return nil
}

// Get returns a copy of the notification with the given hash code.
func (s *InMemoryStore) Get(hashCode string) (*Notification, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notifications[hashCode]
	if !ok {
		return nil, false
	}
	return n.Clone(), true
}

// Delete removes and returns the notification with the given hash code.
func (s *InMemoryStore) Delete(hashCode string) (*Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[hashCode]
	if !ok {
		return nil, false
	}
	delete(s.notifications, hashCode)
	return n, true
}

// List returns matching notifications in posting order.
func (s *InMemoryStore) List(filter *FilterOptions) []*Notification {
	s.mu.RLock()
	results := make([]*Notification, 0, len(s.notifications))
	for _, n := range s.notifications {
		if filter.matches(n) {
			results = append(results, n.Clone())
		}
	}
	s.mu.RUnlock()

	sortBySequence(results)

	if filter != nil {
		if filter.Offset >= len(results) {
			return []*Notification{}
		}
		results = results[filter.Offset:]
		if filter.Limit > 0 && len(results) > filter.Limit {
			results = results[:filter.Limit]
		}
	}

	return results
}

// Count returns the number of matching notifications.
func (s *InMemoryStore) Count(filter *FilterOptions) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if filter == nil {
		return len(s.notifications)
	}
	count := 0
	for _, n := range s.notifications {
		if filter.matches(n) {
			count++
		}
	}
	return count
}

// Expired returns notifications whose auto-delete time is at or before now.
func (s *InMemoryStore) Expired(now time.Time) []*Notification {
	s.mu.RLock()
	var results []*Notification
	for _, n := range s.notifications {
		deadline := n.Request.AutoDeletedTime
		if !deadline.IsZero() && !deadline.After(now) {
			results = append(results, n.Clone())
		}
	}
	s.mu.RUnlock()

	sortBySequence(results)
	return results
}

func sortBySequence(ns []*Notification) {
	slices.SortFunc(ns, func(a, b *Notification) int {
		switch {
		case a.Sequence < b.Sequence:
			return -1
		case a.Sequence > b.Sequence:
			return 1
		default:
			return 0
		}
	})
}
