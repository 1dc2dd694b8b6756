package memory

import (
	"context"
	"sync"
	"time"

	"github.com/aescanero/kanban-live/pkg/domain"
	"github.com/aescanero/kanban-live/pkg/ports"
)

// ActivityStore implements ActivityStore using an in-memory slice.
// This is for testing and single-process development only.
type ActivityStore struct {
	entries []*domain.ActivityEntry
	byKey   map[string]*domain.ActivityEntry
	nextID  int64
	now     func() time.Time
	failN   int
	failErr error
	mu      sync.RWMutex
}

// NewActivityStore creates a new in-memory activity store
func NewActivityStore() *ActivityStore {
	return &ActivityStore{
		byKey: make(map[string]*domain.ActivityEntry),
		now:   time.Now,
	}
}

// FailNext makes the next n Append calls return err
func (s *ActivityStore) FailNext(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failN = n
	s.failErr = err
}

// Append persists entry (ports.ActivityStore interface)
func (s *ActivityStore) Append(ctx context.Context, entry *domain.ActivityEntry) (*domain.ActivityEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failN > 0 {
		s.failN--
		return nil, s.failErr
	}

	if entry.DedupKey != "" {
		if existing, ok := s.byKey[entry.DedupKey]; ok {
			dup := *existing
			return &dup, ports.ErrDuplicate
		}
	}

	s.nextID++
	saved := *entry
	saved.ID = s.nextID
	saved.CreatedAt = s.now().UTC()

	s.entries = append(s.entries, &saved)
	if saved.DedupKey != "" {
		s.byKey[saved.DedupKey] = &saved
	}

	out := saved
	return &out, nil
}

// Recent returns up to limit entries, newest first (ports.ActivityStore interface)
func (s *ActivityStore) Recent(ctx context.Context, limit int) ([]*domain.ActivityEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 0 {
		limit = 0
	}
	result := make([]*domain.ActivityEntry, 0, min(limit, len(s.entries)))
	for i := len(s.entries) - 1; i >= 0 && len(result) < limit; i-- {
		entry := *s.entries[i]
		result = append(result, &entry)
	}
	return result, nil
}

// Count returns the number of stored entries
func (s *ActivityStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close is a no-op (ports.ActivityStore interface)
func (s *ActivityStore) Close() error {
	return nil
}

// RecentCache implements RecentActivity with a capped slice
type RecentCache struct {
	views []domain.ActivityView
	limit int
	mu    sync.RWMutex
}

// NewRecentCache creates a cache holding at most limit views
func NewRecentCache(limit int) *RecentCache {
	if limit < 1 {
		limit = 1
	}
	return &RecentCache{limit: limit}
}

// Push prepends view (ports.RecentActivity interface)
func (c *RecentCache) Push(ctx context.Context, view domain.ActivityView) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.views = append([]domain.ActivityView{view}, c.views...)
	if len(c.views) > c.limit {
		c.views = c.views[:c.limit]
	}
	return nil
}

// List returns up to limit views, newest first (ports.RecentActivity interface)
func (c *RecentCache) List(ctx context.Context, limit int) ([]domain.ActivityView, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if limit < 1 || limit > len(c.views) {
		limit = len(c.views)
	}
	out := make([]domain.ActivityView, limit)
	copy(out, c.views[:limit])
	return out, nil
}
