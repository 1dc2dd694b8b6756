package client

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ListenerID identifies a registered listener for removal
type ListenerID uint64

type listener[T any] struct {
	id ListenerID
	fn func(T)
}

// registry maps event names to listeners in registration order
type registry[T any] struct {
	mu      sync.Mutex
	next    ListenerID
	byEvent map[string][]listener[T]
	logger  *zap.Logger
}

func newRegistry[T any](logger *zap.Logger) *registry[T] {
	return &registry[T]{
		byEvent: make(map[string][]listener[T]),
		logger:  logger,
	}
}

func (r *registry[T]) add(event string, fn func(T)) ListenerID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	r.byEvent[event] = append(r.byEvent[event], listener[T]{id: r.next, fn: fn})
	return r.next
}

func (r *registry[T]) remove(event string, id ListenerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.byEvent[event]
	for i, l := range list {
		if l.id != id {
			continue
		}
		// Copy so snapshots taken by emit stay intact
		updated := make([]listener[T], 0, len(list)-1)
		updated = append(updated, list[:i]...)
		updated = append(updated, list[i+1:]...)
		if len(updated) == 0 {
			delete(r.byEvent, event)
		} else {
			r.byEvent[event] = updated
		}
		return true
	}
	return false
}

// emit calls every listener of event. A panicking listener is logged and
// the remaining listeners still run.
func (r *registry[T]) emit(event string, value T) {
	r.mu.Lock()
	snapshot := r.byEvent[event]
	r.mu.Unlock()

	for _, l := range snapshot {
		r.call(event, l, value)
	}
}

func (r *registry[T]) call(event string, l listener[T], value T) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("listener panicked",
				zap.String("event", event),
				zap.Uint64("listener_id", uint64(l.id)),
				zap.String("panic", fmt.Sprint(rec)))
		}
	}()
	l.fn(value)
}

func (r *registry[T]) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byEvent[event])
}
