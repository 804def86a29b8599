package dispatch

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"studylink/pkg/types"
)

// Handler receives the payload of an emitted event.
type Handler func(payload types.Payload)

// subscription is one registered handler. active flips to false on
// unsubscribe so a snapshot taken before removal skips it.
type subscription struct {
	id      uint64
	handler Handler
	active  atomic.Bool
}

// Registry maps event kinds to subscribed handlers and fans events out to them
// ARCHITECTURAL DISCOVERY: Pure subscription management without transport logic,
// the channel manager and tests emit into the same registry
type Registry struct {
	mu     sync.RWMutex                            // TECHNICAL DISCOVERY: RWMutex, emits far outnumber subscribe/unsubscribe
	byKind map[types.Kind]map[uint64]*subscription // kind -> subscription id -> subscription
	nextID atomic.Uint64
	logger *zap.Logger
}

// NewRegistry creates an empty registry. A nil logger disables logging.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		byKind: make(map[types.Kind]map[uint64]*subscription),
		logger: logger,
	}
}

// Subscribe registers handler for kind and returns a function that removes
// exactly this registration. Calling it more than once is harmless.
func (r *Registry) Subscribe(kind types.Kind, handler Handler) func() {
	if handler == nil {
		return func() {}
	}

	sub := &subscription{
		id:      r.nextID.Add(1),
		handler: handler,
	}
	sub.active.Store(true)

	r.mu.Lock()
	if r.byKind[kind] == nil {
		r.byKind[kind] = make(map[uint64]*subscription)
	}
	r.byKind[kind][sub.id] = sub
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.active.Store(false)
			r.remove(kind, sub.id)
		})
	}
}

func (r *Registry) remove(kind types.Kind, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, exists := r.byKind[kind]
	if !exists {
		return
	}
	delete(subs, id)
	// TECHNICAL DISCOVERY: Drop empty kind maps to keep Stats accurate
	if len(subs) == 0 {
		delete(r.byKind, kind)
	}
}

// Emit invokes every handler currently registered for kind with payload.
// Order between handlers is not guaranteed. Kinds without subscribers are a no-op.
func (r *Registry) Emit(kind types.Kind, payload types.Payload) {
	// FUNCTIONAL DISCOVERY: Snapshot under the read lock, deliver outside it, so
	// handlers may subscribe or unsubscribe while being called
	r.mu.RLock()
	subs := r.byKind[kind]
	snapshot := make([]*subscription, 0, len(subs))
	for _, sub := range subs {
		snapshot = append(snapshot, sub)
	}
	r.mu.RUnlock()

	for _, sub := range snapshot {
		if !sub.active.Load() {
			continue
		}
		r.invoke(kind, sub, payload)
	}
}

// invoke runs one handler, isolating a panic to that handler.
func (r *Registry) invoke(kind types.Kind, sub *subscription, payload types.Payload) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("event handler failed",
				zap.String("kind", string(kind)),
				zap.Uint64("subscription", sub.id),
				zap.Error(fmt.Errorf("%w: %v", ErrHandlerFailure, rec)))
		}
	}()
	sub.handler(payload)
}

// Count returns how many handlers are registered for kind.
func (r *Registry) Count(kind types.Kind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byKind[kind])
}

// Stats returns registry statistics for monitoring and debugging.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, subs := range r.byKind {
		total += len(subs)
	}
	return map[string]int{
		"total_subscriptions": total,
		"subscribed_kinds":    len(r.byKind),
	}
}

// On subscribes a handler typed to the concrete payload of kind. Payloads of
// any other type are ignored.
func On[T types.Payload](r *Registry, kind types.Kind, handler func(T)) func() {
	return r.Subscribe(kind, func(payload types.Payload) {
		if typed, ok := payload.(T); ok {
			handler(typed)
		}
	})
}
