// Package bridge provides the in-process implementation of the extension
// bridge's outbound surface: fanning a run's ui.state payloads out to every
// subscriber (typically one per attached browser tab). The production
// bridge itself — the actual browser extension transport — is out of
// scope; Hub only needs to satisfy orchestrator.Emitter.
//
// It generalizes the teacher's internal/agent.EventSink/PluginSink
// broadcast-to-subscribers shape (internal/agent/event_sink.go) to a single
// concrete payload type instead of a plugin registry.
package bridge

import (
	"context"
	"sync"

	"github.com/haasonsaas/sidecar/pkg/model"
)

// DefaultSubscriberBuffer bounds how many ui.state updates a slow
// subscriber can fall behind before new ones are dropped for it.
const DefaultSubscriberBuffer = 16

// Hub fans RunStateView updates out to subscribers. The zero value is not
// usable; construct with NewHub. Safe for concurrent use.
type Hub struct {
	mu   sync.RWMutex
	subs map[int64]chan model.RunStateView
	next int64
}

// NewHub builds an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int64]chan model.RunStateView)}
}

// Subscription is a handle returned by Subscribe; call Close to stop
// receiving updates and release the channel.
type Subscription struct {
	id  int64
	hub *Hub
	C   <-chan model.RunStateView
}

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if ch, ok := s.hub.subs[s.id]; ok {
		delete(s.hub.subs, s.id)
		close(ch)
	}
}

// Subscribe registers a new listener and returns its Subscription. Callers
// should range over Subscription.C until Close is called.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	ch := make(chan model.RunStateView, DefaultSubscriberBuffer)
	h.subs[id] = ch
	return &Subscription{id: id, hub: h, C: ch}
}

// EmitState implements orchestrator.Emitter. A subscriber whose buffer is
// full has the update dropped rather than blocking the run loop: ui.state
// is a best-effort preview, never a source of truth (the Run Log is).
func (h *Hub) EmitState(ctx context.Context, view model.RunStateView) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- view:
		default:
		}
	}
}

// SubscriberCount reports the number of active subscriptions, for the
// doctor CLI and metrics surface.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
