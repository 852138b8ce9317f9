package socket

import (
	"log"
	"sync"

	"github.com/karlrwjohnson/camstream/lib/wire"
)

// HandlerFunc processes one inbound message. The body is never nil; for
// empty-bodied messages it is a zero-length slice.
type HandlerFunc func(kind wire.Kind, body []byte)

// Handler is a registered message callback. Handlers are compared by
// pointer identity, so the same *Handler can be added and removed
// unambiguously while two distinct handlers wrapping identical functions
// stay distinct.
type Handler struct {
	fn HandlerFunc
}

// NewHandler wraps fn as a registerable handler.
func NewHandler(fn HandlerFunc) *Handler {
	return &Handler{fn: fn}
}

func (h *Handler) invoke(kind wire.Kind, body []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("handler for %s panicked: %v", kind, r)
		}
	}()
	h.fn(kind, body)
}

// registry maps message kinds to ordered handler lists, with a default
// list for kinds that have none. Mutation is serialized with dispatch so
// handlers may re-register themselves from inside a callback.
type registry struct {
	mu       sync.Mutex
	handlers map[wire.Kind][]*Handler
	defaults []*Handler
}

func newRegistry() *registry {
	return &registry{handlers: make(map[wire.Kind][]*Handler)}
}

// add appends h to the list for kind unless it is already present.
func (r *registry) add(kind wire.Kind, h *Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.handlers[kind] {
		if existing == h {
			return
		}
	}
	r.handlers[kind] = append(r.handlers[kind], h)
}

// addDefault appends h to the default list unless it is already present.
func (r *registry) addDefault(h *Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.defaults {
		if existing == h {
			return
		}
	}
	r.defaults = append(r.defaults, h)
}

// remove deletes the first occurrence of h from kind's list. When the
// list empties the key is dropped entirely, so dispatch for that kind
// falls back to the default handlers.
func (r *registry) remove(kind wire.Kind, h *Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hs := r.handlers[kind]
	for i, existing := range hs {
		if existing == h {
			hs = append(hs[:i], hs[i+1:]...)
			break
		}
	}
	if len(hs) == 0 {
		delete(r.handlers, kind)
	} else {
		r.handlers[kind] = hs
	}
}

// removeDefault deletes the first occurrence of h from the default list.
func (r *registry) removeDefault(h *Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.defaults {
		if existing == h {
			r.defaults = append(r.defaults[:i], r.defaults[i+1:]...)
			return
		}
	}
}

// dispatch invokes the handlers registered for kind in insertion order,
// or the default handlers if none are registered. The list is snapshotted
// under the lock so a handler may mutate the registry mid-dispatch; a
// panicking handler is logged and does not stop later ones.
func (r *registry) dispatch(kind wire.Kind, body []byte) {
	r.mu.Lock()
	hs, ok := r.handlers[kind]
	if !ok {
		hs = r.defaults
	}
	snapshot := make([]*Handler, len(hs))
	copy(snapshot, hs)
	r.mu.Unlock()

	for _, h := range snapshot {
		h.invoke(kind, body)
	}
}
