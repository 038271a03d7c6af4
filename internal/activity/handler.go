package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"asset-indexer/internal/catalogue"
)

var (
	// ErrUnknownHandler is returned for a handler name not in the registry.
	ErrUnknownHandler = errors.New("unknown handler")
	// ErrBadPreviousHandlers is returned when a stored handler set cannot be
	// decoded.
	ErrBadPreviousHandlers = errors.New("unreadable previous handlers")
	// ErrDuplicateHandler is returned when two handlers share a name.
	ErrDuplicateHandler = errors.New("duplicate handler name")
)

// Asset is a catalogued file as seen by handlers.
type Asset struct {
	Record catalogue.FileRecord
	// AbsPath is the location of the file on this host, empty when the
	// storage root is unknown.
	AbsPath string
	// Completed holds the handlers that already succeeded in the current
	// wave.
	Completed HandlerSet
}

// Handler processes assets. CanHandle must be cheap and free of side
// effects; it is called again after every successful handler of the same
// activity wave.
type Handler interface {
	Name() string
	CanHandle(ctx context.Context, a Asset, event catalogue.EventType) bool
	Handle(ctx context.Context, a Asset, event catalogue.EventType) error
}

// Purger is implemented by handlers that clean up after lost assets.
type Purger interface {
	Purge(ctx context.Context, a Asset) error
}

// Registry is the ordered list of configured handlers.
type Registry struct {
	ordered []Handler
	byName  map[string]Handler
}

// NewRegistry builds a registry. Handler order is evaluation order.
func NewRegistry(handlers ...Handler) (*Registry, error) {
	r := &Registry{byName: make(map[string]Handler, len(handlers))}
	for _, h := range handlers {
		name := h.Name()
		if name == "" {
			return nil, fmt.Errorf("handler without a name")
		}
		if _, dup := r.byName[name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateHandler, name)
		}
		r.byName[name] = h
		r.ordered = append(r.ordered, h)
	}
	return r, nil
}

// Handlers returns the handlers in registration order.
func (r *Registry) Handlers() []Handler {
	return append([]Handler(nil), r.ordered...)
}

// Names returns the handler names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.ordered))
	for _, h := range r.ordered {
		out = append(out, h.Name())
	}
	return out
}

// Lookup returns the handler registered under name.
func (r *Registry) Lookup(name string) (Handler, error) {
	h, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandler, name)
	}
	return h, nil
}

// HandlerSet is an insertion-ordered set of handler names.
type HandlerSet struct {
	names []string
}

// NewHandlerSet creates a set from names, dropping duplicates.
func NewHandlerSet(names ...string) HandlerSet {
	var s HandlerSet
	for _, n := range names {
		s.Add(n)
	}
	return s
}

// ParseHandlerSet decodes a stored set.
func ParseHandlerSet(raw string) (HandlerSet, error) {
	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		return HandlerSet{}, fmt.Errorf("%w: %v", ErrBadPreviousHandlers, err)
	}
	return NewHandlerSet(names...), nil
}

// Add inserts name and reports whether it was missing.
func (s *HandlerSet) Add(name string) bool {
	if s.Contains(name) {
		return false
	}
	s.names = append(s.names, name)
	return true
}

// Union adds every name of other.
func (s *HandlerSet) Union(other HandlerSet) {
	for _, n := range other.names {
		s.Add(n)
	}
}

// Contains reports whether name is in the set.
func (s HandlerSet) Contains(name string) bool {
	for _, n := range s.names {
		if n == name {
			return true
		}
	}
	return false
}

// Names returns a copy of the names in insertion order.
func (s HandlerSet) Names() []string {
	return append([]string(nil), s.names...)
}

// Len returns the number of names.
func (s HandlerSet) Len() int {
	return len(s.names)
}

// String encodes the set as a JSON array.
func (s HandlerSet) String() string {
	names := s.names
	if names == nil {
		names = []string{}
	}
	b, _ := json.Marshal(names)
	return string(b)
}
