package broker

import (
	"fmt"
	"sort"
	"sync"

	json "github.com/goccy/go-json"
)

// DecodeFunc turns the JSON text after the separator into a typed value.
type DecodeFunc func(data []byte) (any, error)

// Registry maps type discriminators to decoders.
//
// A registry is normally populated once at startup and only read afterwards,
// but it is safe for concurrent use so an application may add types while
// the relay is running.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]DecodeFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]DecodeFunc)}
}

// DefaultRegistry creates a registry with the generic Message wrapper
// registered under "Message".
func DefaultRegistry() *Registry {
	r := NewRegistry()
	RegisterType[Message](r, MessageTypeName)
	return r
}

// Register adds or replaces the decoder for name.
func (r *Registry) Register(name string, decode DecodeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[name] = decode
}

// Lookup returns the decoder for name.
func (r *Registry) Lookup(name string) (DecodeFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	decode, ok := r.decoders[name]
	return decode, ok
}

// Names returns the registered discriminators in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.decoders))
	for name := range r.decoders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Decode looks up name and decodes data with it.
//
// Returns ErrUnknownType when name is not registered and ErrSerialization
// when the decoder rejects data.
func (r *Registry) Decode(name string, data []byte) (any, error) {
	decode, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
	v, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %q: %w", ErrSerialization, name, err)
	}
	return v, nil
}

// RegisterType registers a decoder that unmarshals JSON into a T value.
//
// Handlers subscribed for T on the event bus receive the decoded value
// (not a pointer to it).
func RegisterType[T any](r *Registry, name string) {
	r.Register(name, func(data []byte) (any, error) {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	})
}
