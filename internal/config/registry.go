package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/simchat/pkg/provider/reply"
)

// ErrProviderNotRegistered is returned by [Registry.CreateReply] when no
// factory has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// ReplyFactory builds a reply provider from its configuration block.
type ReplyFactory func(ProviderEntry) (reply.Provider, error)

// Registry maps reply provider names to their constructors. It is safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	reply map[string]ReplyFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{reply: make(map[string]ReplyFactory)}
}

// RegisterReply registers a reply provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterReply(name string, factory ReplyFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reply[name] = factory
}

// CreateReply instantiates the reply provider registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for
// that name.
func (r *Registry) CreateReply(entry ProviderEntry) (reply.Provider, error) {
	r.mu.RLock()
	factory, ok := r.reply[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: reply/%q", ErrProviderNotRegistered, entry.Name)
	}
	p, err := factory(entry)
	if err != nil {
		return nil, fmt.Errorf("config: create reply provider %q: %w", entry.Name, err)
	}
	return p, nil
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.reply))
	for name := range r.reply {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
