package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/Fullex26/autowatch/pkg/models"
)

var (
	ErrUnknownImplementation = errors.New("unknown listener implementation")
	ErrListenerExists        = errors.New("listener already exists")
	ErrListenerNotFound      = errors.New("listener not found")
)

// Listener receives issue events
type Listener interface {
	HandleEvent(ctx context.Context, event models.IssueEvent) error
}

// Factory builds a listener from the parameters configured for its name
type Factory func(params map[string]string) (Listener, error)

type entry struct {
	impl     string
	listener Listener
}

// Bus is the host's listener table. Listeners are created by name from a
// registered implementation and receive every published event.
type Bus struct {
	mu        sync.RWMutex
	factories map[string]Factory
	params    map[string]map[string]string
	listeners map[string]entry
}

// New creates an empty listener table
func New() *Bus {
	return &Bus{
		factories: make(map[string]Factory),
		params:    make(map[string]map[string]string),
		listeners: make(map[string]entry),
	}
}

// RegisterFactory makes an implementation available to CreateListener
func (b *Bus) RegisterFactory(impl string, f Factory) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.factories[impl] = f
}

// SetParams stores the parameters handed to the listener created under name
func (b *Bus) SetParams(name string, params map[string]string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.params[name] = params
}

// ListenerExists reports whether a listener is registered under name
func (b *Bus) ListenerExists(name string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.listeners[name]
	return ok
}

// Listeners returns registered listener names in sorted order
func (b *Bus) Listeners() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.listeners))
	for name := range b.listeners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CreateListener instantiates impl and registers it under name
func (b *Bus) CreateListener(name, impl string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.listeners[name]; ok {
		return fmt.Errorf("%w: %q", ErrListenerExists, name)
	}
	f, ok := b.factories[impl]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownImplementation, impl)
	}

	l, err := f(b.params[name])
	if err != nil {
		return fmt.Errorf("creating listener %q: %w", name, err)
	}
	if l == nil {
		return fmt.Errorf("creating listener %q: factory %q returned no listener", name, impl)
	}
	b.listeners[name] = entry{impl: impl, listener: l}
	return nil
}

// DeleteListener removes the listener registered under name. impl must match
// the implementation it was created from.
func (b *Bus) DeleteListener(name, impl string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.listeners[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrListenerNotFound, name)
	}
	if e.impl != impl {
		return fmt.Errorf("listener %q is a %q, not a %q", name, e.impl, impl)
	}
	delete(b.listeners, name)
	return nil
}

// Publish delivers an event to every listener, in name order, on the
// caller's goroutine. A failing listener is logged and does not stop delivery.
func (b *Bus) Publish(ctx context.Context, event models.IssueEvent) {
	b.mu.RLock()
	names := make([]string, 0, len(b.listeners))
	for name := range b.listeners {
		names = append(names, name)
	}
	sort.Strings(names)
	targets := make([]entry, len(names))
	for i, name := range names {
		targets[i] = b.listeners[name]
	}
	b.mu.RUnlock()

	for i, e := range targets {
		if err := e.listener.HandleEvent(ctx, event); err != nil {
			slog.Error("listener failed",
				"listener", names[i],
				"kind", event.Kind,
				"issue", event.Issue.Ref(),
				"error", err,
			)
		}
	}
}
