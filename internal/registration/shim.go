// Package registration keeps the auto-watch listener registered with the
// host's listener table across host startup and plugin enable/disable.
package registration

import (
	"fmt"
	"log/slog"
	"sync"
)

// State is where the shim is in its lifecycle
type State int

const (
	StateUninitialized State = iota
	StateStarted
	StateRegistered
	StateUnregistered
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateStarted:
		return "started"
	case StateRegistered:
		return "registered"
	case StateUnregistered:
		return "unregistered"
	default:
		return "unknown"
	}
}

// ListenerRegistry is the host's named listener table
type ListenerRegistry interface {
	ListenerExists(name string) bool
	CreateListener(name, impl string) error
	DeleteListener(name, impl string) error
}

// Shim registers one named listener once the host has started. Host
// failures are logged and swallowed so the plugin always stays loadable.
type Shim struct {
	mu    sync.Mutex
	host  ListenerRegistry
	name  string
	impl  string
	state State
}

// New creates a shim for the listener called name built from impl
func New(host ListenerRegistry, name, impl string) *Shim {
	return &Shim{
		host:  host,
		name:  name,
		impl:  impl,
		state: StateUninitialized,
	}
}

// State returns the current lifecycle state
func (s *Shim) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Name returns the listener name the shim manages
func (s *Shim) Name() string { return s.name }

// OnHostStartup is called once the host has finished starting
func (s *Shim) OnHostStartup() {
	s.mu.Lock()
	if s.state == StateUninitialized {
		s.state = StateStarted
	}
	s.mu.Unlock()

	s.Register()
}

// OnPluginEnable registers the listener. Before host startup this does
// nothing and registration waits for OnHostStartup.
func (s *Shim) OnPluginEnable() {
	s.Register()
}

// Register creates the listener if the host has started and it is not
// already present.
func (s *Shim) Register() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateUninitialized {
		slog.Debug("host not started, deferring listener registration", "listener", s.name)
		return
	}

	err := s.guard("registering", func() error {
		if s.host.ListenerExists(s.name) {
			return nil
		}
		return s.host.CreateListener(s.name, s.impl)
	})
	if err != nil {
		slog.Error("failed to register listener", "listener", s.name, "error", err)
		return
	}

	s.state = StateRegistered
	slog.Info("listener registered", "listener", s.name)
}

// OnPluginDisable removes the listener if present
func (s *Shim) OnPluginDisable() {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.guard("removing", func() error {
		if !s.host.ListenerExists(s.name) {
			return nil
		}
		return s.host.DeleteListener(s.name, s.impl)
	})
	if err != nil {
		slog.Error("failed to remove listener", "listener", s.name, "error", err)
		return
	}

	if s.state != StateUninitialized {
		s.state = StateUnregistered
	}
	slog.Info("listener removed", "listener", s.name)
}

// guard runs a host call, turning a panic into an error.
func (s *Shim) guard(action string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s listener %q: host panicked: %v", action, s.name, r)
		}
	}()
	if err := fn(); err != nil {
		return fmt.Errorf("%s listener %q: %w", action, s.name, err)
	}
	return nil
}
