package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/voxgate/pkg/audio"
)

// ErrDriverNotRegistered is returned by Create* methods when no factory has
// been registered under the requested driver name.
var ErrDriverNotRegistered = errors.New("config: audio driver not registered")

// Registry maps audio driver names to their constructor functions. It is
// safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	capture map[string]func(DeviceEntry) (audio.CaptureSource, error)
	render  map[string]func(DeviceEntry) (audio.RenderSink, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		capture: make(map[string]func(DeviceEntry) (audio.CaptureSource, error)),
		render:  make(map[string]func(DeviceEntry) (audio.RenderSink, error)),
	}
}

// RegisterCapture registers a capture device factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterCapture(name string, factory func(DeviceEntry) (audio.CaptureSource, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capture[name] = factory
}

// RegisterRender registers a render device factory under name.
func (r *Registry) RegisterRender(name string, factory func(DeviceEntry) (audio.RenderSink, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.render[name] = factory
}

// CreateCapture instantiates a capture device using the factory registered
// under entry.Driver. Returns [ErrDriverNotRegistered] if there is none.
func (r *Registry) CreateCapture(entry DeviceEntry) (audio.CaptureSource, error) {
	r.mu.RLock()
	factory, ok := r.capture[entry.Driver]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: capture/%q", ErrDriverNotRegistered, entry.Driver)
	}
	return factory(entry)
}

// CreateRender instantiates a render device using the factory registered
// under entry.Driver.
func (r *Registry) CreateRender(entry DeviceEntry) (audio.RenderSink, error) {
	r.mu.RLock()
	factory, ok := r.render[entry.Driver]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: render/%q", ErrDriverNotRegistered, entry.Driver)
	}
	return factory(entry)
}
