// Package messenger defines the broker-discovery seam DataBlock segments
// call into (spec §6.2): producers register themselves and their
// connection details; consumers discover producers by name. Wire-level
// broker transport is out of scope for this module; [InMemory] is a
// process-local reference implementation useful for same-host tests and as
// the interface a real broker client implements against.
package messenger

import (
	"errors"
	"sync"
	"time"
)

// ErrNotFound indicates DiscoverProducer found no registration for name.
var ErrNotFound = errors.New("messenger: producer not found")

// ErrAlreadyRegistered indicates RegisterProducer was called for a name
// that already has a live registration.
var ErrAlreadyRegistered = errors.New("messenger: already registered")

// ProducerInfo is the connection information a consumer needs to attach to
// a DataBlock segment, published by its producer at registration.
type ProducerInfo struct {
	Name         string
	SharedSecret uint64
	FlexZoneHash [32]byte
	DataHash     [32]byte
	RegisteredAt time.Time
}

// Messenger is the discovery seam between producers and consumers. A real
// implementation would proxy these calls over a message broker (ZMQ,
// NATS, ...); this package ships only [InMemory], a process-local stand-in.
type Messenger interface {
	// RegisterProducer publishes info under info.Name. Returns
	// [ErrAlreadyRegistered] if that name is already registered.
	RegisterProducer(info ProducerInfo) error

	// DiscoverProducer looks up a previously registered producer by name.
	// Returns [ErrNotFound] if none is registered.
	DiscoverProducer(name string) (ProducerInfo, error)

	// DeregisterProducer removes name's registration, if any. Not an error
	// if name was never registered.
	DeregisterProducer(name string) error

	// Heartbeat refreshes the registration's liveness timestamp without
	// changing its published info.
	Heartbeat(name string) error
}

// InMemory is a process-local [Messenger] backed by a mutex-guarded map.
// Useful for same-host multi-producer test scenarios and as the seam a
// real broker-backed client would replace.
type InMemory struct {
	mu        sync.RWMutex
	producers map[string]ProducerInfo
}

// NewInMemory constructs an empty in-memory registry.
func NewInMemory() *InMemory {
	return &InMemory{producers: make(map[string]ProducerInfo)}
}

func (m *InMemory) RegisterProducer(info ProducerInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.producers[info.Name]; exists {
		return ErrAlreadyRegistered
	}

	m.producers[info.Name] = info

	return nil
}

func (m *InMemory) DiscoverProducer(name string) (ProducerInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info, ok := m.producers[name]
	if !ok {
		return ProducerInfo{}, ErrNotFound
	}

	return info, nil
}

func (m *InMemory) DeregisterProducer(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.producers, name)

	return nil
}

func (m *InMemory) Heartbeat(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.producers[name]
	if !ok {
		return ErrNotFound
	}

	info.RegisteredAt = time.Now()
	m.producers[name] = info

	return nil
}

var _ Messenger = (*InMemory)(nil)
