package contentstore

import (
	"context"
	"sync"
)

// memoryProvider is an in-process, in-memory Provider. A
// content-addressed cache keyed by a fixed-length hash has no ordering
// or range-scan requirement, so a guarded map is the whole backend.
type memoryProvider struct {
	name   string
	region string

	mu   sync.RWMutex
	data map[ContentID][]byte
}

// NewMemoryProvider returns a Provider backed by an in-memory map,
// suitable as the "local" provider in a single-process deployment or as
// a test double for remote providers.
func NewMemoryProvider(name, region string) Provider {
	return &memoryProvider{name: name, region: region, data: make(map[ContentID][]byte)}
}

func (p *memoryProvider) Name() string   { return p.name }
func (p *memoryProvider) Region() string { return p.region }

func (p *memoryProvider) Put(_ context.Context, id ContentID, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := append([]byte(nil), data...)
	p.data[id] = cp
	return nil
}

func (p *memoryProvider) Get(_ context.Context, id ContentID) ([]byte, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	data, ok := p.data[id]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}
