package conversation

import (
	"context"
	"sync"
)

// Backend persists turn sequences keyed by conversation id.
// Implementations must be safe for concurrent use across different ids.
type Backend interface {
	Load(ctx context.Context, id string) ([]Turn, bool, error)
	Save(ctx context.Context, id string, turns []Turn) error
	Delete(ctx context.Context, id string) error
}

// MemoryBackend keeps conversations in a process-lifetime map.
type MemoryBackend struct {
	mu    sync.RWMutex
	convs map[string][]Turn
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{convs: make(map[string][]Turn)}
}

func (b *MemoryBackend) Load(_ context.Context, id string) ([]Turn, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	turns, ok := b.convs[id]
	if !ok {
		return nil, false, nil
	}
	return cloneTurns(turns), true, nil
}

func (b *MemoryBackend) Save(_ context.Context, id string, turns []Turn) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.convs[id] = cloneTurns(turns)
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.convs, id)
	return nil
}

func cloneTurns(turns []Turn) []Turn {
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}
