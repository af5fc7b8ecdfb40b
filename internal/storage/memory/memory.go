// Package memory keeps token keys in process memory.
// It is the session-lived area: everything is gone when the process exits.
package memory

import (
	"context"
	"maps"
	"sync"
)

type Area struct {
	mu   sync.RWMutex
	data map[string]string
}

func New() *Area {
	return &Area{data: make(map[string]string)}
}

// Write stores all values at once
func (a *Area) Write(_ context.Context, values map[string]string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	maps.Copy(a.data, values)
	return nil
}

// Read returns only keys that are present
func (a *Area) Read(_ context.Context, keys ...string) (map[string]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := a.data[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (a *Area) Delete(_ context.Context, keys ...string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, k := range keys {
		delete(a.data, k)
	}
	return nil
}
