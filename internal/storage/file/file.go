// Package file keeps token keys in a single JSON file.
// Used as the persistent area of the command line client when no shared backend is configured.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

type Area struct {
	path string
	mu   sync.Mutex
}

func New(path string) *Area {
	return &Area{path: path}
}

// Write merges values into the file and replaces it with one rename
func (a *Area) Write(_ context.Context, values map[string]string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	data, err := a.load()
	if err != nil {
		return err
	}
	for k, v := range values {
		data[k] = v
	}
	return a.store(data)
}

func (a *Area) Read(_ context.Context, keys ...string) (map[string]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	data, err := a.load()
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := data[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (a *Area) Delete(_ context.Context, keys ...string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	data, err := a.load()
	if err != nil {
		return err
	}

	changed := false
	for _, k := range keys {
		if _, ok := data[k]; ok {
			delete(data, k)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return a.store(data)
}

// Missing file is an empty area
func (a *Area) load() (map[string]string, error) {
	data := make(map[string]string)

	b, err := os.ReadFile(a.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return data, nil
	case err != nil:
		return nil, fmt.Errorf("read token file: %w", err)
	}

	if err := json.Unmarshal(b, &data); err != nil {
		return nil, fmt.Errorf("token file %s is corrupted: %w", a.path, err)
	}
	return data, nil
}

func (a *Area) store(data map[string]string) error {
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode token file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(a.path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(a.path), ".tokens-*")
	if err != nil {
		return fmt.Errorf("create temp token file: %w", err)
	}
	defer os.Remove(tmp.Name()) // nolint:errcheck

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp token file: %w", err)
	}

	// CreateTemp already uses 0600
	if err := os.Rename(tmp.Name(), a.path); err != nil {
		return fmt.Errorf("replace token file: %w", err)
	}
	return nil
}
