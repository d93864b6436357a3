// Package memory defines the key/value store agents use to hand outputs to
// later agents, and an in-process implementation of it.
package memory

import (
	"context"
	"strings"
	"sync"
)

// WildcardSuffix marks a namespace read: "ns/*" returns every entry under "ns/".
const WildcardSuffix = "/*"

// Store is the shared memory collaborator. A Read of a key ending in "/*"
// returns a map[string]any of all entries under that namespace, keyed by the
// full key.
type Store interface {
	Read(ctx context.Context, key string) (any, bool, error)
	Write(ctx context.Context, key string, value any) error
}

// Key joins namespace and name.
func Key(namespace, name string) string {
	namespace = strings.TrimSuffix(namespace, "/")
	if namespace == "" {
		return name
	}
	return namespace + "/" + name
}

// Wildcard returns the wildcard key for a namespace.
func Wildcard(namespace string) string {
	return strings.TrimSuffix(namespace, "/") + WildcardSuffix
}

// IsWildcard reports whether key is a namespace read and returns its prefix.
func IsWildcard(key string) (string, bool) {
	if !strings.HasSuffix(key, WildcardSuffix) {
		return "", false
	}
	return strings.TrimSuffix(key, "*"), true
}

// InMemory is a mutex-guarded map store.
type InMemory struct {
	mu   sync.RWMutex
	data map[string]any
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{data: make(map[string]any)}
}

// Read returns the value for key, or all entries under a wildcard namespace.
func (m *InMemory) Read(_ context.Context, key string) (any, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if prefix, ok := IsWildcard(key); ok {
		out := make(map[string]any)
		for k, v := range m.data {
			if strings.HasPrefix(k, prefix) {
				out[k] = v
			}
		}
		return out, true, nil
	}
	v, ok := m.data[key]
	return v, ok, nil
}

// Write stores value under key.
func (m *InMemory) Write(_ context.Context, key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

// Len returns the number of stored entries.
func (m *InMemory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
