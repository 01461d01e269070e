// ABOUTME: In-memory SessionStore implementation for testing and the memory driver
// ABOUTME: Allows tests to run without SQLite or Redis and to observe saves

package store

import (
	"context"
	"encoding/json"
	"sync"
)

// MockStore is an in-memory SessionStore.
type MockStore struct {
	mu      sync.RWMutex
	records map[string][]byte // keyed by address, JSON-encoded
	saves   map[string]int
	saveErr error
	loadErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		records: make(map[string][]byte),
		saves:   make(map[string]int),
	}
}

// LoadSession returns a copy of the stored record, or an empty record.
func (m *MockStore) LoadSession(ctx context.Context, address string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.loadErr != nil {
		return nil, m.loadErr
	}

	data, ok := m.records[address]
	if !ok {
		return Record{}, nil
	}
	rec := Record{}
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// SaveSession stores a JSON copy of rec so later caller mutations don't leak in.
func (m *MockStore) SaveSession(ctx context.Context, address string, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.saveErr != nil {
		return m.saveErr
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	m.records[address] = data
	m.saves[address]++
	return nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

// SaveCount returns how many successful saves were made for address.
func (m *MockStore) SaveCount(address string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves[address]
}

// SetSaveError makes subsequent saves fail with err (nil clears it).
func (m *MockStore) SetSaveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
}

// SetLoadError makes subsequent loads fail with err (nil clears it).
func (m *MockStore) SetLoadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadErr = err
}
