package inventory

import (
	"context"
	"sync"
)

// memStore is an in-memory stand-in for Store.
type memStore struct {
	mu       sync.Mutex
	qty      map[string]int
	version  map[string]int64
	intents  []Intent
	applied  map[int64]bool
	nextID   int64
	casCalls int
	// conflicts forces the next n CompareAndSet calls to fail.
	conflicts int
}

func newMemStore() *memStore {
	return &memStore{
		qty:     map[string]int{},
		version: map[string]int64{},
		applied: map[int64]bool{},
	}
}

func (m *memStore) put(productID string, qty int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.qty[productID] = qty
	m.version[productID] = 1
}

func (m *memStore) LoadQuantity(_ context.Context, productID string) (int, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.version[productID]
	if !ok {
		return 0, 0, ErrProductNotFound
	}
	return m.qty[productID], v, nil
}

func (m *memStore) CompareAndSet(_ context.Context, productID string, expected int64, newQty int, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.casCalls++
	if m.conflicts > 0 {
		m.conflicts--
		m.version[productID]++
		return ErrVersionConflict
	}
	if newQty < 0 {
		return ErrNegativeStock
	}
	if m.version[productID] != expected {
		return ErrVersionConflict
	}
	for _, id := range ids {
		if m.applied[id] {
			return ErrVersionConflict
		}
	}
	for _, id := range ids {
		m.applied[id] = true
	}
	m.qty[productID] = newQty
	m.version[productID]++
	return nil
}

func (m *memStore) AppendIntent(_ context.Context, productID string, delta int, source, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.version[productID]; !ok {
		return ErrProductNotFound
	}
	m.nextID++
	m.intents = append(m.intents, Intent{ID: m.nextID, ProductID: productID, Delta: delta, Source: source, Ref: ref})
	return nil
}

func (m *memStore) PendingProducts(_ context.Context, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, in := range m.intents {
		if m.applied[in.ID] || seen[in.ProductID] {
			continue
		}
		seen[in.ProductID] = true
		out = append(out, in.ProductID)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) PendingIntents(_ context.Context, productID string) ([]Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Intent
	for _, in := range m.intents {
		if in.ProductID == productID && !m.applied[in.ID] {
			out = append(out, in)
		}
	}
	return out, nil
}

func (m *memStore) LedgerSeed(_ context.Context, productID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.version[productID]; !ok {
		return 0, ErrProductNotFound
	}
	n := m.qty[productID]
	for _, in := range m.intents {
		if in.ProductID == productID && !m.applied[in.ID] {
			n += in.Delta
		}
	}
	return n, nil
}

func (m *memStore) StockReport(_ context.Context) ([]ProductStock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ProductStock
	for id, q := range m.qty {
		pending := 0
		for _, in := range m.intents {
			if in.ProductID == id && !m.applied[in.ID] {
				pending += in.Delta
			}
		}
		out = append(out, ProductStock{ProductID: id, SKU: "SKU-" + id, Name: id, Quantity: q, Version: m.version[id], PendingDelta: pending})
	}
	return out, nil
}
