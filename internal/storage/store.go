package storage

import (
	"cmp"
	"errors"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dreamware/tabletcoord/internal/cluster"
)

// ErrKeyNotFound is returned when an object does not exist.
var ErrKeyNotFound = errors.New("key not found")

// Object is one stored value together with where it lives in the hash space.
type Object struct {
	TableId uint64 `json:"table_id"`
	Key     string `json:"key"`
	KeyHash uint64 `json:"key_hash"`
	Value   []byte `json:"value"`
}

// Store holds the objects of every table a server serves. Objects are
// addressed by (table, key) and can be enumerated by key-hash range, which
// is how tablets carve up a table.
type Store interface {
	// Get returns a copy of the value, or ErrKeyNotFound.
	Get(tableId uint64, key string) ([]byte, error)

	// Put stores a copy of value, replacing any earlier one.
	Put(tableId uint64, key string, value []byte) error

	// Delete removes the object. Deleting a missing object is not an error.
	Delete(tableId uint64, key string) error

	// Scan returns copies of the objects of tableId whose key hash lies in
	// [first, last], ordered by key hash then key.
	Scan(tableId, first, last uint64) []Object

	// DeleteRange removes the objects Scan would return and reports how many
	// there were.
	DeleteRange(tableId, first, last uint64) int

	// Stats reports the store's size.
	Stats() StoreStats
}

// StoreStats summarizes a store's contents.
type StoreStats struct {
	Keys  int `json:"keys"`  // Number of objects
	Bytes int `json:"bytes"` // Total size of all values in bytes
}

type objectKey struct {
	tableId uint64
	key     string
}

// MemoryStore is an in-memory Store.
// Thread-safe: All methods are safe for concurrent access.
type MemoryStore struct {
	mu      sync.RWMutex          // Protects concurrent access
	objects map[objectKey]*Object // (table, key) -> object
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[objectKey]*Object),
	}
}

func (m *MemoryStore) Get(tableId uint64, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, exists := m.objects[objectKey{tableId, key}]
	if !exists {
		return nil, ErrKeyNotFound
	}
	return slices.Clone(obj.Value), nil
}

func (m *MemoryStore) Put(tableId uint64, key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[objectKey{tableId, key}] = &Object{
		TableId: tableId,
		Key:     key,
		KeyHash: cluster.KeyHash(key),
		Value:   stored,
	}
	return nil
}

func (m *MemoryStore) Delete(tableId uint64, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.objects, objectKey{tableId, key})
	return nil
}

func (m *MemoryStore) Scan(tableId, first, last uint64) []Object {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Object
	for _, obj := range m.objects {
		if obj.TableId == tableId && obj.KeyHash >= first && obj.KeyHash <= last {
			c := *obj
			c.Value = slices.Clone(obj.Value)
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b Object) int {
		if c := cmp.Compare(a.KeyHash, b.KeyHash); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
	return out
}

func (m *MemoryStore) DeleteRange(tableId, first, last uint64) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for k, obj := range m.objects {
		if obj.TableId == tableId && obj.KeyHash >= first && obj.KeyHash <= last {
			delete(m.objects, k)
			n++
		}
	}
	return n
}

func (m *MemoryStore) Stats() StoreStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	totalBytes := 0
	for _, obj := range m.objects {
		totalBytes += len(obj.Value)
	}
	return StoreStats{
		Keys:  len(m.objects),
		Bytes: totalBytes,
	}
}
