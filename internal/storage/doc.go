// Package storage holds the objects a server serves.
//
// Objects are addressed by table id and key. Each object also records the
// 64-bit hash of its key (cluster.KeyHash), because tablets are hash ranges
// of a table: moving or recovering a tablet means enumerating or dropping
// every object whose hash falls in its range.
//
// # Implementations
//
// MemoryStore keeps everything in a map guarded by a sync.RWMutex. Values
// are copied on the way in and out, so callers may reuse their buffers.
// Nothing is persisted; a server that restarts comes back empty and its
// data is restored through recovery.
//
// # Usage
//
//	store := storage.NewMemoryStore()
//	_ = store.Put(tableId, "alice", []byte("v1"))
//	objs := store.Scan(tableId, tablet.FirstKeyHash, tablet.LastKeyHash)
package storage
