package tablet

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dreamware/tabletcoord/internal/cluster"
	"github.com/dreamware/tabletcoord/internal/storage"
)

// ErrNotOwned is returned for keys whose hash falls outside the tablet.
var ErrNotOwned = errors.New("key not in tablet")

// ErrNotServing is returned for operations on a tablet that is not
// currently accepting them.
var ErrNotServing = errors.New("tablet not serving")

// State represents the lifecycle of a tablet on its server.
type State string

const (
	// StateNormal means the tablet serves reads and writes.
	StateNormal State = "normal"
	// StateRecovering means the tablet is being rebuilt and rejects requests.
	StateRecovering State = "recovering"
	// StateMigrating means the tablet is being copied to another server;
	// reads are served, writes are rejected.
	StateMigrating State = "migrating"
)

// Tablet is one key-hash range of one table, as served by this server.
// Objects live in a Store shared by every tablet of the server; writes are
// appended to the server's Log.
type Tablet struct {
	TableId      uint64
	FirstKeyHash uint64
	LastKeyHash  uint64

	store storage.Store
	log   *Log
	stats OperationStats

	mu    sync.RWMutex // Protects state
	state State
}

// OperationStats counts operations served by a tablet.
type OperationStats struct {
	Gets    uint64 `json:"gets"`
	Puts    uint64 `json:"puts"`
	Deletes uint64 `json:"deletes"`
}

// Info summarizes a tablet for status endpoints.
type Info struct {
	TableId      uint64         `json:"table_id"`
	FirstKeyHash uint64         `json:"first_key_hash"`
	LastKeyHash  uint64         `json:"last_key_hash"`
	State        State          `json:"state"`
	KeyCount     int            `json:"key_count"`
	ByteSize     int            `json:"byte_size"`
	Ops          OperationStats `json:"ops"`
}

// New creates a tablet in StateNormal covering [first, last] of tableId.
func New(tableId, first, last uint64, store storage.Store, log *Log) *Tablet {
	return &Tablet{
		TableId:      tableId,
		FirstKeyHash: first,
		LastKeyHash:  last,
		store:        store,
		log:          log,
		state:        StateNormal,
	}
}

// Covers reports whether key belongs to the tablet.
func (t *Tablet) Covers(key string) bool {
	h := cluster.KeyHash(key)
	return h >= t.FirstKeyHash && h <= t.LastKeyHash
}

func (t *Tablet) check(key string, write bool) error {
	if !t.Covers(key) {
		return fmt.Errorf("%w: %q", ErrNotOwned, key)
	}
	switch state := t.State(); {
	case state == StateRecovering:
		return fmt.Errorf("%w: %s", ErrNotServing, state)
	case write && state == StateMigrating:
		return fmt.Errorf("%w: %s", ErrNotServing, state)
	}
	return nil
}

func (t *Tablet) Get(key string) ([]byte, error) {
	if err := t.check(key, false); err != nil {
		return nil, err
	}
	atomic.AddUint64(&t.stats.Gets, 1)
	return t.store.Get(t.TableId, key)
}

// Put logs the write and stores it.
func (t *Tablet) Put(key string, value []byte) error {
	if err := t.check(key, true); err != nil {
		return err
	}
	if _, err := t.log.Append(len(key) + len(value)); err != nil {
		return err
	}
	atomic.AddUint64(&t.stats.Puts, 1)
	return t.store.Put(t.TableId, key, value)
}

func (t *Tablet) Delete(key string) error {
	if err := t.check(key, true); err != nil {
		return err
	}
	if _, err := t.log.Append(len(key)); err != nil {
		return err
	}
	atomic.AddUint64(&t.stats.Deletes, 1)
	return t.store.Delete(t.TableId, key)
}

// Objects returns every object of the tablet, ordered by key hash.
func (t *Tablet) Objects() []storage.Object {
	return t.store.Scan(t.TableId, t.FirstKeyHash, t.LastKeyHash)
}

// Load writes objs into the tablet without the state check, as done when
// receiving a migrated or recovered tablet. Objects outside the range are
// skipped; the number loaded is returned.
func (t *Tablet) Load(objs []storage.Object) (int, error) {
	n := 0
	for _, obj := range objs {
		if obj.TableId != t.TableId || !t.Covers(obj.Key) {
			continue
		}
		if _, err := t.log.Append(len(obj.Key) + len(obj.Value)); err != nil {
			return n, err
		}
		if err := t.store.Put(t.TableId, obj.Key, obj.Value); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Drop deletes every object of the tablet and returns how many there were.
func (t *Tablet) Drop() int {
	return t.store.DeleteRange(t.TableId, t.FirstKeyHash, t.LastKeyHash)
}

func (t *Tablet) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

func (t *Tablet) SetState(state State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = state
}

// SameRange reports whether the tablet covers exactly ct's range.
func (t *Tablet) SameRange(ct cluster.Tablet) bool {
	return t.TableId == ct.TableId && t.FirstKeyHash == ct.FirstKeyHash && t.LastKeyHash == ct.LastKeyHash
}

// Descriptor describes the tablet as the coordinator knows it.
func (t *Tablet) Descriptor(owner cluster.ServerId, ctime cluster.Ctime) cluster.Tablet {
	return cluster.Tablet{
		TableId:      t.TableId,
		FirstKeyHash: t.FirstKeyHash,
		LastKeyHash:  t.LastKeyHash,
		ServerId:     owner,
		Status:       cluster.TabletNormal,
		Ctime:        ctime,
	}
}

func (t *Tablet) Info() Info {
	objs := t.Objects()
	bytes := 0
	for _, o := range objs {
		bytes += len(o.Value)
	}
	return Info{
		TableId:      t.TableId,
		FirstKeyHash: t.FirstKeyHash,
		LastKeyHash:  t.LastKeyHash,
		State:        t.State(),
		KeyCount:     len(objs),
		ByteSize:     bytes,
		Ops: OperationStats{
			Gets:    atomic.LoadUint64(&t.stats.Gets),
			Puts:    atomic.LoadUint64(&t.stats.Puts),
			Deletes: atomic.LoadUint64(&t.stats.Deletes),
		},
	}
}
