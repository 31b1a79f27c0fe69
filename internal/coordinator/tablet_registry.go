package coordinator

import (
	"cmp"
	"fmt"
	"math"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dreamware/tabletcoord/internal/cluster"
)

// TabletRegistry maps key-hash ranges of every table to the server that
// owns them.
//
// Each table's 64-bit key-hash space is covered by non-overlapping tablets.
// Ranges are fixed when the table is created; later operations move
// ownership of a whole range and never split or merge one.
//
// Thread-safe: All methods are safe for concurrent access. Getters return
// copies.
type TabletRegistry struct {
	mu          sync.RWMutex
	tables      map[string]uint64 // table name -> id
	tablets     []cluster.Tablet  // sorted by table id, then first key hash
	nextTableId uint64
}

// NewTabletRegistry returns an empty registry. Table ids start at 1.
func NewTabletRegistry() *TabletRegistry {
	return &TabletRegistry{
		tables:      make(map[string]uint64),
		nextTableId: 1,
	}
}

// CreateTable adds a table whose key-hash space is split into count equal
// tablets, handed to owners round robin.
//
// Parameters:
//   - name: unique table name
//   - count: number of tablets, at least 1
//   - owners: servers to assign tablets to; at least one
//
// Returns:
//   - uint64: the new table id
//   - error: ErrTableExists, ErrInvalidParameter, or ErrNoMasters
//
// Example:
//
//	id, err := registry.CreateTable("users", 4, []cluster.ServerId{m1, m2})
//	// tablets 0 and 2 go to m1, 1 and 3 to m2
func (r *TabletRegistry) CreateTable(name string, count int, owners []cluster.ServerId) (uint64, error) {
	if name == "" {
		return 0, fmt.Errorf("%w: empty table name", ErrInvalidParameter)
	}
	if count < 1 {
		return 0, fmt.Errorf("%w: table needs at least one tablet, got %d", ErrInvalidParameter, count)
	}
	if len(owners) == 0 {
		return 0, ErrNoMasters
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tables[name]; exists {
		return 0, fmt.Errorf("%w: %q", ErrTableExists, name)
	}
	tableId := r.nextTableId
	r.nextTableId++
	r.tables[name] = tableId

	span := math.MaxUint64 / uint64(count)
	for i := 0; i < count; i++ {
		first := uint64(i) * span
		last := first + span - 1
		if i == count-1 {
			last = math.MaxUint64
		}
		r.tablets = append(r.tablets, cluster.Tablet{
			TableId:      tableId,
			FirstKeyHash: first,
			LastKeyHash:  last,
			ServerId:     owners[i%len(owners)],
			Status:       cluster.TabletNormal,
		})
	}
	r.sortLocked()
	return tableId, nil
}

func (r *TabletRegistry) sortLocked() {
	slices.SortFunc(r.tablets, func(a, b cluster.Tablet) int {
		if c := cmp.Compare(a.TableId, b.TableId); c != 0 {
			return c
		}
		return cmp.Compare(a.FirstKeyHash, b.FirstKeyHash)
	})
}

// TableId resolves a table name.
func (r *TabletRegistry) TableId(name string) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.tables[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrTableDoesntExist, name)
	}
	return id, nil
}

func (r *TabletRegistry) hasTableLocked(tableId uint64) bool {
	for _, id := range r.tables {
		if id == tableId {
			return true
		}
	}
	return false
}

// findLocked returns the index of the tablet with exactly the given range.
func (r *TabletRegistry) findLocked(tableId, first, last uint64) (int, error) {
	i := slices.IndexFunc(r.tablets, func(t cluster.Tablet) bool {
		return t.TableId == tableId && t.FirstKeyHash == first && t.LastKeyHash == last
	})
	if i >= 0 {
		return i, nil
	}
	if !r.hasTableLocked(tableId) {
		return -1, fmt.Errorf("%w: table %d", ErrTableDoesntExist, tableId)
	}
	return -1, fmt.Errorf("%w: table %d [%d, %d]", ErrUnknownTablet, tableId, first, last)
}

// Reassign gives the tablet covering exactly [first, last] of tableId to
// newOwner, recording ctime as the point in newOwner's log from which its
// data for the range counts.
//
// Reassigning to the current owner with the same ctime is a no-op, so
// retries are harmless. A tablet that is recovering is refused with
// ErrTabletRecovering; only the recovery may hand it out.
func (r *TabletRegistry) Reassign(tableId, first, last uint64, newOwner cluster.ServerId, ctime cluster.Ctime) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, err := r.findLocked(tableId, first, last)
	if err != nil {
		return err
	}
	if r.tablets[i].Status == cluster.TabletRecovering {
		return fmt.Errorf("%w: table %d [%d, %d]", ErrTabletRecovering, tableId, first, last)
	}
	r.tablets[i].ServerId = newOwner
	r.tablets[i].Ctime = ctime
	r.tablets[i].Status = cluster.TabletNormal
	return nil
}

// Locate returns the tablet of tableId covering keyHash.
func (r *TabletRegistry) Locate(tableId, keyHash uint64) (cluster.Tablet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := cluster.TabletMap(r.tablets).Lookup(tableId, keyHash)
	if !ok {
		return cluster.Tablet{}, fmt.Errorf("%w: table %d", ErrTableDoesntExist, tableId)
	}
	return t, nil
}

// Snapshot returns every tablet, ordered by table then range.
func (r *TabletRegistry) Snapshot() cluster.TabletMap {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append(cluster.TabletMap{}, r.tablets...)
}

// OwnedBy returns the tablets assigned to id.
func (r *TabletRegistry) OwnedBy(id cluster.ServerId) cluster.TabletMap {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return cluster.TabletMap(r.tablets).OwnedBy(id)
}

// MarkRecovering flags every tablet owned by crashed as recovering and
// returns them. The owner is left in place until recovery grants the
// tablets to someone else.
func (r *TabletRegistry) MarkRecovering(crashed cluster.ServerId) cluster.TabletMap {
	r.mu.Lock()
	defer r.mu.Unlock()

	var marked cluster.TabletMap
	for i := range r.tablets {
		if r.tablets[i].ServerId == crashed {
			r.tablets[i].Status = cluster.TabletRecovering
			marked = append(marked, r.tablets[i])
		}
	}
	return marked
}

// Grant hands recovered tablets to master. Only tablets still recovering
// and still owned by crashed are granted; each reported tablet's ctime
// becomes the tablet's ctime. It returns the tablets granted.
func (r *TabletRegistry) Grant(crashed, master cluster.ServerId, recovered cluster.TabletMap) cluster.TabletMap {
	r.mu.Lock()
	defer r.mu.Unlock()

	var granted cluster.TabletMap
	for _, rt := range recovered {
		i, err := r.findLocked(rt.TableId, rt.FirstKeyHash, rt.LastKeyHash)
		if err != nil {
			continue
		}
		t := &r.tablets[i]
		if t.ServerId != crashed || t.Status != cluster.TabletRecovering {
			continue
		}
		t.ServerId = master
		t.Status = cluster.TabletNormal
		t.Ctime = rt.Ctime
		granted = append(granted, *t)
	}
	return granted
}
