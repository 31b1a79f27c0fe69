package coordinator

import (
	"fmt"
	"sync"

	"github.com/dreamware/tabletcoord/internal/cluster"
)

// serverSlot holds whichever server currently uses an index, plus what is
// needed to keep ids unique once it leaves.
type serverSlot struct {
	entry        *cluster.ServerEntry // nil when the slot is free
	generation   uint32               // generation of entry, or of the last server here
	used         bool                 // an id has been issued from this slot
	recoveryInfo cluster.RecoveryInfo // last value set by the master in this slot
}

// ServerRegistry is the coordinator's record of cluster membership.
//
// Ids are issued from reusable index slots. A freed slot is reused with its
// generation bumped, so a ServerId is never issued twice. Slot 0 is never
// used; the zero ServerId stays invalid.
//
// A crashed server keeps its slot, and so its id stays retired, until
// Remove is called once its data has been recovered.
//
// Thread-safe: All methods are safe for concurrent access.
type ServerRegistry struct {
	mu    sync.RWMutex
	slots []serverSlot
}

// NewServerRegistry returns an empty registry.
func NewServerRegistry() *ServerRegistry {
	return &ServerRegistry{slots: make([]serverSlot, 1)}
}

// Enlist admits a new server and returns its id.
//
// Parameters:
//   - services: must not be empty
//   - locator: how to reach the server; must not be empty
//   - readSpeed: recorded only for backups
//
// Returns:
//   - cluster.ServerId: a fresh id, never issued before
//   - error: ErrInvalidParameter if services or locator is empty
func (r *ServerRegistry) Enlist(services cluster.ServiceMask, locator string, readSpeed uint32) (cluster.ServerId, error) {
	if services.Empty() {
		return cluster.InvalidServerId, fmt.Errorf("%w: no services", ErrInvalidParameter)
	}
	if locator == "" {
		return cluster.InvalidServerId, fmt.Errorf("%w: empty service locator", ErrInvalidParameter)
	}
	if !services.Has(cluster.BackupService) {
		readSpeed = 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	index := r.freeSlot()
	slot := &r.slots[index]
	if slot.used {
		slot.generation++
	}
	slot.used = true
	slot.recoveryInfo = nil

	id := cluster.NewServerId(uint32(index), slot.generation)
	slot.entry = &cluster.ServerEntry{
		ServerId:       id,
		Services:       services,
		ServiceLocator: locator,
		ReadSpeed:      readSpeed,
		Status:         cluster.ServerUp,
	}
	return id, nil
}

func (r *ServerRegistry) freeSlot() int {
	for i := 1; i < len(r.slots); i++ {
		if r.slots[i].entry == nil {
			return i
		}
	}
	r.slots = append(r.slots, serverSlot{})
	return len(r.slots) - 1
}

// lookup returns the slot currently held by id, or nil.
func (r *ServerRegistry) lookup(id cluster.ServerId) *serverSlot {
	if !id.IsValid() || int(id.Index()) >= len(r.slots) {
		return nil
	}
	slot := &r.slots[id.Index()]
	if slot.entry == nil || slot.entry.ServerId != id {
		return nil
	}
	return slot
}

// Crash marks id as crashed. It stays in the registry, no longer a member,
// until Remove.
func (r *ServerRegistry) Crash(id cluster.ServerId) (cluster.ServerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot := r.lookup(id)
	if slot == nil || slot.entry.Status != cluster.ServerUp {
		return cluster.ServerEntry{}, fmt.Errorf("%w: %s", ErrServerNotUp, id)
	}
	slot.entry.Status = cluster.ServerCrashed
	return *slot.entry, nil
}

// Remove frees the slot of a crashed server. Removing an id that is not
// present does nothing.
func (r *ServerRegistry) Remove(id cluster.ServerId) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if slot := r.lookup(id); slot != nil {
		slot.entry = nil
		slot.recoveryInfo = nil
	}
}

// IsUp reports whether id is a live member.
func (r *ServerRegistry) IsUp(id cluster.ServerId) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	slot := r.lookup(id)
	return slot != nil && slot.entry.Status == cluster.ServerUp
}

// Get returns a copy of the entry for id, whether up or crashed.
func (r *ServerRegistry) Get(id cluster.ServerId) (cluster.ServerEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	slot := r.lookup(id)
	if slot == nil {
		return cluster.ServerEntry{}, false
	}
	return *slot.entry, true
}

// List returns the up servers offering any of services, ordered by index.
func (r *ServerRegistry) List(services cluster.ServiceMask) cluster.ServerList {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := cluster.ServerList{}
	for i := 1; i < len(r.slots); i++ {
		e := r.slots[i].entry
		if e != nil && e.Status == cluster.ServerUp && e.Services.HasAny(services) {
			list = append(list, *e)
		}
	}
	return list
}

// All returns every server in the registry, crashed ones included.
func (r *ServerRegistry) All() cluster.ServerList {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := cluster.ServerList{}
	for i := 1; i < len(r.slots); i++ {
		if e := r.slots[i].entry; e != nil {
			list = append(list, *e)
		}
	}
	return list
}

// SetRecoveryInfo overwrites the recovery info of an up server.
func (r *ServerRegistry) SetRecoveryInfo(id cluster.ServerId, info cluster.RecoveryInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot := r.lookup(id)
	if slot == nil || slot.entry.Status != cluster.ServerUp {
		return fmt.Errorf("%w: %s", ErrServerNotUp, id)
	}
	slot.recoveryInfo = info.Clone()
	return nil
}

// RecoveryInfo returns a copy of the info last stored for id. Crashed
// servers keep theirs so recovery can use it.
func (r *ServerRegistry) RecoveryInfo(id cluster.ServerId) (cluster.RecoveryInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	slot := r.lookup(id)
	if slot == nil {
		return nil, false
	}
	return slot.recoveryInfo.Clone(), true
}
