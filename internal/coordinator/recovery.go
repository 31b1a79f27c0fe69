package coordinator

import (
	"fmt"
	"log"
	"sync"

	"github.com/dreamware/tabletcoord/internal/cluster"
)

// Recovery is one attempt to rebuild a crashed master's tablets on a
// recovery master.
type Recovery struct {
	Id           uint64               `json:"recovery_id"`
	Crashed      cluster.ServerId     `json:"crashed_server_id"`
	Master       cluster.ServerId     `json:"recovery_master_id"`
	Tablets      cluster.TabletMap    `json:"tablets"`
	RecoveryInfo cluster.RecoveryInfo `json:"recovery_info,omitempty"`
}

// Assigner tells a recovery master about its assignment. It is called with
// coordinator state locked and must not block.
type Assigner func(Recovery)

// RecoveryManager runs recoveries of crashed masters.
//
// Every attempt gets a fresh recovery id. The recovery master is picked
// round robin among up masters other than the crashed one. When an attempt
// fails, or succeeds only for some tablets, the rest are retried under a new
// id. When no master is available the attempt waits in a pending queue until
// Retry finds one.
//
// Once none of a crashed server's tablets are left recovering its id is
// removed from the ServerRegistry.
type RecoveryManager struct {
	servers *ServerRegistry
	tablets *TabletRegistry
	assign  Assigner

	mu      sync.Mutex
	nextId  uint64
	next    int                  // round-robin cursor over masters
	active  map[uint64]*Recovery // keyed by recovery id
	pending []cluster.ServerId   // crashed servers waiting for a master
}

// NewRecoveryManager returns a manager that hands each recovery attempt to
// assign. A nil assign drops assignments.
func NewRecoveryManager(servers *ServerRegistry, tablets *TabletRegistry, assign Assigner) *RecoveryManager {
	if assign == nil {
		assign = func(Recovery) {}
	}
	return &RecoveryManager{
		servers: servers,
		tablets: tablets,
		assign:  assign,
		nextId:  1,
		active:  make(map[uint64]*Recovery),
	}
}

// Start begins recovering crashed, which must already be marked crashed in
// the ServerRegistry.
func (m *RecoveryManager) Start(crashed cluster.ServerId) {
	lost := m.tablets.MarkRecovering(crashed)

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(lost) == 0 {
		log.Printf("coordinator: %s owned no tablets; removing it", crashed)
		m.servers.Remove(crashed)
		return
	}
	log.Printf("coordinator: starting recovery of %d tablets of %s", len(lost), crashed)
	m.scheduleLocked(crashed, lost)
}

// scheduleLocked starts a new attempt for tablets, or queues crashed if no
// master can take it.
func (m *RecoveryManager) scheduleLocked(crashed cluster.ServerId, tablets cluster.TabletMap) {
	master, ok := m.pickMasterLocked(crashed)
	if !ok {
		log.Printf("coordinator: no recovery master for %s; recovery pending", crashed)
		m.pending = append(m.pending, crashed)
		return
	}
	info, _ := m.servers.RecoveryInfo(crashed)
	r := &Recovery{
		Id:           m.nextId,
		Crashed:      crashed,
		Master:       master,
		Tablets:      tablets,
		RecoveryInfo: info,
	}
	m.nextId++
	m.active[r.Id] = r
	log.Printf("coordinator: recovery %d of %s assigned to %s", r.Id, crashed, master)
	m.assign(*r)
}

func (m *RecoveryManager) pickMasterLocked(crashed cluster.ServerId) (cluster.ServerId, bool) {
	var candidates []cluster.ServerId
	for _, e := range m.servers.List(cluster.NewServiceMask(cluster.MasterService)) {
		if e.ServerId != crashed {
			candidates = append(candidates, e.ServerId)
		}
	}
	if len(candidates) == 0 {
		return cluster.InvalidServerId, false
	}
	master := candidates[m.next%len(candidates)]
	m.next++
	return master, true
}

// Finish records the outcome reported by a recovery master.
//
// On success the reported tablets that belong to the recovery are granted
// to master. On failure nothing is granted. Either way, tablets of the
// recovery that are still recovering under the crashed server are
// rescheduled.
//
// Returns:
//   - ErrUnknownRecovery if recoveryId is not active
//   - ErrInvalidParameter if master is not the server it was assigned to
func (m *RecoveryManager) Finish(recoveryId uint64, master cluster.ServerId, tablets cluster.TabletMap, successful bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.active[recoveryId]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownRecovery, recoveryId)
	}
	if r.Master != master {
		return fmt.Errorf("%w: recovery %d belongs to %s, not %s", ErrInvalidParameter, recoveryId, r.Master, master)
	}
	delete(m.active, recoveryId)

	var granted cluster.TabletMap
	if successful {
		granted = m.tablets.Grant(r.Crashed, master, onlyRecovery(r.Tablets, tablets))
		log.Printf("coordinator: recovery %d finished; %s now owns %d tablets of %s",
			recoveryId, master, len(granted), r.Crashed)
	} else {
		log.Printf("coordinator: recovery %d of %s failed on %s", recoveryId, r.Crashed, master)
	}

	var left cluster.TabletMap
	for _, t := range m.recoveringOf(r.Crashed) {
		if containsRange(r.Tablets, t) {
			left = append(left, t)
		}
	}
	if len(left) > 0 {
		m.scheduleLocked(r.Crashed, left)
		return nil
	}
	if !m.crashedStillReferencedLocked(r.Crashed) {
		m.servers.Remove(r.Crashed)
	}
	return nil
}

// Retry reschedules recoveries that were waiting for a master.
func (m *RecoveryManager) Retry() {
	m.mu.Lock()
	defer m.mu.Unlock()

	waiting := m.pending
	m.pending = nil
	for _, crashed := range waiting {
		left := m.recoveringOf(crashed)
		if len(left) == 0 {
			m.servers.Remove(crashed)
			continue
		}
		m.scheduleLocked(crashed, left)
	}
}

// recoveringOf returns crashed's tablets that still need recovery.
func (m *RecoveryManager) recoveringOf(crashed cluster.ServerId) cluster.TabletMap {
	var out cluster.TabletMap
	for _, t := range m.tablets.OwnedBy(crashed) {
		if t.Status == cluster.TabletRecovering {
			out = append(out, t)
		}
	}
	return out
}

func (m *RecoveryManager) crashedStillReferencedLocked(crashed cluster.ServerId) bool {
	for _, r := range m.active {
		if r.Crashed == crashed {
			return true
		}
	}
	return len(m.recoveringOf(crashed)) > 0
}

// Active returns copies of the recoveries in progress.
func (m *RecoveryManager) Active() []Recovery {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Recovery, 0, len(m.active))
	for _, r := range m.active {
		out = append(out, *r)
	}
	return out
}

// Pending reports how many crashed servers are waiting for a master.
func (m *RecoveryManager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func onlyRecovery(assigned, reported cluster.TabletMap) cluster.TabletMap {
	var out cluster.TabletMap
	for _, t := range reported {
		if containsRange(assigned, t) {
			out = append(out, t)
		}
	}
	return out
}

func containsRange(m cluster.TabletMap, t cluster.Tablet) bool {
	for _, o := range m {
		if o.SameRange(t) {
			return true
		}
	}
	return false
}
