package cluster

import (
	"bytes"
	"hash/fnv"
)

// ServerStatus is the coordinator's view of an enlisted server.
type ServerStatus string

const (
	// ServerUp means the server is a live cluster member.
	ServerUp ServerStatus = "up"
	// ServerCrashed means the server has been declared dead and its data is
	// being recovered. The id is retired and will not be reissued.
	ServerCrashed ServerStatus = "crashed"
)

// ServerEntry is one record of a ServerList.
type ServerEntry struct {
	ServerId       ServerId     `json:"server_id"`
	Services       ServiceMask  `json:"services"`
	ServiceLocator string       `json:"service_locator"`
	ReadSpeed      uint32       `json:"read_speed,omitempty"`
	Status         ServerStatus `json:"status"`
}

// ServerList is a point-in-time snapshot of cluster membership.
type ServerList []ServerEntry

// Find returns the entry for id, if present.
func (l ServerList) Find(id ServerId) (ServerEntry, bool) {
	for _, e := range l {
		if e.ServerId == id {
			return e, true
		}
	}
	return ServerEntry{}, false
}

// TabletStatus tells whether a tablet is being served.
type TabletStatus string

const (
	TabletNormal     TabletStatus = "normal"
	TabletRecovering TabletStatus = "recovering"
)

// Ctime is a position in a master's log: the head segment id and the offset
// within it. A tablet's ctime fences off data logged for the same key range
// by earlier owners.
type Ctime struct {
	SegmentId     uint64 `json:"segment_id"`
	SegmentOffset uint32 `json:"segment_offset"`
}

// Less orders log positions.
func (c Ctime) Less(o Ctime) bool {
	if c.SegmentId != o.SegmentId {
		return c.SegmentId < o.SegmentId
	}
	return c.SegmentOffset < o.SegmentOffset
}

// Tablet is a contiguous, inclusive key-hash range of one table together with
// the server that owns it.
type Tablet struct {
	TableId      uint64       `json:"table_id"`
	FirstKeyHash uint64       `json:"first_key_hash"`
	LastKeyHash  uint64       `json:"last_key_hash"`
	ServerId     ServerId     `json:"server_id"`
	Status       TabletStatus `json:"status"`
	Ctime        Ctime        `json:"ctime"`
}

// Covers reports whether keyHash falls inside the tablet's range.
func (t Tablet) Covers(keyHash uint64) bool {
	return keyHash >= t.FirstKeyHash && keyHash <= t.LastKeyHash
}

// SameRange reports whether o names exactly the same table and hash range.
func (t Tablet) SameRange(o Tablet) bool {
	return t.TableId == o.TableId && t.FirstKeyHash == o.FirstKeyHash && t.LastKeyHash == o.LastKeyHash
}

// TabletMap is a point-in-time snapshot of tablet ownership.
type TabletMap []Tablet

// Lookup finds the tablet of tableId that covers keyHash.
func (m TabletMap) Lookup(tableId, keyHash uint64) (Tablet, bool) {
	for _, t := range m {
		if t.TableId == tableId && t.Covers(keyHash) {
			return t, true
		}
	}
	return Tablet{}, false
}

// OwnedBy returns the tablets whose owner is id.
func (m TabletMap) OwnedBy(id ServerId) TabletMap {
	var out TabletMap
	for _, t := range m {
		if t.ServerId == id {
			out = append(out, t)
		}
	}
	return out
}

// RecoveryInfo is an opaque fencing token a master attaches to its own
// coordinator record. Only the recovery code that produced it interprets the
// bytes.
type RecoveryInfo []byte

func (r RecoveryInfo) Equal(o RecoveryInfo) bool { return bytes.Equal(r, o) }

func (r RecoveryInfo) Len() int { return len(r) }

// Clone returns a copy that does not alias r.
func (r RecoveryInfo) Clone() RecoveryInfo {
	if r == nil {
		return nil
	}
	return append(RecoveryInfo(nil), r...)
}

// KeyHash maps a primary key onto the 64-bit hash space tablets partition.
// FNV-1a keeps it cheap and deterministic across processes.
func KeyHash(key string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return h.Sum64()
}
