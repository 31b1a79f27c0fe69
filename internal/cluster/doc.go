// Package cluster defines the value types shared by every participant of the
// tablet coordination protocol: server identities, service capabilities and
// the read-only snapshots the coordinator hands out.
//
// # Identities
//
// A ServerId names one incarnation of a server. It combines an index slot,
// which the coordinator reuses once a server is gone, with a generation that
// strictly increases on every reuse:
//
//	slot 3, first enlistment   -> 3.0
//	3.0 crashes, slot reused   -> 3.1
//	3.1 restarts, replaces 3.1 -> 3.2
//
// Because the pair is never handed out twice, a stale process still holding
// 3.1 can always be told apart from its successor 3.2. On the wire an id is a
// single uint64 with the index in the low 32 bits; the zero value
// (InvalidServerId) travels as all ones.
//
// # Capabilities
//
// ServiceMask records which services a server offers (master, backup,
// membership, ping). Masks are fixed at enlistment and filter server list
// queries: a query for {backup} returns every server whose mask intersects
// {backup}.
//
// # Snapshots
//
// ServerList and TabletMap are point-in-time copies decoded from coordinator
// replies. They carry no freshness guarantee beyond "valid as of the reply"
// and are never updated in place.
//
//	TabletMap
//	  table 7 [0x0000..0x7fff] -> 1.0 normal  ctime 4:128
//	  table 7 [0x8000..0xffff] -> 2.0 normal  ctime 0:0
//
// # Fencing tokens
//
// Two values fence recovered data against stale replicas. Ctime is a log
// position recorded when a tablet migrates, so recovery can skip entries the
// new owner logged for the range before it owned it. RecoveryInfo is an
// opaque blob a master attaches to its own coordinator record; this package
// only compares and copies it.
//
// # HTTP helpers
//
// PostJSON and GetJSON are the JSON-over-HTTP helpers used for the
// out-of-band traffic between coordinator and nodes (recovery assignment,
// tablet migration). The coordination protocol itself runs over the binary
// transport in package transport.
package cluster
