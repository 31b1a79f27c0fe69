// Package coordinator is a small, in-memory cluster coordinator: the server
// side of the protocol spoken by package coordclient.
//
// # Overview
//
// The coordinator is the authority on two things: which servers are members
// of the cluster, and which master owns each tablet. Everything else in the
// cluster asks it.
//
// # Architecture
//
//	┌──────────────────────────────────────────┐
//	│               COORDINATOR                │
//	├──────────────────────────────────────────┤
//	│  Service (transport.Handler)             │
//	│    decode request → handler → status     │
//	│                                          │
//	│  ┌────────────────┐  ┌────────────────┐  │
//	│  │ ServerRegistry │  │ TabletRegistry │  │
//	│  │  id slots      │  │  hash ranges   │  │
//	│  │  recovery info │  │  owners, ctime │  │
//	│  └────────────────┘  └────────────────┘  │
//	│          ▲                   ▲           │
//	│  ┌───────┴───────────────────┴────────┐  │
//	│  │ RecoveryManager                    │  │
//	│  │  crashed master → recovery master  │  │
//	│  └────────────────────────────────────┘  │
//	│          ▲                               │
//	│  ┌───────┴────────┐                      │
//	│  │ HealthMonitor  │  pings /health       │
//	│  └────────────────┘                      │
//	└──────────────────────────────────────────┘
//
// # Server Ids
//
// A ServerId is an index slot plus a generation. Slots are reused after a
// server has been removed, with the generation bumped, so no id is ever
// issued twice. A server that crashed keeps its slot until its tablets have
// been recovered.
//
// # Failure Handling
//
// A server is declared down when the HealthMonitor sees it fail several
// checks in a row, when another server sends HintServerDown and an
// immediate check confirms it, or when a new process enlists as its
// replacement. A crashed master's tablets are marked recovering and handed
// to a recovery master chosen round robin. The assignment is announced
// through an Assigner; the recovery master reports back with
// RecoveryMasterFinished. Failed attempts are retried under a new recovery
// id, and the failing master is not given the tablets.
//
// # Error Mapping
//
// Registry errors are sentinel values (ErrServerNotUp, ErrUnknownTablet,
// ...). StatusFor is the one place they are turned into wire statuses.
//
// # Thread Safety
//
// Every exported type is safe for concurrent use. Operations spanning
// registries are serialized by Service.
package coordinator
