// Package tablet is the server side of tablet ownership: the hash ranges a
// master serves, and the log whose head position fences each of them.
//
// A Tablet is a view over a shared storage.Store restricted to one key-hash
// range of one table. Its State gates requests while it is being recovered
// or migrated.
//
// A Log tracks where the next write will land. The position of its head is
// what a migration passes to the coordinator as the new tablet's ctime, and
// every segment roll is announced through a callback so the master can
// publish recovery info before the new segment is used.
package tablet
