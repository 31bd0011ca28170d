// Package discussion holds the shared discussion state: the append-only turn
// log, the session/round bookkeeping, and immutable snapshots.
//
// Ownership model:
//   - The Context exclusively owns the turn log and snapshot production.
//   - Everything else reads immutable snapshots; writes happen only through
//     AddTurn under the Context's single lock.
package discussion
