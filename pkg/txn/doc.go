/*
Package txn is the core of the sync engine: the transaction manager.

A transaction is an in-memory, user-owned session created under the single
process-wide exclusive lock. While active it accumulates staged uploads
and deletion marks; commit applies them to the revision store and metadata
index as a unit, rollback and admin cancel discard them, and a background
sweep reclaims transactions whose lock expired. Staging areas are removed
on every exit path.

The manager also hosts the two operations that touch revision history
outside a transaction: restore (make an old revision current again) and
retention pruning, serialized per path so they cannot race each other.
*/
package txn
