// Package lock enforces the single process-wide exclusive lock that
// serializes all sync operations. Expiration is evaluated lazily on every
// observation, so a stale lock clears itself on the next access.
package lock
