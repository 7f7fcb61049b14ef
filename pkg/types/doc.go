// Package types defines the core data model shared across the AlderSync
// server: services, operations, file revisions, changelists, users, roles,
// and the audit records the engine writes for every transaction.
package types
