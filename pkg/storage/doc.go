/*
Package storage provides the BoltDB-backed metadata index for the sync
engine.

The index is the durable record of every file revision ever stored
(tombstones included) plus the ancillary tables: users, roles, changelists,
operation records, settings, ignore patterns, and the single-row
last-operation summary. All data is serialized as JSON and stored in
separate buckets.

# Bucket structure

	users            row id (big-endian int64)
	roles            row id
	revisions        service \0 path \0 revision (big-endian)
	changelists      row id
	operations       row id
	settings         key string
	ignore_patterns  pattern string
	last_operation   fixed key "current"

The revision key layout is the load-bearing choice: keys sort by service,
then path, then ascending revision, so the current inventory of a service
is a single cursor pass (the last key of each path group is the current
revision) and the history of a path is a prefix scan.

# Transaction model

Reads use db.View (concurrent, snapshot-isolated), writes use db.Update
(serialized, fsync on commit). Row ids are allocated from each bucket's
sequence. Missing rows are reported as ErrNotFound wrapped with context;
the HTTP layer maps that to 404.
*/
package storage
