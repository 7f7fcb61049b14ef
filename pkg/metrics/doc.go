// Package metrics exposes Prometheus collectors for the sync engine:
// operation outcomes, lock contention, transfer volume, and API latency.
package metrics
