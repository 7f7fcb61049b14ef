// Package api is the HTTP surface of the sync engine: JSON for control,
// opaque byte streams for blobs. Bearer middleware turns credentials into
// typed principals before any handler runs; the admin control plane sits
// behind a session cookie instead. Handlers return a single error shape
// translated to HTTP exactly once at the edge.
package api
