// Package log wraps zerolog with a process-global logger and child-logger
// helpers carrying the fields the sync engine tags everywhere: component,
// user, transaction id, and service type.
package log
