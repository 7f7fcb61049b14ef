// Package ignore implements gitignore-style pattern matching applied to
// server-side inventory listings and sync planning.
package ignore
