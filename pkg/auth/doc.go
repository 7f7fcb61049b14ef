// Package auth covers operator identity: bcrypt password verifiers, JWT
// bearer credentials for the sync endpoints, cookie-backed admin sessions,
// the permission predicate, and the first-run bootstrap that seeds roles
// and the initial admin account.
package auth
