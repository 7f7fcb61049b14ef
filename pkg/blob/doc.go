// Package blob stores revision file content on disk. Each revision of a
// logical path lands as its own file with the revision number embedded
// before the extension (dir/file.N.ext), written atomically via a
// temp-then-rename sequence with the SHA-256 computed as bytes stream
// through.
package blob
