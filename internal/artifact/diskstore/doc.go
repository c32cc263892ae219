// Package diskstore keeps snapshot artifacts in a local directory.
//
// Every Put writes a new generation of the key:
//
//	<dir>/<key>/<ulid>.art    artifact bytes, sealed when a cipher is set
//	<dir>/<key>/<ulid>.json   sidecar: kind, size, sha256 of the plain bytes
//
// Generations are written to a temp file, fsynced and renamed into place, so
// a reader never sees a partial artifact. Get serves the newest generation
// whose checksum verifies and falls back to older ones otherwise. Prune drops
// generations outside the retention window, always keeping the newest.
package diskstore
