// Package checkpoint defines the persistence contract for workflow
// thread state: an append-only, newest-first history of opaque
// snapshots per thread, a ledger of pending task writes, and a
// versioned full-state wire form that round-trips to a single blob.
//
// Payloads are never inspected here. The pluggable Codec turns
// arbitrary values into opaque base64 blobs and back; the store only
// moves blobs. Backends implementing Saver live under store/.
package checkpoint
