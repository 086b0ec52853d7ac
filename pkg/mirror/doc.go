// Package mirror is the synchronization engine: it pulls narrow readings from
// the historian source, reshapes them into wide per-timestamp rows, evolves
// the local store's schema as new tags appear, and enforces a rolling
// retention window.
package mirror
