// Package storage defines the local wide-table store interface and its
// backends. The wide table holds one row per timestamp with one nullable
// column per tag; columns are added as new tags appear and are never dropped.
package storage
