// Package stores provides the SQLite persistence layer for contractflow.
// It implements workflow.Store with embedded migrations, compare-and-swap
// updates on contracts and tracks, a partial unique index that keeps at most
// one open track per contract and type, and an append-only audit table.
package stores
