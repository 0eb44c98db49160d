// Package store provides the relay's exchange journal.
//
// Every event the relay loop produces (a command sent to the extension, a stale or
// malformed command discarded, a result published, a duplicate reply suppressed, an
// inbound frame dropped) can be appended to a SQLite database through the Journal
// interface. The journal is diagnostic only: the relay logs and ignores its errors.
//
// SQLiteStore uses modernc.org/sqlite (pure Go, no cgo) in WAL mode so the host can
// write while the tabrelay CLI reads history. When no path is configured, Open
// returns Nop.
package store
