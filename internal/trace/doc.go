// Package trace provides durable recording of session events.
//
// A Recorder implements antler.Observer and appends every session event
// to a SQLite log as it happens. Fact payloads are stored as canonical
// JSON alongside a content hash, so two runs of the same scenario can be
// compared byte-for-byte.
//
// The store uses WAL mode so readers (the CLI's trace command, tests)
// can inspect a log while a session is still writing it.
package trace
