// Package storage persists the scheduler's run journal.
//
// Every task run published on the event bus can be appended by a Recorder to
// a Store, and the most recent runs read back for diagnostics. Backends:
//   - file: JSON Lines, compacted to the retention limit
//   - sqlite: built with -tags sqlite (modernc.org/sqlite)
package storage
