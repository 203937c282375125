// Package sqlite records mixed-reality sessions to a SQLite database.
//
// A Store holds the schema and the queries; a Recorder subscribes to a
// session's events and writes mirror state and an event log through the
// Store as they happen. Recordings are read back by the report command
// and by the debug SQL console.
package sqlite
