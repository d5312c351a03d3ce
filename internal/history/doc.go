// Package history persists a record of every job run in SQLite.
//
// A run row is inserted when a job starts and completed with its outcome when
// it ends; one row per finished chunk is added in between. The database lives
// at history.path and is shared by every job on the machine, so the store uses
// WAL mode and a busy timeout. An empty history.path disables recording.
package history
