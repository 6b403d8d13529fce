/*
Package wal implements the storage element write-ahead log.

Every mutating file operation opens a WAL entry before touching bytes and
closes it with committed, rolled_back or failed. A partial unique index
guarantees at most one non-terminal entry per file, which serializes
mutations per file id: a concurrent mutation observes conflict_wal_in_flight.

Compensation data recorded on rollback describes what was removed, so a
startup recovery scan can finish undoing work orphaned by a crash. Terminal
entries are purged after a retention window.
*/
package wal
